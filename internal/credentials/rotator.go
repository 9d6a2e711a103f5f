package credentials

import (
	"fmt"
	"sync/atomic"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

// Rotator owns the credential pool and the shared index of the credential in use.
// It is safe for concurrent use.
type Rotator struct {
	creds   []domain.Credential
	current atomic.Int64
}

// NewRotator creates a new rotator over a non-empty credential pool
func NewRotator(creds []domain.Credential) (*Rotator, error) {
	if len(creds) == 0 {
		return nil, fmt.Errorf("credential pool is empty")
	}
	pool := make([]domain.Credential, len(creds))
	copy(pool, creds)
	return &Rotator{creds: pool}, nil
}

// Size returns the number of credentials in the pool
func (r *Rotator) Size() int {
	return len(r.creds)
}

// Next returns the index after i, wrapping to 0
func (r *Rotator) Next(i int) int {
	return Next(i, len(r.creds))
}

// Next returns (i+1) mod n
func Next(i, n int) int {
	if n <= 0 {
		return 0
	}
	return ((i+1)%n + n) % n
}

// Current returns the shared index
func (r *Rotator) Current() int {
	return int(r.current.Load())
}

// Advance moves the shared index past from and returns Next(from).
// If another worker already moved it, the shared value is left alone; the
// returned index is still valid for the caller.
func (r *Rotator) Advance(from int) int {
	next := r.Next(from)
	r.current.CompareAndSwap(int64(from), int64(next))
	return next
}

// Credential returns the credential at index i
func (r *Rotator) Credential(i int) domain.Credential {
	return r.creds[((i%len(r.creds))+len(r.creds))%len(r.creds)]
}
