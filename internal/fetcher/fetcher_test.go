package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-contrib-collector/internal/credentials"
	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
)

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return ctx.Err()
}

func (s *sleepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sleeps)
}

func newTestFetcher(t *testing.T, handler http.HandlerFunc, maxCooldowns int, tokens ...string) (*Fetcher, *sleepRecorder) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	creds := make([]domain.Credential, len(tokens))
	for i, tok := range tokens {
		creds[i] = domain.Credential{Identifier: "acct-" + tok, Secret: tok}
	}
	rotator, err := credentials.NewRotator(creds)
	require.NoError(t, err)

	rec := &sleepRecorder{}
	f, err := New(rotator, Options{
		BaseURL:      server.URL + "/",
		Reserve:      1,
		Cooldown:     time.Minute,
		MaxCooldowns: maxCooldowns,
		Sleep:        rec.Sleep,
	})
	require.NoError(t, err)
	return f, rec
}

func token(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) {
		return h[len(prefix):]
	}
	return ""
}

func TestFetchSuccess(t *testing.T) {
	f, rec := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/golang/go/pulls/7", r.URL.Path)
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.Write([]byte(`{"number":7}`))
	}, 0, "a")

	resp, err := f.Fetch(context.Background(), "repos/golang/go/pulls/7", 0, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"number":7}`, string(resp.Body))
	assert.Equal(t, 4999, resp.Remaining)
	assert.Equal(t, 0, resp.CredentialIndex)
	assert.Zero(t, rec.count())

	remaining, _, ok := f.Budget().Limit(0)
	assert.True(t, ok)
	assert.Equal(t, 4999, remaining)
}

func TestFetchRotatesWhenBudgetLow(t *testing.T) {
	f, rec := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch token(r) {
		case "a":
			w.Header().Set("X-RateLimit-Remaining", "1")
		default:
			w.Header().Set("X-RateLimit-Remaining", "4000")
		}
		w.Write([]byte(`{}`))
	}, 0, "a", "b")

	resp, err := f.Fetch(context.Background(), "user/1", 0, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, resp.CredentialIndex)
	assert.Equal(t, 1, f.Rotator().Current())
	assert.Zero(t, rec.count())
}

func TestFetchSkipsCredentialsKnownExhausted(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	f, rec := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls[token(r)]++
		mu.Unlock()
		switch token(r) {
		case "a", "b":
			w.Header().Set("X-RateLimit-Remaining", "0")
		default:
			w.Header().Set("X-RateLimit-Remaining", "4000")
		}
		w.Write([]byte(`{}`))
	}, 0, "a", "b", "c")

	// b ran dry on an earlier request and its window resets in an hour
	f.Budget().Update(1, 0, time.Now().Add(time.Hour))

	resp, err := f.Fetch(context.Background(), "user/1", 0, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, resp.CredentialIndex)
	assert.Equal(t, 2, f.Rotator().Current())
	assert.Zero(t, calls["b"])
	assert.Equal(t, 1, calls["a"])
	assert.Zero(t, rec.count())
}

func TestBudgetExhausted(t *testing.T) {
	b := NewBudget(3, 0, nil)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	b.Update(0, 1, now.Add(time.Minute))
	b.Update(1, 1, now.Add(-time.Minute))

	tests := []struct {
		name string
		idx  int
		want bool
	}{
		{name: "at reserve before reset", idx: 0, want: true},
		{name: "window already reset", idx: 1, want: false},
		{name: "never seen", idx: 2, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Exhausted(tt.idx, 1))
		})
	}
	assert.False(t, b.Exhausted(0, 0))
}

func TestFetchMissingHeaderSleepsAndRetriesSameCredential(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	f, rec := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls[token(r)]++
		n := calls[token(r)]
		mu.Unlock()
		if n > 1 {
			w.Header().Set("X-RateLimit-Remaining", "10")
		}
		w.Write([]byte(`{}`))
	}, 0, "a", "b")

	resp, err := f.Fetch(context.Background(), "user/1", 0, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, resp.CredentialIndex)
	assert.Equal(t, 2, calls["a"])
	assert.Zero(t, calls["b"])
	assert.Equal(t, []time.Duration{time.Minute}, rec.sleeps)
}

func TestFetchGivesUpAfterMaxCooldowns(t *testing.T) {
	f, rec := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "1")
		w.Write([]byte(`{}`))
	}, 2, "a", "b")

	_, err := f.Fetch(context.Background(), "user/1", 0, nil)
	require.Error(t, err)

	assert.True(t, apperrors.IsRateLimited(err))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, 2, rec.count())
}

func TestFetchSecondaryRateLimit(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	f, rec := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		w.Header().Set("X-RateLimit-Remaining", "4000")
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"message":"slow down"}`))
			return
		}
		w.Write([]byte(`{}`))
	}, 0, "a")

	_, err := f.Fetch(context.Background(), "user/1", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count())
}

func TestFetchClassifiesStatuses(t *testing.T) {
	tests := []struct {
		status int
		code   apperrors.ErrCode
	}{
		{status: http.StatusNotFound, code: apperrors.ErrCodeNotFound},
		{status: http.StatusGone, code: apperrors.ErrCodeNotFound},
		{status: http.StatusUnauthorized, code: apperrors.ErrCodeUnauthorized},
		{status: http.StatusUnprocessableEntity, code: apperrors.ErrCodeBadRequest},
		{status: http.StatusBadGateway, code: apperrors.ErrCodeTransient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-RateLimit-Remaining", "4000")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message":"nope"}`))
			}, 1, "a")

			_, err := f.Fetch(context.Background(), "repos/a/b/pulls/1", 0, nil)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL + "/"
	server.Close()

	rotator, err := credentials.NewRotator([]domain.Credential{{Identifier: "a", Secret: "a"}})
	require.NoError(t, err)
	f, err := New(rotator, Options{BaseURL: baseURL})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "user/1", 0, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTransient, apperrors.CodeOf(err))
}

func TestFetchMergesParams(t *testing.T) {
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/issues", r.URL.Path)
		assert.Equal(t, "is:pr is:open repo:golang/go", r.URL.Query().Get("q"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		w.Header().Set("X-RateLimit-Remaining", "29")
		w.Write([]byte(`{"items":[]}`))
	}, 0, "a")

	params := url.Values{}
	params.Set("q", "is:pr is:open repo:golang/go")
	params.Set("page", "2")
	_, err := f.Fetch(context.Background(), "/search/issues?per_page=100", 0, params)
	require.NoError(t, err)
}

func TestFetchCanceledDuringCooldown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	rotator, err := credentials.NewRotator([]domain.Credential{{Identifier: "a", Secret: "a"}})
	require.NoError(t, err)
	f, err := New(rotator, Options{BaseURL: server.URL + "/", Cooldown: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = f.Fetch(ctx, "user/1", 0, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeCanceled, apperrors.CodeOf(err))
}

func TestBudgetPacesCalls(t *testing.T) {
	rec := &sleepRecorder{}
	b := NewBudget(1, time.Second, rec.Sleep)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return start }

	require.NoError(t, b.Wait(context.Background(), 0))
	require.NoError(t, b.Wait(context.Background(), 0))
	require.NoError(t, b.Wait(context.Background(), 0))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.sleeps)
}
