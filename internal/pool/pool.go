package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
)

const DefaultWorkers = 100

// ErrDuplicateDestination is returned when two jobs would write the same file
var ErrDuplicateDestination = errors.New("duplicate destination")

// Handler processes one job. Errors classified as retryable requeue the job.
type Handler func(ctx context.Context, job domain.FetchJob) error

// Options configures a pool run
type Options struct {
	Workers         int
	MaxAttempts     int // 0 retries forever
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	OnProgress      func(done, total int)
	Sleep           func(ctx context.Context, d time.Duration) error
}

// DeadLetter is a job the pool gave up on
type DeadLetter struct {
	Job      domain.FetchJob
	Attempts int
	Err      error
}

// Report summarizes a pool run
type Report struct {
	Total       int
	Succeeded   int
	Attempts    int
	DeadLetters []DeadLetter
}

type item struct {
	job      domain.FetchJob
	attempts int
}

// Run processes every job with a fixed number of workers and returns once each job
// has either succeeded or been dead-lettered. On cancellation the remaining jobs are
// dead-lettered with a CANCELED error and ctx.Err() is returned with the report.
// A FATAL handler error stops the run the same way and is returned instead.
func Run(ctx context.Context, jobs []domain.FetchJob, handler Handler, opts Options) (*Report, error) {
	if err := checkDestinations(jobs); err != nil {
		return nil, err
	}

	report := &Report{Total: len(jobs)}
	if len(jobs) == 0 {
		return report, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	// every job lives in the queue or in a worker, never both, so sends never block
	queue := make(chan item, len(jobs))
	var pending sync.WaitGroup
	pending.Add(len(jobs))
	for _, job := range jobs {
		queue <- item{job: job}
	}
	go func() {
		pending.Wait()
		close(queue)
	}()

	var (
		mu       sync.Mutex
		done     int
		attempts atomic.Int64
	)
	finish := func(it item, err error) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if err == nil {
			report.Succeeded++
		} else {
			report.DeadLetters = append(report.DeadLetters, DeadLetter{Job: it.job, Attempts: it.attempts, Err: err})
		}
		if opts.OnProgress != nil {
			opts.OnProgress(done, len(jobs))
		}
		pending.Done()
	}

	// a fatal handler error cancels gctx and stops every worker
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case it, ok := <-queue:
					if !ok {
						return nil
					}
					if gctx.Err() != nil {
						finish(it, apperrors.NewCanceledError(gctx.Err()))
						continue
					}

					it.attempts++
					attempts.Add(1)
					err := handler(gctx, it.job)
					switch {
					case err == nil:
						finish(it, nil)
					case gctx.Err() != nil:
						finish(it, apperrors.NewCanceledError(err))
					case apperrors.IsFatal(err):
						err = fmt.Errorf("%s %s: %w", it.job.Kind, it.job.EntityID, err)
						finish(it, err)
						return err
					case apperrors.IsRetryable(err) && (opts.MaxAttempts <= 0 || it.attempts < opts.MaxAttempts):
						if serr := sleep(gctx, backoff(opts, it.attempts)); serr != nil {
							finish(it, apperrors.NewCanceledError(serr))
							continue
						}
						queue <- it
					default:
						finish(it, fmt.Errorf("%s %s: %w", it.job.Kind, it.job.EntityID, err))
					}
				}
			}
		})
	}
	fatal := g.Wait()

	// workers left early; whatever is still queued was never attempted again
	if gctx.Err() != nil {
	drain:
		for {
			select {
			case it, ok := <-queue:
				if !ok {
					break drain
				}
				finish(it, apperrors.NewCanceledError(gctx.Err()))
			default:
				break drain
			}
		}
	}

	report.Attempts = int(attempts.Load())
	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, fatal
}

func backoff(opts Options, attempt int) time.Duration {
	if opts.RetryBackoff <= 0 {
		return 0
	}
	d := opts.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if opts.MaxRetryBackoff > 0 && d >= opts.MaxRetryBackoff {
			return opts.MaxRetryBackoff
		}
	}
	if opts.MaxRetryBackoff > 0 && d > opts.MaxRetryBackoff {
		return opts.MaxRetryBackoff
	}
	return d
}

func checkDestinations(jobs []domain.FetchJob) error {
	seen := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if job.Destination == "" {
			continue
		}
		if _, ok := seen[job.Destination]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateDestination, job.Destination)
		}
		seen[job.Destination] = struct{}{}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
