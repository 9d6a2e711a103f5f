package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
)

func makeJobs(dir string, n int) []domain.FetchJob {
	jobs := make([]domain.FetchJob, n)
	for i := range jobs {
		id := fmt.Sprint(i + 1)
		jobs[i] = domain.FetchJob{
			Kind:        domain.EntityPull,
			EntityID:    id,
			URL:         "repos/o/r/pulls/" + id,
			Destination: filepath.Join(dir, id+".json"),
		}
	}
	return jobs
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestRunWritesEveryDestination(t *testing.T) {
	dir := t.TempDir()
	jobs := makeJobs(dir, 50)

	var calls sync.Map
	handler := func(ctx context.Context, job domain.FetchJob) error {
		calls.Store(job.EntityID, true)
		body, _ := json.Marshal(map[string]string{"id": job.EntityID})
		return os.WriteFile(job.Destination, body, 0o644)
	}

	var progress atomic.Int64
	report, err := Run(context.Background(), jobs, handler, Options{
		Workers:    8,
		OnProgress: func(done, total int) { progress.Store(int64(done)); assert.Equal(t, 50, total) },
	})
	require.NoError(t, err)

	assert.Equal(t, 50, report.Total)
	assert.Equal(t, 50, report.Succeeded)
	assert.Equal(t, 50, report.Attempts)
	assert.Empty(t, report.DeadLetters)
	assert.Equal(t, int64(50), progress.Load())

	for _, job := range jobs {
		_, ok := calls.Load(job.EntityID)
		assert.True(t, ok, "job %s never attempted", job.EntityID)

		data, err := os.ReadFile(job.Destination)
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprintf(`{"id":%q}`, job.EntityID), string(data))
	}
}

func TestRunRequeuesTransientFailures(t *testing.T) {
	jobs := makeJobs(t.TempDir(), 10)

	var mu sync.Mutex
	failures := map[string]int{}
	handler := func(ctx context.Context, job domain.FetchJob) error {
		mu.Lock()
		defer mu.Unlock()
		if failures[job.EntityID] < 2 {
			failures[job.EntityID]++
			return apperrors.NewTransientError("flaky", nil)
		}
		return nil
	}

	report, err := Run(context.Background(), jobs, handler, Options{Workers: 3, MaxAttempts: 5, Sleep: noSleep})
	require.NoError(t, err)

	assert.Equal(t, 10, report.Succeeded)
	assert.Equal(t, 30, report.Attempts)
	assert.Empty(t, report.DeadLetters)
}

func TestRunDeadLettersAfterMaxAttempts(t *testing.T) {
	jobs := makeJobs(t.TempDir(), 4)

	handler := func(ctx context.Context, job domain.FetchJob) error {
		if job.EntityID == "2" {
			return apperrors.NewTransientError("always down", nil)
		}
		return nil
	}

	report, err := Run(context.Background(), jobs, handler, Options{Workers: 2, MaxAttempts: 3, Sleep: noSleep})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Succeeded)
	require.Len(t, report.DeadLetters, 1)
	dl := report.DeadLetters[0]
	assert.Equal(t, "2", dl.Job.EntityID)
	assert.Equal(t, 3, dl.Attempts)
	assert.Equal(t, apperrors.ErrCodeTransient, apperrors.CodeOf(dl.Err))
}

func TestRunDoesNotRetryPermanentErrors(t *testing.T) {
	jobs := makeJobs(t.TempDir(), 3)

	var attempts atomic.Int64
	handler := func(ctx context.Context, job domain.FetchJob) error {
		attempts.Add(1)
		return apperrors.NewNotFoundError("pull " + job.EntityID)
	}

	report, err := Run(context.Background(), jobs, handler, Options{MaxAttempts: 5, Sleep: noSleep})
	require.NoError(t, err)

	assert.Equal(t, int64(3), attempts.Load())
	assert.Len(t, report.DeadLetters, 3)
	for _, dl := range report.DeadLetters {
		assert.True(t, apperrors.IsNotFound(dl.Err))
		assert.Equal(t, 1, dl.Attempts)
	}
}

func TestRunRejectsDuplicateDestinations(t *testing.T) {
	jobs := []domain.FetchJob{
		{EntityID: "1", Destination: "/tmp/x/main_pull.json"},
		{EntityID: "2", Destination: "/tmp/x/main_pull.json"},
	}
	_, err := Run(context.Background(), jobs, func(ctx context.Context, job domain.FetchJob) error {
		t.Fatal("handler must not run")
		return nil
	}, Options{})
	assert.True(t, errors.Is(err, ErrDuplicateDestination))
}

func TestRunNeverSchedulesSameDestinationTwice(t *testing.T) {
	jobs := makeJobs(t.TempDir(), 40)

	var mu sync.Mutex
	inFlight := map[string]bool{}
	var failed atomic.Int64
	handler := func(ctx context.Context, job domain.FetchJob) error {
		mu.Lock()
		if inFlight[job.Destination] {
			mu.Unlock()
			t.Errorf("destination %s scheduled concurrently", job.Destination)
			return nil
		}
		inFlight[job.Destination] = true
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		delete(inFlight, job.Destination)
		mu.Unlock()
		if failed.Add(1)%3 == 0 {
			return errors.New("untyped failure")
		}
		return nil
	}

	report, err := Run(context.Background(), jobs, handler, Options{Workers: 10, Sleep: noSleep})
	require.NoError(t, err)
	assert.Equal(t, 40, report.Succeeded)
}

func TestRunCancellation(t *testing.T) {
	jobs := makeJobs(t.TempDir(), 20)
	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int64
	handler := func(ctx context.Context, job domain.FetchJob) error {
		if started.Add(1) == 2 {
			cancel()
		}
		<-ctx.Done()
		return ctx.Err()
	}

	report, err := Run(ctx, jobs, handler, Options{Workers: 2})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 20, report.Succeeded+len(report.DeadLetters))
	for _, dl := range report.DeadLetters {
		assert.Equal(t, apperrors.ErrCodeCanceled, apperrors.CodeOf(dl.Err))
	}
}

func TestRunStopsOnFatalError(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		jobs    int
	}{
		{name: "single worker", workers: 1, jobs: 3},
		{name: "several workers", workers: 4, jobs: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := makeJobs(t.TempDir(), tt.jobs)

			var calls atomic.Int64
			handler := func(ctx context.Context, job domain.FetchJob) error {
				calls.Add(1)
				if job.EntityID == "1" {
					return apperrors.NewFatalError("failed to store "+job.Destination, errors.New("read-only file system"))
				}
				// the remaining jobs only finish once the run is torn down
				<-ctx.Done()
				return ctx.Err()
			}

			report, err := Run(context.Background(), jobs, handler, Options{Workers: tt.workers, Sleep: noSleep})
			require.Error(t, err)
			assert.True(t, apperrors.IsFatal(err))
			assert.Contains(t, err.Error(), "pull 1")

			assert.Zero(t, report.Succeeded)
			require.Len(t, report.DeadLetters, tt.jobs)
			assert.LessOrEqual(t, calls.Load(), int64(tt.workers))
			for _, dl := range report.DeadLetters {
				if dl.Job.EntityID == "1" {
					assert.True(t, apperrors.IsFatal(dl.Err))
					continue
				}
				assert.Equal(t, apperrors.ErrCodeCanceled, apperrors.CodeOf(dl.Err))
			}
		})
	}
}

func TestRunEmpty(t *testing.T) {
	report, err := Run(context.Background(), nil, nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, report.Total)
}

func TestBackoff(t *testing.T) {
	opts := Options{RetryBackoff: time.Second, MaxRetryBackoff: 5 * time.Second}
	assert.Equal(t, time.Second, backoff(opts, 1))
	assert.Equal(t, 2*time.Second, backoff(opts, 2))
	assert.Equal(t, 4*time.Second, backoff(opts, 3))
	assert.Equal(t, 5*time.Second, backoff(opts, 4))
	assert.Equal(t, 5*time.Second, backoff(opts, 40))
	assert.Zero(t, backoff(Options{}, 3))
}
