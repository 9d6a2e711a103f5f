package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"

	"github.com/kurihiro0119/github-contrib-collector/internal/credentials"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
)

const (
	headerRemaining = "X-RateLimit-Remaining"
	headerReset     = "X-RateLimit-Reset"

	DefaultBaseURL  = "https://api.github.com/"
	DefaultCooldown = 60 * time.Second
	DefaultTimeout  = 30 * time.Second
)

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc
func Sleep(ctx context.Context, d time.Duration) error {
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

// Options configures a Fetcher
type Options struct {
	BaseURL      string
	Reserve      int           // rotate when remaining <= Reserve
	Cooldown     time.Duration // wait when the quota header is missing or every credential is exhausted
	MaxCooldowns int           // per Fetch call; 0 waits forever
	Timeout      time.Duration
	MinDelay     time.Duration
	Transport    http.RoundTripper
	Sleep        SleepFunc
	Logger       logger.Logger
}

// Response is a response whose quota check passed
type Response struct {
	StatusCode      int
	Header          http.Header
	Body            []byte
	Remaining       int
	CredentialIndex int
}

// Fetcher performs authenticated GETs against the GitHub API, rotating credentials
// as their quota runs out.
type Fetcher struct {
	rotator *credentials.Rotator
	clients []*github.Client
	budget  *Budget
	opts    Options
}

// New creates a new fetcher with one go-github client per credential
func New(rotator *credentials.Rotator, opts Options) (*Fetcher, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard{}
	}

	baseURL, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	clients := make([]*github.Client, rotator.Size())
	for i := range clients {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: rotator.Credential(i).Secret},
		)
		hc := &http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: opts.Transport},
			Timeout:   opts.Timeout,
		}
		client := github.NewClient(hc)
		client.BaseURL = baseURL
		clients[i] = client
	}

	return &Fetcher{
		rotator: rotator,
		clients: clients,
		budget:  NewBudget(rotator.Size(), opts.MinDelay, opts.Sleep),
		opts:    opts,
	}, nil
}

// Rotator returns the rotator shared by every worker
func (f *Fetcher) Rotator() *credentials.Rotator {
	return f.rotator
}

// Budget returns the per-credential rate limit tracker
func (f *Fetcher) Budget() *Budget {
	return f.budget
}

// Fetch GETs path (relative to the base URL) starting with credential idx.
// Params are merged into the query string.
func (f *Fetcher) Fetch(ctx context.Context, path string, idx int, params url.Values) (*Response, error) {
	target, err := withParams(path, params)
	if err != nil {
		return nil, apperrors.NewBadRequestError(err.Error())
	}

	idx = ((idx % f.rotator.Size()) + f.rotator.Size()) % f.rotator.Size()
	cooldowns := 0
	rotations := 0

	cooldown := func(d time.Duration, reason string) error {
		cooldowns++
		if f.opts.MaxCooldowns > 0 && cooldowns > f.opts.MaxCooldowns {
			return apperrors.NewRateLimitedError(fmt.Sprintf("GET %s: gave up after %d cooldowns (%s)", target, f.opts.MaxCooldowns, reason))
		}
		f.opts.Logger.Warn(ctx, "%s, sleeping %v before retrying GET %s", reason, d, target)
		if err := f.opts.Sleep(ctx, d); err != nil {
			return apperrors.NewCanceledError(err)
		}
		return nil
	}

	// rotate moves to the next credential, passing over those whose last response
	// left them exhausted until a reset that has not come yet
	rotate := func(remaining int) error {
		from := idx
		for {
			idx = f.rotator.Advance(idx)
			rotations++
			if rotations >= f.rotator.Size() {
				rotations = 0
				return cooldown(f.opts.Cooldown, "every credential is exhausted")
			}
			if !f.budget.Exhausted(idx, f.opts.Reserve) {
				break
			}
			f.opts.Logger.Info(ctx, "skipping exhausted credential %s", f.rotator.Credential(idx).Identifier)
		}
		f.opts.Logger.Info(ctx, "rotating credential %s -> %s (remaining %d)",
			f.rotator.Credential(from).Identifier, f.rotator.Credential(idx).Identifier, remaining)
		return nil
	}

	for {
		if err := f.budget.Wait(ctx, idx); err != nil {
			return nil, apperrors.NewCanceledError(err)
		}

		resp, body, err := f.do(ctx, idx, target)
		if err != nil && resp == nil {
			if ctx.Err() != nil {
				return nil, apperrors.NewCanceledError(ctx.Err())
			}
			return nil, apperrors.NewTransientError("GET "+target, err)
		}

		var rateErr *github.RateLimitError
		if errors.As(err, &rateErr) {
			if rerr := rotate(rateErr.Rate.Remaining); rerr != nil {
				return nil, rerr
			}
			continue
		}

		var abuseErr *github.AbuseRateLimitError
		if errors.As(err, &abuseErr) || resp.StatusCode == http.StatusTooManyRequests {
			wait := f.opts.Cooldown
			if abuseErr != nil && abuseErr.RetryAfter != nil && *abuseErr.RetryAfter > 0 {
				wait = *abuseErr.RetryAfter
			}
			if cerr := cooldown(wait, "secondary rate limit hit"); cerr != nil {
				return nil, cerr
			}
			continue
		}

		raw := resp.Header.Get(headerRemaining)
		remaining, convErr := strconv.Atoi(raw)
		if raw == "" || convErr != nil {
			if cerr := cooldown(f.opts.Cooldown, "rate limit header missing"); cerr != nil {
				return nil, cerr
			}
			continue
		}
		f.budget.Update(idx, remaining, parseReset(resp.Header.Get(headerReset)))

		if remaining <= f.opts.Reserve {
			if rerr := rotate(remaining); rerr != nil {
				return nil, rerr
			}
			continue
		}

		if err != nil {
			return nil, classify(target, resp.StatusCode, err)
		}
		return &Response{
			StatusCode:      resp.StatusCode,
			Header:          resp.Header,
			Body:            body,
			Remaining:       remaining,
			CredentialIndex: idx,
		}, nil
	}
}

// do performs one request. The error is non-nil for non-2xx statuses; the
// returned response is nil only for transport failures.
func (f *Fetcher) do(ctx context.Context, idx int, target string) (*github.Response, []byte, error) {
	client := f.clients[idx]
	req, err := client.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, err
	}

	resp, err := client.BareDo(ctx, req)
	if resp == nil || resp.Response == nil {
		if err == nil {
			err = fmt.Errorf("empty response")
		}
		return nil, nil, err
	}
	if err != nil {
		// BareDo already drained and closed the body
		return resp, nil, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, nil, fmt.Errorf("failed to read body: %w", readErr)
	}
	return resp, body, nil
}

func classify(target string, status int, err error) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return apperrors.NewNotFoundError(target)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.NewUnauthorizedError(fmt.Sprintf("GET %s: %d", target, status))
	case status == http.StatusUnprocessableEntity:
		return apperrors.NewBadRequestError(fmt.Sprintf("GET %s: %v", target, err))
	default:
		return apperrors.NewTransientError(fmt.Sprintf("GET %s: %d", target, status), err)
	}
}

func withParams(path string, params url.Values) (string, error) {
	path = strings.TrimPrefix(path, "/")
	if len(params) == 0 {
		return path, nil
	}
	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	q := u.Query()
	for k, vs := range params {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func parseReset(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}
