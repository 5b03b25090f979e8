// Package rest fetches the authoritative room state a client reconciles
// against after reconnecting.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nagpalvipin/slido-clone-sub000/internal/client"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/retry"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/version"
	"golang.org/x/sync/errgroup"
)

const (
	requestTimeout   = 10 * time.Second
	maxResponseBytes = 4 << 20
)

var _ client.Resyncer = (*Fetcher)(nil)

// DefaultPolicy retries transient failures a few times with short backoff.
var DefaultPolicy = retry.Policy{
	MaxAttempts:      4,
	InitialBackoff:   250 * time.Millisecond,
	MaxBackoff:       4 * time.Second,
	RateLimitBackoff: 5 * time.Second,
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// listing is the body of the questions and polls endpoints.
type listing struct {
	AsOf  time.Time        `json:"as_of"`
	Items []domain.Payload `json:"items"`
}

// Fetcher loads questions and polls of an event in parallel.
type Fetcher struct {
	baseURL string
	token   string
	http    *http.Client
	policy  retry.Policy
}

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.http = c }
}

func WithPolicy(p retry.Policy) Option {
	return func(f *Fetcher) { f.policy = p }
}

func NewFetcher(baseURL, token string, opts ...Option) *Fetcher {
	f := &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		policy:  DefaultPolicy,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Resync fetches both listings. The snapshot is as old as the older of the
// two, so live messages newer than either are replayed.
func (f *Fetcher) Resync(ctx context.Context, eventID domain.EventID) (client.Snapshot, error) {
	var questions, polls listing

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		questions, err = f.fetch(ctx, eventID, "questions")
		return err
	})
	g.Go(func() error {
		var err error
		polls, err = f.fetch(ctx, eventID, "polls")
		return err
	})
	if err := g.Wait(); err != nil {
		return client.Snapshot{}, err
	}

	asOf := questions.AsOf
	if polls.AsOf.Before(asOf) {
		asOf = polls.AsOf
	}
	return client.Snapshot{AsOf: asOf, Questions: questions.Items, Polls: polls.Items}, nil
}

func (f *Fetcher) fetch(ctx context.Context, eventID domain.EventID, resource string) (listing, error) {
	target := fmt.Sprintf("%s/events/%s/%s", f.baseURL, url.PathEscape(string(eventID)), resource)

	result, err := retry.Do(ctx, f.policy, classify, func(ctx context.Context) (listing, error) {
		return f.get(ctx, target)
	})
	if err != nil {
		return listing{}, fmt.Errorf("fetch %s: %w", resource, err)
	}
	return result, nil
}

func (f *Fetcher) get(ctx context.Context, target string) (listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return listing{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent("liveroom"))
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return listing{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		statusErr := &StatusError{Code: resp.StatusCode, URL: target}
		if delay, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
			return listing{}, &retry.DelayError{Err: statusErr, Delay: delay}
		}
		return listing{}, statusErr
	}

	var body listing
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return listing{}, fmt.Errorf("decode %s: %w", target, err)
	}
	return body, nil
}

func classify(err error) retry.Action {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == http.StatusTooManyRequests:
			return retry.After
		case statusErr.Code >= 500:
			return retry.Retry
		default:
			return retry.Stop
		}
	}
	if errors.Is(err, context.Canceled) {
		return retry.Stop
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Retry
	}
	return retry.Stop
}

// retryAfter parses the delay-seconds form of Retry-After.
func retryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
