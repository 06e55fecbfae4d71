// Package prober issues bounded liveness checks against HTTP endpoints.
package prober

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single probe when the caller does not configure one.
const DefaultTimeout = 5 * time.Second

// NewClient returns a client whose every request is bounded by timeout.
// Redirects are not followed so the first status is the one reported.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Probe sends GET url and returns the response status. The error is non-nil
// only for transport failures: refused connections, timeouts, bad URLs.
func Probe(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("invalid probe url %q: %w", url, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	return resp.StatusCode, nil
}

// Result is the classified outcome of one probe.
type Result struct {
	URL    string
	Status int
	Err    error
}

// OK reports whether the endpoint answered 200.
func (r Result) OK() bool {
	return r.Err == nil && r.Status == http.StatusOK
}

// Check probes url and packages the outcome.
func Check(ctx context.Context, client *http.Client, url string) Result {
	status, err := Probe(ctx, client, url)
	return Result{URL: url, Status: status, Err: err}
}

// FilterLive probes urls one after another and returns, in order, those that
// answered 200. Transport failures and other statuses are excluded.
func FilterLive(ctx context.Context, client *http.Client, urls []string) ([]string, []Result) {
	live := make([]string, 0, len(urls))
	results := make([]Result, 0, len(urls))
	for _, u := range urls {
		r := Check(ctx, client, u)
		results = append(results, r)
		if r.OK() {
			live = append(live, u)
		}
	}
	return live, results
}
