// File: jwks_loader.go
//
// State machine and multi-source fetch for a single issuer's JWKS, per
// spec.md §4.5.1/§4.5.2. The resilient HTTP fetch is composed from an
// ETag-aware conditional GET wrapped in hashicorp/go-retryablehttp's
// exponential-backoff-with-jitter client — promoted here from a transitive
// dependency elsewhere in the example pack to the resilient HTTP adapter the
// spec calls for directly.

package oidcguard

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/zeromicro/go-zero/core/logx"
)

// LoaderStatus is the JWKS loader's observable state (spec.md §4.5.1
// "Undefined → Loading → (Ok | Error)").
type LoaderStatus string

const (
	StatusUndefined LoaderStatus = "undefined"
	StatusLoading   LoaderStatus = "loading"
	StatusOk        LoaderStatus = "ok"
	StatusError     LoaderStatus = "error"
)

// fetchResult is what a source-specific fetch returns to the loader's state
// machine: the raw JWKS document bytes, an updated cache-validator token
// (ETag, for sources that have one), and whether the prior validator still
// matched (skip re-parsing/rotation entirely).
type fetchResult struct {
	body        []byte
	etag        string
	notModified bool
}

type fetchFunc func(ctx context.Context, priorETag string) (fetchResult, error)

// JWKSLoader owns one issuer's key material: an atomically-rotated keyset
// cell, a pluggable fetch source, background refresh, and the grace-period
// lookup of spec.md §3/§4.5.1.
type JWKSLoader struct {
	fetch      fetchFunc
	grace      time.Duration
	maxRetired int

	state     atomic.Value // LoaderStatus
	etag      atomic.Value // string
	keys      *keysetCell
	done      chan struct{}
	closeOnce sync.Once

	initialLoad       chan struct{} // closed once the first terminal outcome lands
	backgroundRefresh bool
	sourceLabel       string
}

func newRetryableClient(cfg HTTPConfig) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.HTTPClient.Timeout = cfg.ReadTimeout
	if transport, ok := client.HTTPClient.Transport.(*http.Transport); ok {
		transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
		transport.TLSHandshakeTimeout = cfg.ConnectTimeout
	}
	if cfg.Retry.Enabled {
		client.RetryMax = cfg.Retry.MaxAttempts - 1
		client.RetryWaitMin = cfg.Retry.InitialDelay
		client.RetryWaitMax = cfg.Retry.MaxDelay
		multiplier := cfg.Retry.Multiplier
		jitter := cfg.Retry.Jitter
		client.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
			wait := float64(min)
			for i := 0; i < attemptNum; i++ {
				wait *= multiplier
			}
			if time.Duration(wait) > max {
				wait = float64(max)
			}
			spread := wait * jitter * rand.Float64()
			d := time.Duration(wait - wait*jitter/2 + spread)
			if d > max {
				d = max
			}
			return d
		}
	} else {
		client.RetryMax = 0
	}
	client.CheckRetry = retryablehttp.DefaultRetryPolicy
	return client
}

// httpFetch builds a fetchFunc performing a conditional GET against url,
// bounded by cfg's timeouts/body limit, resilient per cfg.Retry.
func httpFetch(client *retryablehttp.Client, url string, maxBody int64) fetchFunc {
	return func(ctx context.Context, priorETag string) (fetchResult, error) {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fetchResult{}, fmt.Errorf("building request: %w", err)
		}
		if priorETag != "" {
			req.Header.Set("If-None-Match", priorETag)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fetchResult{}, fmt.Errorf("fetch %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotModified {
			return fetchResult{notModified: true, etag: priorETag}, nil
		}
		if resp.StatusCode != http.StatusOK {
			return fetchResult{}, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
		if err != nil {
			return fetchResult{}, fmt.Errorf("reading body: %w", err)
		}
		if int64(len(body)) > maxBody {
			return fetchResult{}, fmt.Errorf("response exceeds max body size")
		}
		return fetchResult{body: body, etag: resp.Header.Get("ETag")}, nil
	}
}

// fileFetch re-reads a local JWKS file on every call; no ETag concept.
func fileFetch(path string) fetchFunc {
	return func(ctx context.Context, priorETag string) (fetchResult, error) {
		body, err := os.ReadFile(path)
		if err != nil {
			return fetchResult{}, fmt.Errorf("reading %s: %w", path, err)
		}
		return fetchResult{body: body}, nil
	}
}

// inlineFetch always returns the same fixed document; rotate() will no-op
// after the first call since the parsed set never changes.
func inlineFetch(data []byte) fetchFunc {
	return func(ctx context.Context, priorETag string) (fetchResult, error) {
		return fetchResult{body: data}, nil
	}
}

// newJWKSLoader constructs a loader around a source-specific fetchFunc.
// Initial load is kicked off asynchronously; call awaitInitialLoad to block
// on its outcome (spec.md §4.5.1/§5 "Initial load is asynchronous... callers
// that arrive before first completion do block on the future").
func newJWKSLoader(label string, fetch fetchFunc, grace time.Duration, maxRetired int, backgroundRefresh bool, refreshInterval time.Duration) *JWKSLoader {
	l := &JWKSLoader{
		fetch:             fetch,
		grace:             grace,
		maxRetired:        maxRetired,
		keys:              newKeysetCell(),
		done:              make(chan struct{}),
		initialLoad:       make(chan struct{}),
		backgroundRefresh: backgroundRefresh,
		sourceLabel:       label,
	}
	l.state.Store(StatusUndefined)
	l.etag.Store("")

	go func() {
		l.fetchOnce(context.Background())
		close(l.initialLoad)
		if l.backgroundRefresh {
			go l.refreshLoop(refreshInterval)
		}
	}()

	return l
}

func (l *JWKSLoader) status() LoaderStatus {
	return l.state.Load().(LoaderStatus)
}

// awaitInitialLoad blocks until the first fetch attempt reaches a terminal
// outcome, or ctx is cancelled first.
func (l *JWKSLoader) awaitInitialLoad(ctx context.Context) error {
	select {
	case <-l.initialLoad:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *JWKSLoader) refreshLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.fetchOnce(context.Background())
		case <-l.done:
			return
		}
	}
}

// fetchOnce performs one fetch cycle and applies the state transitions of
// spec.md §4.5.1.
func (l *JWKSLoader) fetchOnce(ctx context.Context) {
	priorStatus := l.status()
	l.state.Store(StatusLoading)

	// cycleID correlates this fetch cycle's log lines (and, on rotation, the
	// keyset change it produced) across the retry/backoff sequence a single
	// cycle may involve.
	cycleID := uuid.NewString()

	priorETag, _ := l.etag.Load().(string)
	result, err := l.fetch(ctx, priorETag)
	if err != nil {
		l.onFetchError(fmt.Errorf("jwks(%s) cycle=%s: %w", l.sourceLabel, cycleID, err), priorStatus)
		return
	}
	if result.notModified {
		l.state.Store(StatusOk)
		return
	}

	set, err := ParseJWKSet(result.body)
	if err != nil {
		l.onFetchError(fmt.Errorf("jwks(%s) cycle=%s: parsing response: %w", l.sourceLabel, cycleID, err), priorStatus)
		return
	}

	changed := l.keys.rotate(set, time.Now(), l.grace, l.maxRetired)
	if changed {
		logx.Infof("jwks: rotated keyset for %s (%d keys) cycle=%s", l.sourceLabel, set.Len(), cycleID)
	}
	if result.etag != "" {
		l.etag.Store(result.etag)
	}
	l.state.Store(StatusOk)
}

// onFetchError applies spec.md §4.5.1's error-path rule: status becomes
// Error, or stays Undefined when background refresh is enabled so retries
// continue (the documented Open Question resolution, spec.md §9).
// priorStatus is the status observed before this fetch attempt began, since
// by the time this runs l.status() itself already reads StatusLoading.
func (l *JWKSLoader) onFetchError(err error, priorStatus LoaderStatus) {
	logx.Errorf("%v", err)
	if l.backgroundRefresh && priorStatus == StatusUndefined {
		l.state.Store(StatusUndefined)
	} else {
		l.state.Store(StatusError)
	}
}

// getKey resolves kid against the current or grace-period-retired keyset,
// blocking on the initial load first if it hasn't landed yet (spec.md §5
// "Suspension points").
func (l *JWKSLoader) getKey(ctx context.Context, kid string) (*JWK, *ValidationError) {
	if err := l.awaitInitialLoad(ctx); err != nil {
		return nil, wrapError(CodeKeyNotFound, "context cancelled awaiting initial JWKS load", err)
	}
	key, ok := l.keys.getKey(kid, time.Now(), l.grace)
	if !ok {
		return nil, newError(CodeKeyNotFound, fmt.Sprintf("kid %q not found in current or retired keysets", kid))
	}
	return key, nil
}

func (l *JWKSLoader) close() {
	l.closeOnce.Do(func() { close(l.done) })
}
