// CLAUDE:SUMMARY Fetches the configuration list over HTTP with retry/backoff/timeout, caches it in kv, falls back to stale cache on exhaustion.
// Package source loads the candidate configuration list.
//
// A load yields a fresh cached copy first (when one exists and is younger
// than the TTL), then fetches from the network with per-attempt timeouts and
// exponential backoff. A successful fetch overwrites the cache. When every
// attempt fails the cache is read again without the TTL, listeners receive a
// FetchFailed event, and the stale copy, if any, is returned.
//
// Usage:
//
//	src := source.New(source.Config{Endpoint: url, Cache: store})
//	res, err := src.Load(ctx, func(cached *source.Result) { apply(cached) })
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hazyhaar/visionbridge/kv"
	"github.com/hazyhaar/visionbridge/rule"
)

// EventFetchFailed names the exhaustion notification.
const EventFetchFailed = "visionbridge:fetch-failed"

// ErrEmptyPayload is reported (not returned) when the endpoint answers with
// something other than a non-empty JSON array.
var ErrEmptyPayload = errors.New("source: payload is not a non-empty array")

// HTTPStatusError is a non-2xx response.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("source: http status %d", e.Code)
}

// ExhaustedError is returned when every attempt failed and no cached copy
// exists.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("source: %d attempts failed: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// FetchFailed is dispatched to listeners when the retry budget is spent.
type FetchFailed struct {
	Name     string
	Err      error
	Attempts int
	Time     time.Time
}

// Config configures a Source.
type Config struct {
	Endpoint  string
	Client    *http.Client
	Cache     kv.Store
	Attempts  int           // Default: 3.
	BaseDelay time.Duration // Default: 1s. Doubled after each failure.
	Timeout   time.Duration // Per attempt. Default: 10s.
	TTL       time.Duration // Eager cache freshness. Default: 1h.
	MaxBytes  int64         // Response cap. Default: 4 MiB.
	UserAgent string
	Logger    *slog.Logger
	Now       func() time.Time
}

func (c *Config) defaults() {
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	if c.Cache == nil {
		c.Cache = kv.Nop{}
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 4 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "visionbridge/1.0"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Result is one yield of a load.
type Result struct {
	Configs   []rule.Configuration
	FromCache bool
	Fresh     bool // cached copy younger than the TTL
	Fallback  bool // stale copy served after exhaustion
	Empty     bool // endpoint answered with no usable list
	Attempts  int
	Err       error // last fetch error when Fallback is set
}

// Source loads configurations. Safe for concurrent use.
type Source struct {
	cfg Config

	mu        sync.Mutex
	listeners []func(FetchFailed)
}

// New creates a Source.
func New(cfg Config) *Source {
	cfg.defaults()
	return &Source{cfg: cfg}
}

// OnFetchFailed registers fn for exhaustion events.
func (s *Source) OnFetchFailed(fn func(FetchFailed)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Load runs one load cycle. onCached, when non-nil, receives the fresh
// cached copy before the first network attempt. The returned Result is the
// network list, an empty marker, or the stale fallback. The error is
// *ExhaustedError when nothing could be served, or the context error.
func (s *Source) Load(ctx context.Context, onCached func(*Result)) (*Result, error) {
	log := s.cfg.Logger

	if onCached != nil {
		if configs, ok := s.readCache(ctx, false); ok {
			onCached(&Result{Configs: configs, FromCache: true, Fresh: true})
		}
	}

	var lastErr error
	attempt := 0
	for attempt < s.cfg.Attempts {
		attempt++
		configs, err := s.fetch(ctx)
		if err == nil {
			if len(configs) == 0 {
				log.WarnContext(ctx, "source: empty payload, nothing to apply",
					"endpoint", s.cfg.Endpoint, "attempt", attempt)
				return &Result{Empty: true, Attempts: attempt, Err: ErrEmptyPayload}, nil
			}
			s.writeCache(ctx, configs)
			return &Result{Configs: configs, Attempts: attempt}, nil
		}
		lastErr = err
		log.WarnContext(ctx, "source: attempt failed",
			"attempt", attempt, "attempts", s.cfg.Attempts, "error", err)

		if ctx.Err() != nil {
			return nil, fmt.Errorf("source: load: %w", ctx.Err())
		}
		if attempt < s.cfg.Attempts {
			wait := s.cfg.BaseDelay * (1 << uint(attempt-1))
			log.DebugContext(ctx, "source: backing off", "backoff_ms", wait.Milliseconds())
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, fmt.Errorf("source: load: %w", ctx.Err())
			case <-t.C:
			}
		}
	}

	log.ErrorContext(ctx, "source: fetch exhausted", "attempts", attempt, "error", lastErr)
	s.dispatch(FetchFailed{Name: EventFetchFailed, Err: lastErr, Attempts: attempt, Time: s.cfg.Now()})

	// Stale fallback reads past the TTL.
	if configs, ok := s.readCache(ctx, true); ok {
		return &Result{Configs: configs, FromCache: true, Fallback: true, Attempts: attempt, Err: lastErr}, nil
	}
	return nil, &ExhaustedError{Attempts: attempt, Last: lastErr}
}

func (s *Source) dispatch(ev FetchFailed) {
	s.mu.Lock()
	ls := slices.Clone(s.listeners)
	s.mu.Unlock()
	for _, fn := range ls {
		fn(ev)
	}
}

// fetch performs one attempt. A nil error with no configs means the payload
// was valid JSON but not a non-empty array.
func (s *Source) fetch(ctx context.Context) ([]rule.Configuration, error) {
	actx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, s.cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("source: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("source: read body: %w", err)
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("source: malformed json (%d bytes)", len(body))
	}
	shape := gjson.ParseBytes(body)
	if !shape.IsArray() || len(shape.Array()) == 0 {
		return nil, nil
	}

	configs, err := rule.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	return configs, nil
}
