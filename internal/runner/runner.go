// Package runner executes rendered prompts against LLM providers with
// retry, backoff, and circuit breaking.
package runner

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/promptforge-ai/demon-engine/internal/llm"
)

const (
	// DefaultMaxAttempts bounds the retry loop, first try included
	DefaultMaxAttempts = 3
	// DefaultBaseDelay seeds the exponential backoff schedule
	DefaultBaseDelay = 500 * time.Millisecond
	// DefaultMaxDelay caps any single backoff wait
	DefaultMaxDelay = 8 * time.Second
)

// Options tune the retry and breaker behavior of a Runner
type Options struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	FailureThreshold int
	CoolDown         time.Duration
}

// Result carries the completion plus execution metadata for the
// explainability log
type Result struct {
	Text      string        `json:"text"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	TokensIn  int           `json:"tokens_in"`
	TokensOut int           `json:"tokens_out"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
}

// Runner wraps provider handlers with retry and per-provider circuit
// breakers. Safe for concurrent use.
type Runner struct {
	opts     Options
	breakers *BreakerRegistry
	logger   *log.Logger
}

// NewRunner creates a runner. Zero option fields select the defaults.
func NewRunner(opts Options, logger *log.Logger) *Runner {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		opts:     opts,
		breakers: NewBreakerRegistry(opts.FailureThreshold, opts.CoolDown),
		logger:   logger,
	}
}

// Breakers exposes the breaker registry for health reporting
func (r *Runner) Breakers() *BreakerRegistry { return r.breakers }

// Run sends the completion request through the handler, retrying transient
// and timeout failures with exponential backoff and jitter. The provider's
// circuit breaker is consulted before every attempt; when it is open the
// call fails fast with a BreakerOpenError and the handler is never invoked.
func (r *Runner) Run(ctx context.Context, handler llm.Handler, req llm.CompletionRequest) (*Result, error) {
	provider := handler.Provider()
	breaker := r.breakers.Get(provider)
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if err := breaker.Allow(); err != nil {
			return nil, err
		}

		resp, err := handler.Complete(ctx, req)
		if err == nil {
			breaker.RecordSuccess()
			return &Result{
				Text:      resp.Text,
				Provider:  provider,
				Model:     req.Model,
				TokensIn:  resp.TokensIn,
				TokensOut: resp.TokensOut,
				Attempts:  attempt,
				Duration:  time.Since(start),
			}, nil
		}

		classified := Classify(err, provider)
		breaker.RecordFailure()
		lastErr = classified

		if !Retryable(classified) {
			return nil, classified
		}
		if attempt == r.opts.MaxAttempts {
			break
		}

		delay := r.backoffDelay(attempt, classified)
		r.logger.Warn("provider call failed, retrying",
			"provider", provider,
			"attempt", attempt,
			"delay", delay,
			"error", classified)

		select {
		case <-ctx.Done():
			return nil, Classify(ctx.Err(), provider)
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

// backoffDelay computes the wait before the next attempt. A server-supplied
// Retry-After takes precedence over the exponential schedule; either way the
// wait is capped and jittered by up to 25%.
func (r *Runner) backoffDelay(attempt int, err error) time.Duration {
	delay := r.opts.BaseDelay * time.Duration(1<<(attempt-1))

	var transient *TransientError
	if errors.As(err, &transient) && transient.RetryAfter != "" {
		if secs, parseErr := strconv.Atoi(transient.RetryAfter); parseErr == nil && secs > 0 {
			delay = time.Duration(secs) * time.Second
		}
	}

	if delay > r.opts.MaxDelay {
		delay = r.opts.MaxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
