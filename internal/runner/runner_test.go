package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/promptforge-ai/demon-engine/internal/llm"
)

// scriptedHandler fails a set number of times before succeeding
type scriptedHandler struct {
	failures int
	err      error
	calls    int
}

func (h *scriptedHandler) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	h.calls++
	if h.calls <= h.failures {
		return nil, h.err
	}
	return &llm.CompletionResponse{Text: "ok", TokensIn: 10, TokensOut: 5}, nil
}

func (h *scriptedHandler) Provider() string { return "scripted" }

func transientErr() error {
	return &llm.StatusError{ProviderName: "scripted", StatusCode: 503, Message: "unavailable"}
}

func fastOptions() Options {
	return Options{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want any
	}{
		{"auth 401", &llm.StatusError{StatusCode: 401}, &AuthError{}},
		{"auth 403", &llm.StatusError{StatusCode: 403}, &AuthError{}},
		{"timeout 408", &llm.StatusError{StatusCode: 408}, &TimeoutError{}},
		{"deadline", context.DeadlineExceeded, &TimeoutError{}},
		{"rate limit 429", &llm.StatusError{StatusCode: 429}, &TransientError{}},
		{"server 500", &llm.StatusError{StatusCode: 500}, &TransientError{}},
		{"network", errors.New("dial tcp: connection refused"), &TransientError{}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Classify(c.in, "test")
			switch c.want.(type) {
			case *AuthError:
				var target *AuthError
				if !errors.As(got, &target) {
					t.Errorf("Classify(%v) = %T, want AuthError", c.in, got)
				}
			case *TimeoutError:
				var target *TimeoutError
				if !errors.As(got, &target) {
					t.Errorf("Classify(%v) = %T, want TimeoutError", c.in, got)
				}
			case *TransientError:
				var target *TransientError
				if !errors.As(got, &target) {
					t.Errorf("Classify(%v) = %T, want TransientError", c.in, got)
				}
			}
		})
	}
}

func TestClassifyUnknownPassesThrough(t *testing.T) {
	err := errors.New("model produced gibberish")
	got := Classify(err, "test")
	if got != err {
		t.Errorf("unknown error was wrapped: %v", got)
	}
	if Retryable(got) {
		t.Error("unknown error must not be retryable")
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	handler := &scriptedHandler{failures: 2, err: transientErr()}
	r := NewRunner(fastOptions(), nil)

	result, err := r.Run(context.Background(), handler, llm.CompletionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
	if result.Text != "ok" {
		t.Errorf("text = %q, want ok", result.Text)
	}
}

func TestRunDoesNotRetryAuthErrors(t *testing.T) {
	handler := &scriptedHandler{
		failures: 10,
		err:      &llm.StatusError{ProviderName: "scripted", StatusCode: 401, Message: "bad key"},
	}
	r := NewRunner(fastOptions(), nil)

	_, err := r.Run(context.Background(), handler, llm.CompletionRequest{})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	if handler.calls != 1 {
		t.Errorf("handler called %d times, auth errors must not be retried", handler.calls)
	}
}

func TestRunExhaustsRetries(t *testing.T) {
	handler := &scriptedHandler{failures: 10, err: transientErr()}
	r := NewRunner(fastOptions(), nil)

	_, err := r.Run(context.Background(), handler, llm.CompletionRequest{})
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("err = %v, want TransientError after exhausted retries", err)
	}
	if handler.calls != 3 {
		t.Errorf("handler called %d times, want 3", handler.calls)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	handler := &scriptedHandler{failures: 100, err: transientErr()}
	opts := fastOptions()
	opts.MaxAttempts = 1
	opts.FailureThreshold = 3
	opts.CoolDown = time.Minute
	r := NewRunner(opts, nil)

	for i := 0; i < 3; i++ {
		if _, err := r.Run(context.Background(), handler, llm.CompletionRequest{}); err == nil {
			t.Fatalf("run %d unexpectedly succeeded", i+1)
		}
	}
	if handler.calls != 3 {
		t.Fatalf("handler called %d times before breaker opened, want 3", handler.calls)
	}

	// Fourth call fails fast: the handler is never invoked
	_, err := r.Run(context.Background(), handler, llm.CompletionRequest{})
	var open *BreakerOpenError
	if !errors.As(err, &open) {
		t.Fatalf("err = %v, want BreakerOpenError", err)
	}
	if handler.calls != 3 {
		t.Errorf("handler called %d times, open breaker must fail fast without invoking", handler.calls)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 30*time.Second)
	now := time.Now()
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open after threshold", cb.State())
	}
	if err := cb.Allow(); err == nil {
		t.Fatal("open breaker allowed a call inside the cool-down")
	}

	// After the cool-down one probe is admitted
	now = now.Add(31 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("half-open probe rejected: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", cb.State())
	}

	// A successful probe closes the circuit
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed after successful probe", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("failures = %d, want reset to 0", cb.Failures())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 30*time.Second)
	now := time.Now()
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	cb.RecordFailure()
	now = now.Add(31 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatal(err)
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Errorf("state = %s, want reopened after failed probe", cb.State())
	}
}

func TestBreakerRegistryPerName(t *testing.T) {
	registry := NewBreakerRegistry(3, time.Minute)
	a := registry.Get("groq")
	b := registry.Get("openai")
	if a == b {
		t.Error("distinct providers share a breaker")
	}
	if registry.Get("groq") != a {
		t.Error("registry did not return the same breaker for the same name")
	}

	a.RecordFailure()
	a.RecordFailure()
	a.RecordFailure()
	states := registry.States()
	if states["groq"] != StateOpen || states["openai"] != StateClosed {
		t.Errorf("states = %v, want groq open and openai closed", states)
	}
}

func TestBackoffHonorsRetryAfter(t *testing.T) {
	r := NewRunner(Options{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Second}, nil)
	err := &TransientError{ProviderName: "test", RetryAfter: "2"}

	delay := r.backoffDelay(1, err)
	if delay < 2*time.Second {
		t.Errorf("delay = %v, want at least the server-requested 2s", delay)
	}
}
