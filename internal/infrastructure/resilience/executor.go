package resilience

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrorClassification tells the executor whether to try again and whether
// the failure counts against the breaker.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

var (
	// Transient failures are retried and counted.
	Transient = ErrorClassification{Retryable: true, RecordFailure: true}
	// Permanent failures are counted but never retried.
	Permanent = ErrorClassification{RecordFailure: true}
	// Ignored failures are the caller's fault and leave the breaker alone.
	Ignored = ErrorClassification{}
)

type ErrorClassifier func(err error) ErrorClassification

// Executor guards outbound calls to one upstream with retries and a circuit
// breaker per operation name. The zero *Executor runs calls once.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classifier ErrorClassifier) error {
	if fn == nil {
		return errors.New("resilience: nil operation")
	}
	if e == nil {
		return fn(ctx)
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = func(error) ErrorClassification { return Permanent }
	}

	attempt := func() error { return e.retry(ctx, op, fn, classifier) }
	if !e.cfg.BreakerEnabled {
		return attempt()
	}
	_, err := e.breaker(op, classifier).Execute(func() (struct{}, error) {
		return struct{}{}, attempt()
	})
	return err
}

// Do is Execute for calls that produce a value.
func Do[T any](ctx context.Context, e *Executor, operation string, fn func(context.Context) (T, error), classifier ErrorClassifier) (T, error) {
	var out T
	err := e.Execute(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	}, classifier)
	return out, err
}

func (e *Executor) retry(ctx context.Context, op string, fn func(context.Context) error, classify ErrorClassifier) error {
	delays := e.cfg.backoff()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= e.cfg.RetryMaxAttempts || !classify(err).Retryable {
			return err
		}

		wait := max(delays.step(), retryAfter(err))
		slog.Warn("retry_attempt",
			"operation", op,
			"attempt", attempt,
			"max_attempts", e.cfg.RetryMaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err.Error(),
		)
		if !sleep(ctx, wait) {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func retryAfter(err error) time.Duration {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return 0
	}
	return min(statusErr.RetryAfter, maxRetryAfter)
}

func (e *Executor) breaker(op string, classify ErrorClassifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[op]; ok {
		return cb
	}

	cfg := e.cfg
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        op,
		MaxRequests: cfg.BreakerHalfOpenMaxCalls,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= cfg.BreakerMinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	})
	e.breakers[op] = cb
	return cb
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// ClassifyCommon settles the cases every upstream shares: cancellation is
// ignored and an open breaker is transient. ok is false for anything else.
func ClassifyCommon(err error) (class ErrorClassification, ok bool) {
	switch {
	case err == nil:
		return Ignored, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Ignored, true
	case IsCircuitOpen(err):
		return Transient, true
	}
	return ErrorClassification{}, false
}
