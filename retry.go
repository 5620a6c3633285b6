package lightning

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig controls how clones and thumbnail uploads are retried.
// Zero fields take the DefaultRetryConfig values.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// Jitter is the fraction of each delay randomized, e.g. 0.1 for ±10%.
	Jitter float64

	// RetryIf reports whether an error is worth another attempt. Nil retries
	// everything except context errors.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns three attempts starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            0.1,
		RetryIf:           IsRetryable,
	}
}

// Retryer runs network operations with exponential backoff.
type Retryer struct {
	config RetryConfig
}

func NewRetryer(cfg RetryConfig) *Retryer {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = def.Jitter
	}
	return &Retryer{config: cfg}
}

// RetryResult reports how many attempts ran and the error that ended them.
type RetryResult struct {
	Attempts int
	LastErr  error
}

// Do runs op until it succeeds, fails permanently, runs out of attempts or
// ctx is done.
func (r *Retryer) Do(ctx context.Context, op func() error) RetryResult {
	delay := r.config.InitialBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return RetryResult{Attempts: attempt - 1, LastErr: ctxErr}
		}
		if err = op(); err == nil {
			return RetryResult{Attempts: attempt}
		}
		if !r.retryable(err) || attempt == r.config.MaxAttempts {
			return RetryResult{Attempts: attempt, LastErr: err}
		}

		timer := time.NewTimer(r.jittered(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return RetryResult{Attempts: attempt, LastErr: ctx.Err()}
		case <-timer.C:
		}
		delay = min(time.Duration(float64(delay)*r.config.BackoffMultiplier), r.config.MaxBackoff)
	}
}

// RetryValue is Do for operations that produce a value.
func RetryValue[T any](ctx context.Context, r *Retryer, op func() (T, error)) (T, RetryResult) {
	var value T
	result := r.Do(ctx, func() error {
		v, err := op()
		if err == nil {
			value = v
		}
		return err
	})
	if result.LastErr != nil {
		var zero T
		return zero, result
	}
	return value, result
}

func (r *Retryer) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return r.config.RetryIf == nil || r.config.RetryIf(err)
}

func (r *Retryer) jittered(d time.Duration) time.Duration {
	if r.config.Jitter == 0 {
		return d
	}
	spread := float64(d) * r.config.Jitter
	return time.Duration(float64(d) + (rand.Float64()*2-1)*spread)
}

// transientMarkers are substrings of transport errors worth retrying.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"unexpected eof",
	"429", "502", "503", "504",
}

// IsRetryable reports whether err looks like a transient transport failure.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
