package bus

import (
	"context"
	"time"

	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/logger"
	"github.com/mahaj/dhuan/pkg/metrics"
)

type Status int

const (
	StatusLive Status = iota
	// StatusDegraded means subscription retries are exhausted; the caller
	// must poll the store until a fresh Subscribe succeeds.
	StatusDegraded
)

// RetryPolicy bounds the exponential backoff applied to failed subscribe
// attempts.
type RetryPolicy struct {
	Base        time.Duration // first delay, default 1s
	Cap         time.Duration // delay ceiling, default 30s
	MaxAttempts int           // total attempts before degrading, default 6
	Timeout     time.Duration // per-attempt timeout, default 30s
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.Cap <= 0 {
		p.Cap = 30 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 6
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	return p
}

// Reconnector wraps a Bus with the retry-then-degrade subscription policy.
// Status transitions are reported through onStatus; the zero func is fine.
type Reconnector struct {
	bus      Bus
	policy   RetryPolicy
	onStatus func(Status)
}

func NewReconnector(b Bus, policy RetryPolicy, onStatus func(Status)) *Reconnector {
	if onStatus == nil {
		onStatus = func(Status) {}
	}
	return &Reconnector{bus: b, policy: policy.withDefaults(), onStatus: onStatus}
}

// Subscribe attempts the underlying Subscribe with bounded exponential
// backoff. On success it reports StatusLive; after exhausting attempts it
// reports StatusDegraded and returns the last error.
func (r *Reconnector) Subscribe(ctx context.Context, sc string, h Handler) (*Subscription, error) {
	delay := r.policy.Base
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
		sub, err := r.bus.Subscribe(attemptCtx, sc, h)
		cancel()
		if err == nil {
			r.onStatus(StatusLive)
			return sub, nil
		}
		lastErr = err

		if !chaterr.Retryable(err) || attempt == r.policy.MaxAttempts {
			break
		}
		metrics.SubscribeRetries.Inc()
		logger.Warn("subscribe_retry", "scope", sc, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > r.policy.Cap {
			delay = r.policy.Cap
		}
	}

	metrics.DegradedTransitions.Inc()
	r.onStatus(StatusDegraded)
	return nil, lastErr
}
