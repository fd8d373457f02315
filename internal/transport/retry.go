package transport

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
)

// #region policy

const defaultMaxRetries = 2 // 3 total attempts

// RetryPolicy bounds how a Retrying client backs off between attempts.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryPolicy retries twice starting at 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   defaultMaxRetries,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// #endregion policy

// #region retrying

// Retrying decorates a Client, retrying transient failures. A policy
// rejection is an answer, not a failure, and is returned as-is.
type Retrying struct {
	next   Client
	policy RetryPolicy
	logger zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next with policy.
func NewRetrying(next Client, policy RetryPolicy, logger zerolog.Logger) *Retrying {
	return &Retrying{
		next:   next,
		policy: policy,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepCtx,
	}
}

// RegisterProtocol implements Client.
func (r *Retrying) RegisterProtocol(ctx context.Context, agentID string, desc protocol.Descriptor) (Result, error) {
	return r.do(ctx, "register", func() (Result, error) {
		return r.next.RegisterProtocol(ctx, agentID, desc)
	})
}

// SubmitReport implements Client.
func (r *Retrying) SubmitReport(ctx context.Context, rep protocol.Report) (Result, error) {
	return r.do(ctx, "report", func() (Result, error) {
		return r.next.SubmitReport(ctx, rep)
	})
}

// SendMessage implements Client.
func (r *Retrying) SendMessage(ctx context.Context, agentID, to, content string, ref *protocol.Ref) (Result, error) {
	return r.do(ctx, "send", func() (Result, error) {
		return r.next.SendMessage(ctx, agentID, to, content, ref)
	})
}

func (r *Retrying) do(ctx context.Context, op string, call func() (Result, error)) (Result, error) {
	res, err := call()
	for attempt := 1; attempt <= r.policy.MaxRetries && IsTransient(err); attempt++ {
		r.rngMu.Lock()
		delay := r.policy.Delay(attempt, r.rng)
		r.rngMu.Unlock()

		r.logger.Debug().
			Str("op", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("retrying gateway call")

		if serr := r.sleep(ctx, delay); serr != nil {
			return Result{}, Transient(op, serr)
		}
		res, err = call()
	}
	return res, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// #endregion retrying
