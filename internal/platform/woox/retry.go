package woox

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// DefaultMaxAttempts is the attempt cap for every error category.
const DefaultMaxAttempts = 3

// KindBackOff returns a fresh delay schedule for retrying errors of kind.
// Rate limits back off exponentially from 2s to 60s, server faults
// linearly by 5s up to 30s, and everything else linearly by 2s up to 10s.
func KindBackOff(kind domain.ErrorKind) backoff.BackOff {
	var b backoff.BackOff
	switch kind {
	case domain.KindRateLimit:
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 2 * time.Second
		exp.Multiplier = 2
		exp.MaxInterval = 60 * time.Second
		exp.RandomizationFactor = 0
		b = exp
	case domain.KindServer:
		b = &linearBackOff{step: 5 * time.Second, max: 30 * time.Second}
	default:
		b = &linearBackOff{step: 2 * time.Second, max: 10 * time.Second}
	}
	b.Reset()
	return b
}

// linearBackOff waits step, 2*step, 3*step and so on, capped at max.
type linearBackOff struct {
	step, max time.Duration
	n         int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return min(b.step*time.Duration(b.n), b.max)
}

func (b *linearBackOff) Reset() { b.n = 0 }

// Retrier re-runs an operation while it fails with a retryable
// *domain.ExchangeError, waiting the classified delay between attempts.
type Retrier struct {
	MaxAttempts int
	// Sleep, when set, performs the wait between attempts itself and the
	// retry loop proceeds without its own timer. Tests inject a recorder.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called after every retryable failure with the delay that
	// the policy assigns to it, including the final attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// NewRetrier returns a Retrier with the given cap and a real wait.
func NewRetrier(maxAttempts int) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Retrier{MaxAttempts: maxAttempts}
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// attempt cap is reached. The surfaced error carries the delay the policy
// assigned to the last attempt in RetryAfter.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	policy := &policyBackOff{}
	var (
		attempt int
		last    *domain.ExchangeError
	)
	op := func() (struct{}, error) {
		attempt++
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		var xe *domain.ExchangeError
		if !errors.As(err, &xe) || !xe.Retryable {
			return struct{}{}, backoff.Permanent(err)
		}
		policy.observe(xe.Kind)
		last = xe
		return struct{}{}, err
	}
	notify := func(err error, _ time.Duration) {
		r.report(attempt, policy.last, last, err)
	}

	var (
		b    backoff.BackOff = policy
		hook *hookBackOff
	)
	if r.Sleep != nil {
		hook = &hookBackOff{BackOff: policy, ctx: ctx, sleep: r.Sleep}
		b = hook
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return nil
	}
	if hook != nil && hook.err != nil {
		return hook.err
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	// The cap was hit on a retryable failure; stamp the delay the policy
	// would have waited next.
	var xe *domain.ExchangeError
	if attempt >= maxAttempts && errors.As(err, &xe) && xe == last {
		r.report(attempt, policy.NextBackOff(), last, err)
	}
	return err
}

func (r *Retrier) report(attempt int, delay time.Duration, xe *domain.ExchangeError, err error) {
	if xe != nil {
		xe.RetryAfter = delay
	}
	if r.OnRetry != nil {
		r.OnRetry(attempt, delay, err)
	}
}

// policyBackOff yields the schedule of the most recently observed error
// kind. The attempt count spans kinds: switching kind fast-forwards the new
// schedule to the current attempt.
type policyBackOff struct {
	kind    domain.ErrorKind
	current backoff.BackOff
	attempt int
	last    time.Duration
}

var _ backoff.BackOff = (*policyBackOff)(nil)

func (b *policyBackOff) observe(kind domain.ErrorKind) {
	if b.current != nil && kind == b.kind {
		return
	}
	b.kind = kind
	b.current = KindBackOff(kind)
	for range b.attempt {
		b.current.NextBackOff()
	}
}

// NextBackOff implements backoff.BackOff.
func (b *policyBackOff) NextBackOff() time.Duration {
	if b.current == nil {
		return backoff.Stop
	}
	b.attempt++
	b.last = b.current.NextBackOff()
	return b.last
}

// Reset implements backoff.BackOff.
func (b *policyBackOff) Reset() {
	b.current = nil
	b.attempt = 0
	b.last = 0
}

// hookBackOff hands each delay to an injected sleep and lets the retry loop
// continue immediately.
type hookBackOff struct {
	backoff.BackOff
	ctx   context.Context
	sleep func(ctx context.Context, d time.Duration) error
	err   error
}

func (b *hookBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if err := b.sleep(b.ctx, d); err != nil {
		b.err = err
		return backoff.Stop
	}
	return 0
}
