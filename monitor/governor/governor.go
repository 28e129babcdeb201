// Package governor enforces the remote vendor's request budget: a steady
// 1 request/second refill combined with a 10-request pool over any rolling
// ten-second window. A single goroutine owns all token-bucket state; callers
// talk to it over channels, which keeps cancellation trivial and wakeups
// starvation-free.
package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	metrics "mandi-monitor/pkg/telemetry"
)

// backoffWindow is the fixed lockout after the vendor signals throttling.
// The vendor's published recovery behaviour is a flat window, not an
// escalating one.
const backoffWindow = 60 * time.Second

// BackoffError is returned by Acquire while the governor is in its
// post-throttle lockout.
type BackoffError struct {
	Remaining time.Duration
}

func (e *BackoffError) Error() string {
	return fmt.Sprintf("rate governor backing off for another %s", e.Remaining.Round(time.Second))
}

// Snapshot exposes the governor's observable state.
type Snapshot struct {
	RequestsLastSecond int
	BurstWindowUsed    int
	ThrottleActive     bool
	ThrottleRemaining  time.Duration
}

type grant struct {
	wake   time.Time
	cancel func()
	err    error
}

type acquireReq struct {
	reply chan grant
}

type Governor struct {
	logger     zerolog.Logger
	acquireCh  chan acquireReq
	throttleCh chan struct{}
	snapshotCh chan chan Snapshot
}

// New starts the governor's owner goroutine. It runs until ctx is cancelled.
func New(ctx context.Context, logger zerolog.Logger) *Governor {
	g := &Governor{
		logger:     logger.With().Str("module", "governor").Logger(),
		acquireCh:  make(chan acquireReq),
		throttleCh: make(chan struct{}, 1),
		snapshotCh: make(chan chan Snapshot),
	}
	go g.run(ctx)
	return g
}

// Acquire blocks until both the steady and the burst window admit one more
// request, then returns nil. During the post-throttle lockout it fails fast
// with a *BackoffError. Cancelling ctx releases the waiter and returns the
// reserved tokens.
func (g *Governor) Acquire(ctx context.Context) error {
	req := acquireReq{reply: make(chan grant, 1)}
	select {
	case g.acquireCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	gr := <-req.reply
	if gr.err != nil {
		return gr.err
	}

	wait := time.Until(gr.wake)
	if wait <= 0 {
		metrics.IncrCounter(1, "governor", "acquire")
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		metrics.IncrCounter(1, "governor", "acquire")
		return nil
	case <-ctx.Done():
		gr.cancel()
		return ctx.Err()
	}
}

// Throttled tells the governor the vendor returned a throttling response.
// The governor rejects acquisitions for the next backoffWindow.
func (g *Governor) Throttled() {
	select {
	case g.throttleCh <- struct{}{}:
	default:
	}
}

// State returns a point-in-time snapshot of the governor.
func (g *Governor) State() Snapshot {
	reply := make(chan Snapshot, 1)
	g.snapshotCh <- reply
	return <-reply
}

func (g *Governor) run(ctx context.Context) {
	// The steady limiter dominates: with a bucket of one it paces grants at
	// a strict one per second, so the ten-token burst window never binds on
	// its own. It stays as the rolling ten-per-ten-seconds backstop the
	// vendor budget is written against, and it is what would bind if the
	// steady bucket were ever enlarged.
	steady := rate.NewLimiter(rate.Limit(1), 1)
	burst := rate.NewLimiter(rate.Every(time.Second), 10)

	var backoffUntil time.Time
	var grants []time.Time

	prune := func(now time.Time) {
		cutoff := now.Add(-10 * time.Second)
		i := 0
		for i < len(grants) && grants[i].Before(cutoff) {
			i++
		}
		grants = grants[i:]
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-g.throttleCh:
			backoffUntil = time.Now().Add(backoffWindow)
			metrics.IncrCounter(1, "governor", "throttled")
			g.logger.Warn().
				Dur("backoff", backoffWindow).
				Msg("vendor throttled; rejecting acquisitions")

		case req := <-g.acquireCh:
			now := time.Now()
			if now.Before(backoffUntil) {
				req.reply <- grant{err: &BackoffError{Remaining: backoffUntil.Sub(now)}}
				continue
			}
			rSteady := steady.Reserve()
			rBurst := burst.Reserve()
			delay := rSteady.Delay()
			if d := rBurst.Delay(); d > delay {
				delay = d
			}
			wake := now.Add(delay)
			grants = append(grants, wake)
			prune(now)
			req.reply <- grant{
				wake: wake,
				cancel: func() {
					rSteady.Cancel()
					rBurst.Cancel()
				},
			}

		case reply := <-g.snapshotCh:
			now := time.Now()
			prune(now)
			var lastSecond int
			for _, t := range grants {
				if !t.After(now) && t.After(now.Add(-time.Second)) {
					lastSecond++
				}
			}
			var used int
			for _, t := range grants {
				if !t.After(now) {
					used++
				}
			}
			snap := Snapshot{
				RequestsLastSecond: lastSecond,
				BurstWindowUsed:    used,
			}
			if now.Before(backoffUntil) {
				snap.ThrottleActive = true
				snap.ThrottleRemaining = backoffUntil.Sub(now)
			}
			reply <- snap
		}
	}
}
