// Package supervisor keeps the feed subscription alive across transient
// failures without weakening the at-least-once contract.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/notifeed/notifeed/internal/services/push/feed"
)

// ErrResyncRequired indicates the subscription cannot resume from its
// durable position: mutations were lost from the feed's retention window
// and must be recovered by other means. Silently skipping forward is
// explicitly disallowed.
var ErrResyncRequired = errors.New("feed resync required")

// State is the supervisor's externally observable condition.
type State int32

const (
	// StateIdle means the supervisor has not started.
	StateIdle State = iota
	// StateRunning means the subscription is consuming the feed.
	StateRunning
	// StateBackoff means the subscription failed and a retry is pending.
	StateBackoff
	// StateResyncRequired is terminal: the resume position aged out.
	StateResyncRequired
	// StateStopped means the supervisor exited cleanly.
	StateStopped
)

// Runner is one restartable feed subscription. The observer satisfies it.
type Runner interface {
	Run(ctx context.Context) error
}

// eventCounter is optionally implemented by runners that can report handled
// event counts, letting the supervisor reset backoff after a productive run
// even when the run was shorter than the healthy-duration threshold.
type eventCounter interface {
	HandledCount() uint64
}

// Config bounds the restart behavior.
type Config struct {
	// InitialBackoff is the first retry delay. Defaults to 500ms.
	InitialBackoff time.Duration
	// MaxBackoff caps the retry delay. Defaults to 30s.
	MaxBackoff time.Duration
	// HealthyAfter is how long a run must survive for the backoff to reset.
	// Defaults to 30s.
	HealthyAfter time.Duration
	// HealthyEvents resets the backoff once a run handled this many events,
	// regardless of duration. Defaults to 50.
	HealthyEvents uint64
}

func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.HealthyAfter <= 0 {
		c.HealthyAfter = 30 * time.Second
	}
	if c.HealthyEvents == 0 {
		c.HealthyEvents = 50
	}
	return c
}

// Supervisor restarts a feed subscription with bounded exponential backoff
// plus jitter. A resume-position-expired failure is terminal and surfaces as
// ErrResyncRequired rather than looping.
type Supervisor struct {
	runner Runner
	config Config
	state  atomic.Int32

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a supervisor around one restartable subscription.
func New(runner Runner, config Config) (*Supervisor, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	s := &Supervisor{
		runner: runner,
		config: config.withDefaults(),
		now:    time.Now,
		sleep:  sleepCtx,
	}
	s.state.Store(int32(StateIdle))
	return s, nil
}

// State reports the supervisor's current condition. Safe for concurrent use
// by health endpoints.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Run drives the subscription until the context ends or the resume position
// is unrecoverable. The runner is always re-invoked against the last durably
// persisted position; the supervisor never fabricates one.
func (s *Supervisor) Run(ctx context.Context) error {
	delay := s.config.InitialBackoff
	var counted uint64
	if counter, ok := s.runner.(eventCounter); ok {
		counted = counter.HandledCount()
	}

	for {
		if err := ctx.Err(); err != nil {
			s.state.Store(int32(StateStopped))
			return err
		}

		s.state.Store(int32(StateRunning))
		started := s.now()
		err := s.runner.Run(ctx)

		if ctx.Err() != nil || err == nil {
			s.state.Store(int32(StateStopped))
			return ctx.Err()
		}
		if errors.Is(err, feed.ErrResumeLost) {
			s.state.Store(int32(StateResyncRequired))
			return fmt.Errorf("%w: %v", ErrResyncRequired, err)
		}

		healthy := s.now().Sub(started) >= s.config.HealthyAfter
		if counter, ok := s.runner.(eventCounter); ok {
			total := counter.HandledCount()
			if total-counted >= s.config.HealthyEvents {
				healthy = true
			}
			counted = total
		}
		if healthy {
			delay = s.config.InitialBackoff
		}

		wait := jitter(delay)
		log.Printf("push: feed subscription failed, retrying in %s: %v", wait.Round(time.Millisecond), err)
		s.state.Store(int32(StateBackoff))
		if err := s.sleep(ctx, wait); err != nil {
			s.state.Store(int32(StateStopped))
			return err
		}

		delay *= 2
		if delay > s.config.MaxBackoff {
			delay = s.config.MaxBackoff
		}
	}
}

// jitter spreads retries across half to full delay so restarting replicas
// do not reconnect in lockstep.
func jitter(delay time.Duration) time.Duration {
	if delay <= 1 {
		return delay
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(delay-half)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
