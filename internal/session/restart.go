package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default restart parameters.
const (
	defaultMaxRetries = 5
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// RestartPolicy configures automatic re-arming of a recording session after
// a fatal stream error.
type RestartPolicy struct {
	// Enabled turns the restart monitor on.
	Enabled bool

	// MaxRetries is the maximum number of restart attempts per failure.
	// Defaults to 5 if zero.
	MaxRetries int

	// Backoff is the initial delay between attempts. Doubles each attempt
	// up to MaxBackoff. Defaults to 500ms if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s
	// if zero.
	MaxBackoff time.Duration
}

// restarter watches for stream failures and re-arms recording with
// exponential backoff. A user Toggle during the backoff window wins: the
// monitor gives up as soon as it observes the session live again or the
// retry budget is spent.
type restarter struct {
	controller *Controller
	policy     RestartPolicy

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	failed    chan struct{} // signalled when a stream failure is detected
}

func newRestarter(c *Controller, policy RestartPolicy) *restarter {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = defaultMaxRetries
	}
	if policy.Backoff <= 0 {
		policy.Backoff = defaultBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = defaultMaxBackoff
	}
	return &restarter{
		controller: c,
		policy:     policy,
		done:       make(chan struct{}),
		failed:     make(chan struct{}, 1),
	}
}

// start launches the monitor goroutine. Safe to call multiple times.
func (r *restarter) start() {
	if !r.policy.Enabled {
		return
	}
	r.startOnce.Do(func() {
		go r.monitorLoop()
	})
}

// notifyFailure signals the monitor that the live session was lost. Safe to
// call multiple times; only the first call per restart cycle has effect.
func (r *restarter) notifyFailure() {
	if !r.policy.Enabled {
		return
	}
	select {
	case r.failed <- struct{}{}:
	default:
		// Already signalled; avoid blocking.
	}
}

// stop halts the monitor. Safe to call multiple times.
func (r *restarter) stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

func (r *restarter) monitorLoop() {
	for {
		select {
		case <-r.done:
			return
		case <-r.failed:
			r.attemptRestart()
		}
	}
}

// attemptRestart tries to re-arm recording with exponential backoff.
func (r *restarter) attemptRestart() {
	backoff := r.policy.Backoff

	for attempt := 1; attempt <= r.policy.MaxRetries; attempt++ {
		select {
		case <-r.done:
			return
		case <-time.After(backoff):
		}

		slog.Info("attempting session restart",
			"attempt", attempt,
			"max_retries", r.policy.MaxRetries,
			"backoff", backoff,
		)

		// StartIfIdle never stops a live session, so a user who started
		// recording again during the wait keeps their session.
		started, err := r.controller.StartIfIdle(context.Background())
		if err == nil {
			if started {
				slog.Info("session restart successful", "attempt", attempt)
			} else {
				slog.Info("session already live, restart not needed", "attempt", attempt)
			}
			return
		}
		slog.Warn("session restart attempt failed",
			"attempt", attempt,
			"error", err,
		)

		backoff *= 2
		if backoff > r.policy.MaxBackoff {
			backoff = r.policy.MaxBackoff
		}
	}

	slog.Error("session restart abandoned, retry budget exhausted",
		"max_retries", r.policy.MaxRetries,
	)
}
