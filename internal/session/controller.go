// Package session owns the recording session state machine.
//
// A [Controller] moves between the idle and recording states in response to
// Toggle calls, and automatically falls back to idle when the capture
// pipeline reports a fatal stream error. Every state or result change is
// published to subscribers as a [Snapshot], which is also the payload served
// over the HTTP API.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/auris/internal/capture"
	"github.com/MrWong99/auris/internal/history"
	"github.com/MrWong99/auris/internal/observe"
	"github.com/MrWong99/auris/pkg/audio"
	"github.com/MrWong99/auris/pkg/classify"
)

// State identifies a session controller state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

// Status texts shown to clients for each state.
const (
	StatusRecording    = "Recording..."
	StatusNotRecording = "Not Recording"
)

// Snapshot is an immutable view of the controller published to subscribers
// and served over HTTP.
type Snapshot struct {
	State     State  `json:"state"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`

	// Result is the most recent recognition, if any. It persists across
	// the recording → idle transition so clients can show the last match.
	Result *classify.Result `json:"result,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Config holds the dependencies for a [Controller].
type Config struct {
	// Device is the capture backend. Required.
	Device audio.Device

	// Engine is the classification backend. Required.
	Engine classify.Engine

	// Gate grants microphone access before recording starts. May be nil,
	// in which case access is assumed.
	Gate audio.PermissionGate

	// Stream is the capture format. Zero value means the capture default.
	Stream audio.StreamConfig

	// Tap optionally receives every captured chunk. May be nil.
	Tap capture.Tap

	// Store receives every recognition result. May be nil.
	Store history.Store

	// Metrics receives session instrumentation. May be nil.
	Metrics *observe.Metrics

	// Restart configures automatic re-arming after stream failures.
	Restart RestartPolicy
}

// Controller is the recording session state machine. All methods are safe
// for concurrent use.
type Controller struct {
	cfg      Config
	pipeline *capture.Pipeline

	// transMu serializes whole state transitions. Stopping has to release
	// mu around the pipeline shutdown (the consumer goroutine takes mu
	// inside the result callback), and without transMu a concurrent start
	// could slip into that window and run against a half-stopped pipeline.
	transMu sync.Mutex

	mu         sync.Mutex
	state      State
	sessionID  uuid.UUID
	lastResult *classify.Result

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int

	restarter *restarter
}

// New creates an idle [Controller] and its capture pipeline.
func New(cfg Config) (*Controller, error) {
	c := &Controller{
		cfg:   cfg,
		state: StateIdle,
		subs:  make(map[int]chan Snapshot),
	}

	p, err := capture.New(capture.Config{
		Device:   cfg.Device,
		Engine:   cfg.Engine,
		Stream:   cfg.Stream,
		Tap:      cfg.Tap,
		Metrics:  cfg.Metrics,
		OnResult: c.handleResult,
		OnError:  c.handleStreamError,
	})
	if err != nil {
		return nil, err
	}
	c.pipeline = p
	c.restarter = newRestarter(c, cfg.Restart)
	return c, nil
}

// Init prepares the controller for use: it requests microphone access,
// probes the capture device, and loads the model. Every step is best
// effort — failures are logged and deferred to the first Toggle, which
// is where they can be surfaced to the user.
func (c *Controller) Init(ctx context.Context) {
	if c.cfg.Gate != nil {
		if err := c.cfg.Gate.Request(ctx); err != nil {
			slog.Warn("session: permission not granted during init", "err", err)
		}
	}
	if err := c.pipeline.Probe(ctx); err != nil {
		slog.Warn("session: device probe failed during init", "err", err)
	}
	if !c.cfg.Engine.Loaded() {
		if err := c.cfg.Engine.Load(ctx); err != nil {
			slog.Warn("session: model load failed during init", "err", err)
		}
	}
	c.restarter.start()
}

// Toggle flips between idle and recording and returns the resulting
// snapshot. Starting a session requests microphone access, ensures the
// model is loaded, and opens the capture stream; any failure leaves the
// controller idle and is returned to the caller.
func (c *Controller) Toggle(ctx context.Context) (Snapshot, error) {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRecording {
		return c.stopLocked("stopped"), nil
	}
	return c.startLocked(ctx)
}

// StartIfIdle starts a recording session only when the controller is idle
// and reports whether this call started one. A session that is already live
// is left untouched, which makes it safe for the restart monitor: a restart
// attempt can never tear down a session the user started in the meantime.
func (c *Controller) StartIfIdle(ctx context.Context) (bool, error) {
	c.transMu.Lock()
	defer c.transMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRecording {
		return false, nil
	}
	if _, err := c.startLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// stopLocked ends the live session. It flips to idle first and releases
// c.mu around the pipeline stop so the consumer goroutine cannot dead-lock
// against this mutex inside a result callback; c.transMu keeps every other
// transition out of that window. Callers must hold both mutexes.
func (c *Controller) stopLocked(reason string) Snapshot {
	c.toIdleLocked(reason)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	err := c.pipeline.Stop()
	c.mu.Lock()
	if err != nil {
		slog.Warn("session: pipeline stop error", "err", err)
	}
	return snap
}

// startLocked moves idle → recording. Callers must hold both mutexes.
func (c *Controller) startLocked(ctx context.Context) (Snapshot, error) {
	if c.cfg.Gate != nil {
		if err := c.cfg.Gate.Request(ctx); err != nil {
			return c.snapshotLocked(), err
		}
	}
	if !c.cfg.Engine.Loaded() {
		if err := c.cfg.Engine.Load(ctx); err != nil {
			return c.snapshotLocked(), err
		}
	}
	if err := c.pipeline.Start(ctx); err != nil {
		return c.snapshotLocked(), err
	}

	c.state = StateRecording
	c.sessionID = uuid.New()
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("session started", "session_id", c.sessionID)

	snap := c.snapshotLocked()
	c.publish(snap)
	return snap, nil
}

// toIdleLocked records the idle transition and publishes it. Callers must
// hold c.mu; stopping the pipeline itself is the caller's business.
func (c *Controller) toIdleLocked(reason string) {
	if c.state == StateIdle {
		return
	}
	slog.Info("session ended", "session_id", c.sessionID, "reason", reason)
	c.state = StateIdle
	c.sessionID = uuid.Nil
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
	c.publish(c.snapshotLocked())
}

// Snapshot returns the current controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:     c.state,
		Status:    StatusNotRecording,
		Result:    c.lastResult,
		UpdatedAt: time.Now().UTC(),
	}
	if c.state == StateRecording {
		snap.Status = StatusRecording
		snap.SessionID = c.sessionID.String()
	}
	return snap
}

// Probe checks that the capture device can be opened. Intended for
// readiness checks while idle; probing during a live session would steal
// the device on exclusive-access platforms.
func (c *Controller) Probe(ctx context.Context) error {
	return c.pipeline.Probe(ctx)
}

// Recording reports whether a session is currently live.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateRecording
}

// Subscribe registers a snapshot listener. The returned channel receives
// every state and result change; slow consumers miss intermediate
// snapshots rather than blocking the pipeline. The cancel function must be
// called to release the subscription.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Snapshot, 8)
	c.subs[id] = ch
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
		c.subMu.Unlock()
	}
	return ch, cancel
}

// publish fans a snapshot out to all subscribers without blocking.
func (c *Controller) publish(snap Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// handleResult runs on the pipeline's consumer goroutine for every
// successful recognition.
func (c *Controller) handleResult(r classify.Result) {
	c.mu.Lock()
	c.lastResult = &r
	sessionID := c.sessionID
	snap := c.snapshotLocked()
	c.mu.Unlock()

	slog.Debug("recognition", "label", r.Label, "confidence", r.Confidence)

	if c.cfg.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d := history.Detection{
			ID:         uuid.New(),
			SessionID:  sessionID,
			Label:      r.Label,
			Confidence: r.Confidence,
			At:         time.Now().UTC(),
		}
		if err := c.cfg.Store.Append(ctx, d); err != nil {
			slog.Warn("session: failed to persist detection", "err", err)
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.RecordPipelineError(ctx, "history")
			}
		}
	}

	c.publish(snap)
}

// handleStreamError runs when the pipeline stops itself after a fatal
// stream failure. The pipeline is already stopped; the controller only has
// to fall back to idle and, if configured, schedule a restart.
func (c *Controller) handleStreamError(err error) {
	slog.Error("session: capture failed, returning to idle", "err", err)

	c.mu.Lock()
	c.toIdleLocked("stream error")
	c.mu.Unlock()

	c.restarter.notifyFailure()
}

// Close tears the controller down: it stops any live session, the restart
// monitor, the pipeline's tap, and the model engine.
func (c *Controller) Close() error {
	c.restarter.stop()

	c.transMu.Lock()
	defer c.transMu.Unlock()

	c.mu.Lock()
	c.toIdleLocked("shutdown")
	c.mu.Unlock()

	return errors.Join(c.pipeline.Close(), c.cfg.Engine.Close())
}
