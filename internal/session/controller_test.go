package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/auris/internal/history"
	"github.com/MrWong99/auris/pkg/audio"
	audiomock "github.com/MrWong99/auris/pkg/audio/mock"
	"github.com/MrWong99/auris/pkg/classify"
	classifymock "github.com/MrWong99/auris/pkg/classify/mock"
)

// sequenceDevice hands out a fresh mock stream per Open call, so tests can
// exercise stop/start and restart cycles.
type sequenceDevice struct {
	mu      sync.Mutex
	opened  []*audiomock.Stream
	openErr error
}

func (d *sequenceDevice) Open(_ context.Context, _ audio.StreamConfig) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := audiomock.NewStream(8)
	d.opened = append(d.opened, s)
	return s, nil
}

func (d *sequenceDevice) stream(i int) *audiomock.Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.opened) {
		return nil
	}
	return d.opened[i]
}

func (d *sequenceDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opened)
}

func testEngine() *classifymock.Engine {
	return &classifymock.Engine{
		InputLenResult: 4,
		LabelsResult:   []string{"doorbell", "siren"},
		InferResult:    classify.ScoreVector{0.1, 0.9},
	}
}

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	if cfg.Device == nil {
		cfg.Device = &sequenceDevice{}
	}
	if cfg.Engine == nil {
		cfg.Engine = testEngine()
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func TestController_StartsIdle(t *testing.T) {
	c := newTestController(t, Config{})
	snap := c.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("State = %q, want idle", snap.State)
	}
	if snap.Status != StatusNotRecording {
		t.Errorf("Status = %q, want %q", snap.Status, StatusNotRecording)
	}
	if snap.SessionID != "" {
		t.Errorf("SessionID = %q, want empty while idle", snap.SessionID)
	}
}

func TestToggle_StartsAndStops(t *testing.T) {
	gate := &audiomock.Gate{}
	eng := testEngine()
	c := newTestController(t, Config{Gate: gate, Engine: eng})

	snap, err := c.Toggle(context.Background())
	if err != nil {
		t.Fatalf("Toggle start: %v", err)
	}
	if snap.State != StateRecording || snap.Status != StatusRecording {
		t.Errorf("after start: %+v", snap)
	}
	if snap.SessionID == "" {
		t.Error("recording snapshot must carry a session id")
	}
	if gate.CallCountRequest != 1 {
		t.Errorf("gate requests = %d, want 1", gate.CallCountRequest)
	}
	if eng.CallCountLoad != 1 {
		t.Errorf("engine loads = %d, want 1", eng.CallCountLoad)
	}

	snap, err = c.Toggle(context.Background())
	if err != nil {
		t.Fatalf("Toggle stop: %v", err)
	}
	if snap.State != StateIdle || snap.Status != StatusNotRecording {
		t.Errorf("after stop: %+v", snap)
	}
}

func TestToggle_NewSessionIDPerRecording(t *testing.T) {
	c := newTestController(t, Config{})
	ctx := context.Background()

	first, err := c.Toggle(ctx)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if _, err := c.Toggle(ctx); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	second, err := c.Toggle(ctx)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if first.SessionID == second.SessionID {
		t.Errorf("session id reused across recordings: %q", first.SessionID)
	}
}

func TestToggle_PermissionDeniedStaysIdle(t *testing.T) {
	gate := &audiomock.Gate{RequestError: audio.ErrPermissionDenied}
	device := &sequenceDevice{}
	c := newTestController(t, Config{Gate: gate, Device: device})

	snap, err := c.Toggle(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("Toggle error = %v, want ErrPermissionDenied", err)
	}
	if snap.State != StateIdle || snap.Status != StatusNotRecording {
		t.Errorf("snapshot after denied toggle: %+v", snap)
	}
	if device.openCount() != 0 {
		t.Error("device must not be opened when permission is denied")
	}
}

func TestToggle_ModelLoadFailureStaysIdle(t *testing.T) {
	eng := testEngine()
	eng.LoadError = classify.ErrModelLoad
	c := newTestController(t, Config{Engine: eng})

	snap, err := c.Toggle(context.Background())
	if !errors.Is(err, classify.ErrModelLoad) {
		t.Errorf("Toggle error = %v, want ErrModelLoad", err)
	}
	if snap.State != StateIdle {
		t.Errorf("State = %q after failed toggle, want idle", snap.State)
	}
}

func TestToggle_DeviceFailureStaysIdle(t *testing.T) {
	device := &sequenceDevice{openErr: audio.ErrDeviceUnavailable}
	c := newTestController(t, Config{Device: device})

	snap, err := c.Toggle(context.Background())
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("Toggle error = %v, want ErrDeviceUnavailable", err)
	}
	if snap.State != StateIdle {
		t.Errorf("State = %q after failed toggle, want idle", snap.State)
	}
}

func TestController_PublishesResults(t *testing.T) {
	device := &sequenceDevice{}
	store := history.NewMemStore(10)
	c := newTestController(t, Config{Device: device, Store: store})

	sub, cancel := c.Subscribe()
	defer cancel()

	start, err := c.Toggle(context.Background())
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if got := waitSnapshot(t, sub); got.State != StateRecording {
		t.Errorf("first snapshot = %+v, want recording", got)
	}

	device.stream(0).EmitChunk(audio.Chunk{Data: []byte{1, 2, 3, 4}})

	got := waitSnapshot(t, sub)
	if got.Result == nil {
		t.Fatal("snapshot missing recognition result")
	}
	if got.Result.Label != "siren" {
		t.Errorf("Result.Label = %q, want siren", got.Result.Label)
	}
	if got.Result.Confidence != 90.00 {
		t.Errorf("Result.Confidence = %v, want 90.00", got.Result.Confidence)
	}

	// The detection lands in history under the live session id.
	deadline := time.Now().Add(2 * time.Second)
	for {
		recent, err := store.Recent(context.Background(), 1)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(recent) == 1 {
			if recent[0].SessionID.String() != start.SessionID {
				t.Errorf("Detection.SessionID = %q, want %q", recent[0].SessionID, start.SessionID)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("detection never reached the history store")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestController_LastResultSurvivesStop(t *testing.T) {
	device := &sequenceDevice{}
	c := newTestController(t, Config{Device: device})

	sub, cancel := c.Subscribe()
	defer cancel()

	if _, err := c.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	waitSnapshot(t, sub) // recording

	device.stream(0).EmitChunk(audio.Chunk{Data: []byte{5, 6}})
	waitSnapshot(t, sub) // result

	snap, err := c.Toggle(context.Background())
	if err != nil {
		t.Fatalf("Toggle stop: %v", err)
	}
	if snap.State != StateIdle {
		t.Errorf("State = %q, want idle", snap.State)
	}
	if snap.Result == nil || snap.Result.Label != "siren" {
		t.Errorf("last result should survive stop, got %+v", snap.Result)
	}
}

func TestController_StreamErrorReturnsToIdle(t *testing.T) {
	device := &sequenceDevice{}
	c := newTestController(t, Config{Device: device})

	sub, cancel := c.Subscribe()
	defer cancel()

	if _, err := c.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	waitSnapshot(t, sub) // recording

	device.stream(0).EmitError(errors.New("device unplugged"))

	got := waitSnapshot(t, sub)
	if got.State != StateIdle || got.Status != StatusNotRecording {
		t.Errorf("snapshot after stream error = %+v, want idle", got)
	}
	if c.Recording() {
		t.Error("controller still recording after stream error")
	}
}

func TestController_AutoRestartAfterStreamError(t *testing.T) {
	device := &sequenceDevice{}
	c := newTestController(t, Config{
		Device: device,
		Restart: RestartPolicy{
			Enabled:    true,
			MaxRetries: 3,
			Backoff:    10 * time.Millisecond,
		},
	})
	c.Init(context.Background())

	if _, err := c.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	device.stream(1).EmitError(errors.New("device unplugged")) // stream 0 was the init probe

	deadline := time.Now().Add(3 * time.Second)
	for !c.Recording() {
		if time.Now().After(deadline) {
			t.Fatal("session was not restarted after stream error")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if device.openCount() < 3 {
		t.Errorf("device opened %d times, want at least 3 (probe, initial, restart)", device.openCount())
	}
}

func TestController_NoRestartWhenDisabled(t *testing.T) {
	device := &sequenceDevice{}
	c := newTestController(t, Config{Device: device})
	c.Init(context.Background())

	if _, err := c.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	device.stream(1).EmitError(errors.New("device unplugged"))

	time.Sleep(100 * time.Millisecond)
	if c.Recording() {
		t.Error("session restarted although auto restart is disabled")
	}
}

func TestInit_SwallowsFailures(t *testing.T) {
	gate := &audiomock.Gate{RequestError: audio.ErrPermissionDenied}
	device := &sequenceDevice{openErr: audio.ErrDeviceUnavailable}
	eng := testEngine()
	eng.LoadError = classify.ErrModelLoad
	c := newTestController(t, Config{Gate: gate, Device: device, Engine: eng})

	c.Init(context.Background()) // must not panic or error

	if c.Snapshot().State != StateIdle {
		t.Error("controller must stay idle after best-effort init")
	}
	if gate.CallCountRequest != 1 {
		t.Errorf("gate requests = %d, want 1", gate.CallCountRequest)
	}
}

func TestClose_StopsSessionAndEngine(t *testing.T) {
	eng := testEngine()
	c := newTestController(t, Config{Engine: eng})

	if _, err := c.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if c.Recording() {
		t.Error("still recording after Close")
	}
	if eng.CallCountClose == 0 {
		t.Error("engine not closed")
	}
}

// blockingStore stalls Append until released, pinning the pipeline's
// consumer goroutine inside the result callback.
type blockingStore struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingStore() *blockingStore {
	return &blockingStore{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (s *blockingStore) Append(context.Context, history.Detection) error {
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func (s *blockingStore) Recent(context.Context, int) ([]history.Detection, error) {
	return nil, nil
}

func (s *blockingStore) Close() error { return nil }

func TestToggle_SerializesWithPipelineShutdown(t *testing.T) {
	device := &sequenceDevice{}
	store := newBlockingStore()
	c := newTestController(t, Config{Device: device, Store: store})
	ctx := context.Background()

	first, err := c.Toggle(ctx)
	if err != nil {
		t.Fatalf("Toggle start: %v", err)
	}

	// Pin the consumer goroutine inside the result callback so the stop
	// toggle below stays inside the pipeline shutdown.
	device.stream(0).EmitChunk(audio.Chunk{Data: []byte{1, 2, 3, 4}})
	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never reached the history store")
	}

	stopDone := make(chan struct{})
	go func() {
		defer close(stopDone)
		if _, err := c.Toggle(ctx); err != nil {
			t.Errorf("Toggle stop: %v", err)
		}
	}()

	// Wait until the stop has flipped the state, which happens before it
	// blocks waiting for the pipeline.
	deadline := time.Now().Add(2 * time.Second)
	for c.Recording() {
		if time.Now().After(deadline) {
			t.Fatal("stop toggle never flipped the state")
		}
		time.Sleep(time.Millisecond)
	}

	startDone := make(chan struct{})
	go func() {
		defer close(startDone)
		if _, err := c.Toggle(ctx); err != nil {
			t.Errorf("Toggle restart: %v", err)
		}
	}()

	// The restart must not complete while the previous session is still
	// shutting down.
	select {
	case <-startDone:
		t.Fatal("start toggle completed during the previous session's shutdown")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	<-stopDone
	<-startDone

	if !c.Recording() {
		t.Error("controller must be recording after the serialized restart")
	}
	if device.openCount() != 2 {
		t.Errorf("device opened %d times, want 2", device.openCount())
	}
	second := c.Snapshot()
	if second.SessionID == first.SessionID {
		t.Errorf("session id reused across the restart: %q", first.SessionID)
	}
}

func TestStartIfIdle_StartsWhenIdle(t *testing.T) {
	device := &sequenceDevice{}
	c := newTestController(t, Config{Device: device})

	started, err := c.StartIfIdle(context.Background())
	if err != nil {
		t.Fatalf("StartIfIdle: %v", err)
	}
	if !started {
		t.Error("StartIfIdle must report true when it starts a session")
	}
	if !c.Recording() {
		t.Error("controller not recording after StartIfIdle")
	}
}

func TestStartIfIdle_LeavesLiveSessionAlone(t *testing.T) {
	device := &sequenceDevice{}
	c := newTestController(t, Config{Device: device})

	live, err := c.Toggle(context.Background())
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	started, err := c.StartIfIdle(context.Background())
	if err != nil {
		t.Fatalf("StartIfIdle: %v", err)
	}
	if started {
		t.Error("StartIfIdle must not report a start against a live session")
	}
	if snap := c.Snapshot(); snap.SessionID != live.SessionID {
		t.Errorf("SessionID = %q, want the live session %q", snap.SessionID, live.SessionID)
	}
	if device.openCount() != 1 {
		t.Errorf("device opened %d times, want 1", device.openCount())
	}
}

func TestRestarter_KeepsUserSessionStartedDuringBackoff(t *testing.T) {
	device := &sequenceDevice{}
	c := newTestController(t, Config{
		Device: device,
		Restart: RestartPolicy{
			Enabled:    true,
			MaxRetries: 3,
			Backoff:    100 * time.Millisecond,
		},
	})
	c.Init(context.Background())

	if _, err := c.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	device.stream(1).EmitError(errors.New("device unplugged")) // stream 0 was the init probe

	// The user starts a new session inside the restarter's backoff window.
	deadline := time.Now().Add(2 * time.Second)
	for c.Recording() {
		if time.Now().After(deadline) {
			t.Fatal("stream error never stopped the session")
		}
		time.Sleep(time.Millisecond)
	}
	user, err := c.Toggle(context.Background())
	if err != nil {
		t.Fatalf("Toggle during backoff: %v", err)
	}

	// Let the restart attempt fire; it must leave the user session alone.
	time.Sleep(300 * time.Millisecond)
	if !c.Recording() {
		t.Fatal("restart attempt stopped the user's session")
	}
	if snap := c.Snapshot(); snap.SessionID != user.SessionID {
		t.Errorf("SessionID = %q, want the user session %q", snap.SessionID, user.SessionID)
	}
}
