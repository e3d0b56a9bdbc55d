// Package mock provides in-memory mock implementations of [audio.Device],
// [audio.Stream], and [audio.PermissionGate] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(4)
//	device := &mock.Device{OpenResult: stream}
//	st, err := device.Open(ctx, audio.StreamConfig{SampleRate: 16000})
//	stream.EmitChunk(audio.Chunk{Data: payload})
//	stream.EmitError(errors.New("device unplugged"))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/auris/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Tests push chunks and
// errors into it via [Stream.EmitChunk] and [Stream.EmitError].
type Stream struct {
	mu sync.Mutex

	chunks chan audio.Chunk
	errs   chan error
	closed bool

	// CloseError is returned by the first Close call.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream creates a mock stream whose chunk channel is buffered to the
// given capacity.
func NewStream(buffer int) *Stream {
	return &Stream{
		chunks: make(chan audio.Chunk, buffer),
		errs:   make(chan error, 1),
	}
}

// Chunks implements [audio.Stream].
func (s *Stream) Chunks() <-chan audio.Chunk { return s.chunks }

// Errors implements [audio.Stream].
func (s *Stream) Errors() <-chan error { return s.errs }

// Close implements [audio.Stream]. The first call closes both channels and
// returns CloseError; subsequent calls are no-ops returning nil.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.chunks)
	close(s.errs)
	return s.CloseError
}

// EmitChunk delivers a chunk to the consumer. It is a no-op after Close.
func (s *Stream) EmitChunk(c audio.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.chunks <- c
}

// EmitError delivers a fatal stream error to the consumer. It is a no-op
// after Close or after a previous EmitError.
func (s *Stream) EmitError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Device ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Device.Open] invocation.
type OpenCall struct {
	// Config is the stream config passed to Open.
	Config audio.StreamConfig
}

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenResult is the [audio.Stream] returned by Open.
	OpenResult audio.Stream

	// OpenError is the error returned by Open.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall
}

// Open implements [audio.Device]. Records the call and returns
// OpenResult / OpenError.
func (d *Device) Open(_ context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Config: cfg})
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	return d.OpenResult, nil
}

// ─── PermissionGate ───────────────────────────────────────────────────────────

// Gate is a mock implementation of [audio.PermissionGate].
type Gate struct {
	mu sync.Mutex

	// RequestError is returned by Request. Leave nil to grant.
	RequestError error

	// CallCountRequest records how many times Request was called.
	CallCountRequest int
}

// Request implements [audio.PermissionGate]. Records the call and returns
// RequestError.
func (g *Gate) Request(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CallCountRequest++
	return g.RequestError
}
