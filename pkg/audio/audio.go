// Package audio defines the interfaces and types for microphone capture
// within auris.
//
// The two primary abstractions are:
//
//   - [Device] — opens a continuous capture stream on an input device.
//   - [Stream] — an active capture session delivering fixed-duration [Chunk]
//     values until closed.
//
// Implementations are provided by device-specific adapter packages (e.g.,
// audio/portaudio for real hardware, audio/mock for tests). The interfaces
// are intentionally narrow so the capture pipeline stays decoupled from any
// particular audio backend.
//
// This package lives under pkg/ because external code (third-party device
// adapters) is expected to implement [Device] and [Stream].
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceUnavailable is returned by [Device.Open] when the input device
// cannot be opened (busy, unplugged, or access revoked).
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// ErrPermissionDenied is returned by [PermissionGate.Request] when microphone
// access is not granted.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// Chunk is a fixed-duration slice of the continuous capture stream. Chunks
// are the atomic unit of audio transport — produced by a [Stream], consumed
// exactly once by the classification pipeline, and not retained afterwards.
type Chunk struct {
	// Data is the raw PCM payload. Sample rate, channel count, and bit depth
	// are fixed by the [StreamConfig] the stream was opened with.
	Data []byte

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Channels: 1 for mono capture.
	Channels int

	// Timestamp marks when this chunk was captured, relative to stream start.
	Timestamp time.Duration
}

// Empty reports whether the chunk carries no samples. Empty chunks are
// delivered by some backends around device state changes and are skipped by
// the pipeline.
func (c Chunk) Empty() bool {
	return len(c.Data) == 0
}

// StreamConfig fixes the capture format for a stream.
type StreamConfig struct {
	// SampleRate in Hz. Must be a rate the device supports natively or via
	// the adapter's resampler. Default used by auris: 16000.
	SampleRate int

	// Channels is the capture channel count. Default: 1 (mono).
	Channels int

	// BitDepth is the sample width in bits. Default: 16 (little-endian PCM).
	BitDepth int

	// Interval is the chunk boundary period. Every Interval the stream emits
	// one [Chunk] covering exactly that window. Default: 200ms.
	Interval time.Duration
}

// BytesPerChunk returns the nominal chunk payload size for this config.
func (c StreamConfig) BytesPerChunk() int {
	samples := int(int64(c.SampleRate) * int64(c.Interval) / int64(time.Second))
	return samples * c.Channels * c.BitDepth / 8
}

// Stream is an active capture session on an input device.
//
// Chunks are delivered in capture order on the Chunks channel. A fatal
// stream-level failure (device disconnect, backend error) is delivered on
// the Errors channel, after which no further chunks arrive. Both channels
// are closed when the stream terminates.
//
// A Stream is owned by a single consumer goroutine; implementations need not
// support concurrent receivers.
type Stream interface {
	// Chunks returns the channel delivering captured chunks. The channel is
	// closed when the stream ends, whether by [Stream.Close] or by a fatal
	// capture error.
	Chunks() <-chan Chunk

	// Errors returns the channel carrying fatal stream-level errors. At most
	// one error is delivered per stream lifetime.
	Errors() <-chan error

	// Close stops capture and releases the device. Safe to call more than
	// once; subsequent calls are no-ops and return nil.
	Close() error
}

// Device is the entry point for an audio capture backend.
//
// Implementations must be safe for concurrent use; each Open call yields an
// independent [Stream].
type Device interface {
	// Open starts capturing with the given config and returns the live
	// stream. The supplied ctx governs the open attempt only; once opened,
	// the stream runs until [Stream.Close].
	//
	// Returns an error wrapping [ErrDeviceUnavailable] when the device
	// cannot be opened.
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// PermissionGate models the platform's microphone permission check. It must
// be consulted before any capture attempt.
//
// Desktop backends typically grant unconditionally; sandboxed platforms
// prompt the user on first request.
type PermissionGate interface {
	// Request queries or prompts for microphone access. Returns nil when
	// granted and an error wrapping [ErrPermissionDenied] when refused.
	Request(ctx context.Context) error
}
