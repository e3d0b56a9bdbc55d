// Package portaudio adapts a PortAudio input device to the [audio.Device]
// interface. It captures 16-bit PCM from the default input device using
// blocking reads and slices the stream into fixed-duration chunks.
//
// PortAudio's library-wide state is reference counted by Initialize and
// Terminate, so multiple streams may be opened concurrently.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/auris/pkg/audio"
)

// chunkBuffer is the capacity of the chunk channel handed to the consumer.
// When the consumer falls this far behind, the oldest pending chunks are
// dropped rather than stalling the device read loop.
const chunkBuffer = 8

// Device captures from the default PortAudio input device.
type Device struct{}

// New returns a [Device] for the default system input.
func New() *Device {
	return &Device{}
}

// Open implements [audio.Device]. It initialises PortAudio, opens the
// default input stream, and starts a read loop delivering one chunk per
// cfg.Interval. When the hardware rejects the requested format, capture
// falls back to the device's native format and every chunk is converted.
func (d *Device) Open(_ context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	if cfg.BitDepth != 16 {
		return nil, fmt.Errorf("portaudio: unsupported bit depth %d: %w", cfg.BitDepth, audio.ErrDeviceUnavailable)
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialise: %v: %w", err, audio.ErrDeviceUnavailable)
	}

	st, buf, format, conv, err := openInput(cfg)
	if err != nil {
		_ = pa.Terminate()
		return nil, err
	}
	if err := st.Start(); err != nil {
		_ = st.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %v: %w", err, audio.ErrDeviceUnavailable)
	}

	s := &stream{
		pa:     st,
		buf:    buf,
		format: format,
		conv:   conv,
		chunks: make(chan audio.Chunk, chunkBuffer),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// openInput opens the default input stream at the requested format, retrying
// at the device's native format when the exact one is rejected. The returned
// converter is nil when capture runs at the requested format.
func openInput(cfg audio.StreamConfig) (*pa.Stream, []int16, audio.Format, *audio.Converter, error) {
	want := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}

	open := func(f audio.Format) (*pa.Stream, []int16, error) {
		frames := int(int64(f.SampleRate) * int64(cfg.Interval) / int64(time.Second))
		buf := make([]int16, frames*f.Channels)
		st, err := pa.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), frames, buf)
		return st, buf, err
	}

	st, buf, err := open(want)
	if err == nil {
		return st, buf, want, nil, nil
	}

	dev, derr := pa.DefaultInputDevice()
	if derr != nil {
		return nil, nil, audio.Format{}, nil, fmt.Errorf("portaudio: open default stream: %v: %w", err, audio.ErrDeviceUnavailable)
	}
	for _, f := range fallbackFormats(want, dev) {
		st, buf, ferr := open(f)
		if ferr != nil {
			continue
		}
		slog.Warn("portaudio: requested format unsupported, converting from device native format",
			"device", dev.Name,
			"requested", fmt.Sprintf("%dHz/%dch", want.SampleRate, want.Channels),
			"native", fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels),
		)
		return st, buf, f, &audio.Converter{Target: want}, nil
	}
	return nil, nil, audio.Format{}, nil, fmt.Errorf("portaudio: open default stream: %v: %w", err, audio.ErrDeviceUnavailable)
}

// fallbackFormats lists the capture formats the converter can bridge to the
// requested one, in preference order: the device's native rate first, then
// stereo capture for a mono request (the converter downmixes but cannot
// upmix).
func fallbackFormats(want audio.Format, dev *pa.DeviceInfo) []audio.Format {
	var out []audio.Format
	native := int(dev.DefaultSampleRate)

	if native > 0 && native != want.SampleRate && dev.MaxInputChannels >= want.Channels {
		out = append(out, audio.Format{SampleRate: native, Channels: want.Channels})
	}
	if want.Channels == 1 && dev.MaxInputChannels >= 2 {
		out = append(out, audio.Format{SampleRate: want.SampleRate, Channels: 2})
		if native > 0 && native != want.SampleRate {
			out = append(out, audio.Format{SampleRate: native, Channels: 2})
		}
	}
	return out
}

// stream is a live PortAudio capture session.
type stream struct {
	pa     *pa.Stream
	buf    []int16
	format audio.Format
	conv   *audio.Converter // nil when capturing at the requested format

	chunks chan audio.Chunk
	errs   chan error

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	warnedDrop sync.Once
}

// Chunks implements [audio.Stream].
func (s *stream) Chunks() <-chan audio.Chunk { return s.chunks }

// Errors implements [audio.Stream].
func (s *stream) Errors() <-chan error { return s.errs }

// Close implements [audio.Stream]. Stops capture, releases the device, and
// decrements the PortAudio refcount. Safe to call more than once.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.pa.Stop(); err != nil {
			s.closeErr = fmt.Errorf("portaudio: stop stream: %w", err)
		}
		if err := s.pa.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("portaudio: close stream: %w", err)
		}
		_ = pa.Terminate()
	})
	return s.closeErr
}

// readLoop blocks on the device buffer and emits one chunk per interval
// until the stream is closed or a read fails.
func (s *stream) readLoop() {
	defer close(s.chunks)
	defer close(s.errs)

	start := time.Now()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.pa.Read(); err != nil {
			select {
			case <-s.done:
				// Close interrupted the read; not a capture failure.
			default:
				s.errs <- fmt.Errorf("portaudio: read: %w", err)
			}
			return
		}

		data := make([]byte, len(s.buf)*2)
		for i, sample := range s.buf {
			data[i*2] = byte(sample)
			data[i*2+1] = byte(sample >> 8)
		}

		chunk := audio.Chunk{
			Data:       data,
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  time.Since(start),
		}
		if s.conv != nil {
			chunk = s.conv.Convert(chunk)
		}

		select {
		case s.chunks <- chunk:
		case <-s.done:
			return
		default:
			s.warnedDrop.Do(func() {
				slog.Warn("portaudio: consumer lagging, dropping chunks")
			})
		}
	}
}

// Gate is the [audio.PermissionGate] for desktop capture. The operating
// system prompts for microphone access out of band on first device open, so
// Request always grants.
type Gate struct{}

// Request implements [audio.PermissionGate].
func (Gate) Request(context.Context) error { return nil }
