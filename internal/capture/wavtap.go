package capture

import (
	"fmt"
	"os"
	"sync"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/auris/pkg/audio"
)

// WavTap writes every captured chunk to a WAV file for offline diagnosis.
// Useful when a model misfires in the field and the raw audio is needed to
// reproduce the classification. Safe for use from the pipeline goroutine;
// Write and Close may race from different goroutines.
type WavTap struct {
	mu     sync.Mutex
	f      *os.File
	enc    *wav.Encoder
	closed bool
}

// Compile-time interface check.
var _ Tap = (*WavTap)(nil)

// NewWavTap creates the file at path and prepares a WAV encoder matching
// the stream config. The file is finalised on Close.
func NewWavTap(path string, cfg audio.StreamConfig) (*WavTap, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: create wav tap %q: %w", path, err)
	}
	enc := wav.NewEncoder(f, cfg.SampleRate, cfg.BitDepth, cfg.Channels, 1)
	return &WavTap{f: f, enc: enc}, nil
}

// Write appends the chunk's samples to the WAV file. Chunks are interpreted
// as little-endian 16-bit PCM, matching the capture stream format.
func (t *WavTap) Write(chunk audio.Chunk) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("capture: wav tap closed")
	}

	samples := make([]int, len(chunk.Data)/2)
	for i := range samples {
		samples[i] = int(int16(chunk.Data[i*2]) | int16(chunk.Data[i*2+1])<<8)
	}

	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: chunk.Channels,
			SampleRate:  chunk.SampleRate,
		},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := t.enc.Write(buf); err != nil {
		return fmt.Errorf("capture: wav tap write: %w", err)
	}
	return nil
}

// Close finalises the WAV header and closes the file. Idempotent.
func (t *WavTap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	if err := t.enc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("capture: wav tap finalise: %w", err))
	}
	if err := t.f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("capture: wav tap close file: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
