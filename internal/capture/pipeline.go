// Package capture owns the microphone stream and slices it into
// fixed-duration chunks for classification.
//
// A [Pipeline] opens a device stream on Start and runs a single consumer
// goroutine that forwards each non-empty chunk through feature extraction
// and model inference. The single-worker design is what enforces the
// "at most one inference in flight" contract: chunks are processed
// serially in arrival order, and a new chunk waits in the stream channel
// until the previous inference completes.
//
// Per-chunk inference failures are logged and skipped; stream-level
// failures stop the pipeline and surface through the OnError callback so
// the session controller can transition back to idle.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/auris/internal/observe"
	"github.com/MrWong99/auris/pkg/audio"
	"github.com/MrWong99/auris/pkg/classify"
)

// DefaultStreamConfig is the capture format the bundled models were trained
// against: 16 kHz mono 16-bit PCM with a chunk boundary every 200ms.
var DefaultStreamConfig = audio.StreamConfig{
	SampleRate: 16000,
	Channels:   1,
	BitDepth:   16,
	Interval:   200 * time.Millisecond,
}

// Tap receives a copy of every non-empty chunk before inference. Used for
// diagnostic sinks such as [WavTap]. Write errors are logged, not fatal.
type Tap interface {
	Write(chunk audio.Chunk) error
	Close() error
}

// Config holds the dependencies and callbacks for a [Pipeline].
type Config struct {
	// Device is the capture backend. Required.
	Device audio.Device

	// Engine is the classification backend. Required. The engine must be
	// loaded before Start; an unloaded engine fails every chunk.
	Engine classify.Engine

	// Stream is the capture format. Zero value means [DefaultStreamConfig].
	Stream audio.StreamConfig

	// OnResult is invoked for each successful recognition, in chunk order,
	// from the pipeline's consumer goroutine. Results produced after Stop
	// are discarded. May be nil.
	OnResult func(classify.Result)

	// OnError is invoked once when a stream-level failure stops the
	// pipeline. The pipeline has already stopped itself when the callback
	// runs. May be nil.
	OnError func(error)

	// Metrics receives chunk and inference instrumentation. May be nil.
	Metrics *observe.Metrics

	// Tap optionally receives every non-empty chunk. May be nil.
	Tap Tap
}

// Pipeline slices the device stream into chunks and classifies each one.
// Start and Stop may be called from any goroutine; Stop is idempotent.
type Pipeline struct {
	cfg Config

	mu      sync.Mutex
	running bool
	stream  audio.Stream
	wg      sync.WaitGroup
}

// New validates cfg and returns a stopped pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("capture: device is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("capture: engine is required")
	}
	if cfg.Stream == (audio.StreamConfig{}) {
		cfg.Stream = DefaultStreamConfig
	}
	return &Pipeline{cfg: cfg}, nil
}

// Start opens the device stream and begins consuming chunks. Calling Start
// on a running pipeline is a no-op. Returns an error wrapping
// [audio.ErrDeviceUnavailable] when the device cannot be opened.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		slog.Debug("capture: start ignored, already running")
		return nil
	}

	stream, err := p.cfg.Device.Open(ctx, p.cfg.Stream)
	if err != nil {
		return fmt.Errorf("capture: open device: %w", err)
	}

	p.stream = stream
	p.running = true
	p.wg.Add(1)
	go p.run(stream)

	slog.Info("capture started",
		"sample_rate", p.cfg.Stream.SampleRate,
		"channels", p.cfg.Stream.Channels,
		"interval", p.cfg.Stream.Interval,
	)
	return nil
}

// Stop closes the stream and waits for the consumer goroutine to drain.
// Calling Stop on a stopped pipeline is a no-op, not an error.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stream := p.stream
	p.stream = nil
	p.mu.Unlock()

	if err := stream.Close(); err != nil {
		slog.Warn("capture: stream close error", "err", err)
	}
	p.wg.Wait()

	slog.Info("capture stopped")
	return nil
}

// Running reports whether the pipeline currently owns an open stream.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Probe opens and immediately closes a stream to verify the device is
// reachable. Used during best-effort initialisation.
func (p *Pipeline) Probe(ctx context.Context) error {
	stream, err := p.cfg.Device.Open(ctx, p.cfg.Stream)
	if err != nil {
		return fmt.Errorf("capture: probe device: %w", err)
	}
	return stream.Close()
}

// Close stops the pipeline and closes the tap, if any.
func (p *Pipeline) Close() error {
	err := p.Stop()
	if p.cfg.Tap != nil {
		if terr := p.cfg.Tap.Close(); terr != nil && err == nil {
			err = terr
		}
	}
	return err
}

// run is the single consumer goroutine for one stream lifetime.
func (p *Pipeline) run(stream audio.Stream) {
	defer p.wg.Done()

	for {
		select {
		case chunk, ok := <-stream.Chunks():
			if !ok {
				return
			}
			p.handleChunk(chunk)
		case err, ok := <-stream.Errors():
			if !ok {
				return
			}
			if err != nil {
				p.fatal(err)
				return
			}
		}
	}
}

// handleChunk runs one chunk through tap → features → inference → result.
func (p *Pipeline) handleChunk(chunk audio.Chunk) {
	ctx := context.Background()

	if chunk.Empty() {
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.RecordChunk(ctx, observe.ChunkStatusEmpty)
		}
		return
	}

	if p.cfg.Tap != nil {
		if err := p.cfg.Tap.Write(chunk); err != nil {
			slog.Warn("capture: tap write error", "err", err)
		}
	}

	features := classify.Features(chunk.Data, p.cfg.Engine.InputLen())

	start := time.Now()
	scores, err := p.cfg.Engine.Infer(features)
	elapsed := time.Since(start)

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.InferenceDuration.Record(ctx, elapsed.Seconds())
	}

	if err != nil {
		// Recoverable: skip this chunk, keep the session alive.
		slog.Warn("capture: inference failed, skipping chunk",
			"err", err,
			"chunk_bytes", len(chunk.Data),
		)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.RecordChunk(ctx, observe.ChunkStatusError)
			p.cfg.Metrics.RecordPipelineError(ctx, "inference")
		}
		return
	}

	result, err := classify.TopResult(scores, p.cfg.Engine.Labels())
	if err != nil {
		slog.Warn("capture: unusable score vector, skipping chunk", "err", err)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.RecordChunk(ctx, observe.ChunkStatusError)
			p.cfg.Metrics.RecordPipelineError(ctx, "inference")
		}
		return
	}

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordChunk(ctx, observe.ChunkStatusOK)
		p.cfg.Metrics.RecordDetection(ctx, result.Label)
	}

	// A result that lands after Stop belongs to a dead session.
	if !p.Running() {
		return
	}
	if p.cfg.OnResult != nil {
		p.cfg.OnResult(result)
	}
}

// fatal stops the pipeline after a stream-level failure and notifies the
// owner. Runs on the consumer goroutine, so it must not wait for itself.
func (p *Pipeline) fatal(err error) {
	p.mu.Lock()
	wasRunning := p.running
	p.running = false
	stream := p.stream
	p.stream = nil
	p.mu.Unlock()

	slog.Error("capture: stream failure, stopping", "err", err)
	if stream != nil {
		_ = stream.Close()
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordPipelineError(context.Background(), "capture")
	}
	if wasRunning && p.cfg.OnError != nil {
		p.cfg.OnError(err)
	}
}
