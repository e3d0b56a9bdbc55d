// Package classify defines the Engine interface for sound classification
// backends and the pure feature/result transforms shared by all of them.
//
// An engine wraps a fixed-shape pretrained classifier (e.g., a small dense
// network bundled with the application) and exposes single-shot inference
// over fixed-length feature vectors. Inference is synchronous by design:
// Infer returns on the calling goroutine, and the capture pipeline
// guarantees at most one call is in flight against a loaded engine.
//
// Implementations must be safe for concurrent use of Load and Close; Infer
// is serialized by the caller.
package classify

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrModelLoad is wrapped by [Engine.Load] when the model asset is missing
// or malformed. This is fatal to the pipeline — no inference is possible
// without a loaded model.
var ErrModelLoad = errors.New("classify: model load failed")

// ErrNotLoaded is returned by [Engine.Infer] when the engine was never
// successfully loaded. Callers treat it as a precondition violation.
var ErrNotLoaded = errors.New("classify: engine not loaded")

// FeatureVector is a sequence of samples normalized to [-1, 1], sized to a
// model's declared input width.
type FeatureVector []float32

// ScoreVector is the per-class confidence output of one inference call. The
// scores are relative magnitudes — they are not guaranteed to sum to 1, and
// no softmax is applied before arg-max selection.
type ScoreVector []float32

// Result is one recognition: the winning category and its confidence as a
// display percentage.
type Result struct {
	// Index is the arg-max position in the score vector.
	Index int `json:"index"`

	// Label is the category name for Index (e.g., "doorbell").
	Label string `json:"label"`

	// Confidence is the winning score × 100, rounded to two decimal places.
	Confidence float64 `json:"confidence"`
}

// String renders the result the way the status surface displays it.
func (r Result) String() string {
	return fmt.Sprintf("%s (%.2f%%)", r.Label, r.Confidence)
}

// Engine is the interface implemented by classification backends.
type Engine interface {
	// Load acquires model resources (weights and input/output shape
	// metadata). Returns an error wrapping [ErrModelLoad] when the asset is
	// missing or malformed. Calling Load on an already-loaded engine is a
	// no-op returning nil.
	Load(ctx context.Context) error

	// Loaded reports whether a Load call has succeeded.
	Loaded() bool

	// InputLen returns the model's declared input width. Zero until loaded.
	InputLen() int

	// Labels returns the category names in score order. Nil until loaded.
	Labels() []string

	// Infer runs the model on one feature vector and returns per-class
	// scores. Returns [ErrNotLoaded] when the engine was never loaded, or
	// another error when the numeric computation fails — in which case the
	// caller skips the chunk rather than stopping the session.
	Infer(features FeatureVector) (ScoreVector, error)

	// Close releases model resources. Idempotent; safe to call even when
	// Load never succeeded.
	Close() error
}

// Features maps a raw chunk payload to a feature vector of exactly width
// samples. Each byte b becomes (b-128)/128 — the mid-point-centered 8-bit
// mapping the bundled models were trained against. Shorter chunks are
// padded with zeros; longer ones are truncated. Pure and deterministic.
func Features(data []byte, width int) FeatureVector {
	if width <= 0 {
		return nil
	}
	out := make(FeatureVector, width)
	n := len(data)
	if n > width {
		n = width
	}
	for i := range n {
		out[i] = (float32(data[i]) - 128) / 128
	}
	return out
}

// TopResult selects the winning category from a score vector: arg-max with
// ties broken by first occurrence (lowest index wins). Confidence is the raw
// winning score × 100 rounded to two decimal places — scores are not
// normalized first. labels may be shorter than scores; missing entries fall
// back to a numeric class name.
func TopResult(scores ScoreVector, labels []string) (Result, error) {
	if len(scores) == 0 {
		return Result{}, errors.New("classify: empty score vector")
	}

	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}

	label := fmt.Sprintf("class-%d", best)
	if best < len(labels) && labels[best] != "" {
		label = labels[best]
	}

	return Result{
		Index:      best,
		Label:      label,
		Confidence: math.Round(float64(scores[best])*10000) / 100,
	}, nil
}
