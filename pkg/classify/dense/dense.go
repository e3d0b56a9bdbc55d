// Package dense implements [classify.Engine] over a small feed-forward
// network stored as a msgpack asset bundled with the application.
//
// The asset declares its own input width, layer shapes, and output labels;
// nothing about the network's dimensions is hardcoded, so the same engine
// serves the shipped two-class doorbell/horn model and any retrained
// replacement with a different shape.
package dense

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/auris/pkg/classify"
)

// formatVersion is the only model file version this engine understands.
const formatVersion = 1

// Activation names accepted in model files.
const (
	activationReLU   = "relu"
	activationLinear = "linear"
)

// modelFile is the on-disk msgpack layout of a model asset.
type modelFile struct {
	Version  int         `msgpack:"version"`
	Labels   []string    `msgpack:"labels"`
	InputLen int         `msgpack:"input_len"`
	Layers   []layerFile `msgpack:"layers"`
}

// layerFile is one dense layer: Weights[out][in] and a bias per output.
type layerFile struct {
	Weights    [][]float32 `msgpack:"weights"`
	Biases     []float32   `msgpack:"biases"`
	Activation string      `msgpack:"activation"`
}

// Engine is a [classify.Engine] backed by a msgpack model asset.
type Engine struct {
	path string

	mu    sync.RWMutex
	model *modelFile
}

// Compile-time interface check.
var _ classify.Engine = (*Engine)(nil)

// New creates an engine for the model asset at path. No I/O happens until
// [Engine.Load].
func New(path string) *Engine {
	return &Engine{path: path}
}

// Load implements [classify.Engine]. It reads and validates the model
// asset. Calling Load on an already-loaded engine is a no-op.
func (e *Engine) Load(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		return nil
	}

	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("dense: read %q: %v: %w", e.path, err, classify.ErrModelLoad)
	}

	var m modelFile
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("dense: decode %q: %v: %w", e.path, err, classify.ErrModelLoad)
	}
	if err := validate(&m); err != nil {
		return fmt.Errorf("dense: invalid model %q: %v: %w", e.path, err, classify.ErrModelLoad)
	}

	e.model = &m
	return nil
}

// Loaded implements [classify.Engine].
func (e *Engine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model != nil
}

// InputLen implements [classify.Engine].
func (e *Engine) InputLen() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.model == nil {
		return 0
	}
	return e.model.InputLen
}

// Labels implements [classify.Engine].
func (e *Engine) Labels() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.model == nil {
		return nil
	}
	return e.model.Labels
}

// Infer implements [classify.Engine]. It runs the forward pass on the
// calling goroutine.
func (e *Engine) Infer(features classify.FeatureVector) (classify.ScoreVector, error) {
	e.mu.RLock()
	m := e.model
	e.mu.RUnlock()
	if m == nil {
		return nil, classify.ErrNotLoaded
	}
	if len(features) != m.InputLen {
		return nil, fmt.Errorf("dense: feature vector has %d samples, model expects %d", len(features), m.InputLen)
	}

	activations := []float32(features)
	for _, layer := range m.Layers {
		next := make([]float32, len(layer.Weights))
		for out, row := range layer.Weights {
			sum := layer.Biases[out]
			for in, w := range row {
				sum += w * activations[in]
			}
			if layer.Activation == activationReLU && sum < 0 {
				sum = 0
			}
			next[out] = sum
		}
		activations = next
	}

	for _, s := range activations {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return nil, errors.New("dense: non-finite score in model output")
		}
	}
	return classify.ScoreVector(activations), nil
}

// Close implements [classify.Engine]. Releases the weights; idempotent and
// safe when Load never succeeded.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model = nil
	return nil
}

// validate checks the structural invariants of a decoded model file: layer
// shapes must chain from the declared input width to one output per label.
func validate(m *modelFile) error {
	if m.Version != formatVersion {
		return fmt.Errorf("unsupported format version %d", m.Version)
	}
	if m.InputLen <= 0 {
		return fmt.Errorf("input_len %d must be positive", m.InputLen)
	}
	if len(m.Labels) == 0 {
		return errors.New("model declares no labels")
	}
	if len(m.Layers) == 0 {
		return errors.New("model declares no layers")
	}

	in := m.InputLen
	for i, layer := range m.Layers {
		if len(layer.Weights) == 0 {
			return fmt.Errorf("layer %d has no output rows", i)
		}
		for out, row := range layer.Weights {
			if len(row) != in {
				return fmt.Errorf("layer %d row %d has %d weights, expected %d", i, out, len(row), in)
			}
		}
		if len(layer.Biases) != len(layer.Weights) {
			return fmt.Errorf("layer %d has %d biases for %d outputs", i, len(layer.Biases), len(layer.Weights))
		}
		switch layer.Activation {
		case activationReLU, activationLinear:
		default:
			return fmt.Errorf("layer %d has unknown activation %q", i, layer.Activation)
		}
		in = len(layer.Weights)
	}

	if in != len(m.Labels) {
		return fmt.Errorf("final layer emits %d scores for %d labels", in, len(m.Labels))
	}
	return nil
}
