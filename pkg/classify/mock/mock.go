// Package mock provides an in-memory mock implementation of
// [classify.Engine] for use in unit tests.
//
// The mock is safe for concurrent use. It records every Infer call so that
// tests can assert on call counts and arguments, and it exposes exported
// fields that the test can set to control return values.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/auris/pkg/classify"
)

// InferCall records the arguments of a single [Engine.Infer] invocation.
type InferCall struct {
	// Features is the feature vector passed to Infer.
	Features classify.FeatureVector
}

// Engine is a mock implementation of [classify.Engine].
// Set the exported Result fields before use; inspect the Call* fields after.
type Engine struct {
	mu sync.Mutex

	// LoadError is returned by Load. Leave nil to succeed.
	LoadError error

	// InputLenResult is returned by InputLen once loaded.
	InputLenResult int

	// LabelsResult is returned by Labels once loaded.
	LabelsResult []string

	// InferResult is returned by Infer when InferError is nil.
	InferResult classify.ScoreVector

	// InferError is returned by Infer.
	InferError error

	// CloseError is returned by Close.
	CloseError error

	// PreLoaded marks the engine as loaded without a Load call.
	PreLoaded bool

	loaded bool

	// CallCountLoad records how many times Load was called.
	CallCountLoad int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// InferCalls records all Infer invocations.
	InferCalls []InferCall
}

// Compile-time interface check.
var _ classify.Engine = (*Engine)(nil)

// Load implements [classify.Engine]. Returns LoadError; on nil the engine
// reports Loaded.
func (e *Engine) Load(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountLoad++
	if e.LoadError != nil {
		return e.LoadError
	}
	e.loaded = true
	return nil
}

// Loaded implements [classify.Engine].
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded || e.PreLoaded
}

// InputLen implements [classify.Engine]. Returns InputLenResult when loaded,
// zero otherwise.
func (e *Engine) InputLen() int {
	if !e.Loaded() {
		return 0
	}
	return e.InputLenResult
}

// Labels implements [classify.Engine]. Returns LabelsResult when loaded.
func (e *Engine) Labels() []string {
	if !e.Loaded() {
		return nil
	}
	return e.LabelsResult
}

// Infer implements [classify.Engine]. Records the call and returns
// InferResult / InferError. Returns [classify.ErrNotLoaded] when the engine
// is not loaded.
func (e *Engine) Infer(features classify.FeatureVector) (classify.ScoreVector, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.InferCalls = append(e.InferCalls, InferCall{Features: features})
	if !e.loaded && !e.PreLoaded {
		return nil, classify.ErrNotLoaded
	}
	if e.InferError != nil {
		return nil, e.InferError
	}
	return e.InferResult, nil
}

// Close implements [classify.Engine].
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountClose++
	e.loaded = false
	e.PreLoaded = false
	return e.CloseError
}

// CallCountInfer returns how many times Infer was called.
func (e *Engine) CallCountInfer() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.InferCalls)
}
