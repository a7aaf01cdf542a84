package openivs

import (
	"sync"

	"github.com/mitchellh/copystructure"
)

// ExecutionContext is a lightweight typed key/value bag shared by every
// module invoked during one graph run. Get never panics on a type
// mismatch or a missing key; it simply reports the miss, so modules can
// treat an absent value as a best-effort default the way the property
// readers in registry.go do.
type ExecutionContext struct {
	mu   sync.RWMutex
	vals map[string]interface{}
}

// NewExecutionContext returns an empty context ready for one InferOne run.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{vals: map[string]interface{}{}}
}

// Has reports whether key is present.
func (e *ExecutionContext) Has(key string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.vals[key]
	return ok
}

// Remove deletes key, if present.
func (e *ExecutionContext) Remove(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.vals, key)
}

// Clear empties the context.
func (e *ExecutionContext) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vals = map[string]interface{}{}
}

// Set stores value under key, overwriting any previous value.
func (e *ExecutionContext) Set(key string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vals[key] = value
}

// Get returns the value stored at key type-asserted to T. A missing key or
// a type mismatch yields the zero value of T and false, never a panic —
// the Go analogue of the original's dynamic_pointer_cast-based Value[T].
func Get[T any](e *ExecutionContext, key string) (T, bool) {
	var zero T
	e.mu.RLock()
	v, ok := e.vals[key]
	e.mu.RUnlock()
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Clone deep-copies the context's values with copystructure, keeping the
// original value for any entry that cannot be copied. InferOne does not use
// it: each call builds a fresh context.
func (e *ExecutionContext) Clone() *ExecutionContext {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := NewExecutionContext()
	for k, v := range e.vals {
		if copied, err := copystructure.Copy(v); err == nil {
			out.vals[k] = copied
		} else {
			out.vals[k] = v
		}
	}
	return out
}
