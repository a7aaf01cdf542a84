package openivs

import "sync"

// poolKey identifies one loaded model instance: the same model_path on two
// different device ids gets two separate handles, but two model/* nodes
// pointing at the same (model_path, device_id) share one.
type poolKey struct {
	modelPath string
	deviceID  int
}

// modelHandle is one entry in the pool: the loaded backend plus a
// reference count of how many nodes currently hold it.
type modelHandle struct {
	backend Backend
	refs    int
}

// modelPool is the process-wide cache described in §5: models are loaded
// once per (model_path, device_id) and shared across every node and every
// concurrent InferOne call that references them. It never evicts on its
// own — an entry is dropped when Release brings its refcount to zero, or
// by Clear, which Pipeline.Close calls.
type modelPool struct {
	mu      sync.Mutex
	handles map[poolKey]*modelHandle
	newFn   func(modelPath string, deviceID int) (Backend, error)
}

func newModelPool(newFn func(modelPath string, deviceID int) (Backend, error)) *modelPool {
	return &modelPool{handles: map[poolKey]*modelHandle{}, newFn: newFn}
}

// Acquire returns the shared Backend for (modelPath, deviceID), loading it
// on first use. Every successful Acquire must be paired with a Release.
func (p *modelPool) Acquire(modelPath string, deviceID int) (Backend, error) {
	key := poolKey{modelPath: modelPath, deviceID: deviceID}

	p.mu.Lock()
	if h, ok := p.handles[key]; ok {
		h.refs++
		p.mu.Unlock()
		return h.backend, nil
	}
	p.mu.Unlock()

	backend, err := p.newFn(modelPath, deviceID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.handles[key]; ok {
		// Another goroutine loaded the same key first; keep theirs and
		// discard ours to avoid a dangling loaded-but-unreferenced model.
		h.refs++
		backend.Free()
		return h.backend, nil
	}
	p.handles[key] = &modelHandle{backend: backend, refs: 1}
	return backend, nil
}

// Release drops one reference to (modelPath, deviceID). The backend is
// freed and removed from the pool once the last reference is released.
func (p *modelPool) Release(modelPath string, deviceID int) {
	key := poolKey{modelPath: modelPath, deviceID: deviceID}

	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[key]
	if !ok {
		return
	}
	h.refs--
	if h.refs <= 0 {
		delete(p.handles, key)
		h.backend.Free()
	}
}

// Clear forcibly frees every handle in the pool regardless of refcount,
// used when a Pipeline is closed.
func (p *modelPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, h := range p.handles {
		h.backend.Free()
		delete(p.handles, key)
	}
}
