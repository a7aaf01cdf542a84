package openivs

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
)

// BackendFactory builds the Backend for one (model_path, device_id) pair.
// Pipelines default to a fake backend suitable for tests and for running
// graphs that don't actually need real model weights loaded; production
// wiring supplies its own factory via WithBackendFactory.
type BackendFactory func(modelPath string, deviceID int) (Backend, error)

func defaultBackendFactory(modelPath string, deviceID int) (Backend, error) {
	b := newFakeBackend()
	if err := b.Load(modelPath, deviceID); err != nil {
		return nil, err
	}
	return b, nil
}

// Option configures a Pipeline at Load time.
type Option func(*pipelineConfig)

type pipelineConfig struct {
	backendFactory BackendFactory
}

// WithBackendFactory overrides how model/* nodes obtain their Backend.
func WithBackendFactory(f BackendFactory) Option {
	return func(c *pipelineConfig) { c.backendFactory = f }
}

// Pipeline is a loaded, ready-to-run graph: the single entry point external
// callers use instead of reaching into the executor directly.
type Pipeline struct {
	graph   *Graph
	pool    *modelPool
	cleanup func()
	Report  ModelLoadReport
}

// Load decodes a graph (plain JSON file or .dvpkg archive) from path,
// eagerly loads every model/* node's backend, and returns a Pipeline ready
// for InferOne. The returned Pipeline must be Closed once unused.
func Load(path string, opts ...Option) (*Pipeline, error) {
	raw, cleanup, err := LoadGraphSource(path)
	if err != nil {
		return nil, err
	}

	p, err := loadFromJSON(raw, opts...)
	if err != nil {
		cleanup()
		return nil, err
	}
	p.cleanup = cleanup
	return p, nil
}

func loadFromJSON(raw []byte, opts ...Option) (*Pipeline, error) {
	cfg := pipelineConfig{backendFactory: defaultBackendFactory}
	for _, o := range opts {
		o(&cfg)
	}

	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGraphMalformed, err)
	}
	if len(g.Nodes) == 0 {
		return nil, fmt.Errorf("%w: graph has no nodes", ErrGraphMalformed)
	}

	pool := newModelPool(func(modelPath string, deviceID int) (Backend, error) {
		return cfg.backendFactory(modelPath, deviceID)
	})

	p := &Pipeline{graph: &g, pool: pool, cleanup: func() {}}

	ec := NewExecutionContext()
	ec.Set(ctxModelPool, pool)
	p.Report = NewExecutor(&g).LoadModels(context.Background(), ec)
	if p.Report.Code != 0 {
		return p, fmt.Errorf("%w: %s", ErrNotLoaded, p.Report.Message)
	}

	return p, nil
}

// InferOne runs img through the graph once, handing it to every
// input/frontend_image node as the sole original image (input/image nodes
// read their own configured path instead), and returns every node's public output keyed by node id, the terminal
// output/return_json payload (§4.7, nil if the graph has no such node),
// and any run error. Concurrent InferOne calls on the same Pipeline are
// safe: each gets its own ExecutionContext and the shared model pool is
// itself concurrency-safe (§5).
func (p *Pipeline) InferOne(ctx context.Context, img image.Image, deviceID int) (map[int]NodePublicOutput, interface{}, error) {
	if img == nil {
		return nil, nil, ErrImageEmpty
	}

	ec := NewExecutionContext()
	ec.Set(ctxModelPool, p.pool)
	ec.Set(ctxFrontendImageMat, img)
	ec.Set(ctxDeviceID, deviceID)

	outputs, err := NewExecutor(p.graph).Run(ctx, ec)
	if err != nil {
		return outputs, nil, err
	}

	result, _ := Get[interface{}](ec, ctxFrontendJSONLast)
	return outputs, result, nil
}

// Close removes any temp directory an archive was unpacked into, then
// releases every model held by this Pipeline's pool.
func (p *Pipeline) Close() error {
	p.cleanup()
	p.pool.Clear()
	return nil
}
