package openivs

import (
	"fmt"
	"image"
)

// InferParams carries the per-call knobs a model/* module passes down to
// its backend: confidence/nms thresholds and anything else a concrete
// model kind reads off its node properties.
type InferParams struct {
	ConfThreshold float64
	NMSThreshold  float64
	Extra         map[string]interface{}
}

// Backend is the inference engine a model/* module drives. Swapping the
// concrete implementation (a real inference runtime vs. a fake for tests)
// never changes module code, only what NewBackend is wired to.
type Backend interface {
	// Load prepares the backend to run modelPath on deviceID. Called at
	// most once per backend instance, from the model pool.
	Load(modelPath string, deviceID int) error
	// Infer runs one image through the loaded model and returns raw
	// detections in that image's own pixel coordinates.
	Infer(img image.Image, params InferParams) ([]Detection, error)
	// GetInfo reports metadata about the loaded model (labels, input
	// size, task kind) for modules that need to synthesize category
	// names or validate shapes.
	GetInfo() BackendInfo
	// Free releases any resources the backend holds. Called once by the
	// model pool when the last reference is dropped.
	Free()
}

// BackendInfo is the static metadata a loaded model reports about itself.
type BackendInfo struct {
	Labels    []string
	InputW    int
	InputH    int
	TaskKind  string
	ModelPath string
}

// fakeBackend is a deterministic stand-in used by tests and by any
// pipeline wired without a real inference runtime: it returns a single
// detection a quarter of the image's width and height at its top-left
// corner, enough to exercise
// every downstream module's plumbing without depending on real model
// weights being present on disk.
type fakeBackend struct {
	info   BackendInfo
	loaded bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{}
}

func (b *fakeBackend) Load(modelPath string, deviceID int) error {
	if modelPath == "" {
		return fmt.Errorf("%w: empty model_path", ErrNotLoaded)
	}
	b.info = BackendInfo{
		Labels:    []string{"object"},
		InputW:    640,
		InputH:    640,
		TaskKind:  "detection",
		ModelPath: modelPath,
	}
	b.loaded = true
	return nil
}

func (b *fakeBackend) Infer(img image.Image, params InferParams) ([]Detection, error) {
	if !b.loaded {
		return nil, ErrNotLoaded
	}
	if img == nil {
		return nil, ErrImageEmpty
	}
	bnd := img.Bounds()
	w, h := float64(bnd.Dx()), float64(bnd.Dy())
	if w <= 0 || h <= 0 {
		return nil, ErrImageEmpty
	}

	det := NewDetection()
	det.CategoryID = 0
	det.CategoryName = "object"
	det.Score = 0.99
	det.WithBbox = true
	det.Bbox = []float64{0, 0, w / 4, h / 4}
	det.Area = (w / 4) * (h / 4)
	return []Detection{det}, nil
}

func (b *fakeBackend) GetInfo() BackendInfo {
	return b.info
}

func (b *fakeBackend) Free() {
	b.loaded = false
}
