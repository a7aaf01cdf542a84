package openivs

// modelBase is embedded by every model/* module: it reads the common
// backend-invocation properties every task kind shares (model_path,
// device_id, and the InferParams knobs listed in §6) and resolves the
// shared Backend from the process-wide model pool.
type modelBase struct {
	BaseModule
	taskKind string

	ModelPath string
	DeviceID  int
	Params    InferParams
}

func newModelBase(node *Node, ec *ExecutionContext, taskKind string) modelBase {
	m := modelBase{BaseModule: NewBaseModule(node, ec), taskKind: taskKind}
	m.ModelPath = m.ReadString("model_path", "")
	m.DeviceID = m.ReadInt("device_id", contextDeviceIDOr(ec, 0))
	m.Params = InferParams{
		ConfThreshold: m.ReadDouble("threshold", 0.5),
		NMSThreshold:  m.ReadDouble("iou_threshold", 0.45),
		Extra: map[string]interface{}{
			"top_k":          m.ReadInt("top_k", 0),
			"return_polygon": m.ReadBool("return_polygon", false),
			"epsilon":        m.ReadDouble("epsilon", 0),
			"batch_size":     m.ReadInt("batch_size", 1),
			"with_mask":      m.ReadBool("with_mask", taskKind == "instance_seg" || taskKind == "semantic_seg"),
			"task_kind":      taskKind,
		},
	}
	return m
}

func contextDeviceIDOr(ec *ExecutionContext, def int) int {
	if v, ok := Get[int](ec, ctxDeviceID); ok {
		return v
	}
	return def
}

// LoadModel satisfies ModelLoader so the executor's pre-load pass (§4.1)
// eagerly populates the model pool before Run begins.
func (m *modelBase) LoadModel() error {
	if m.ModelPath == "" {
		return ErrNotLoaded
	}
	_, err := m.acquireBackend()
	return err
}

func (m *modelBase) acquireBackend() (Backend, error) {
	pool, ok := Get[*modelPool](m.Context, ctxModelPool)
	if !ok || pool == nil {
		return nil, ErrNotLoaded
	}
	return pool.Acquire(m.ModelPath, m.DeviceID)
}

// runInference is shared by every task kind's Process: run every image in
// the input list through the backend and pair each image's detections
// with its own transform so downstream modules (and eventually
// output/return_json) can project them back to the original frame.
func (m *modelBase) runInference(in ModuleChannel) (ModuleIO, error) {
	backend, err := m.acquireBackend()
	if err != nil {
		return ModuleIO{}, err
	}

	results := make([]ResultEntry, len(in.ImageList))
	for i, img := range in.ImageList {
		dets, err := backend.Infer(img.Image, m.Params)
		if err != nil {
			return ModuleIO{}, err
		}
		st := img.State
		results[i] = ResultEntry{
			Type:          "local",
			Index:         i,
			OriginIndex:   img.OriginalIndex,
			Transform:     &st,
			SampleResults: dets,
		}
	}

	return ModuleIO{Main: ModuleChannel{ImageList: in.ImageList, ResultList: results}}, nil
}

// modelModule is the concrete Module for every model/* node; task kinds
// differ only in their default InferParams (set in newModelBase) and the
// registered node type string.
type modelModule struct {
	modelBase
}

func (m *modelModule) Process(in ModuleChannel) (ModuleIO, error) {
	return m.runInference(in)
}

func newModelFactory(taskKind string) Factory {
	return func(node *Node, ec *ExecutionContext) Module {
		return &modelModule{modelBase: newModelBase(node, ec, taskKind)}
	}
}

func init() {
	Register("model/det", newModelFactory("det"))
	Register("model/rotated_bbox", newModelFactory("rotated_bbox"))
	Register("model/instance_seg", newModelFactory("instance_seg"))
	Register("model/semantic_seg", newModelFactory("semantic_seg"))
	Register("model/cls", newModelFactory("cls"))
	Register("model/ocr", newModelFactory("ocr"))
}
