package openivs

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
)

func init() {
	Register("input/image", newInputImageModule)
	Register("input/frontend_image", newInputFrontendImageModule)
	Register("input/build_results", newInputBuildResultsModule)
	Register("input/template_load", newInputTemplateLoadModule)
}

// inputImageModule is input/image: loads a still image off disk for graphs
// that bundle their own sample/reference frames (e.g. a template-match
// reference image) rather than taking the frontend's live frame. A
// missing or unreadable path degrades to an empty image list rather than
// failing the node, matching §7's "treat malformed as absent".
type inputImageModule struct {
	BaseInputModule
	path string
}

func newInputImageModule(node *Node, ec *ExecutionContext) Module {
	m := &inputImageModule{BaseInputModule: BaseInputModule{BaseModule: NewBaseModule(node, ec)}}
	m.path = m.ReadString("path", m.ReadString("image_path", ""))
	m.Generate = m.generate
	return m
}

func (m *inputImageModule) generate() (ModuleIO, error) {
	if m.path == "" {
		return ModuleIO{}, nil
	}
	img, err := decodeImageFile(m.path)
	if err != nil {
		return ModuleIO{}, nil
	}
	b := img.Bounds()
	mi := &ModuleImage{Image: img, Original: img, State: Identity(b.Dx(), b.Dy())}
	return ModuleIO{Main: ModuleChannel{ImageList: []*ModuleImage{mi}}}, nil
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// inputFrontendImageModule is input/frontend_image: the facade's entry
// point into the graph. It reads whatever image InferOne seeded under
// frontend_image_mat (§6) and emits it as the root ModuleImage with an
// identity transform and original_index 0.
type inputFrontendImageModule struct {
	BaseInputModule
}

func newInputFrontendImageModule(node *Node, ec *ExecutionContext) Module {
	m := &inputFrontendImageModule{BaseInputModule: BaseInputModule{BaseModule: NewBaseModule(node, ec)}}
	m.Generate = m.generate
	return m
}

func (m *inputFrontendImageModule) generate() (ModuleIO, error) {
	img, ok := Get[image.Image](m.Context, ctxFrontendImageMat)
	if !ok || img == nil {
		if path, ok := Get[string](m.Context, ctxFrontendImagePath); ok && path != "" {
			if decoded, err := decodeImageFile(path); err == nil {
				img = decoded
			}
		}
	}
	if img == nil {
		return ModuleIO{}, nil
	}
	b := img.Bounds()
	mi := &ModuleImage{Image: img, Original: img, State: Identity(b.Dx(), b.Dy())}
	return ModuleIO{Main: ModuleChannel{ImageList: []*ModuleImage{mi}}}, nil
}

// inputBuildResultsModule is input/build_results: a graph-authoring
// convenience that synthesizes one Detection straight from node
// properties (bbox_x..bbox_h, category_name, score, ...), used to exercise
// downstream modules (especially output/return_json's round-trip, §8)
// without a real model attached. It passes through whatever image list it
// receives (empty if this node has no upstream image producer) and
// attaches the synthesized detection to every image in that list, or to a
// single synthetic origin-0 entry when the list is empty.
type inputBuildResultsModule struct {
	BaseModule
}

func newInputBuildResultsModule(node *Node, ec *ExecutionContext) Module {
	return &inputBuildResultsModule{BaseModule: NewBaseModule(node, ec)}
}

func (m *inputBuildResultsModule) Process(in ModuleChannel) (ModuleIO, error) {
	det := m.buildDetection()

	images := in.ImageList
	if len(images) == 0 {
		return ModuleIO{Main: ModuleChannel{
			ResultList: []ResultEntry{{Type: "local", Index: 0, OriginIndex: 0, SampleResults: []Detection{det}}},
		}}, nil
	}

	results := make([]ResultEntry, len(images))
	for i, img := range images {
		st := img.State
		results[i] = ResultEntry{
			Type:          "local",
			Index:         i,
			OriginIndex:   img.OriginalIndex,
			Transform:     &st,
			SampleResults: []Detection{det},
		}
	}
	return ModuleIO{Main: ModuleChannel{ImageList: images, ResultList: results}}, nil
}

func (m *inputBuildResultsModule) buildDetection() Detection {
	det := NewDetection()
	det.CategoryID = m.ReadInt("category_id", 0)
	det.CategoryName = m.ReadString("category_name", "")
	det.Score = m.ReadDouble("score", 1.0)

	x := m.ReadDouble("bbox_x", 0)
	y := m.ReadDouble("bbox_y", 0)
	w := m.ReadDouble("bbox_w", 0)
	h := m.ReadDouble("bbox_h", 0)

	if m.ReadBool("with_angle", false) {
		det.WithAngle = true
		det.Angle = m.ReadDouble("angle", UnsetAngle)
		det.Bbox = []float64{x, y, w, h, det.Angle}
	} else {
		det.Bbox = []float64{x, y, w, h}
	}
	det.WithBbox = m.ReadBool("with_bbox", w > 0 || h > 0)
	det.Area = m.ReadDouble("area", w*h)
	return det
}

// inputTemplateLoadModule is input/template_load: reads
// {templates_dir}/{name}.json into the template channel. A missing file
// yields an empty template list, matching §7's malformed-is-absent
// contract (§4.5 supplement).
type inputTemplateLoadModule struct {
	BaseInputModule
	name string
}

func newInputTemplateLoadModule(node *Node, ec *ExecutionContext) Module {
	m := &inputTemplateLoadModule{BaseInputModule: BaseInputModule{BaseModule: NewBaseModule(node, ec)}}
	m.name = m.ReadString("name", "")
	m.Generate = m.generate
	return m
}

func (m *inputTemplateLoadModule) generate() (ModuleIO, error) {
	dir, _ := Get[string](m.Context, ctxTemplatesDir)
	if dir == "" || m.name == "" {
		return ModuleIO{}, nil
	}

	tpl, ok := loadTemplateFile(filepath.Join(dir, sanitizeFilename(m.name)+".json"))
	if !ok {
		return ModuleIO{}, nil
	}
	return ModuleIO{Main: ModuleChannel{TemplateList: []Template{tpl}}}, nil
}

// sanitizeFilename replaces the characters the original treats as
// filesystem-unsafe on every persisted template/image filename (§6
// "Persisted state").
func sanitizeFilename(name string) string {
	r := strings.NewReplacer(
		"<", "_", ">", "_", ":", "_", "\"", "_", "/", "_",
		"\\", "_", "|", "_", "?", "_", "*", "_", " ", "_",
	)
	return r.Replace(name)
}
