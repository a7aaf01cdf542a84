package openivs

import (
	"encoding/json"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
)

// strokeToPointsModule is features/stroke_to_points: converts a freehand
// stroke property into a closed polygon Template, clipped to image bounds.
type strokeToPointsModule struct {
	BaseModule
}

func newStrokeToPointsModule(node *Node, ec *ExecutionContext) Module {
	return &strokeToPointsModule{BaseModule: NewBaseModule(node, ec)}
}

func (m *strokeToPointsModule) Process(in ModuleChannel) (ModuleIO, error) {
	w, h := 0, 0
	if len(in.ImageList) > 0 {
		w, h = in.ImageList[0].Bounds()
	}

	var pts [][2]float64
	if raw, ok := m.Properties["stroke"].([]interface{}); ok {
		for _, e := range raw {
			pair, ok := e.([]interface{})
			if !ok || len(pair) < 2 {
				continue
			}
			x, xok := asFloat(pair[0])
			y, yok := asFloat(pair[1])
			if !xok || !yok {
				continue
			}
			if w > 0 {
				x = float64(clampInt(int(x), 0, w-1))
			}
			if h > 0 {
				y = float64(clampInt(int(y), 0, h-1))
			}
			pts = append(pts, [2]float64{x, y})
		}
	}

	tpl := Template{"kind": "region", "points": pts}
	return ModuleIO{Main: ModuleChannel{ImageList: in.ImageList, TemplateList: []Template{tpl}}}, nil
}

// templateFromResultsModule is features/template_from_results: builds a
// Template from the current result_list's detections, for later matching
// or persistence.
type templateFromResultsModule struct {
	BaseModule
}

func newTemplateFromResultsModule(node *Node, ec *ExecutionContext) Module {
	return &templateFromResultsModule{BaseModule: NewBaseModule(node, ec)}
}

func (m *templateFromResultsModule) Process(in ModuleChannel) (ModuleIO, error) {
	var entries []map[string]interface{}
	for _, e := range in.ResultList {
		for _, d := range e.SampleResults {
			entries = append(entries, map[string]interface{}{
				"category_name": d.CategoryName,
				"bbox":          d.Bbox,
			})
		}
	}
	tpl := Template{"kind": "results", "entries": entries}
	return ModuleIO{Main: ModuleChannel{ImageList: in.ImageList, ResultList: in.ResultList, TemplateList: []Template{tpl}}}, nil
}

// templateSaveModule is output/template_save: persists the main template
// list's first entry to {templates_dir}/{name}.json, plus a {name}.png
// snapshot of the current image when present.
type templateSaveModule struct {
	BaseModule
	name string
}

func newTemplateSaveModule(node *Node, ec *ExecutionContext) Module {
	m := &templateSaveModule{BaseModule: NewBaseModule(node, ec)}
	m.name = m.ReadString("name", "template")
	return m
}

func (m *templateSaveModule) Process(in ModuleChannel) (ModuleIO, error) {
	if len(in.TemplateList) == 0 {
		return ModuleIO{Main: in}, nil
	}
	dir, _ := Get[string](m.Context, ctxTemplatesDir)
	if dir == "" {
		return ModuleIO{Main: in}, nil
	}

	base := filepath.Join(dir, sanitizeFilename(m.name))
	if data, err := json.Marshal(in.TemplateList[0]); err == nil {
		_ = os.WriteFile(base+".json", data, 0o644)
	}
	if len(in.ImageList) > 0 && in.ImageList[0].Image != nil {
		if f, err := os.Create(base + ".png"); err == nil {
			_ = png.Encode(f, toBGRConvertible(in.ImageList[0].Image))
			f.Close()
		}
	}
	return ModuleIO{Main: in}, nil
}

// loadTemplateFile reads one template JSON file, returning (zero, false)
// on any read or parse error (§7 malformed-is-absent).
func loadTemplateFile(path string) (Template, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var tpl Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, false
	}
	return tpl, true
}

// templateMatchModule is features/template_match: a naive greyscale
// sum-of-squared-differences scan of the loaded template region against
// the current image, a reduced-fidelity stand-in for a backend-
// accelerated normalized cross-correlation matcher.
type templateMatchModule struct {
	BaseModule
	threshold float64
}

func newTemplateMatchModule(node *Node, ec *ExecutionContext) Module {
	m := &templateMatchModule{BaseModule: NewBaseModule(node, ec)}
	m.threshold = m.ReadDouble("threshold", 0.8)
	return m
}

func (m *templateMatchModule) Process(in ModuleChannel) (ModuleIO, error) {
	templates := in.TemplateList
	if len(templates) == 0 {
		templates = m.MainTemplateList
	}
	if len(templates) == 0 || len(in.ImageList) == 0 {
		return ModuleIO{Main: ModuleChannel{ImageList: in.ImageList}}, nil
	}

	region, ok := templateRegion(templates[0])
	if !ok {
		return ModuleIO{Main: ModuleChannel{ImageList: in.ImageList}}, nil
	}

	outResults := make([]ResultEntry, 0, len(in.ImageList))
	for idx, img := range in.ImageList {
		if img.Image == nil {
			continue
		}
		det, found := bestSSDMatch(img.Image, region, m.threshold)
		if !found {
			continue
		}
		st := img.State
		outResults = append(outResults, ResultEntry{
			Type: "local", Index: idx, OriginIndex: img.OriginalIndex, Transform: &st,
			SampleResults: []Detection{det},
		})
	}
	return ModuleIO{Main: ModuleChannel{ImageList: in.ImageList, ResultList: outResults}}, nil
}

// templateRegion reads the rectangular patch a "region" template describes
// (its AABB) so template_match has a window to correlate against.
func templateRegion(tpl Template) (image.Rectangle, bool) {
	raw, ok := tpl["points"].([][2]float64)
	if !ok {
		pts, ok2 := tpl["points"].([]interface{})
		if !ok2 || len(pts) == 0 {
			return image.Rectangle{}, false
		}
		minX, minY := math.MaxFloat64, math.MaxFloat64
		maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
		for _, e := range pts {
			pair, ok := e.([]interface{})
			if !ok || len(pair) < 2 {
				continue
			}
			x, _ := asFloat(pair[0])
			y, _ := asFloat(pair[1])
			minX, minY = math.Min(minX, x), math.Min(minY, y)
			maxX, maxY = math.Max(maxX, x), math.Max(maxY, y)
		}
		if maxX <= minX || maxY <= minY {
			return image.Rectangle{}, false
		}
		return image.Rect(int(minX), int(minY), int(maxX), int(maxY)), true
	}

	if len(raw) == 0 {
		return image.Rectangle{}, false
	}
	minX, minY := raw[0][0], raw[0][1]
	maxX, maxY := raw[0][0], raw[0][1]
	for _, p := range raw {
		minX, minY = math.Min(minX, p[0]), math.Min(minY, p[1])
		maxX, maxY = math.Max(maxX, p[0]), math.Max(maxY, p[1])
	}
	return image.Rect(int(minX), int(minY), int(maxX), int(maxY)), true
}

// bestSSDMatch scans target for the window best matching the greyscale
// pixels of template (read from ref at its own rectangle), returning a
// detection at the best offset if its normalized score clears threshold.
func bestSSDMatch(target image.Image, ref image.Rectangle, threshold float64) (Detection, bool) {
	tb := target.Bounds()
	w, h := ref.Dx(), ref.Dy()
	if w <= 0 || h <= 0 || w > tb.Dx() || h > tb.Dy() {
		return Detection{}, false
	}

	patch := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			patch[y*w+x] = grayAt(target, ref.Min.X+x, ref.Min.Y+y)
		}
	}

	bestScore := -1.0
	bestX, bestY := 0, 0
	for y := tb.Min.Y; y <= tb.Max.Y-h; y++ {
		for x := tb.Min.X; x <= tb.Max.X-w; x++ {
			sumSq := 0.0
			for dy := 0; dy < h; dy++ {
				for dx := 0; dx < w; dx++ {
					diff := grayAt(target, x+dx, y+dy) - patch[dy*w+dx]
					sumSq += diff * diff
				}
			}
			mse := sumSq / float64(w*h)
			score := 1.0 / (1.0 + mse/255.0)
			if score > bestScore {
				bestScore, bestX, bestY = score, x, y
			}
		}
	}

	if bestScore < threshold {
		return Detection{}, false
	}

	det := NewDetection()
	det.CategoryName = "template_match"
	det.Score = bestScore
	det.WithBbox = true
	det.Bbox = []float64{float64(bestX), float64(bestY), float64(w), float64(h)}
	det.Area = float64(w * h)
	return det, true
}

func grayAt(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return (0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8))
}

func init() {
	Register("features/stroke_to_points", newStrokeToPointsModule)
	Register("features/template_from_results", newTemplateFromResultsModule)
	Register("output/template_save", newTemplateSaveModule)
	Register("features/template_match", newTemplateMatchModule)
}
