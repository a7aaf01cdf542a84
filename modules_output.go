package openivs

import (
	"fmt"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// originalPayload is one original image's entry in a return_json result:
// every detection produced anywhere downstream of it, reprojected back
// into its own coordinate frame.
type originalPayload struct {
	OriginIndex  int                      `json:"origin_index"`
	OriginalSize [2]int                   `json:"original_size"`
	Results      []map[string]interface{} `json:"results"`
}

// returnJsonModule is output/return_json (§4.7): the terminal node that
// projects every surviving detection back into its original image's frame
// and writes the payload into the execution context for the facade to
// hand back to the caller.
type returnJsonModule struct {
	BaseModule
}

func newReturnJsonModule(node *Node, ec *ExecutionContext) Module {
	return &returnJsonModule{BaseModule: NewBaseModule(node, ec)}
}

func (m *returnJsonModule) Process(in ModuleChannel) (ModuleIO, error) {
	byOrigin := map[int]*originalPayload{}
	var order []int

	for _, e := range in.ResultList {
		state := e.Transform
		if state == nil && e.Index >= 0 && e.Index < len(in.ImageList) {
			st := in.ImageList[e.Index].State
			state = &st
		}
		if state == nil {
			continue
		}

		p, ok := byOrigin[e.OriginIndex]
		if !ok {
			p = &originalPayload{
				OriginIndex:  e.OriginIndex,
				OriginalSize: [2]int{state.OriginalWidth, state.OriginalHeight},
			}
			byOrigin[e.OriginIndex] = p
			order = append(order, e.OriginIndex)
		}

		currentToOriginal := Inverse2x3(state.AffineOrIdentity())
		for _, det := range e.SampleResults {
			p.Results = append(p.Results, projectDetection(det, currentToOriginal))
		}
	}

	payload := make([]originalPayload, len(order))
	for i, idx := range order {
		payload[i] = *byOrigin[idx]
	}

	m.Context.Set(ctxFrontendJSONLast, payload)
	byNode, _ := Get[map[int]interface{}](m.Context, ctxFrontendJSONByNode)
	if byNode == nil {
		byNode = map[int]interface{}{}
	}
	byNode[m.NodeID] = payload
	m.Context.Set(ctxFrontendJSONByNode, byNode)

	return ModuleIO{Main: in}, nil
}

// projectDetection reprojects one detection's bbox (and, if present, its
// mask's non-zero pixels as a poly) from the current frame into the
// original frame via currentToOriginal = T_{c->o}.
func projectDetection(det Detection, currentToOriginal [6]float64) map[string]interface{} {
	out := map[string]interface{}{
		"category_id":   det.CategoryID,
		"category_name": det.CategoryName,
		"score":         det.Score,
	}

	isRotated := det.WithAngle && len(det.Bbox) == 5
	out["metadata"] = map[string]interface{}{"is_rotated": isRotated}

	var bboxOriginX, bboxOriginY float64
	if len(det.Bbox) >= 2 {
		bboxOriginX, bboxOriginY = det.Bbox[0], det.Bbox[1]
	}

	switch {
	case isRotated:
		cx, cy, w, h, angle := det.Bbox[0], det.Bbox[1], det.Bbox[2], det.Bbox[3], det.Bbox[4]
		ncx, ncy := ApplyPoint(currentToOriginal, cx, cy)

		cosA, sinA := math.Cos(angle), math.Sin(angle)
		xAxisX := currentToOriginal[0]*cosA + currentToOriginal[1]*sinA
		xAxisY := currentToOriginal[3]*cosA + currentToOriginal[4]*sinA
		yAxisX := currentToOriginal[0]*-sinA + currentToOriginal[1]*cosA
		yAxisY := currentToOriginal[3]*-sinA + currentToOriginal[4]*cosA

		scaleW := math.Hypot(xAxisX, xAxisY)
		scaleH := math.Hypot(yAxisX, yAxisY)
		angleNew := math.Atan2(xAxisY, xAxisX)

		out["bbox"] = []float64{ncx, ncy, w * scaleW, h * scaleH, angleNew}
		bboxOriginX, bboxOriginY = cx-w/2, cy-h/2

	case len(det.Bbox) >= 4:
		x, y, w, h := det.Bbox[0], det.Bbox[1], det.Bbox[2], det.Bbox[3]
		corners := RectCorners(x, y, w, h)
		var t [4][2]float64
		for i, c := range corners {
			t[i][0], t[i][1] = ApplyPoint(currentToOriginal, c[0], c[1])
		}
		x1, y1, x2, y2 := AABBFromQuad(t)
		out["bbox"] = []float64{x1, y1, x2, y2}

	default:
		out["bbox"] = det.Bbox
	}

	if det.MaskRLE != nil {
		out["mask_rle"] = det.MaskRLE
		pts := det.MaskRLE.NonZeroPoints()
		poly := make([][2]float64, len(pts))
		for i, pt := range pts {
			px, py := ApplyPoint(currentToOriginal, bboxOriginX+float64(pt.X), bboxOriginY+float64(pt.Y))
			poly[i] = [2]float64{px, py}
		}
		out["poly"] = poly
	}

	return out
}

// saveImageModule is output/save_image (§4.7): writes the current image to
// disk as {base}{suffix}.{format}, converting to an encode-ready form
// first.
type saveImageModule struct {
	BaseModule
	dir, suffix, format string
}

func newSaveImageModule(node *Node, ec *ExecutionContext) Module {
	m := &saveImageModule{BaseModule: NewBaseModule(node, ec)}
	m.dir = m.ReadString("dir", ".")
	m.suffix = m.ReadString("suffix", "")
	m.format = strings.ToLower(m.ReadString("format", "jpg"))
	return m
}

func (m *saveImageModule) Process(in ModuleChannel) (ModuleIO, error) {
	for i, img := range in.ImageList {
		if img.Image == nil {
			continue
		}

		base := ""
		if i < len(in.ResultList) {
			if fn, ok := in.ResultList[i].Extra["filename"].(string); ok {
				base = fn
			}
		}
		if base == "" {
			base = timestampName()
		}

		name := sanitizeFilename(base) + m.suffix + "." + m.format
		path := filepath.Join(m.dir, name)

		f, err := os.Create(path)
		if err != nil {
			continue
		}
		encoded := toBGRConvertible(img.Image)
		if m.format == "png" {
			_ = png.Encode(f, encoded)
		} else {
			_ = jpeg.Encode(f, encoded, &jpeg.Options{Quality: 95})
		}
		f.Close()
	}
	return ModuleIO{Main: in}, nil
}

func timestampName() string {
	return fmt.Sprintf("frame_%d", time.Now().UnixNano())
}

func init() {
	Register("output/return_json", newReturnJsonModule)
	Register("output/save_image", newSaveImageModule)
}
