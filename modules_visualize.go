package openivs

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// drawDetections renders every detection's bbox (axis-aligned rectangle or
// rotated polygon outline) plus its category_name label onto a copy of
// src, the shared core of output/visualize and output/visualize_local.
// golang.org/x/image/font/basicfont is the pack's answer to "no library
// draws text on image.Image in the stdlib" (§2b).
func drawDetections(src image.Image, dets []Detection) image.Image {
	b := src.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, src, b.Min, draw.Src)

	col := color.RGBA{R: 0, G: 255, B: 0, A: 255}
	for _, det := range dets {
		if len(det.Bbox) < 4 {
			continue
		}
		if det.WithAngle && len(det.Bbox) == 5 {
			corners := rotatedCorners(det.Bbox[0], det.Bbox[1], det.Bbox[2], det.Bbox[3], det.Bbox[4])
			drawPolygon(out, corners, col)
			drawLabel(out, int(math.Round(corners[0][0])), int(math.Round(corners[0][1]))-2, det.CategoryName, col)
		} else {
			x, y, w, h := det.Bbox[0], det.Bbox[1], det.Bbox[2], det.Bbox[3]
			drawRect(out, image.Rect(int(x), int(y), int(x+w), int(y+h)), col)
			drawLabel(out, int(x), int(y)-2, det.CategoryName, col)
		}
	}
	return out
}

func drawRect(img *image.RGBA, r image.Rectangle, col color.Color) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, col)
		img.Set(x, r.Max.Y-1, col)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.Set(r.Min.X, y, col)
		img.Set(r.Max.X-1, y, col)
	}
}

func drawPolygon(img *image.RGBA, pts [4][2]float64, col color.Color) {
	for i := 0; i < len(pts); i++ {
		p0, p1 := pts[i], pts[(i+1)%len(pts)]
		drawLine(img, int(p0[0]), int(p0[1]), int(p1[0]), int(p1[1]), col)
	}
}

// drawLine rasterizes a line with Bresenham's algorithm.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, col color.Color) {
	b := img.Bounds()
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy

	for {
		if image.Pt(x0, y0).In(b) {
			img.Set(x0, y0, col)
		}
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func drawLabel(img *image.RGBA, x, y int, text string, col color.Color) {
	if text == "" {
		return
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// visualizeModule is output/visualize (§4.5 supplement): writes the
// annotated image into the execution context for frontend consumption.
type visualizeModule struct {
	BaseModule
}

func newVisualizeModule(node *Node, ec *ExecutionContext) Module {
	return &visualizeModule{BaseModule: NewBaseModule(node, ec)}
}

func (m *visualizeModule) Process(in ModuleChannel) (ModuleIO, error) {
	out := m.render(in)
	m.Context.Set("visualize.by_node."+strconv.Itoa(m.NodeID), out)
	return ModuleIO{Main: in}, nil
}

func (m *visualizeModule) render(in ModuleChannel) []image.Image {
	byIndex := map[int][]Detection{}
	for _, e := range in.ResultList {
		byIndex[e.Index] = append(byIndex[e.Index], e.SampleResults...)
	}

	rendered := make([]image.Image, len(in.ImageList))
	for i, img := range in.ImageList {
		if img.Image == nil {
			continue
		}
		rendered[i] = drawDetections(img.Image, byIndex[i])
	}
	return rendered
}

// visualizeLocalModule is output/visualize_local: draws annotations the
// same way as output/visualize, then additionally persists each rendered
// frame via SaveImage's writer.
type visualizeLocalModule struct {
	visualizeModule
	save saveImageModule
}

func newVisualizeLocalModule(node *Node, ec *ExecutionContext) Module {
	return &visualizeLocalModule{
		visualizeModule: visualizeModule{BaseModule: NewBaseModule(node, ec)},
		save:            *(newSaveImageModule(node, ec).(*saveImageModule)),
	}
}

func (m *visualizeLocalModule) Process(in ModuleChannel) (ModuleIO, error) {
	rendered := m.render(in)
	m.Context.Set("visualize.by_node."+strconv.Itoa(m.NodeID), rendered)

	annotated := make([]*ModuleImage, len(in.ImageList))
	for i, img := range in.ImageList {
		r := img.Image
		if rendered[i] != nil {
			r = rendered[i]
		}
		annotated[i] = &ModuleImage{Image: r, Original: img.Original, State: img.State, OriginalIndex: img.OriginalIndex}
	}

	_, err := m.save.Process(ModuleChannel{ImageList: annotated, ResultList: in.ResultList})
	return ModuleIO{Main: in}, err
}

func init() {
	Register("output/visualize", newVisualizeModule)
	Register("output/visualize_local", newVisualizeLocalModule)
}
