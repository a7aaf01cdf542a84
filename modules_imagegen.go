package openivs

import (
	"image"
	"math"
)

// imageGenerationModule is features/image_generation (§4.3): crops one
// child image per detection in the input result list, either an
// axis-aligned expand-and-clip or, for rotated boxes, a rotate-and-crop
// warp centered in a fixed-size output canvas.
type imageGenerationModule struct {
	BaseModule
	cropExpand float64
	minSize    int
	cropShapeW int
	cropShapeH int
}

func newImageGenerationModule(node *Node, ec *ExecutionContext) Module {
	m := &imageGenerationModule{BaseModule: NewBaseModule(node, ec)}
	m.cropExpand = m.ReadDouble("crop_expand", 0)
	m.minSize = m.ReadInt("min_size", 1)
	m.cropShapeW, m.cropShapeH = m.ReadIntPair("crop_shape", 0, 0)
	return m
}

func (m *imageGenerationModule) Process(in ModuleChannel) (ModuleIO, error) {
	var outImages []*ModuleImage
	var outResults []ResultEntry

	for _, e := range in.ResultList {
		if e.Index < 0 || e.Index >= len(in.ImageList) {
			continue
		}
		parent := in.ImageList[e.Index]

		for _, det := range e.SampleResults {
			var child *ModuleImage
			if det.WithAngle && len(det.Bbox) == 5 {
				child = m.cropRotated(parent, det)
			} else if len(det.Bbox) >= 4 {
				child = m.cropAxisAligned(parent, det)
			}
			if child == nil {
				continue
			}

			idx := len(outImages)
			outImages = append(outImages, child)
			st := child.State
			outResults = append(outResults, ResultEntry{
				Type:        "local",
				Index:       idx,
				OriginIndex: parent.OriginalIndex,
				Transform:   &st,
			})
		}
	}

	return ModuleIO{Main: ModuleChannel{ImageList: outImages, ResultList: outResults}}, nil
}

func (m *imageGenerationModule) cropAxisAligned(parent *ModuleImage, det Detection) *ModuleImage {
	x, y, w, h := det.Bbox[0], det.Bbox[1], det.Bbox[2], det.Bbox[3]

	x1 := math.Floor(x - m.cropExpand)
	y1 := math.Floor(y - m.cropExpand)
	x2 := math.Round(x + w + m.cropExpand)
	y2 := math.Round(y + h + m.cropExpand)

	cw, ch := parent.Bounds()
	nx1 := clampInt(int(x1), 0, maxInt(cw-1, 0))
	ny1 := clampInt(int(y1), 0, maxInt(ch-1, 0))
	nx2 := clampInt(int(x2), nx1+1, cw)
	ny2 := clampInt(int(y2), ny1+1, ch)

	outW := maxInt(nx2-nx1, m.minSize)
	outH := maxInt(ny2-ny1, m.minSize)
	nx2 = minInt(nx1+outW, cw)
	ny2 = minInt(ny1+outH, ch)

	currentToNew := [6]float64{1, 0, -float64(nx1), 0, 1, -float64(ny1)}
	child := parent.State.DeriveChild(currentToNew, nx2-nx1, ny2-ny1)

	var cropped image.Image
	if parent.Image != nil {
		cropped = cropImage(parent.Image, image.Rect(nx1, ny1, nx2, ny2))
	}

	return &ModuleImage{Image: cropped, Original: parent.Original, State: child, OriginalIndex: parent.OriginalIndex}
}

func (m *imageGenerationModule) cropRotated(parent *ModuleImage, det Detection) *ModuleImage {
	cx, cy, w, h, angle := det.Bbox[0], det.Bbox[1], det.Bbox[2], det.Bbox[3], det.Bbox[4]

	outW, outH := int(math.Round(w+2*m.cropExpand)), int(math.Round(h+2*m.cropExpand))
	if m.cropShapeW > 0 && m.cropShapeH > 0 {
		outW, outH = m.cropShapeW, m.cropShapeH
	}
	outW, outH = maxInt(outW, m.minSize), maxInt(outH, m.minSize)

	// Rotate by -angle to straighten the detection's own rotation out of
	// the crop; RotationAffineDeg with -degrees has the same linear part as
	// getRotationMatrix2D(center, degrees, 1.0).
	degrees := -angle * 180.0 / math.Pi
	currentToNew := RotationAffineDeg(cx, cy, degrees, outW, outH)
	child := parent.State.DeriveChild(currentToNew, outW, outH)

	var warped image.Image
	if parent.Image != nil {
		warped = warpAffine(parent.Image, currentToNew, outW, outH)
	}

	return &ModuleImage{Image: warped, Original: parent.Original, State: child, OriginalIndex: parent.OriginalIndex}
}

func init() {
	Register("features/image_generation", newImageGenerationModule)
}
