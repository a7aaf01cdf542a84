package openivs

import "image"

// coordinateCropModule is pre_process/coordinate_crop (§4.3). It clips
// (x,y,w,h) to the current image and derives a child transform; results
// pass through unchanged (detections stay in the original frame until a
// terminal coordinate map, per the spec's explicit "no coordinate update"
// rule).
type coordinateCropModule struct {
	BaseModule
	x, y, w, h int
}

func newCoordinateCropModule(node *Node, ec *ExecutionContext) Module {
	m := &coordinateCropModule{BaseModule: NewBaseModule(node, ec)}
	m.x = m.ReadInt("x", m.ReadInt("bbox_x", 0))
	m.y = m.ReadInt("y", m.ReadInt("bbox_y", 0))
	m.w = m.ReadInt("w", m.ReadInt("bbox_w", 0))
	m.h = m.ReadInt("h", m.ReadInt("bbox_h", 0))
	return m
}

func (m *coordinateCropModule) Process(in ModuleChannel) (ModuleIO, error) {
	out := make([]*ModuleImage, len(in.ImageList))
	for i, img := range in.ImageList {
		cw, ch := img.Bounds()

		x := clampInt(m.x, 0, maxInt(cw-1, 0))
		y := clampInt(m.y, 0, maxInt(ch-1, 0))
		w := clampInt(m.w, 1, maxInt(cw-x, 1))
		h := clampInt(m.h, 1, maxInt(ch-y, 1))

		if w == cw && h == ch && x == 0 && y == 0 {
			// identity crop: pass the image through with its state unchanged
			// (§8 boundary: CoordinateCrop with w=h=W,H yields identity).
			out[i] = img
			continue
		}

		currentToNew := [6]float64{1, 0, -float64(x), 0, 1, -float64(y)}
		child := img.State.DeriveChild(currentToNew, w, h)

		var cropped image.Image
		if img.Image != nil {
			cropped = cropImage(img.Image, image.Rect(x, y, x+w, y+h))
		}

		out[i] = &ModuleImage{Image: cropped, Original: img.Original, State: child, OriginalIndex: img.OriginalIndex}
	}
	return ModuleIO{Main: ModuleChannel{ImageList: out, ResultList: in.ResultList}}, nil
}

// imageFlipModule is pre_process/image_flip (§4.3). The result list is
// cleared on output; flipping here is an image-only operation.
type imageFlipModule struct {
	BaseModule
	direction string
}

func newImageFlipModule(node *Node, ec *ExecutionContext) Module {
	m := &imageFlipModule{BaseModule: NewBaseModule(node, ec)}
	m.direction = m.ReadString("direction", "horizontal")
	return m
}

func (m *imageFlipModule) Process(in ModuleChannel) (ModuleIO, error) {
	out := make([]*ModuleImage, len(in.ImageList))
	for i, img := range in.ImageList {
		w, h := img.Bounds()

		var currentToNew [6]float64
		var flipped image.Image
		if m.direction == "vertical" {
			currentToNew = [6]float64{1, 0, 0, 0, -1, float64(h - 1)}
			if img.Image != nil {
				flipped = flipVertical(img.Image)
			}
		} else {
			currentToNew = [6]float64{-1, 0, float64(w - 1), 0, 1, 0}
			if img.Image != nil {
				flipped = flipHorizontal(img.Image)
			}
		}

		child := img.State.DeriveChild(currentToNew, w, h)
		out[i] = &ModuleImage{Image: flipped, Original: img.Original, State: child, OriginalIndex: img.OriginalIndex}
	}
	return ModuleIO{Main: ModuleChannel{ImageList: out}}, nil
}

func init() {
	Register("pre_process/coordinate_crop", newCoordinateCropModule)
	Register("features/coordinate_crop", newCoordinateCropModule)
	Register("pre_process/image_flip", newImageFlipModule)
	Register("features/image_flip", newImageFlipModule)
}
