package openivs

import "math"

// transformSignature is a cheap identity key for matching an entry from
// one lane to the image it was produced from when two parallel lanes
// (e.g. a classification lane and a detection lane) describe the same
// underlying image list: the affine coefficients plus reported size
// collide only when two states really are the same transform.
func transformSignature(s TransformationState) [8]float64 {
	a := s.AffineOrIdentity()
	return [8]float64{a[0], a[1], a[2], a[3], a[4], a[5], float64(s.Width), float64(s.Height)}
}

// topLabel returns the first detection's category_name, or, when
// useTopScore is set, the category_name of the highest-scoring detection
// (the earliest one wins a tie).
func topLabel(dets []Detection, useTopScore bool) (string, bool) {
	if len(dets) == 0 {
		return "", false
	}
	if !useTopScore {
		return dets[0].CategoryName, true
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Score > best.Score {
			best = d
		}
	}
	return best.CategoryName, true
}

// findLaneLabel picks the label classLane reports for image i (main
// image index idx), preferring an exact transform-signature match, then
// positional index, then a fall back match by origin_index (§4.3).
func findLaneLabel(img *ModuleImage, idx int, classLane ModuleChannel) (string, bool) {
	sig := transformSignature(img.State)
	for _, e := range classLane.ResultList {
		if e.Transform != nil && transformSignature(*e.Transform) == sig {
			return topLabel(e.SampleResults, false)
		}
	}
	if idx < len(classLane.ResultList) {
		if lbl, ok := topLabel(classLane.ResultList[idx].SampleResults, false); ok {
			return lbl, true
		}
	}
	for _, e := range classLane.ResultList {
		if e.OriginIndex == img.OriginalIndex {
			return topLabel(e.SampleResults, false)
		}
	}
	return "", false
}

// imageRotateByClassificationModule is features/image_rotate_by_cls
// (§4.3): rotates each image by the CCW quarter-turn its paired
// classification label implies, and re-expresses every detection in the
// rotated frame.
type imageRotateByClassificationModule struct {
	BaseModule
	rotate90  map[string]bool
	rotate180 map[string]bool
	rotate270 map[string]bool
}

func newImageRotateByClassificationModule(node *Node, ec *ExecutionContext) Module {
	m := &imageRotateByClassificationModule{BaseModule: NewBaseModule(node, ec)}
	m.rotate90 = readLabelSet(m.Properties, "rotate90_labels")
	m.rotate180 = readLabelSet(m.Properties, "rotate180_labels")
	m.rotate270 = readLabelSet(m.Properties, "rotate270_labels")
	return m
}

func readLabelSet(props map[string]interface{}, key string) map[string]bool {
	out := map[string]bool{}
	v, ok := props[key]
	if !ok {
		return out
	}
	if arr, ok := v.([]interface{}); ok {
		for _, e := range arr {
			if s, ok := e.(string); ok {
				out[s] = true
			}
		}
	}
	return out
}

func (m *imageRotateByClassificationModule) quarterTurns(label string) int {
	switch {
	case m.rotate90[label]:
		return 1
	case m.rotate180[label]:
		return 2
	case m.rotate270[label]:
		return 3
	default:
		return 0
	}
}

func (m *imageRotateByClassificationModule) Process(in ModuleChannel) (ModuleIO, error) {
	var classLane ModuleChannel
	if len(m.ExtraInputsIn) > 0 {
		classLane = m.ExtraInputsIn[0]
	}

	outImages := make([]*ModuleImage, len(in.ImageList))
	kByIndex := make([]int, len(in.ImageList))

	for i, img := range in.ImageList {
		label, _ := findLaneLabel(img, i, classLane)
		k := m.quarterTurns(label)
		kByIndex[i] = k

		w, h := img.Bounds()
		currentToNew, newW, newH := RotationAffineCCW(k, w, h)
		child := img.State.DeriveChild(currentToNew, newW, newH)

		var rotated = img.Image
		if k != 0 && img.Image != nil {
			rotated = rotateCCW90(img.Image, k)
		}

		outImages[i] = &ModuleImage{Image: rotated, Original: img.Original, State: child, OriginalIndex: img.OriginalIndex}
	}

	outResults := make([]ResultEntry, len(in.ResultList))
	for ri, e := range in.ResultList {
		k := 0
		if e.Index >= 0 && e.Index < len(kByIndex) {
			k = kByIndex[e.Index]
		}
		if k == 0 {
			outResults[ri] = e
			continue
		}

		w, h := 0, 0
		if e.Index >= 0 && e.Index < len(in.ImageList) {
			w, h = in.ImageList[e.Index].Bounds()
		}
		affine, _, _ := RotationAffineCCW(k, w, h)
		rotationRad := float64(k) * math.Pi / 2

		newEntry := e
		newEntry.SampleResults = make([]Detection, len(e.SampleResults))
		for di, det := range e.SampleResults {
			newEntry.SampleResults[di] = rotateDetection(det, affine, rotationRad)
		}
		outResults[ri] = newEntry
	}

	return ModuleIO{Main: ModuleChannel{ImageList: outImages, ResultList: outResults}}, nil
}

// rotateDetection re-expresses one detection under the forward affine
// `affine` (current -> new frame), matching §4.3's rotated/axis-aligned
// transform rules shared by ImageRotateByClassification and RBoxCorrection.
func rotateDetection(det Detection, affine [6]float64, rotationRad float64) Detection {
	out := det
	if len(det.Bbox) == 0 {
		return out
	}

	if det.WithAngle && len(det.Bbox) == 5 {
		cx, cy := ApplyPoint(affine, det.Bbox[0], det.Bbox[1])
		newAngle := WrapAngle(det.Bbox[4] + rotationRad)
		out.Bbox = []float64{cx, cy, det.Bbox[2], det.Bbox[3], newAngle}
		out.Angle = newAngle
		return out
	}

	if len(det.Bbox) >= 4 {
		x, y, w, h := rotateAxisAlignedBBox(det.Bbox[0], det.Bbox[1], det.Bbox[2], det.Bbox[3], affine)
		out.Bbox = []float64{x, y, w, h}
		out.WithAngle = false
	}
	return out
}

// rotateAxisAlignedBBox transforms an axis-aligned [x,y,w,h] pixel box
// (treating w,h as pixel counts, so the box's last pixel sits at
// x+w-1,y+h-1) by the forward affine and re-boxes the transformed corners
// to their AABB, reconstructing w,h from the corner span so a pure
// quarter-turn rotation preserves pixel count exactly.
func rotateAxisAlignedBBox(x, y, w, h float64, affine [6]float64) (nx, ny, nw, nh float64) {
	corners := [4][2]float64{
		{x, y}, {x + w - 1, y}, {x + w - 1, y + h - 1}, {x, y + h - 1},
	}
	var t [4][2]float64
	for i, p := range corners {
		t[i][0], t[i][1] = ApplyPoint(affine, p[0], p[1])
	}
	x1, y1, x2, y2 := AABBFromQuad(t)
	return x1, y1, x2 - x1 + 1, y2 - y1 + 1
}

// rboxCorrectionModule is features/rbox_correction (§4.3): reads the
// rotation implied by each entry's own transform and rotates the image by
// its negation around the image center, straightening a rotated crop back
// to axis-aligned. Any mask is dropped: the module does not guarantee
// mask alignment post-rotation (§9, documented non-goal).
type rboxCorrectionModule struct {
	BaseModule
}

func newRboxCorrectionModule(node *Node, ec *ExecutionContext) Module {
	return &rboxCorrectionModule{BaseModule: NewBaseModule(node, ec)}
}

// rboxCorrectionPerImage is the per-image rotation this module applies,
// keyed by the image's position so the result-entry pass below can look it
// up by e.Index without re-deriving it.
type rboxCorrectionPerImage struct {
	currentToNew [6]float64
	negAngle     float64
}

func (m *rboxCorrectionModule) Process(in ModuleChannel) (ModuleIO, error) {
	outImages := make([]*ModuleImage, len(in.ImageList))
	perImage := make([]rboxCorrectionPerImage, len(in.ImageList))

	for i, img := range in.ImageList {
		a := img.State.AffineOrIdentity()
		angle := math.Atan2(a[3], a[0])

		w, h := img.Bounds()
		degrees := -angle * 180.0 / math.Pi
		currentToNew := RotationAffineDeg(float64(w)/2, float64(h)/2, degrees, w, h)
		child := img.State.DeriveChild(currentToNew, w, h)

		var rotated = img.Image
		if img.Image != nil {
			rotated = warpAffine(img.Image, currentToNew, w, h)
		}

		outImages[i] = &ModuleImage{Image: rotated, Original: img.Original, State: child, OriginalIndex: img.OriginalIndex}
		perImage[i] = rboxCorrectionPerImage{currentToNew: currentToNew, negAngle: -angle}
	}

	outResults := make([]ResultEntry, len(in.ResultList))
	for ri, e := range in.ResultList {
		if e.Index < 0 || e.Index >= len(perImage) {
			outResults[ri] = e
			continue
		}
		p := perImage[e.Index]

		newEntry := e
		newEntry.SampleResults = make([]Detection, len(e.SampleResults))
		for di, det := range e.SampleResults {
			nd := rotateDetection(det, p.currentToNew, p.negAngle)
			nd.MaskRLE = nil
			nd.WithMask = false
			newEntry.SampleResults[di] = nd
		}
		outResults[ri] = newEntry
	}

	return ModuleIO{Main: ModuleChannel{ImageList: outImages, ResultList: outResults}}, nil
}

func init() {
	Register("features/image_rotate_by_cls", newImageRotateByClassificationModule)
	Register("features/rbox_correction", newRboxCorrectionModule)
}
