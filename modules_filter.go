package openivs

import (
	"image"
	"math"
)

// partitionResults walks every ResultEntry's detections through keep,
// splitting each entry's sample_results into a kept copy and a rejected
// copy (both preserving every other field) so the disjoint union of main
// and extra-output detections always equals the input (§8 invariant).
func partitionResults(entries []ResultEntry, keep func(Detection) bool) (kept, rejected []ResultEntry) {
	kept = make([]ResultEntry, len(entries))
	rejected = make([]ResultEntry, len(entries))
	for i, e := range entries {
		k, r := e, e
		k.SampleResults = nil
		r.SampleResults = nil
		for _, d := range e.SampleResults {
			if keep(d) {
				k.SampleResults = append(k.SampleResults, d)
			} else {
				r.SampleResults = append(r.SampleResults, d)
			}
		}
		kept[i], rejected[i] = k, r
	}
	return kept, rejected
}

func hasPositive(entries []ResultEntry) bool {
	for _, e := range entries {
		if len(e.SampleResults) > 0 {
			return true
		}
	}
	return false
}

// resultFilterModule is features/result_filter (§4.4): keeps detections
// whose category_name is in `categories` on the main channel, routes the
// rest to extra output 0, and publishes has_positive.
type resultFilterModule struct {
	BaseModule
	keepSet map[string]bool
}

func newResultFilterModule(node *Node, ec *ExecutionContext) Module {
	m := &resultFilterModule{BaseModule: NewBaseModule(node, ec)}
	m.keepSet = readLabelSet(m.Properties, "categories")
	return m
}

func (m *resultFilterModule) Process(in ModuleChannel) (ModuleIO, error) {
	kept, rejected := partitionResults(in.ResultList, func(d Detection) bool {
		return m.keepSet[d.CategoryName]
	})

	m.ScalarOutputsByName["has_positive"] = Scalar{Kind: ScalarBool, Value: hasPositive(kept)}

	return ModuleIO{
		Main:  ModuleChannel{ImageList: in.ImageList, ResultList: kept},
		Extra: []ModuleChannel{{ImageList: in.ImageList, ResultList: rejected}},
	}, nil
}

// rangeFilter is one optional min/max test in result_filter_advanced.
type rangeFilter struct {
	enabled  bool
	min, max float64
	hasMin   bool
	hasMax   bool
}

func readRangeFilter(props map[string]interface{}, prefix string) rangeFilter {
	b := BaseModule{Properties: props}
	rf := rangeFilter{enabled: b.ReadBool(prefix+"_enabled", false)}
	if v, ok := props[prefix+"_min"]; ok {
		rf.hasMin = true
		rf.min, _ = asFloat(v)
	}
	if v, ok := props[prefix+"_max"]; ok {
		rf.hasMax = true
		rf.max, _ = asFloat(v)
	}
	return rf
}

func (r rangeFilter) passes(v float64) bool {
	if !r.enabled {
		return true
	}
	if r.hasMin && v < r.min {
		return false
	}
	if r.hasMax && v > r.max {
		return false
	}
	return true
}

// resultFilterAdvancedModule is features/result_filter_advanced (§4.4):
// four independently-enabled min/max tests a detection must pass every
// one of to survive.
type resultFilterAdvancedModule struct {
	BaseModule
	bboxWH   rangeFilter
	rboxWH   rangeFilter
	bboxArea rangeFilter
	maskArea rangeFilter
}

func newResultFilterAdvancedModule(node *Node, ec *ExecutionContext) Module {
	m := &resultFilterAdvancedModule{BaseModule: NewBaseModule(node, ec)}
	m.bboxWH = readRangeFilter(m.Properties, "bbox_wh")
	m.rboxWH = readRangeFilter(m.Properties, "rbox_wh")
	m.bboxArea = readRangeFilter(m.Properties, "bbox_area")
	m.maskArea = readRangeFilter(m.Properties, "mask_area")
	return m
}

func (m *resultFilterAdvancedModule) keep(d Detection) bool {
	if m.bboxWH.enabled && !d.WithAngle && len(d.Bbox) >= 4 {
		if !m.bboxWH.passes(d.Bbox[2]) || !m.bboxWH.passes(d.Bbox[3]) {
			return false
		}
	}
	if m.rboxWH.enabled && d.WithAngle && len(d.Bbox) >= 4 {
		if !m.rboxWH.passes(d.Bbox[2]) || !m.rboxWH.passes(d.Bbox[3]) {
			return false
		}
	}
	if m.bboxArea.enabled && len(d.Bbox) >= 4 {
		if !m.bboxArea.passes(d.Bbox[2] * d.Bbox[3]) {
			return false
		}
	}
	if m.maskArea.enabled {
		area := 0.0
		if d.MaskRLE != nil {
			area = float64(d.MaskRLE.Area())
		}
		if !m.maskArea.passes(area) {
			return false
		}
	}
	return true
}

func (m *resultFilterAdvancedModule) Process(in ModuleChannel) (ModuleIO, error) {
	kept, rejected := partitionResults(in.ResultList, m.keep)
	m.ScalarOutputsByName["has_positive"] = Scalar{Kind: ScalarBool, Value: hasPositive(kept)}
	return ModuleIO{
		Main:  ModuleChannel{ImageList: in.ImageList, ResultList: kept},
		Extra: []ModuleChannel{{ImageList: in.ImageList, ResultList: rejected}},
	}, nil
}

// resultFilterRegionModule is features/result_filter_region (§4.4): keeps
// detections whose bbox (AABB for rotated) intersects a rectangular ROI
// and, if they carry a mask, whose mask patch has a non-zero pixel inside
// the ROI.
type resultFilterRegionModule struct {
	BaseModule
	roi image.Rectangle
}

func newResultFilterRegionModule(node *Node, ec *ExecutionContext) Module {
	m := &resultFilterRegionModule{BaseModule: NewBaseModule(node, ec)}
	x, y := m.ReadInt("x", 0), m.ReadInt("y", 0)
	w, h := m.ReadInt("w", 0), m.ReadInt("h", 0)
	m.roi = image.Rect(x, y, x+w, y+h)
	return m
}

func (m *resultFilterRegionModule) keep(d Detection) bool {
	if len(d.Bbox) < 4 {
		return false
	}
	var box image.Rectangle
	if d.WithAngle && len(d.Bbox) == 5 {
		cx, cy, w, h, angle := d.Bbox[0], d.Bbox[1], d.Bbox[2], d.Bbox[3], d.Bbox[4]
		corners := rotatedCorners(cx, cy, w, h, angle)
		x1, y1, x2, y2 := AABBFromQuad(corners)
		box = image.Rect(int(x1), int(y1), int(x2), int(y2))
	} else {
		x, y, w, h := d.Bbox[0], d.Bbox[1], d.Bbox[2], d.Bbox[3]
		box = image.Rect(int(x), int(y), int(x+w), int(y+h))
	}

	inter := box.Intersect(m.roi)
	if inter.Empty() {
		return false
	}
	if d.MaskRLE == nil {
		return true
	}
	return maskPatchHitsROI(*d.MaskRLE, box, m.roi)
}

// rotatedCorners returns the four corners of a rotated box [cx,cy,w,h,angle].
func rotatedCorners(cx, cy, w, h, angle float64) [4][2]float64 {
	cosA, sinA := math.Cos(angle), math.Sin(angle)
	hw, hh := w/2, h/2
	local := [4][2]float64{{-hw, -hh}, {hw, -hh}, {hw, hh}, {-hw, hh}}
	var out [4][2]float64
	for i, p := range local {
		out[i][0] = cx + p[0]*cosA - p[1]*sinA
		out[i][1] = cy + p[0]*sinA + p[1]*cosA
	}
	return out
}

// maskPatchHitsROI resizes the mask's dense bitmap onto box and checks for
// any non-zero pixel inside the overlap with roi.
func maskPatchHitsROI(mask MaskInfo, box, roi image.Rectangle) bool {
	dense := mask.DecodeMask()
	inter := box.Intersect(roi)
	if inter.Empty() || box.Dx() == 0 || box.Dy() == 0 {
		return false
	}
	sx := float64(mask.Width) / float64(box.Dx())
	sy := float64(mask.Height) / float64(box.Dy())
	for y := inter.Min.Y; y < inter.Max.Y; y++ {
		my := int(float64(y-box.Min.Y) * sy)
		if my < 0 || my >= mask.Height {
			continue
		}
		for x := inter.Min.X; x < inter.Max.X; x++ {
			mx := int(float64(x-box.Min.X) * sx)
			if mx < 0 || mx >= mask.Width {
				continue
			}
			if dense.GrayAt(mx, my).Y != 0 {
				return true
			}
		}
	}
	return false
}

func (m *resultFilterRegionModule) Process(in ModuleChannel) (ModuleIO, error) {
	kept, rejected := partitionResults(in.ResultList, m.keep)
	m.ScalarOutputsByName["has_positive"] = Scalar{Kind: ScalarBool, Value: hasPositive(kept)}
	return ModuleIO{
		Main:  ModuleChannel{ImageList: in.ImageList, ResultList: kept},
		Extra: []ModuleChannel{{ImageList: in.ImageList, ResultList: rejected}},
	}, nil
}

func init() {
	Register("features/result_filter", newResultFilterModule)
	Register("features/result_filter_advanced", newResultFilterAdvancedModule)
	Register("features/result_filter_region", newResultFilterRegionModule)
}
