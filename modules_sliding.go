package openivs

import (
	"image"
)

// slidingWindowModule is features/sliding_window (§4.3): tiles the current
// image into a grid of window_size tiles overlapped by `overlap`, with the
// last tile in each dimension right-aligned so no tile extends beyond the
// frame.
type slidingWindowModule struct {
	BaseModule
	winW, winH         int
	overlapX, overlapY int
	minSize            int
}

func newSlidingWindowModule(node *Node, ec *ExecutionContext) Module {
	m := &slidingWindowModule{BaseModule: NewBaseModule(node, ec)}
	m.winW, m.winH = m.ReadIntPair("window_size", 256, 256)
	m.overlapX, m.overlapY = m.ReadIntPair("overlap", 0, 0)
	m.minSize = m.ReadInt("min_size", 1)
	return m
}

func (m *slidingWindowModule) Process(in ModuleChannel) (ModuleIO, error) {
	var outImages []*ModuleImage
	var outResults []ResultEntry

	for _, img := range in.ImageList {
		w, h := img.Bounds()

		tileW, tileH := minInt(m.winW, w), minInt(m.winH, h)
		if tileW < 1 || tileH < 1 {
			continue
		}

		strideX := maxInt(1, m.winW-m.overlapX)
		strideY := maxInt(1, m.winH-m.overlapY)
		cols := ceilDiv(w, strideX)
		rows := ceilDiv(h, strideY)

		for r := 0; r < rows; r++ {
			startY := clampInt(r*strideY, 0, maxInt(h-tileH, 0))
			for c := 0; c < cols; c++ {
				startX := clampInt(c*strideX, 0, maxInt(w-tileW, 0))

				if tileW < m.minSize || tileH < m.minSize {
					continue
				}

				currentToNew := [6]float64{1, 0, -float64(startX), 0, 1, -float64(startY)}
				child := img.State.DeriveChild(currentToNew, tileW, tileH)

				var tileImg image.Image
				if img.Image != nil {
					tileImg = cropImage(img.Image, image.Rect(startX, startY, startX+tileW, startY+tileH))
				}

				idx := len(outImages)
				outImages = append(outImages, &ModuleImage{
					Image: tileImg, Original: img.Original, State: child, OriginalIndex: img.OriginalIndex,
				})
				outResults = append(outResults, ResultEntry{
					Type:        "local",
					Index:       idx,
					OriginIndex: img.OriginalIndex,
					Transform:   &child,
					Extra: map[string]interface{}{
						"sliding_meta": map[string]interface{}{
							"grid_x":      c,
							"grid_y":      r,
							"grid_size":   [2]int{cols, rows},
							"win_size":    [2]int{m.winW, m.winH},
							"slice_index": [2]int{r, c},
							"x":           startX,
							"y":           startY,
							"w":           tileW,
							"h":           tileH,
						},
					},
				})
			}
		}
	}

	return ModuleIO{Main: ModuleChannel{ImageList: outImages, ResultList: outResults}}, nil
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		b = 1
	}
	if a <= 0 {
		return 1
	}
	return (a + b - 1) / b
}

// slidingMergeModule is features/sliding_merge (§4.3): regroups tile-level
// detections back onto their owning original image. Inputs whose
// transform is identity (the originals, typically fed alongside the tile
// stream into the same pair) become the output images; every
// sample_results sharing an origin_index is concatenated into one output
// entry with transform=nil, ready for the terminal coordinate map.
//
// Per §9's documented open-question decision, an origin_index that has
// tile detections but no matching original in the input image list is
// silently dropped rather than preserved un-projected.
type slidingMergeModule struct {
	BaseModule
}

func newSlidingMergeModule(node *Node, ec *ExecutionContext) Module {
	return &slidingMergeModule{BaseModule: NewBaseModule(node, ec)}
}

func (m *slidingMergeModule) Process(in ModuleChannel) (ModuleIO, error) {
	originals := map[int]*ModuleImage{}
	var order []int
	for _, img := range in.ImageList {
		if img.State.IsIdentity() {
			if _, seen := originals[img.OriginalIndex]; !seen {
				order = append(order, img.OriginalIndex)
			}
			originals[img.OriginalIndex] = img
		}
	}

	grouped := map[int][]Detection{}
	for _, e := range in.ResultList {
		grouped[e.OriginIndex] = append(grouped[e.OriginIndex], e.SampleResults...)
	}

	var outImages []*ModuleImage
	var outResults []ResultEntry
	for _, originIdx := range order {
		img := originals[originIdx]
		idx := len(outImages)
		outImages = append(outImages, img)
		outResults = append(outResults, ResultEntry{
			Type:          "local",
			Index:         idx,
			OriginIndex:   originIdx,
			Transform:     nil,
			SampleResults: grouped[originIdx],
		})
	}

	return ModuleIO{Main: ModuleChannel{ImageList: outImages, ResultList: outResults}}, nil
}

func init() {
	Register("features/sliding_window", newSlidingWindowModule)
	Register("features/sliding_merge", newSlidingMergeModule)
}
