package openivs

import (
	"context"
	"image"
	"testing"
)

func intPtr(v int) *int { return &v }

func newTestImage(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func link(id int) Port {
	return Port{Name: "in", Type: PortImageChan, Link: intPtr(id)}
}

func resLink(id int) Port {
	return Port{Name: "in", Type: PortResultChan, Link: intPtr(id)}
}

func outPorts(linkIDs ...int) Port {
	return Port{Name: "out", Type: PortImageChan, Links: linkIDs}
}

// TestClassificationPipelineEndToEnd exercises spec §8 scenario 1: a single
// input/frontend_image -> model/cls -> output/return_json graph must yield
// one by-image payload with the fake backend's detection reprojected
// unchanged (identity transform).
func TestClassificationPipelineEndToEnd(t *testing.T) {
	nodes := []*Node{
		{
			ID: 1, Type: "input/frontend_image", Order: intPtr(0),
			Outputs: []Port{outPorts(10), {Name: "results", Type: PortResultChan, Links: []int{11}}},
		},
		{
			ID: 2, Type: "model/cls", Order: intPtr(1),
			Properties: map[string]interface{}{"model_path": "fake.onnx"},
			Inputs:     []Port{link(10), resLink(11)},
			Outputs:    []Port{outPorts(20), {Name: "results", Type: PortResultChan, Links: []int{21}}},
		},
		{
			ID: 3, Type: "output/return_json", Order: intPtr(2),
			Inputs: []Port{link(20), resLink(21)},
		},
	}
	g := &Graph{Nodes: nodes}

	ec := NewExecutionContext()
	pool := newModelPool(defaultBackendFactory)
	ec.Set(ctxModelPool, pool)

	exec := NewExecutor(g)
	report := exec.LoadModels(context.Background(), ec)
	if report.Code != 0 {
		t.Fatalf("pre-load failed: %s", report.Message)
	}

	ec.Set(ctxFrontendImageMat, newTestImage(200, 150))
	_, err := exec.Run(context.Background(), ec)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	payload, ok := Get[[]originalPayload](ec, ctxFrontendJSONLast)
	if !ok {
		t.Fatalf("no frontend_json.last payload written")
	}
	if len(payload) != 1 {
		t.Fatalf("expected 1 by-image entry, got %d", len(payload))
	}
	if payload[0].OriginalSize != [2]int{200, 150} {
		t.Fatalf("unexpected original_size %v", payload[0].OriginalSize)
	}
	if len(payload[0].Results) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(payload[0].Results))
	}
	bbox, ok := payload[0].Results[0]["bbox"].([]float64)
	if !ok || len(bbox) != 4 {
		t.Fatalf("expected axis-aligned bbox, got %v", payload[0].Results[0]["bbox"])
	}
	// fakeBackend reports [0,0,w/4,h/4] in the identity frame; return_json
	// floor/ceils the transformed corners to an enclosing XYXY box (§4.3
	// AABBFromQuad), so 150/4=37.5 rounds up to 38.
	want := []float64{0, 0, 50, 38}
	for i := range want {
		if bbox[i] != want[i] {
			t.Fatalf("bbox[%d] = %v, want %v", i, bbox[i], want[i])
		}
	}
}

// TestEmptyGraphProducesEmptyPayload exercises §8's quantified invariant:
// a graph without model/* or input/frontend_image nodes run against an
// empty context produces no by-image entries.
func TestEmptyGraphProducesEmptyPayload(t *testing.T) {
	nodes := []*Node{
		{ID: 1, Type: "output/return_json", Order: intPtr(0)},
	}
	g := &Graph{Nodes: nodes}
	ec := NewExecutionContext()

	_, err := NewExecutor(g).Run(context.Background(), ec)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	payload, ok := Get[[]originalPayload](ec, ctxFrontendJSONLast)
	if !ok {
		t.Fatalf("expected a (possibly empty) payload to be written")
	}
	if len(payload) != 0 {
		t.Fatalf("expected empty payload, got %d entries", len(payload))
	}
}

// TestFilterFanOutDisjointUnion exercises spec §8 scenario 4: a
// features/result_filter node's main and extra-0 outputs must partition
// the input detections disjointly, and has_positive must reflect the main
// channel's contents.
func TestFilterFanOutDisjointUnion(t *testing.T) {
	in := ModuleChannel{
		ImageList: []*ModuleImage{{State: Identity(10, 10)}},
		ResultList: []ResultEntry{
			{Index: 0, OriginIndex: 0, SampleResults: []Detection{
				{CategoryName: "ok"}, {CategoryName: "ng"}, {CategoryName: "ok"},
			}},
		},
	}

	node := &Node{ID: 1, Properties: map[string]interface{}{"categories": []interface{}{"ok"}}}
	mod := newResultFilterModule(node, NewExecutionContext())
	out, err := mod.Process(in)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	mainCount := len(out.Main.ResultList[0].SampleResults)
	extraCount := len(out.Extra[0].ResultList[0].SampleResults)
	if mainCount != 2 {
		t.Fatalf("expected 2 kept detections, got %d", mainCount)
	}
	if extraCount != 1 {
		t.Fatalf("expected 1 rejected detection, got %d", extraCount)
	}
	if mainCount+extraCount != len(in.ResultList[0].SampleResults) {
		t.Fatalf("main+extra must equal input count: %d+%d != %d", mainCount, extraCount, len(in.ResultList[0].SampleResults))
	}

	base, ok := moduleBase(mod)
	if !ok {
		t.Fatalf("expected module to embed BaseModule")
	}
	hp, ok := base.ScalarOutputsByName["has_positive"]
	if !ok || hp.Value != true {
		t.Fatalf("expected has_positive=true, got %v", hp)
	}
}

// TestSlidingWindowThenMergeRoundTrip exercises spec §8's sliding-window
// invariant: the number of originals emerging from sliding_merge equals the
// number of originals entering sliding_window, and detection counts survive
// the trip through per-tile frames and back.
func TestSlidingWindowThenMergeRoundTrip(t *testing.T) {
	root := &ModuleImage{Image: newTestImage(128, 64), Original: newTestImage(128, 64), State: Identity(128, 64)}

	swNode := &Node{ID: 1, Properties: map[string]interface{}{
		"window_size": []interface{}{64, 64},
		"overlap":     []interface{}{0, 0},
	}}
	sw := newSlidingWindowModule(swNode, NewExecutionContext())
	tiles, err := sw.Process(ModuleChannel{ImageList: []*ModuleImage{root}})
	if err != nil {
		t.Fatalf("sliding_window failed: %v", err)
	}
	if len(tiles.Main.ImageList) != 2 {
		t.Fatalf("expected 2 tiles for a 128x64 image with 64x64 windows, got %d", len(tiles.Main.ImageList))
	}

	// Simulate a detector attaching one detection per tile, in the tile's
	// own frame.
	var detResults []ResultEntry
	for i, tile := range tiles.Main.ImageList {
		st := tile.State
		detResults = append(detResults, ResultEntry{
			Index: i, OriginIndex: tile.OriginalIndex, Transform: &st,
			SampleResults: []Detection{{CategoryName: "ok", Bbox: []float64{1, 1, 2, 2}}},
		})
	}

	mergeIn := ModuleChannel{
		ImageList:  append([]*ModuleImage{root}, tiles.Main.ImageList...),
		ResultList: detResults,
	}
	merge := newSlidingMergeModule(&Node{ID: 2}, NewExecutionContext())
	merged, err := merge.Process(mergeIn)
	if err != nil {
		t.Fatalf("sliding_merge failed: %v", err)
	}

	if len(merged.Main.ImageList) != 1 {
		t.Fatalf("expected 1 original to emerge from merge, got %d", len(merged.Main.ImageList))
	}
	if len(merged.Main.ResultList[0].SampleResults) != len(tiles.Main.ImageList) {
		t.Fatalf("expected %d merged detections, got %d", len(tiles.Main.ImageList), len(merged.Main.ResultList[0].SampleResults))
	}
}
