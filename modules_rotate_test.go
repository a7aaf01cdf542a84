package openivs

import (
	"math"
	"testing"
)

// TestRotateAxisAlignedBBox180 reproduces SPEC_FULL.md's worked example: a
// 180-degree rotation of [10,20,30,40] inside a 100x100 frame must land at
// [60,40,30,40], not the exclusive-corner [59,39,30,40].
func TestRotateAxisAlignedBBox180(t *testing.T) {
	affine, _, _ := RotationAffineCCW(2, 100, 100)
	x, y, w, h := rotateAxisAlignedBBox(10, 20, 30, 40, affine)
	if x != 60 || y != 40 || w != 30 || h != 40 {
		t.Fatalf("got [%v %v %v %v], want [60 40 30 40]", x, y, w, h)
	}
}

func TestRotateAxisAlignedBBoxIdentity(t *testing.T) {
	identity, _, _ := RotationAffineCCW(0, 100, 100)
	x, y, w, h := rotateAxisAlignedBBox(10, 20, 30, 40, identity)
	if x != 10 || y != 20 || w != 30 || h != 40 {
		t.Fatalf("identity rotation must be a no-op, got [%v %v %v %v]", x, y, w, h)
	}
}

func TestImageRotateByClassificationQuarterTurns(t *testing.T) {
	node := &Node{ID: 1, Properties: map[string]interface{}{
		"rotate90_labels":  []interface{}{"cw"},
		"rotate180_labels": []interface{}{"upside_down"},
		"rotate270_labels": []interface{}{"ccw"},
	}}
	mod := newImageRotateByClassificationModule(node, NewExecutionContext()).(*imageRotateByClassificationModule)

	cases := map[string]int{"cw": 1, "upside_down": 2, "ccw": 3, "unknown": 0, "": 0}
	for label, want := range cases {
		if got := mod.quarterTurns(label); got != want {
			t.Errorf("quarterTurns(%q) = %d, want %d", label, got, want)
		}
	}
}

func TestImageRotateByClassificationRotatesImageAndBbox(t *testing.T) {
	node := &Node{ID: 1, Properties: map[string]interface{}{
		"rotate180_labels": []interface{}{"flip"},
	}}
	mod := newImageRotateByClassificationModule(node, NewExecutionContext()).(*imageRotateByClassificationModule)

	img := &ModuleImage{State: Identity(100, 100)}
	classLane := ModuleChannel{
		ResultList: []ResultEntry{{Index: 0, SampleResults: []Detection{{CategoryName: "flip"}}}},
	}

	mod.ExtraInputsIn = []ModuleChannel{classLane}
	out, err := mod.Process(ModuleChannel{
		ImageList:  []*ModuleImage{img},
		ResultList: []ResultEntry{{Index: 0, OriginIndex: 0, SampleResults: []Detection{{Bbox: []float64{10, 20, 30, 40}, WithBbox: true}}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Main.ImageList) != 1 {
		t.Fatalf("expected 1 output image")
	}
	w, h := out.Main.ImageList[0].Bounds()
	if w != 100 || h != 100 {
		t.Fatalf("180 rotation must preserve dims, got %d,%d", w, h)
	}

	det := out.Main.ResultList[0].SampleResults[0]
	if det.Bbox[0] != 60 || det.Bbox[1] != 40 || det.Bbox[2] != 30 || det.Bbox[3] != 40 {
		t.Fatalf("unexpected rotated bbox: %v", det.Bbox)
	}
}

func TestRboxCorrectionDropsMask(t *testing.T) {
	mod := newRboxCorrectionModule(&Node{ID: 1}, NewExecutionContext()).(*rboxCorrectionModule)
	img := &ModuleImage{State: Identity(50, 50)}
	mask := MaskInfo{Width: 2, Height: 2, Runs: []int{0, 4}}
	out, err := mod.Process(ModuleChannel{
		ImageList: []*ModuleImage{img},
		ResultList: []ResultEntry{{
			Index: 0, SampleResults: []Detection{{Bbox: []float64{5, 5, 10, 10}, WithBbox: true, MaskRLE: &mask, WithMask: true}},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Main.ResultList[0].SampleResults[0].MaskRLE != nil {
		t.Fatalf("rbox_correction must drop mask_rle")
	}
}

func TestTransformSignatureStable(t *testing.T) {
	s1 := Identity(100, 100)
	s2 := Identity(100, 100)
	if transformSignature(s1) != transformSignature(s2) {
		t.Fatalf("two identity states of the same size must share a signature")
	}
	s3 := Identity(100, 100).DeriveChild([6]float64{1, 0, -1, 0, 1, 0}, 99, 100)
	if transformSignature(s1) == transformSignature(s3) {
		t.Fatalf("a cropped state must not collide with identity's signature")
	}
	_ = math.Pi
}
