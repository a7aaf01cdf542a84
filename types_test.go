package openivs

import (
	"math"
	"testing"
)

func TestIdentityIsIdentity(t *testing.T) {
	s := Identity(100, 50)
	if !s.IsIdentity() {
		t.Fatalf("a freshly decoded original must report IsIdentity")
	}
	if s.OriginalWidth != 100 || s.OriginalHeight != 50 {
		t.Fatalf("unexpected original size")
	}
}

func TestDeriveChildComposesParentAffine(t *testing.T) {
	root := Identity(100, 100)
	crop := root.DeriveChild([6]float64{1, 0, -10, 0, 1, -20}, 50, 50)
	if crop.IsIdentity() {
		t.Fatalf("a derived child must not report IsIdentity")
	}

	flip := crop.DeriveChild([6]float64{-1, 0, 49, 0, 1, 0}, 50, 50)

	// crop maps (15,25) -> (5,5); flip then maps (5,5) -> (44,5).
	x, y := ApplyPoint(flip.AffineOrIdentity(), 15, 25)
	if math.Abs(x-44) > 1e-9 || math.Abs(y-5) > 1e-9 {
		t.Fatalf("composed transform mismatch: got (%v,%v)", x, y)
	}
	if flip.OriginalWidth != 100 || flip.OriginalHeight != 100 {
		t.Fatalf("original size must survive composition, got %d,%d", flip.OriginalWidth, flip.OriginalHeight)
	}
}

func TestTransformJSONRoundTrip(t *testing.T) {
	s := Identity(200, 100).DeriveChild([6]float64{1, 0, -5, 0, 1, -5}, 190, 90)
	raw, err := s.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	back := TransformFromJSON(raw)
	if back.Width != 190 || back.Height != 90 {
		t.Fatalf("unexpected round-tripped size: %d,%d", back.Width, back.Height)
	}
	if back.AffineOrIdentity() != s.AffineOrIdentity() {
		t.Fatalf("affine mismatch after round trip")
	}
}

func TestTransformFromJSONMalformedIsIdentity(t *testing.T) {
	back := TransformFromJSON([]byte("not json"))
	if !back.IsIdentity() {
		t.Fatalf("malformed input must decode to identity, not an error")
	}

	back2 := TransformFromJSON(nil)
	if !back2.IsIdentity() {
		t.Fatalf("empty input must decode to identity")
	}
}

func TestNewDetectionHasAngleSentinel(t *testing.T) {
	d := NewDetection()
	if d.Angle != UnsetAngle {
		t.Fatalf("expected unset angle sentinel, got %v", d.Angle)
	}
}
