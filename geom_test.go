package openivs

import (
	"math"
	"testing"
)

func TestAABBFromQuad(t *testing.T) {
	pts := [4][2]float64{{1.2, 2.8}, {5.1, 2.8}, {5.1, 9.9}, {1.2, 9.9}}
	x1, y1, x2, y2 := AABBFromQuad(pts)
	if x1 != 1 || y1 != 2 || x2 != 6 || y2 != 10 {
		t.Fatalf("got %v,%v,%v,%v", x1, y1, x2, y2)
	}
}

func TestWrapAngle(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{math.Pi, -math.Pi},
		{3 * math.Pi, -math.Pi},
		{-3 * math.Pi, -math.Pi},
	}
	for _, c := range cases {
		got := WrapAngle(c.in)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("WrapAngle(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNormalizeAngleLe90(t *testing.T) {
	got := NormalizeAngleLe90(math.Pi)
	if math.Abs(got) > 1e-9 {
		t.Fatalf("got %v", got)
	}
	if got := NormalizeAngleLe90(0.1); math.Abs(got-0.1) > 1e-9 {
		t.Fatalf("expected near-identity for small angle, got %v", got)
	}
}

func TestRotationAffineCCW(t *testing.T) {
	affine, newW, newH := RotationAffineCCW(1, 100, 50)
	if newW != 50 || newH != 100 {
		t.Fatalf("90deg CCW should swap dims, got %d,%d", newW, newH)
	}
	x, y := ApplyPoint(affine, 0, 0)
	if x != 0 || y != 99 {
		t.Fatalf("top-left corner should map to (0,h-1)=(0,99), got (%v,%v)", x, y)
	}

	identity, w, h := RotationAffineCCW(0, 100, 50)
	if w != 100 || h != 50 {
		t.Fatalf("k=0 must preserve size")
	}
	if x, y := ApplyPoint(identity, 7, 3); x != 7 || y != 3 {
		t.Fatalf("k=0 must be exact identity, got (%v,%v)", x, y)
	}
}

func TestInverse2x3RoundTrip(t *testing.T) {
	a := [6]float64{2, 0, 5, 0, 2, -3}
	inv := Inverse2x3(a)
	x, y := ApplyPoint(a, 10, 20)
	bx, by := ApplyPoint(inv, x, y)
	if math.Abs(bx-10) > 1e-9 || math.Abs(by-20) > 1e-9 {
		t.Fatalf("round trip failed: got (%v,%v)", bx, by)
	}
}

func TestInverse2x3Degenerate(t *testing.T) {
	singular := [6]float64{0, 0, 5, 0, 0, 5}
	inv := Inverse2x3(singular)
	if inv != (([6]float64{1, 0, 0, 0, 1, 0})) {
		t.Fatalf("degenerate matrix must fall back to identity, got %v", inv)
	}
}
