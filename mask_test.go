package openivs

import (
	"image"
	"image/color"
	"testing"
)

func checkerboard(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func TestEncodeDecodeMaskRoundTrip(t *testing.T) {
	src := checkerboard(6, 4)
	encoded := EncodeMask(src)
	if encoded.Width != 6 || encoded.Height != 4 {
		t.Fatalf("unexpected dims %d,%d", encoded.Width, encoded.Height)
	}
	if encoded.Runs[0] != 0 {
		t.Fatalf("first run must always be the zero-value run, got %d", encoded.Runs[0])
	}

	decoded := encoded.DecodeMask()
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			want := byte(0)
			if (x+y)%2 == 0 {
				want = 255
			}
			if got := decoded.GrayAt(x, y).Y; got != want {
				t.Fatalf("pixel (%d,%d): got %d want %d", x, y, got, want)
			}
		}
	}
}

func TestMaskArea(t *testing.T) {
	all := image.NewGray(image.Rect(0, 0, 3, 3))
	for i := range all.Pix {
		all.Pix[i] = 255
	}
	encoded := EncodeMask(all)
	if got := encoded.Area(); got != 9 {
		t.Fatalf("expected full area 9, got %d", got)
	}

	empty := image.NewGray(image.Rect(0, 0, 3, 3))
	if got := EncodeMask(empty).Area(); got != 0 {
		t.Fatalf("expected zero area, got %d", got)
	}
}

func TestMaskNonZeroPoints(t *testing.T) {
	single := image.NewGray(image.Rect(0, 0, 3, 3))
	single.SetGray(2, 1, color.Gray{Y: 255})
	pts := EncodeMask(single).NonZeroPoints()
	if len(pts) != 1 || pts[0].X != 2 || pts[0].Y != 1 {
		t.Fatalf("unexpected points %v", pts)
	}
}
