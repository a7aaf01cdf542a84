package openivs

import (
	"image"
	"image/draw"
)

// subImager is satisfied by every stdlib image type this executor produces
// (RGBA, NRGBA, Gray); cropImage takes the zero-copy path through it when
// available, matching the "SubImage zero-copy crops via a local subImager
// interface" pattern the vision example in the pack converges on (§2b).
type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// cropImage returns the pixels of src within r, clipped to src's bounds.
// When src supports SubImage the result aliases src's backing array (no
// copy); otherwise the pixels are copied into a fresh RGBA.
func cropImage(src image.Image, r image.Rectangle) image.Image {
	b := src.Bounds()
	r = r.Intersect(b)
	if r.Empty() {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	if si, ok := src.(subImager); ok {
		return si.SubImage(r)
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), src, r.Min, draw.Src)
	return out
}

// flipHorizontal mirrors src left-right into a freshly allocated image.
func flipHorizontal(src image.Image) image.Image {
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(b.Dx()-1-x, y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// flipVertical mirrors src top-bottom into a freshly allocated image.
func flipVertical(src image.Image) image.Image {
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, b.Dy()-1-y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// rotateCCW90 rotates src by k quarter turns counter-clockwise using exact
// pixel correspondence (no interpolation), matching §4.3's "exact (no
// interpolation when k=0)" affine family.
func rotateCCW90(src image.Image, k int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	switch ((k % 4) + 4) % 4 {
	case 0:
		return cropImage(src, b)
	case 2:
		out := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Set(w-1-x, h-1-y, src.At(b.Min.X+x, b.Min.Y+y))
			}
		}
		return out
	case 1:
		out := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				// affine (90 CCW): x' = y, y' = W-1-x
				out.Set(y, w-1-x, src.At(b.Min.X+x, b.Min.Y+y))
			}
		}
		return out
	default: // 3
		out := image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				// affine (270 CCW): x' = H-1-y, y' = x
				out.Set(h-1-y, x, src.At(b.Min.X+x, b.Min.Y+y))
			}
		}
		return out
	}
}

// warpAffine resamples src through the forward mapping currentToNew
// (current-frame point -> new-frame point) into a newW x newH canvas.
// Source samples falling outside src's bounds are zero-filled (the Go
// analogue of warpAffine's default border, preserved per §9's documented
// open-question decision). Nearest-neighbor: the original source is not
// in the pack and no interpolation-accuracy invariant is tested (§8).
func warpAffine(src image.Image, currentToNew [6]float64, newW, newH int) image.Image {
	inv := Inverse2x3(currentToNew)
	b := src.Bounds()

	out := image.NewRGBA(image.Rect(0, 0, newW, newH))
	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {
			sx, sy := ApplyPoint(inv, float64(x)+0.5, float64(y)+0.5)
			ix, iy := int(sx), int(sy)
			if ix < 0 || iy < 0 || ix >= b.Dx() || iy >= b.Dy() {
				continue // zero-filled (transparent black) border
			}
			out.Set(x, y, src.At(b.Min.X+ix, b.Min.Y+iy))
		}
	}
	return out
}

// toBGRConvertible returns an RGBA copy of a Gray, RGBA or NRGBA image for
// SaveImage's encoders (§4.7); any other image type is returned unchanged.
func toBGRConvertible(img image.Image) image.Image {
	switch img.(type) {
	case *image.Gray, *image.RGBA, *image.NRGBA:
		b := img.Bounds()
		out := image.NewRGBA(b)
		draw.Draw(out, b, img, b.Min, draw.Src)
		return out
	default:
		return img
	}
}
