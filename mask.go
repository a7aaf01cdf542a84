package openivs

import "image"

// MaskInfo is the row-major, bitmap-boolean, first-run-always-zero RLE
// codec described in §4.2: runs alternate 0,1,0,1... starting at 0.
type MaskInfo struct {
	Width  int   `json:"width"`
	Height int   `json:"height"`
	Runs   []int `json:"runs"`
}

// EncodeMask normalizes src to single-channel (pixel != 0 -> 1) and RLE
// encodes it in raster order.
func EncodeMask(src image.Image) MaskInfo {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	runs := make([]int, 0, 64)
	value := 0
	count := 0

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bit := pixelBit(src, b.Min.X+x, b.Min.Y+y)
			if bit == value {
				count++
				continue
			}
			runs = append(runs, count)
			value = bit
			count = 1
		}
	}
	runs = append(runs, count)

	return MaskInfo{Width: w, Height: h, Runs: runs}
}

func pixelBit(img image.Image, x, y int) int {
	r, g, bch, _ := img.At(x, y).RGBA()
	if r|g|bch != 0 {
		return 1
	}
	return 0
}

// DecodeMask reproduces the dense bitmap as an *image.Gray (0 or 255),
// clipped to width*height pixels.
func (m MaskInfo) DecodeMask() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	total := m.Width * m.Height

	pos := 0
	for i, run := range m.Runs {
		value := byte(0)
		if i%2 == 1 {
			value = 255
		}
		for k := 0; k < run && pos < total; k++ {
			out.Pix[pos] = value
			pos++
		}
		if pos >= total {
			break
		}
	}

	return out
}

// Area sums the odd-indexed (value==1) run lengths.
func (m MaskInfo) Area() int {
	area := 0
	for i := 1; i < len(m.Runs); i += 2 {
		area += m.Runs[i]
	}
	return area
}

// NonZeroPoints enumerates every 1-valued pixel's (x,y) in raster order.
func (m MaskInfo) NonZeroPoints() []image.Point {
	pts := make([]image.Point, 0, m.Area())
	pos := 0
	for i, run := range m.Runs {
		if i%2 == 1 {
			for k := 0; k < run; k++ {
				idx := pos + k
				if idx >= m.Width*m.Height {
					break
				}
				pts = append(pts, image.Point{X: idx % m.Width, Y: idx / m.Width})
			}
		}
		pos += run
	}
	return pts
}
