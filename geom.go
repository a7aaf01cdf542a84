package openivs

import "math"

// AABBFromQuad computes the floor/ceil axis-aligned bounding box enclosing
// four (x,y) points, matching the original's AABBFromPoly rounding rule.
func AABBFromQuad(pts [4][2]float64) (x1, y1, x2, y2 float64) {
	x1, y1 = pts[0][0], pts[0][1]
	x2, y2 = pts[0][0], pts[0][1]
	for _, p := range pts[1:] {
		x1 = math.Min(x1, p[0])
		y1 = math.Min(y1, p[1])
		x2 = math.Max(x2, p[0])
		y2 = math.Max(y2, p[1])
	}
	return math.Floor(x1), math.Floor(y1), math.Ceil(x2), math.Ceil(y2)
}

// RectCorners returns the four corners of an axis-aligned box in
// top-left, top-right, bottom-right, bottom-left order.
func RectCorners(x, y, w, h float64) [4][2]float64 {
	return [4][2]float64{
		{x, y},
		{x + w, y},
		{x + w, y + h},
		{x, y + h},
	}
}

// WrapAngle wraps a radian angle into [-pi, pi).
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// NormalizeAngleLe90 wraps a radian angle into (-pi/2, pi/2], the
// convention mask_to_rbox uses after swapping w/h to keep w >= h.
func NormalizeAngleLe90(a float64) float64 {
	for a <= -math.Pi/2 {
		a += math.Pi
	}
	for a > math.Pi/2 {
		a -= math.Pi
	}
	return a
}

// RotationAffineCCW returns the exact 2x3 affine for a CCW rotation of k
// quarter turns (k in {0,1,2,3}) of a W x H image, plus the resulting
// image size, matching §4.3's exact (no-interpolation) matrices.
func RotationAffineCCW(k int, w, h int) (affine [6]float64, newW, newH int) {
	switch ((k % 4) + 4) % 4 {
	case 1:
		return [6]float64{0, 1, 0, -1, 0, float64(w - 1)}, h, w
	case 2:
		return [6]float64{-1, 0, float64(w - 1), 0, -1, float64(h - 1)}, w, h
	case 3:
		return [6]float64{0, -1, float64(h - 1), 1, 0, 0}, h, w
	default:
		return [6]float64{1, 0, 0, 0, 1, 0}, w, h
	}
}

// RotationAffineDeg builds the 2x3 affine [cos -sin; sin cos] for `degrees`
// around center, the same linear part as
// getRotationMatrix2D(center, -degrees, 1.0), then translates so the center
// lands at the middle of an output canvas of size (newW, newH).
func RotationAffineDeg(cx, cy, degrees float64, newW, newH int) [6]float64 {
	rad := degrees * math.Pi / 180.0
	cosA, sinA := math.Cos(rad), math.Sin(rad)

	// Rotate around (cx,cy): x' = cosA*(x-cx) - sinA*(y-cy) + cx, etc.,
	// then shift so the (cx,cy) pivot lands at the center of the new
	// canvas.
	a0, a1 := cosA, -sinA
	a3, a4 := sinA, cosA
	tx := float64(newW)/2 - (a0*cx + a1*cy)
	ty := float64(newH)/2 - (a3*cx + a4*cy)

	return [6]float64{a0, a1, tx, a3, a4, ty}
}
