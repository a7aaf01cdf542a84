package openivs

import (
	"image"
	"math"
)

// maskToRotatedBoxModule is features/mask_to_rbox (§4.6): replaces every
// masked detection's bbox with the minimum-area rotated rectangle of its
// mask's non-zero pixels. Detections without a mask are dropped.
type maskToRotatedBoxModule struct {
	BaseModule
}

func newMaskToRotatedBoxModule(node *Node, ec *ExecutionContext) Module {
	return &maskToRotatedBoxModule{BaseModule: NewBaseModule(node, ec)}
}

func (m *maskToRotatedBoxModule) Process(in ModuleChannel) (ModuleIO, error) {
	out := make([]ResultEntry, len(in.ResultList))
	for i, e := range in.ResultList {
		var bboxOriginX, bboxOriginY float64
		if len(e.SampleResults) == 0 {
			out[i] = e
			continue
		}

		newEntry := e
		newEntry.SampleResults = nil
		for _, d := range e.SampleResults {
			if d.MaskRLE == nil {
				continue
			}
			if len(d.Bbox) >= 2 {
				bboxOriginX, bboxOriginY = d.Bbox[0], d.Bbox[1]
			}
			pts := d.MaskRLE.NonZeroPoints()
			if len(pts) == 0 {
				continue
			}
			cx, cy, w, h, angle := minAreaRect(pts)
			d.Bbox = []float64{cx + bboxOriginX, cy + bboxOriginY, w, h, angle}
			d.WithAngle = true
			d.Angle = angle
			d.MaskRLE = nil
			d.WithMask = false
			newEntry.SampleResults = append(newEntry.SampleResults, d)
		}
		out[i] = newEntry
	}
	return ModuleIO{Main: ModuleChannel{ImageList: in.ImageList, ResultList: out}}, nil
}

type point2 struct{ X, Y float64 }

// convexHull computes the convex hull of pts via Andrew's monotone chain,
// returning vertices in counter-clockwise order.
func convexHull(pts []point2) []point2 {
	if len(pts) < 3 {
		return pts
	}
	sorted := append([]point2(nil), pts...)
	for i := 1; i < len(sorted); i++ {
		j := i
		for j > 0 && (sorted[j-1].X > sorted[j].X || (sorted[j-1].X == sorted[j].X && sorted[j-1].Y > sorted[j].Y)) {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
			j--
		}
	}

	cross := func(o, a, b point2) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}

	lower := make([]point2, 0, len(sorted))
	for _, p := range sorted {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}
	upper := make([]point2, 0, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		p := sorted[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}
	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

// minAreaRect computes the minimum-area rectangle enclosing pts via
// rotating calipers over the convex hull: one edge of the optimal
// rectangle always lies flush with a hull edge, so trying every hull
// edge's orientation and keeping the smallest-area fit finds the optimum.
// Returns center (cx,cy), size (w,h) with w>=h, and angle normalized to
// (-pi/2, pi/2].
func minAreaRect(mpts []image.Point) (cx, cy, w, h, angle float64) {
	pts := make([]point2, len(mpts))
	for i, p := range mpts {
		pts[i] = point2{X: float64(p.X) + 0.5, Y: float64(p.Y) + 0.5}
	}
	hull := convexHull(pts)
	if len(hull) == 0 {
		return 0, 0, 0, 0, 0
	}
	if len(hull) == 1 {
		return hull[0].X, hull[0].Y, 1, 1, 0
	}
	if len(hull) == 2 {
		dx, dy := hull[1].X-hull[0].X, hull[1].Y-hull[0].Y
		length := math.Hypot(dx, dy)
		a := math.Atan2(dy, dx)
		return (hull[0].X + hull[1].X) / 2, (hull[0].Y + hull[1].Y) / 2, length, 1, NormalizeAngleLe90(a)
	}

	bestArea := math.Inf(1)
	var bestCx, bestCy, bestW, bestH, bestAngle float64

	n := len(hull)
	for i := 0; i < n; i++ {
		p0, p1 := hull[i], hull[(i+1)%n]
		edgeAngle := math.Atan2(p1.Y-p0.Y, p1.X-p0.X)
		cosA, sinA := math.Cos(-edgeAngle), math.Sin(-edgeAngle)

		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for _, p := range hull {
			rx := p.X*cosA - p.Y*sinA
			ry := p.X*sinA + p.Y*cosA
			minX, maxX = math.Min(minX, rx), math.Max(maxX, rx)
			minY, maxY = math.Min(minY, ry), math.Max(maxY, ry)
		}

		rw, rh := maxX-minX, maxY-minY
		area := rw * rh
		if area < bestArea {
			bestArea = area
			rcx, rcy := (minX+maxX)/2, (minY+maxY)/2
			cosB, sinB := math.Cos(edgeAngle), math.Sin(edgeAngle)
			bestCx = rcx*cosB - rcy*sinB
			bestCy = rcx*sinB + rcy*cosB
			bestW, bestH, bestAngle = rw, rh, edgeAngle
		}
	}

	if bestW < bestH {
		bestW, bestH = bestH, bestW
		bestAngle += math.Pi / 2
	}
	return bestCx, bestCy, bestW, bestH, NormalizeAngleLe90(bestAngle)
}

func init() {
	Register("features/mask_to_rbox", newMaskToRotatedBoxModule)
}
