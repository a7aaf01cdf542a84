// Copyright © 2020 Jonathan Whitaker <github@whitaker.io>.
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package openivs

import (
	"encoding/json"
	"image"
	"math"
)

// TransformationState carries the affine map from the original image that
// entered the graph to the current frame of a ModuleImage. A state with no
// affine set (the zero value) means identity: the image is itself an
// original.
type TransformationState struct {
	OriginalWidth  int        `json:"original_width"`
	OriginalHeight int        `json:"original_height"`
	Width          int        `json:"width"`
	Height         int        `json:"height"`
	CropBox        *Rect      `json:"crop_box,omitempty"`
	Affine         [6]float64 `json:"-"`
	hasAffine      bool
}

// Rect is an axis-aligned integer rectangle.
type Rect struct {
	X, Y, W, H int
}

// Identity returns the state for a freshly-decoded original image.
func Identity(w, h int) TransformationState {
	return TransformationState{OriginalWidth: w, OriginalHeight: h, Width: w, Height: h}
}

// IsIdentity reports whether this state carries no affine transform, i.e.
// the image is itself an original.
func (s TransformationState) IsIdentity() bool {
	return !s.hasAffine
}

// to3x3 returns the 2x3 as a 3x3 homogeneous matrix for composition.
func to3x3(a [6]float64) [9]float64 {
	return [9]float64{a[0], a[1], a[2], a[3], a[4], a[5], 0, 0, 1}
}

func mul3x3(a, b [9]float64) [9]float64 {
	var out [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += a[r*3+k] * b[k*3+c]
			}
			out[r*3+c] = sum
		}
	}
	return out
}

func to2x3(m [9]float64) [6]float64 {
	return [6]float64{m[0], m[1], m[2], m[3], m[4], m[5]}
}

// Inverse2x3 inverts a 2x3 affine matrix. A degenerate (non-invertible)
// matrix falls back to identity rather than propagating NaNs, matching the
// source contract that modules must never emit a singular matrix.
func Inverse2x3(a [6]float64) [6]float64 {
	det := a[0]*a[4] - a[1]*a[3]
	if math.Abs(det) < 1e-12 {
		return [6]float64{1, 0, 0, 0, 1, 0}
	}

	invDet := 1.0 / det
	a0 := a[4] * invDet
	a1 := -a[1] * invDet
	a3 := -a[3] * invDet
	a4 := a[0] * invDet
	a2 := -(a0*a[2] + a1*a[5])
	a5 := -(a3*a[2] + a4*a[5])

	return [6]float64{a0, a1, a2, a3, a4, a5}
}

// ApplyPoint applies a 2x3 affine matrix to a point.
func ApplyPoint(a [6]float64, x, y float64) (float64, float64) {
	return a[0]*x + a[1]*y + a[2], a[3]*x + a[4]*y + a[5]
}

// DeriveChild composes currentToNew with this state's existing
// originalToCurrent matrix, returning the state of a re-framed child image.
// The original size is preserved; the reported size becomes (newW, newH).
func (s TransformationState) DeriveChild(currentToNew [6]float64, newW, newH int) TransformationState {
	parent := s.Affine
	if !s.hasAffine {
		parent = [6]float64{1, 0, 0, 0, 1, 0}
	}

	composed := to2x3(mul3x3(to3x3(currentToNew), to3x3(parent)))

	return TransformationState{
		OriginalWidth:  s.OriginalWidth,
		OriginalHeight: s.OriginalHeight,
		Width:          newW,
		Height:         newH,
		Affine:         composed,
		hasAffine:      true,
	}
}

// AffineOrIdentity returns the originalToCurrent matrix, defaulting to
// identity when the state carries none.
func (s TransformationState) AffineOrIdentity() [6]float64 {
	if !s.hasAffine {
		return [6]float64{1, 0, 0, 0, 1, 0}
	}
	return s.Affine
}

// Copy implements copystructure.Copier. mitchellh/copystructure's default
// reflection-based copy skips unexported fields, which would silently drop
// hasAffine (and collapse every non-identity transform to identity) across
// dispatch's defensive deep copy of each node's input channel.
func (s TransformationState) Copy() (interface{}, error) {
	out := s
	if s.CropBox != nil {
		box := *s.CropBox
		out.CropBox = &box
	}
	return out, nil
}

type transformJSON struct {
	OriginalWidth  int        `json:"original_width"`
	OriginalHeight int        `json:"original_height"`
	Width          int        `json:"width"`
	Height         int        `json:"height"`
	CropBox        *Rect      `json:"crop_box,omitempty"`
	AffineMatrix2x3 []float64 `json:"affine_2x3,omitempty"`
}

// ToJSON serializes the state the way the rest of the graph (and the
// terminal return_json module) expects to read it back.
func (s TransformationState) ToJSON() ([]byte, error) {
	t := transformJSON{
		OriginalWidth:  s.OriginalWidth,
		OriginalHeight: s.OriginalHeight,
		Width:          s.Width,
		Height:         s.Height,
		CropBox:        s.CropBox,
	}
	if s.hasAffine {
		t.AffineMatrix2x3 = s.Affine[:]
	}
	return json.Marshal(t)
}

// TransformFromJSON best-effort decodes a TransformationState. Malformed or
// absent input yields the zero-value identity state rather than an error,
// per the "treat malformed as absent" contract.
func TransformFromJSON(raw []byte) TransformationState {
	var t transformJSON
	if len(raw) == 0 || json.Unmarshal(raw, &t) != nil {
		return TransformationState{}
	}

	out := TransformationState{
		OriginalWidth:  t.OriginalWidth,
		OriginalHeight: t.OriginalHeight,
		Width:          t.Width,
		Height:         t.Height,
		CropBox:        t.CropBox,
	}
	if len(t.AffineMatrix2x3) == 6 {
		copy(out.Affine[:], t.AffineMatrix2x3)
		out.hasAffine = true
	}
	return out
}

// ModuleImage is one bitmap flowing through the graph together with its
// lineage: the original it descends from and the affine state describing
// how its current frame relates to that original.
type ModuleImage struct {
	Image         image.Image
	Original      image.Image
	State         TransformationState
	OriginalIndex int
}

// Bounds returns the current image's pixel dimensions, defaulting to the
// state's recorded size when no bitmap is attached.
func (m *ModuleImage) Bounds() (w, h int) {
	if m.Image != nil {
		b := m.Image.Bounds()
		return b.Dx(), b.Dy()
	}
	return m.State.Width, m.State.Height
}

// Detection is one recognized object, segment, classification, or OCR
// sample in a ResultEntry's sample_results. bbox is [x,y,w,h] for
// axis-aligned detections or [cx,cy,w,h,angle_rad] for rotated ones.
type Detection struct {
	CategoryID   int       `json:"category_id"`
	CategoryName string    `json:"category_name"`
	Score        float64   `json:"score"`
	Area         float64   `json:"area"`
	Bbox         []float64 `json:"bbox"`
	WithBbox     bool      `json:"with_bbox"`
	WithMask     bool      `json:"with_mask"`
	WithAngle    bool      `json:"with_angle"`
	Angle        float64   `json:"angle"`
	MaskRLE      *MaskInfo `json:"mask_rle,omitempty"`
}

// UnsetAngle is the sentinel value meaning "no angle recorded".
const UnsetAngle = -100.0

// NewDetection returns a Detection with the angle sentinel set.
func NewDetection() Detection {
	return Detection{Angle: UnsetAngle}
}

// ResultEntry is one element of a ModuleChannel's result_list: the
// detections produced for a single image, plus the lineage needed to
// re-associate them with their source image downstream.
type ResultEntry struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index"`
	OriginIndex  int                    `json:"origin_index"`
	Transform    *TransformationState   `json:"-"`
	SampleResults []Detection           `json:"sample_results"`
	Extra        map[string]interface{} `json:"-"`
}

// Template is an opaque JSON object carried on the template channel.
// The executor never interprets its contents.
type Template map[string]interface{}

// ModuleChannel is the (image_list, result_list, template_list) triple
// that flows on one side of one pair of ports.
type ModuleChannel struct {
	ImageList    []*ModuleImage
	ResultList   []ResultEntry
	TemplateList []Template
}

// ModuleIO is what a module's Process call returns: the main channel
// contents plus zero or more extra output channels.
type ModuleIO struct {
	Main  ModuleChannel
	Extra []ModuleChannel
}
