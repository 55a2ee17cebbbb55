package geometry

import (
	"math"

	"skern/internal/verification/models"
)

// Point is an image coordinate in pixels.
type Point struct {
	X, Y float64
}

// canonicalSize is the side length of the unwarped pattern raster. Chosen so
// guilloche line widths land around 1-4 pixels at print resolution.
const canonicalSize = 64

// homographyFromCorners solves the planar transform mapping the canonical
// unit square to the four detected corner marks, in order top-left, top-right,
// bottom-right, bottom-left. Standard DLT: eight equations, eight unknowns,
// h22 fixed at 1.
func homographyFromCorners(corners [4]Point) ([9]float64, bool) {
	src := [4]Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

	var a [8][9]float64
	for i := 0; i < 4; i++ {
		sx, sy := src[i].X, src[i].Y
		dx, dy := corners[i].X, corners[i].Y
		a[2*i] = [9]float64{sx, sy, 1, 0, 0, 0, -dx * sx, -dx * sy, dx}
		a[2*i+1] = [9]float64{0, 0, 0, sx, sy, 1, -dy * sx, -dy * sy, dy}
	}

	h, ok := solve(a)
	if !ok {
		return [9]float64{}, false
	}
	return [9]float64{h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], 1}, true
}

// solve performs Gaussian elimination with partial pivoting on an 8x8 system
// with the right-hand side in column 8.
func solve(a [8][9]float64) ([8]float64, bool) {
	const eps = 1e-12
	for col := 0; col < 8; col++ {
		pivot := col
		for row := col + 1; row < 8; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < eps {
			return [8]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]

		for row := col + 1; row < 8; row++ {
			f := a[row][col] / a[col][col]
			for k := col; k < 9; k++ {
				a[row][k] -= f * a[col][k]
			}
		}
	}

	var x [8]float64
	for row := 7; row >= 0; row-- {
		sum := a[row][8]
		for k := row + 1; k < 8; k++ {
			sum -= a[row][k] * x[k]
		}
		x[row] = sum / a[row][row]
	}
	return x, true
}

// project maps a canonical coordinate through the homography into image space.
func project(h [9]float64, x, y float64) (float64, float64) {
	w := h[6]*x + h[7]*y + h[8]
	if math.Abs(w) < 1e-12 {
		return 0, 0
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w
}

// unwarp resamples the tag plane into a canonical square raster using
// bilinear interpolation. The homography maps canonical space to image space,
// so sampling walks the canonical grid and pulls from the photo.
func unwarp(img models.ImageSample, h [9]float64) models.ImageSample {
	out := models.ImageSample{
		Width:  canonicalSize,
		Height: canonicalSize,
		Gray:   make([]byte, canonicalSize*canonicalSize),
	}
	for cy := 0; cy < canonicalSize; cy++ {
		for cx := 0; cx < canonicalSize; cx++ {
			u := (float64(cx) + 0.5) / canonicalSize
			v := (float64(cy) + 0.5) / canonicalSize
			ix, iy := project(h, u, v)
			out.Gray[cy*canonicalSize+cx] = bilinear(img, ix, iy)
		}
	}
	return out
}

func bilinear(img models.ImageSample, x, y float64) byte {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)

	p00 := float64(img.At(x0, y0))
	p10 := float64(img.At(x0+1, y0))
	p01 := float64(img.At(x0, y0+1))
	p11 := float64(img.At(x0+1, y0+1))

	top := p00*(1-fx) + p10*fx
	bot := p01*(1-fx) + p11*fx
	v := top*(1-fy) + bot*fy
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return byte(v)
}

// findCalibrationMarks searches the four corner regions for the dark L-shaped
// marks printed at the tag border. Each corner window is the outer 22% of the
// frame in both axes; the mark centroid anchors the homography.
func findCalibrationMarks(img models.ImageSample) ([4]Point, bool) {
	if img.IsEmpty() {
		return [4]Point{}, false
	}

	wx := int(float64(img.Width) * 0.22)
	wy := int(float64(img.Height) * 0.22)
	if wx < 2 || wy < 2 {
		return [4]Point{}, false
	}

	windows := [4][4]int{
		{0, 0, wx, wy},                                           // top-left
		{img.Width - wx, 0, img.Width, wy},                       // top-right
		{img.Width - wx, img.Height - wy, img.Width, img.Height}, // bottom-right
		{0, img.Height - wy, wx, img.Height},                     // bottom-left
	}

	// A mark must cover a minimum share of its window; specks of noise or a
	// single dark pixel must not anchor the transform.
	minDark := int(float64(wx*wy) * 0.02)
	if minDark < 4 {
		minDark = 4
	}

	var corners [4]Point
	for i, w := range windows {
		cx, cy, count := 0.0, 0.0, 0
		for y := w[1]; y < w[3]; y++ {
			for x := w[0]; x < w[2]; x++ {
				if img.At(x, y) < 80 {
					cx += float64(x)
					cy += float64(y)
					count++
				}
			}
		}
		if count < minDark {
			return [4]Point{}, false
		}
		corners[i] = Point{cx / float64(count), cy / float64(count)}
	}

	// Degenerate geometry (collinear or crossed corners) cannot produce a
	// valid plane mapping.
	if !convexQuad(corners) {
		return [4]Point{}, false
	}
	return corners, true
}

// convexQuad reports whether the four points form a convex quadrilateral with
// consistent winding.
func convexQuad(p [4]Point) bool {
	sign := 0.0
	for i := 0; i < 4; i++ {
		a, b, c := p[i], p[(i+1)%4], p[(i+2)%4]
		cross := (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
		if math.Abs(cross) < 1e-9 {
			return false
		}
		if sign == 0 {
			sign = cross
		} else if sign*cross < 0 {
			return false
		}
	}
	return true
}
