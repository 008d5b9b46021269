package renderer

import (
	"image"
	"image/color"
	"math"
)

// Keyframe geometry
type Mesh interface {
	VertexCount() int
	Vertex(i int) [3]float32
}

// Per-vertex offsets of a frame from its keyframe
type Deformer interface {
	DeformationCount() int
	Deformation(i int) [3]float32
}

// Positions of the keyframe's vertices at intra-frame time t: each vertex
// displaced by the deformation interpolated from prev to cur. A nil prev
// means cur is the keyframe itself. Duplicated seam vertices past the
// deformation count are left out. dst is reused when large enough.
func Compose(dst [][3]float32, key Mesh, prev, cur Deformer, t float32) [][3]float32 {
	n := key.VertexCount()
	if d := cur.DeformationCount(); d > 0 && d < n {
		n = d
	}
	if cap(dst) < n {
		dst = make([][3]float32, n)
	}
	dst = dst[:n]

	hasPrev := prev != nil && prev.DeformationCount() >= n
	hasCur := cur.DeformationCount() >= n
	for i := 0; i < n; i++ {
		p := key.Vertex(i)
		var off [3]float32
		if hasCur {
			off = cur.Deformation(i)
		}
		if hasPrev {
			from := prev.Deformation(i)
			for c := 0; c < 3; c++ {
				off[c] = from[c] + (off[c]-from[c])*t
			}
		}
		for c := 0; c < 3; c++ {
			p[c] += off[c]
		}
		dst[i] = p
	}
	return dst
}

// Orbit camera looking at the origin
type Camera struct {
	Yaw, Pitch float64 // radians
	Distance   float64
	// Cell aspect correction: terminal pixels are about as tall as wide
	// with half blocks, so 1 keeps the mesh square.
	Aspect float64
}

func DefaultCamera() Camera {
	return Camera{Yaw: 0.5, Pitch: -0.4, Distance: 3.5, Aspect: 1}
}

func (c Camera) Orbit(dYaw, dPitch float64) Camera {
	c.Yaw += dYaw
	c.Pitch = math.Max(-1.5, math.Min(1.5, c.Pitch+dPitch))
	return c
}

func (c Camera) Zoom(factor float64) Camera {
	c.Distance = math.Max(1.2, math.Min(20, c.Distance*factor))
	return c
}

// Maps p onto a w×h image. ok is false for points behind the camera or
// outside the image; depth grows away from the camera.
func (c Camera) Project(p [3]float32, w, h int) (x, y int, depth float64, ok bool) {
	px, py, pz := float64(p[0]), float64(p[1]), float64(p[2])

	sy, cy := math.Sincos(c.Yaw)
	px, pz = cy*px+sy*pz, -sy*px+cy*pz
	sp, cp := math.Sincos(c.Pitch)
	py, pz = cp*py-sp*pz, sp*py+cp*pz

	depth = c.Distance - pz
	if depth <= 0.05 {
		return 0, 0, 0, false
	}

	scale := float64(min(w, h)) / 2
	aspect := c.Aspect
	if aspect <= 0 {
		aspect = 1
	}
	x = int(math.Round(float64(w)/2 + px/depth*scale*2*aspect))
	y = int(math.Round(float64(h)/2 - py/depth*scale*2))
	if x < 0 || x >= w || y < 0 || y >= h {
		return 0, 0, 0, false
	}
	return x, y, depth, true
}

// Point-splat rasterizer with a depth buffer, reused across frames
type Rasterizer struct {
	img   *image.RGBA
	depth []float64
}

// Draws points as single pixels on a cleared w×h image, nearest point
// winning. Pixel brightness comes from the luma plane sample of each point
// and from its depth; alpha, when present, dims the point.
func (r *Rasterizer) Draw(points [][3]float32, luma, alpha []byte, cam Camera, w, h int) *image.RGBA {
	if w <= 0 || h <= 0 {
		return nil
	}
	if r.img == nil || r.img.Bounds().Dx() != w || r.img.Bounds().Dy() != h {
		r.img = image.NewRGBA(image.Rect(0, 0, w, h))
		r.depth = make([]float64, w*h)
	}
	clear(r.img.Pix)
	for i := range r.depth {
		r.depth[i] = math.Inf(1)
	}
	for i := 3; i < len(r.img.Pix); i += 4 {
		r.img.Pix[i] = 0xff
	}

	for i, p := range points {
		x, y, d, ok := cam.Project(p, w, h)
		if !ok || d >= r.depth[y*w+x] {
			continue
		}
		r.depth[y*w+x] = d
		r.img.SetRGBA(x, y, shade(i, len(points), d, cam.Distance, luma, alpha))
	}
	return r.img
}

func shade(i, n int, depth, distance float64, luma, alpha []byte) color.RGBA {
	l := 200.0
	if len(luma) > 0 {
		l = 80 + float64(luma[i*len(luma)/n])*175/255
	}
	// nearer points are brighter
	near := math.Max(0.35, math.Min(1, distance/depth*0.8))
	if i < len(alpha) {
		near *= float64(alpha[i]) / 255
	}
	v := l * near
	return color.RGBA{R: uint8(v * 0.55), G: uint8(v * 0.9), B: uint8(v), A: 0xff}
}
