// Package synth produces procedural XRVideo content: a rippling grid whose
// keyframes carry the full mesh and whose other frames carry only the
// displacement from their keyframe.
package synth

import (
	"math"
	"time"

	"github.com/0bVdnt/xrvideo/internal/codec"
	"github.com/0bVdnt/xrvideo/internal/container"
	"github.com/0bVdnt/xrvideo/internal/stream"
	"github.com/pkg/errors"
)

type Options struct {
	Frames           int
	FrameInterval    time.Duration
	KeyframeInterval int
	// Vertices per grid side
	GridSize    int
	TextureSize int
	Alpha       bool
	// Timestamp of the first frame
	Start time.Duration
}

func (o Options) withDefaults() Options {
	if o.Frames <= 0 {
		o.Frames = 90
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = time.Second / 30
	}
	if o.KeyframeInterval <= 0 {
		o.KeyframeInterval = 10
	}
	if o.GridSize < 2 {
		o.GridSize = 8
	}
	if o.TextureSize < 2 {
		o.TextureSize = 8
	}
	return o
}

// Writes a complete video to out and returns its frame count.
func Generate(out stream.OutputStream, opts Options) (int, error) {
	opts = opts.withDefaults()

	enc, err := codec.NewEncoder()
	if err != nil {
		return 0, err
	}
	defer enc.Close()

	w, err := container.NewWriter(out)
	if err != nil {
		return 0, err
	}
	for i := 0; i < opts.Frames; i++ {
		meta, payload, err := enc.Encode(Frame(opts, i))
		if err != nil {
			return 0, errors.Wrapf(err, "encode frame %d", i)
		}
		if err := w.WriteFrame(meta, payload); err != nil {
			return 0, errors.Wrapf(err, "write frame %d", i)
		}
	}
	if err := w.Finish(); err != nil {
		return 0, err
	}
	return w.FrameCount(), nil
}

// Generates a video into memory
func Bytes(opts Options) ([]byte, error) {
	out := stream.NewMemoryOutput()
	if _, err := Generate(out, opts); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Builds raw frame i. The first byte of the luma plane is i mod 256, so a
// decoded frame can be told apart from its neighbours.
func Frame(opts Options, i int) *codec.RawFrame {
	opts = opts.withDefaults()
	key := i - i%opts.KeyframeInterval

	f := &codec.RawFrame{
		StartTimestamp: int64(opts.Start) + int64(i)*int64(opts.FrameInterval),
		EndTimestamp:   int64(opts.Start) + int64(i+1)*int64(opts.FrameInterval),
		Keyframe:       i == key,
		TextureWidth:   opts.TextureSize,
		TextureHeight:  opts.TextureSize,
	}

	base := surface(opts, key)
	if f.Keyframe {
		f.Positions = base
		f.Indices = triangles(opts.GridSize)
		// one seam vertex, as real captures have
		f.Duplicates = []uint32{0}
		if opts.Alpha {
			f.Alpha = make([]byte, len(base))
			for v := range f.Alpha {
				f.Alpha[v] = byte(255 - v%64)
			}
		}
	}

	cur := surface(opts, i)
	f.Deformation = make([][3]float32, len(base))
	for v := range base {
		for c := 0; c < 3; c++ {
			f.Deformation[v][c] = cur[v][c] - base[v][c]
		}
	}

	f.Texture = make([]byte, f.TextureWidth*f.TextureHeight+2*((f.TextureWidth/2)*(f.TextureHeight/2)))
	luma := f.TextureWidth * f.TextureHeight
	for p := 0; p < luma; p++ {
		f.Texture[p] = byte(i + p)
	}
	for p := luma; p < len(f.Texture); p++ {
		f.Texture[p] = 128
	}
	return f
}

// grid on [-1,1]² with a travelling wave in z
func surface(opts Options, frame int) [][3]float32 {
	n := opts.GridSize
	phase := 2 * math.Pi * float64(frame) / float64(opts.KeyframeInterval*3)
	pts := make([][3]float32, 0, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			fx := 2*float64(x)/float64(n-1) - 1
			fy := 2*float64(y)/float64(n-1) - 1
			z := 0.25 * math.Sin(math.Pi*fx+phase) * math.Cos(math.Pi*fy/2)
			pts = append(pts, [3]float32{float32(fx), float32(fy), float32(z)})
		}
	}
	return pts
}

func triangles(n int) []uint32 {
	idx := make([]uint32, 0, (n-1)*(n-1)*6)
	for y := 0; y < n-1; y++ {
		for x := 0; x < n-1; x++ {
			a := uint32(y*n + x)
			b := a + 1
			c := a + uint32(n)
			d := c + 1
			idx = append(idx, a, c, b, b, c, d)
		}
	}
	return idx
}
