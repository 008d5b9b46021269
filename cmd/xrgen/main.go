package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/0bVdnt/xrvideo/internal/stream"
	"github.com/0bVdnt/xrvideo/internal/synth"
)

func main() {
	out := flag.String("o", "wave.xrv", "Output file")
	frames := flag.Int("frames", 90, "Number of frames")
	fps := flag.Float64("fps", 30, "Frames per second")
	keyframes := flag.Int("keyframe-interval", 10, "Frames per keyframe")
	grid := flag.Int("grid", 16, "Vertices per grid side")
	texture := flag.Int("texture", 32, "Texture width and height")
	alpha := flag.Bool("alpha", false, "Store per-vertex alpha")
	flag.Parse()

	if *fps <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -fps must be positive")
		os.Exit(2)
	}

	f, err := stream.CreateFile(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	n, err := synth.Generate(f, synth.Options{
		Frames:           *frames,
		FrameInterval:    time.Duration(float64(time.Second) / *fps),
		KeyframeInterval: *keyframes,
		GridSize:         *grid,
		TextureSize:      *texture,
		Alpha:            *alpha,
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(*out)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d frames to %s\n", n, *out)
}
