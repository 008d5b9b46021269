package playback

import "github.com/0bVdnt/xrvideo/internal/container"

// Frames needed to render one display instant
type FrameSet struct {
	Keyframe int
	// -1 when Current is itself a keyframe
	Previous       int
	Current        int
	IntraFrameTime float32
}

// Resolves the frames shown at ts
func FramesAt(idx *container.Index, ts int64) FrameSet {
	cur := idx.FrameAt(ts)
	fs := Dependencies(idx, cur)
	fs.IntraFrameTime = idx.IntraFrameTime(cur, ts)
	return fs
}

// Keyframe and predecessor frame f is rendered from
func Dependencies(idx *container.Index, f int) FrameSet {
	key := idx.KeyframeFor(f)
	fs := FrameSet{Keyframe: key, Previous: -1, Current: f}
	if key != f {
		fs.Previous = f - 1
	}
	return fs
}

// Distinct frames in decode order: keyframe, previous, current
func (fs FrameSet) Frames() []int {
	out := make([]int, 0, 3)
	out = append(out, fs.Keyframe)
	if fs.Previous >= 0 && fs.Previous != fs.Keyframe {
		out = append(out, fs.Previous)
	}
	if fs.Current != fs.Keyframe {
		out = append(out, fs.Current)
	}
	return out
}

// Display frame following f among n frames for the given mode. ok is false
// when a SingleShot schedule has run out or there is no other frame.
func NextFrame(f, n int, dir Direction, mode Mode) (next int, nextDir Direction, ok bool) {
	if n <= 1 {
		return f, dir, false
	}
	step := 1
	if dir == Backward {
		step = -1
	}
	next = f + step
	if next >= 0 && next < n {
		return next, dir, true
	}

	switch mode {
	case Loop:
		if next < 0 {
			return n - 1, dir, true
		}
		return 0, dir, true
	case BackAndForth:
		return f - step, dir.Reverse(), true
	default:
		return f, dir, false
	}
}
