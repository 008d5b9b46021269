package container

import (
	"sort"

	"github.com/pkg/errors"
)

// Locates one frame record in the stream
type IndexEntry struct {
	Offset         int64
	RecordSize     uint32
	Keyframe       bool
	StartTimestamp int64
	EndTimestamp   int64
}

// Seekable map from timestamp to frame record
type Index struct {
	entries    []IndexEntry
	keyframeOf []int
}

// Validates entries and precomputes each frame's keyframe
func NewIndex(entries []IndexEntry) (*Index, error) {
	if len(entries) == 0 {
		return nil, errors.Wrap(ErrCorruptIndex, "no frames")
	}
	if !entries[0].Keyframe {
		return nil, errors.Wrap(ErrCorruptIndex, "first frame is not a keyframe")
	}

	keyframeOf := make([]int, len(entries))
	key := 0
	for i, e := range entries {
		if e.EndTimestamp < e.StartTimestamp {
			return nil, errors.Wrapf(ErrCorruptIndex, "frame %d ends before it starts", i)
		}
		if i > 0 && e.StartTimestamp < entries[i-1].StartTimestamp {
			return nil, errors.Wrapf(ErrCorruptIndex, "frame %d timestamp goes backwards", i)
		}
		if e.RecordSize < MetadataSize {
			return nil, errors.Wrapf(ErrCorruptIndex, "frame %d record of %d bytes", i, e.RecordSize)
		}
		if e.Keyframe {
			key = i
		}
		keyframeOf[i] = key
	}

	return &Index{entries: entries, keyframeOf: keyframeOf}, nil
}

func (x *Index) Len() int {
	return len(x.entries)
}

func (x *Index) Entry(i int) IndexEntry {
	return x.entries[i]
}

func (x *Index) IsKeyframe(i int) bool {
	return x.entries[i].Keyframe
}

// Returns the nearest keyframe at or before frame i
func (x *Index) KeyframeFor(i int) int {
	return x.keyframeOf[i]
}

func (x *Index) StartTimestamp() int64 {
	return x.entries[0].StartTimestamp
}

func (x *Index) EndTimestamp() int64 {
	return x.entries[len(x.entries)-1].EndTimestamp
}

// Returns the frame displayed at ts, clamped to the video range
func (x *Index) FrameAt(ts int64) int {
	n := sort.Search(len(x.entries), func(i int) bool {
		return x.entries[i].StartTimestamp > ts
	})
	if n == 0 {
		return 0
	}
	return n - 1
}

// Fractional position of ts inside frame i, in [0,1)
func (x *Index) IntraFrameTime(i int, ts int64) float32 {
	start := x.entries[i].StartTimestamp
	next := x.entries[i].EndTimestamp
	if i+1 < len(x.entries) {
		next = x.entries[i+1].StartTimestamp
	}
	if next <= start || ts <= start {
		return 0
	}
	t := float32(float64(ts-start) / float64(next-start))
	if t >= 1 {
		return maxIntraFrameTime
	}
	return t
}

// largest float32 below 1
const maxIntraFrameTime float32 = 0.99999994
