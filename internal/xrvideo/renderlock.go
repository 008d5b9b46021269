package xrvideo

import (
	"sync"

	"github.com/0bVdnt/xrvideo/internal/cache"
	"github.com/0bVdnt/xrvideo/internal/container"
	"github.com/0bVdnt/xrvideo/internal/pipeline"
	"github.com/0bVdnt/xrvideo/internal/playback"
	"github.com/0bVdnt/xrvideo/internal/resources"
)

// Frames needed to draw the current display instant, read-locked in the
// cache until Release. The decoder cannot reuse their slots meanwhile, so
// hold a lock for one rendered frame and no longer.
type RenderLock struct {
	video   *Video
	session *session
	handles []*cache.ReadHandle[*pipeline.Frame]

	keyframe *pipeline.Frame
	previous *pipeline.Frame
	current  *pipeline.Frame

	frames    playback.FrameSet
	timestamp int64

	once sync.Once
}

// Locks the frames shown at the current timestamp. Returns nil when they
// are not decoded yet, for example before the first frames are ready or
// right after a seek.
func (v *Video) CreateRenderLock() *RenderLock {
	s := v.session()
	if s == nil {
		return nil
	}

	s.clock.Lock()
	ts := s.clock.Current()
	s.clock.Unlock()

	fs := playback.FramesAt(s.pipe.Index(), ts)
	frames := fs.Frames()
	handles, ok := s.pipe.Cache().LockManyForReading(frames...)
	if !ok {
		return nil
	}

	byFrame := make(map[int]*pipeline.Frame, len(handles))
	for _, h := range handles {
		byFrame[h.Frame()] = h.Item()
	}

	l := &RenderLock{
		video:     v,
		session:   s,
		handles:   handles,
		keyframe:  byFrame[fs.Keyframe],
		current:   byFrame[fs.Current],
		frames:    fs,
		timestamp: ts,
	}
	if fs.Previous >= 0 {
		l.previous = byFrame[fs.Previous]
	}

	s.locks.Add(1)
	v.met.RenderLocks.Inc()
	return l
}

// Resource data of the keyframe the current frame deforms
func (l *RenderLock) Keyframe() resources.UserData {
	return l.keyframe.Data
}

// Resource data of the frame before the current one, nil when the current
// frame is a keyframe. Equal to Keyframe for the first frame after it.
func (l *RenderLock) Previous() resources.UserData {
	if l.previous == nil {
		return nil
	}
	return l.previous.Data
}

func (l *RenderLock) Current() resources.UserData {
	return l.current.Data
}

func (l *RenderLock) KeyframeMetadata() container.FrameMetadata {
	return l.keyframe.Meta
}

func (l *RenderLock) CurrentMetadata() container.FrameMetadata {
	return l.current.Meta
}

// Position of the timestamp within the current frame, in [0, 1)
func (l *RenderLock) IntraFrameTime() float32 {
	return l.frames.IntraFrameTime
}

func (l *RenderLock) Timestamp() int64 {
	return l.timestamp
}

// Frame numbers of keyframe, previous (-1 if none) and current
func (l *RenderLock) Frames() playback.FrameSet {
	return l.frames
}

// Unlocks the frames. Safe to call more than once.
func (l *RenderLock) Release() {
	l.once.Do(func() {
		for _, h := range l.handles {
			h.Release()
		}
		l.video.met.RenderLocks.Dec()
		if l.session.locks.Add(-1) == 0 && l.session.retired.Load() {
			l.video.reap()
		}
	})
}
