package pipeline

import (
	"github.com/0bVdnt/xrvideo/internal/cache"
	"github.com/0bVdnt/xrvideo/internal/playback"
	"go.uber.org/zap"
)

// Returns the next frame the reading goroutine should fetch, extending the
// read-ahead window as needed. ok is false when there is nothing to read
// until the playhead moves.
func (p *Pipeline) nextRead() (frame int, epoch uint64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.err == nil {
		for len(p.todo) > 0 {
			f := p.todo[0]
			p.todo = p.todo[1:]
			if _, queued := p.pending[f]; queued || p.cache.Contains(f) {
				continue
			}
			p.pending[f] = p.epoch
			return f, p.epoch, true
		}
		if !p.extendWindowLocked() {
			break
		}
	}
	return 0, 0, false
}

// Appends the next display frame to the window and schedules its
// dependencies. The window entry is added before the dependencies are
// checked against the cache so they are already protected from eviction.
func (p *Pipeline) extendWindowLocked() bool {
	if p.exhausted || len(p.window) >= p.lookahead {
		return false
	}

	next := p.playhead
	if n := len(p.window); n > 0 {
		last := p.window[n-1]
		f, dir, ok := playback.NextFrame(last.frame, p.index.Len(), last.dir, p.mode)
		if !ok {
			p.exhausted = true
			return false
		}
		next = position{frame: f, dir: dir}
	}

	p.window = append(p.window, next)
	p.todo = playback.Dependencies(p.index, next.frame).Frames()
	return true
}

// Reports the display frame being shown. Moving within the read-ahead
// window releases the frames behind it; any other move repositions the
// pipeline.
func (p *Pipeline) SetPlayhead(frame int, dir playback.Direction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := position{frame: frame, dir: dir}
	if pos == p.playhead {
		return
	}

	// at a bounce the same frame is reached with either direction
	i := -1
	for j, w := range p.window {
		if w == pos {
			i = j
			break
		}
		if i < 0 && w.frame == frame {
			i = j
		}
	}
	if i < 0 {
		p.repositionLocked(pos, "playhead left read-ahead window")
		return
	}

	p.window = append(p.window[:0], p.window[i:]...)
	p.playhead = pos
	p.notifyLocked()
}

// Restarts reading at frame. Cached frames are kept, so seeking to the
// frame already shown in the same direction changes nothing.
func (p *Pipeline) Seek(frame int, dir playback.Direction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := position{frame: frame, dir: dir}
	if pos == p.playhead && len(p.window) > 0 {
		return
	}
	p.met.Seeks.Inc()
	p.repositionLocked(pos, "seek")
}

// Changes how the schedule continues at either end of the video
func (p *Pipeline) SetMode(m playback.Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if m == p.mode {
		return
	}
	p.mode = m
	p.window = p.window[:0]
	p.todo = nil
	p.exhausted = false
	p.notifyLocked()
}

func (p *Pipeline) repositionLocked(pos position, reason string) {
	if pos.frame < 0 {
		pos.frame = 0
	} else if n := p.index.Len(); pos.frame >= n {
		pos.frame = n - 1
	}

	p.epoch++
	p.playhead = pos
	p.window = p.window[:0]
	p.todo = nil
	p.exhausted = false
	p.pending = make(map[int]uint64)

	p.log.Debug("reposition",
		zap.Int("frame", pos.frame),
		zap.Stringer("direction", pos.dir),
		zap.Uint64("epoch", p.epoch),
		zap.String("reason", reason),
	)
	p.notifyLocked()
}

// Wakes the reading goroutine and any decoder waiting for a slot
func (p *Pipeline) notifyLocked() {
	select {
	case p.wakeRead <- struct{}{}:
	default:
	}
	p.notifyProgress()
}

func (p *Pipeline) notifyProgress() {
	select {
	case p.progress <- struct{}{}:
	default:
	}
}

// Frames that may be evicted: everything outside the dependencies of the
// playhead and of the display frames read ahead of it.
func (p *Pipeline) evictableLocked() func(frame int) bool {
	protected := make(map[int]struct{}, 3*len(p.window)+3)
	add := func(f int) {
		for _, d := range playback.Dependencies(p.index, f).Frames() {
			protected[d] = struct{}{}
		}
	}
	add(p.playhead.frame)
	for _, w := range p.window {
		add(w.frame)
	}
	return func(frame int) bool {
		_, keep := protected[frame]
		return !keep
	}
}

// Display frames following the playhead, up to n of them
func (p *Pipeline) upcomingLocked(n int) []int {
	out := make([]int, 0, n)
	pos := p.playhead
	for len(out) < n {
		f, dir, ok := playback.NextFrame(pos.frame, p.index.Len(), pos.dir, p.mode)
		if !ok {
			break
		}
		pos = position{frame: f, dir: dir}
		out = append(out, f)
	}
	return out
}

// Reports whether playback must wait for decoding and how far along the
// wait is, in percent.
//
// Buffering starts when the playhead's frames are not ready and ends once
// they and the frames of the next MinBufferedFrames display frames are, or
// when the schedule ends before that many.
func (p *Pipeline) Buffering() (bool, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := playback.Dependencies(p.index, p.playhead.frame).Frames()
	if !p.buffering {
		if p.cache.CountReady(current) == len(current) {
			return false, 100
		}
		p.buffering = true
		p.log.Debug("buffering", zap.Int("frame", p.playhead.frame), zap.Uint64("epoch", p.epoch))
	}

	seen := make(map[int]struct{})
	need := make([]int, 0, len(current)+p.minBuffered)
	add := func(frames []int) {
		for _, f := range frames {
			if _, dup := seen[f]; !dup {
				seen[f] = struct{}{}
				need = append(need, f)
			}
		}
	}
	add(current)
	for _, f := range p.upcomingLocked(p.minBuffered) {
		add(playback.Dependencies(p.index, f).Frames())
	}

	ready := p.cache.CountReady(need)
	if ready == len(need) {
		p.buffering = false
		p.met.SetBuffering(false, 100)
		p.log.Debug("buffered", zap.Int("frame", p.playhead.frame), zap.Int("frames", len(need)))
		return false, 100
	}

	percent := 100 * float64(ready) / float64(len(need))
	p.met.SetBuffering(true, percent)
	return true, percent
}

// Whether every frame needed to show frame is ready
func (p *Pipeline) Ready(frame int) bool {
	deps := playback.Dependencies(p.index, frame).Frames()
	return p.cache.CountReady(deps) == len(deps)
}

// Snapshot for status reporting
type Stats struct {
	Epoch     uint64
	Playhead  int
	Direction playback.Direction
	Mode      playback.Mode
	Window    int
	Pending   int
	Buffering bool
	Cache     cache.Stats
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Epoch:     p.epoch,
		Playhead:  p.playhead.frame,
		Direction: p.playhead.dir,
		Mode:      p.mode,
		Window:    len(p.window),
		Pending:   len(p.pending),
		Buffering: p.buffering,
		Cache:     p.cache.Stats(),
	}
}
