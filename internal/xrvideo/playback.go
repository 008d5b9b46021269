package xrvideo

import (
	"github.com/0bVdnt/xrvideo/internal/pipeline"
	"github.com/0bVdnt/xrvideo/internal/playback"
	"go.uber.org/zap"
)

func (v *Video) PlaybackMode() playback.Mode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode
}

// Changes the playback mode of the current video and of later loads
func (v *Video) SetPlaybackMode(m playback.Mode) error {
	if !m.Valid() {
		return playback.ErrUnknownMode
	}
	v.mu.Lock()
	v.mode = m
	s := v.current
	v.mu.Unlock()

	if s == nil {
		return nil
	}
	s.clock.Lock()
	s.clock.SetMode(m)
	s.pipe.SetMode(m)
	s.clock.Unlock()
	s.log.Info("playback mode", zap.Stringer("mode", m))
	return nil
}

func (v *Video) StartTimestamp() (int64, error) {
	s := v.session()
	if s == nil {
		return 0, ErrNotReady
	}
	s.clock.Lock()
	defer s.clock.Unlock()
	return s.clock.Start(), nil
}

func (v *Video) EndTimestamp() (int64, error) {
	s := v.session()
	if s == nil {
		return 0, ErrNotReady
	}
	s.clock.Lock()
	defer s.clock.Unlock()
	return s.clock.End(), nil
}

func (v *Video) CurrentTimestamp() (int64, error) {
	s := v.session()
	if s == nil {
		return 0, ErrNotReady
	}
	s.clock.Lock()
	defer s.clock.Unlock()
	return s.clock.Current(), nil
}

func (v *Video) Direction() (playback.Direction, error) {
	s := v.session()
	if s == nil {
		return playback.Forward, ErrNotReady
	}
	s.clock.Lock()
	defer s.clock.Unlock()
	return s.clock.Direction(), nil
}

// Moves playback to ts, clamped to the video, and returns the resulting
// timestamp. Decoding catches up in the background; IsBuffering reports
// when the target can be shown.
func (v *Video) Seek(ts int64, forward bool) (int64, error) {
	s := v.session()
	if s == nil {
		return 0, ErrNotReady
	}
	dir := playback.Forward
	if !forward {
		dir = playback.Backward
	}

	s.clock.Lock()
	defer s.clock.Unlock()

	ts = s.clock.Seek(ts, dir)
	s.pipe.Seek(s.pipe.Index().FrameAt(ts), dir)
	return ts, nil
}

// Whether playback is waiting for decoded frames. A video that is not ready
// counts as buffering.
func (v *Video) IsBuffering() bool {
	s := v.session()
	if s == nil {
		return true
	}
	b, _ := s.pipe.Buffering()
	return b
}

func (v *Video) BufferingProgressPercent() float64 {
	s := v.session()
	if s == nil {
		return 0
	}
	_, pct := s.pipe.Buffering()
	return pct
}

// Advances the clock by elapsed nanoseconds and returns the new timestamp.
// While buffering the elapsed time is dropped and the timestamp stays put.
func (v *Video) Update(elapsed int64) (int64, error) {
	defer v.reap()

	s := v.session()
	if s == nil {
		return 0, ErrNotReady
	}

	s.clock.Lock()
	defer s.clock.Unlock()

	if buffering, _ := s.pipe.Buffering(); buffering {
		return s.clock.Current(), nil
	}
	ts := s.clock.Advance(elapsed)
	s.pipe.SetPlayhead(s.pipe.Index().FrameAt(ts), s.clock.Direction())
	return ts, nil
}

func (v *Video) Pause() {
	v.setPaused(true)
}

func (v *Video) Resume() {
	v.setPaused(false)
}

func (v *Video) setPaused(p bool) {
	s := v.session()
	if s == nil {
		return
	}
	s.clock.Lock()
	s.clock.SetPaused(p)
	s.clock.Unlock()
}

func (v *Video) Paused() bool {
	s := v.session()
	if s == nil {
		return false
	}
	s.clock.Lock()
	defer s.clock.Unlock()
	return s.clock.Paused()
}

// Point-in-time view of the player for status reporting
type Snapshot struct {
	State     string  `json:"state"`
	Error     string  `json:"error,omitempty"`
	LoadID    string  `json:"load_id,omitempty"`
	Switched  bool    `json:"switched"`
	Mode      string  `json:"mode"`
	Direction string  `json:"direction,omitempty"`
	Paused    bool    `json:"paused"`
	Start     int64   `json:"start_ns"`
	End       int64   `json:"end_ns"`
	Current   int64   `json:"current_ns"`
	Frame     int     `json:"frame"`
	Frames    int     `json:"frames"`
	Buffering bool    `json:"buffering"`
	Progress  float64 `json:"buffering_percent"`

	RenderLocks      int64 `json:"render_locks"`
	PendingTeardowns int   `json:"pending_teardowns"`

	Pipeline *pipeline.Stats `json:"pipeline,omitempty"`
}

func (v *Video) Snapshot() Snapshot {
	snap := Snapshot{
		State:            v.State().String(),
		Switched:         v.SwitchedToMostRecentVideo(),
		Mode:             v.PlaybackMode().String(),
		PendingTeardowns: v.PendingTeardowns(),
	}
	if err := v.Err(); err != nil {
		snap.Error = err.Error()
	}

	s := v.session()
	if s == nil {
		snap.Buffering = true
		return snap
	}
	snap.LoadID = s.id
	snap.RenderLocks = s.locks.Load()
	snap.Frames = s.pipe.Index().Len()

	s.clock.Lock()
	snap.Direction = s.clock.Direction().String()
	snap.Paused = s.clock.Paused()
	snap.Start = s.clock.Start()
	snap.End = s.clock.End()
	snap.Current = s.clock.Current()
	s.clock.Unlock()

	snap.Frame = s.pipe.Index().FrameAt(snap.Current)
	snap.Buffering, snap.Progress = s.pipe.Buffering()
	st := s.pipe.Stats()
	snap.Pipeline = &st
	return snap
}
