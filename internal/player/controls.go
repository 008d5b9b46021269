package player

import (
	"time"

	"github.com/0bVdnt/xrvideo/internal/playback"
	"go.uber.org/zap"
)

const (
	orbitStep = 0.15
	zoomStep  = 1.15
)

func (p *Player) TogglePause() {
	if p.video.Paused() {
		p.video.Resume()
	} else {
		p.video.Pause()
	}
}

// Moves playback by delta in the current direction of travel
func (p *Player) Seek(delta time.Duration) {
	p.mu.RLock()
	target := p.state.CurrentTime + delta
	reverse := p.state.Reverse
	p.mu.RUnlock()

	p.SeekTo(target, !reverse)
}

func (p *Player) SeekTo(ts time.Duration, forward bool) {
	got, err := p.video.Seek(int64(ts), forward)
	if err != nil {
		return
	}
	p.render.RequestClear()

	p.mu.Lock()
	p.state.CurrentTime = time.Duration(got)
	p.state.Reverse = !forward
	p.mu.Unlock()
}

// Plays on from the current timestamp in the other direction
func (p *Player) Reverse() {
	p.mu.RLock()
	ts := p.state.CurrentTime
	reverse := p.state.Reverse
	p.mu.RUnlock()

	p.SeekTo(ts, reverse)
}

// Restarts from the beginning in the direction of travel
func (p *Player) Restart() {
	p.mu.RLock()
	start, end := p.state.Start, p.state.End
	reverse := p.state.Reverse
	p.mu.RUnlock()

	if reverse {
		p.SeekTo(end, false)
	} else {
		p.SeekTo(start, true)
	}
}

func (p *Player) CycleMode() playback.Mode {
	next := (p.video.PlaybackMode() + 1) % (playback.BackAndForth + 1)
	if err := p.video.SetPlaybackMode(next); err != nil {
		p.log.Warn("set playback mode", zap.Error(err))
	}
	return next
}

func (p *Player) Orbit(dYaw, dPitch float64) {
	p.mu.Lock()
	p.cam = p.cam.Orbit(dYaw, dPitch)
	p.mu.Unlock()
}

func (p *Player) Zoom(factor float64) {
	p.mu.Lock()
	p.cam = p.cam.Zoom(factor)
	p.mu.Unlock()
}

func (p *Player) SetError(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.State != StateError {
		p.render.RequestClear()
	}
	p.state.State = StateError
	p.state.ErrorMsg = msg
}
