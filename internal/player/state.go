package player

import "time"

type State int

const (
	StateStopped State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateBuffering
	StateError
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateError:
		return "error"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

func (s State) Icon() string {
	switch s {
	case StatePlaying:
		return "▶"
	case StatePaused:
		return "⏸"
	case StateLoading, StateBuffering:
		return "⏳"
	case StateError:
		return "⚠"
	case StateEnded:
		return "⏹"
	default:
		return "○"
	}
}

type PlayerState struct {
	State       State
	ErrorMsg    string
	CurrentTime time.Duration
	Start       time.Duration
	End         time.Duration
	Reverse     bool
	Buffered    float64 // percent
	Frame       int
	Frames      int

	ScreenW int
	ScreenH int
	ViewW   int
	ViewH   int
}

func NewPlayerState(screenW, screenH int) *PlayerState {
	ps := &PlayerState{State: StateStopped}
	ps.UpdateDimensions(screenW, screenH)
	return ps
}

// Pixel size of the mesh view: the largest square that fits above the
// status lines, two pixel rows per cell.
func CalculateViewDimensions(screenW, screenH int) (int, int) {
	availH := screenH - 3
	if availH < 2 {
		availH = 2
	}
	side := min(screenW, availH*2)
	side = clamp((side/2)*2, 4, max(4, screenW))
	return side, side
}

// Returns whether the view size changed
func (ps *PlayerState) UpdateDimensions(screenW, screenH int) bool {
	oldW, oldH := ps.ViewW, ps.ViewH

	ps.ScreenW = screenW
	ps.ScreenH = screenH
	ps.ViewW, ps.ViewH = CalculateViewDimensions(screenW, screenH)

	return ps.ViewW != oldW || ps.ViewH != oldH
}

func (ps *PlayerState) Progress() float64 {
	d := ps.End - ps.Start
	if d <= 0 {
		return 0
	}
	return float64(ps.CurrentTime-ps.Start) / float64(d)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
