package playback

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var ErrUnknownMode = errors.New("unknown playback mode")

type Mode int

const (
	// Stops at the last frame in the direction of travel
	SingleShot Mode = iota
	Loop
	// Reverses direction at either end
	BackAndForth
)

func (m Mode) String() string {
	switch m {
	case SingleShot:
		return "single_shot"
	case Loop:
		return "loop"
	case BackAndForth:
		return "back_and_forth"
	default:
		return "unknown"
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m Mode) Valid() bool {
	return m >= SingleShot && m <= BackAndForth
}

// Accepts the String form, case-insensitive, with '-' or '_'
func ParseMode(s string) (Mode, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "single_shot", "singleshot", "once":
		return SingleShot, nil
	case "loop", "":
		return Loop, nil
	case "back_and_forth", "backandforth", "pingpong":
		return BackAndForth, nil
	default:
		return Loop, errors.Wrapf(ErrUnknownMode, "%q", s)
	}
}

type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d Direction) Reverse() Direction {
	if d == Backward {
		return Forward
	}
	return Backward
}

func (d Direction) Sign() int64 {
	if d == Backward {
		return -1
	}
	return 1
}

// Playback clock of one video. The embedded mutex guards every field; all
// methods expect the caller to hold it, so the update path can read and
// change the clock and the pipeline in one critical section.
type State struct {
	sync.Mutex

	start, end int64
	current    int64
	direction  Direction
	mode       Mode
	paused     bool
}

// Creates a clock over [start, end], positioned at the start for forward
// playback and at the end for backward playback.
func NewState(start, end int64, mode Mode, dir Direction) *State {
	if end < start {
		end = start
	}
	s := &State{start: start, end: end, mode: mode, direction: dir, current: start}
	if dir == Backward {
		s.current = end
	}
	return s
}

func (s *State) Start() int64 {
	return s.start
}

func (s *State) End() int64 {
	return s.end
}

func (s *State) Current() int64 {
	return s.current
}

func (s *State) Direction() Direction {
	return s.direction
}

func (s *State) Mode() Mode {
	return s.mode
}

func (s *State) SetMode(m Mode) {
	s.mode = m
}

func (s *State) Paused() bool {
	return s.paused
}

func (s *State) SetPaused(p bool) {
	s.paused = p
}

// Moves the clock by elapsed nanoseconds in the direction of travel and
// returns the new timestamp. Paused clocks and negative elapsed times leave
// the clock unchanged.
func (s *State) Advance(elapsed int64) int64 {
	if s.paused || elapsed <= 0 {
		return s.current
	}
	s.current, s.direction = Step(s.current, s.start, s.end, elapsed, s.direction, s.mode)
	return s.current
}

// Moves the clock to ts, clamped to the video, travelling in dir from now on
func (s *State) Seek(ts int64, dir Direction) int64 {
	s.current = s.Clamp(ts)
	s.direction = dir
	return s.current
}

func (s *State) Clamp(ts int64) int64 {
	if ts < s.start {
		return s.start
	}
	if ts > s.end {
		return s.end
	}
	return ts
}
