package playback

// Advances ts by elapsed nanoseconds inside [start, end] and returns the new
// timestamp and direction.
//
// SingleShot clamps at the boundary it runs into. Loop wraps with the
// overflow carried over: reaching end forward lands on start, dropping below
// start backward lands just before end. BackAndForth folds the motion back at
// each boundary, so the direction flips on the exact instant the boundary is
// reached and no elapsed time is lost or counted twice.
func Step(ts, start, end, elapsed int64, dir Direction, mode Mode) (int64, Direction) {
	if elapsed <= 0 {
		return ts, dir
	}
	duration := end - start
	if duration <= 0 {
		return start, dir
	}
	if ts < start {
		ts = start
	} else if ts > end {
		ts = end
	}

	switch mode {
	case Loop:
		pos := ts - start
		if dir == Forward {
			pos = (pos + elapsed%duration) % duration
		} else {
			pos = (pos - elapsed%duration) % duration
			if pos < 0 {
				pos += duration
			}
		}
		return start + pos, dir

	case BackAndForth:
		// position on the unfolded cycle: [0, duration) runs forward from
		// start, [duration, 2*duration) runs backward from end
		cycle := 2 * duration
		u := ts - start
		if dir == Backward {
			u = cycle - u
		}
		u = (u%cycle + elapsed%cycle) % cycle
		if u < duration {
			return start + u, Forward
		}
		return start + cycle - u, Backward

	default:
		if dir == Forward {
			if elapsed >= end-ts {
				return end, dir
			}
			return ts + elapsed, dir
		}
		if elapsed >= ts-start {
			return start, dir
		}
		return ts - elapsed, dir
	}
}

// Whether a SingleShot clock has nowhere left to go
func AtEnd(ts, start, end int64, dir Direction, mode Mode) bool {
	if mode != SingleShot {
		return false
	}
	if dir == Forward {
		return ts >= end
	}
	return ts <= start
}
