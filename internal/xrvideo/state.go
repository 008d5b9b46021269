package xrvideo

type LoadState int

const (
	StateUninitialized LoadState = iota
	StateLoading
	StateReady
	StateError
)

func (s LoadState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
