package player

import (
	"time"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"
)

const (
	SeekSmall = time.Second
	SeekLarge = 5 * time.Second
)

type EventResult int

const (
	EventContinue EventResult = iota
	EventQuit
)

func (p *Player) HandleEvent(ev tcell.Event) EventResult {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		return p.handleResize(ev)
	case *tcell.EventKey:
		return p.handleKey(ev)
	}
	return EventContinue
}

func (p *Player) handleResize(ev *tcell.EventResize) EventResult {
	w, h := ev.Size()

	p.render.Sync()
	p.render.Clear()
	p.render.InvalidateCache()

	p.mu.Lock()
	p.state.UpdateDimensions(w, h)
	p.mu.Unlock()
	return EventContinue
}

func (p *Player) handleKey(ev *tcell.EventKey) EventResult {
	if ev.Key() == tcell.KeyRune {
		return p.handleRune(ev.Rune())
	}
	return p.handleKeyCode(ev.Key())
}

func (p *Player) handleKeyCode(key tcell.Key) EventResult {
	switch key {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return EventQuit
	case tcell.KeyLeft:
		p.Seek(-SeekSmall)
	case tcell.KeyRight:
		p.Seek(SeekSmall)
	case tcell.KeyDown:
		p.Seek(-SeekLarge)
	case tcell.KeyUp:
		p.Seek(SeekLarge)
	case tcell.KeyHome:
		p.mu.RLock()
		start := p.state.Start
		p.mu.RUnlock()
		p.SeekTo(start, true)
	case tcell.KeyEnd:
		p.mu.RLock()
		end := p.state.End
		p.mu.RUnlock()
		p.SeekTo(end, false)
	}
	return EventContinue
}

func (p *Player) handleRune(r rune) EventResult {
	switch r {
	case 'q', 'Q':
		return EventQuit
	case ' ':
		p.TogglePause()
	case 'r', 'R':
		p.Restart()
	case 'b', 'B':
		p.Reverse()
	case 'm', 'M':
		mode := p.CycleMode()
		p.log.Debug("mode changed", zap.Stringer("mode", mode))
	case 'h':
		p.Orbit(-orbitStep, 0)
	case 'l':
		p.Orbit(orbitStep, 0)
	case 'k':
		p.Orbit(0, orbitStep)
	case 'j':
		p.Orbit(0, -orbitStep)
	case '+', '=':
		p.Zoom(1 / zoomStep)
	case '-':
		p.Zoom(zoomStep)
	}
	return EventContinue
}
