package renderer

import (
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/pkg/errors"
)

// Terminal backend: draws rasterized frames as half-block cells and keeps
// the last drawn cells so unchanged ones are skipped.
type Renderer struct {
	mu         sync.Mutex
	screen     tcell.Screen
	prevCells  []uint64
	prevW      int
	prevH      int
	closed     bool
	needsClear bool
}

// Creates a renderer on the controlling terminal
func New() (*Renderer, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, errors.Wrap(err, "open terminal")
	}
	return NewWithScreen(screen)
}

// Creates a renderer on screen, which is initialized here
func NewWithScreen(screen tcell.Screen) (*Renderer, error) {
	if err := screen.Init(); err != nil {
		return nil, errors.Wrap(err, "init screen")
	}

	screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack))
	screen.HideCursor()
	screen.Clear()

	return &Renderer{
		screen:     screen,
		needsClear: true,
	}, nil
}

func (r *Renderer) Screen() tcell.Screen {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.screen
}

// Terminal size in cells; 80x24 once closed
func (r *Renderer) Size() (width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.screen == nil || r.closed {
		return 80, 24
	}
	return r.screen.Size()
}

func (r *Renderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.screen != nil && !r.closed {
		r.screen.Clear()
	}
	r.prevCells = nil
	r.needsClear = true
}

// Marks the view area for clearing before the next frame
func (r *Renderer) RequestClear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.needsClear = true
}

// Returns and resets the clear request
func (r *Renderer) NeedsClear() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := r.needsClear
	r.needsClear = false
	return result
}

// Forces a full repaint, used after resizes
func (r *Renderer) Sync() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.screen != nil && !r.closed {
		r.screen.Sync()
	}
}

func (r *Renderer) Show() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.screen != nil && !r.closed {
		r.screen.Show()
	}
}

// Forgets the drawn cells so the next frame is drawn in full
func (r *Renderer) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prevCells = nil
}

func (r *Renderer) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed || r.screen == nil
}

// Restores the terminal
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	if r.screen != nil {
		r.screen.Fini()
		r.screen = nil
	}
}

// Blanks everything above the two status lines
func (r *Renderer) ClearViewArea() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.screen == nil || r.closed {
		return
	}

	w, h := r.screen.Size()
	style := tcell.StyleDefault.Background(tcell.ColorBlack)
	for y := 0; y < h-StatusLines; y++ {
		for x := 0; x < w; x++ {
			r.screen.SetContent(x, y, ' ', nil, style)
		}
	}
	r.prevCells = nil
}
