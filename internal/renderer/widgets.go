package renderer

import (
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"
)

// Draws text from (x, y), cut at the right edge
func (r *Renderer) DrawText(x, y int, text string, style tcell.Style) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.screen == nil || r.closed {
		return
	}
	r.drawTextLocked(x, y, text, style)
}

func (r *Renderer) drawTextLocked(x, y int, text string, style tcell.Style) {
	w, h := r.screen.Size()
	if y < 0 || y >= h {
		return
	}
	col := x
	for _, ch := range text {
		if col >= w {
			return
		}
		if col >= 0 {
			r.screen.SetContent(col, y, ch, nil, style)
		}
		col++
	}
}

// Status line with left-aligned and right-aligned parts. The right part is
// dropped when both do not fit.
func (r *Renderer) StatusLine(y int, left, right string, style tcell.Style) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.screen == nil || r.closed {
		return
	}
	w, _ := r.screen.Size()
	r.fillLocked(y, style)
	r.drawTextLocked(0, y, left, style)
	if n := utf8.RuneCountInString(right); utf8.RuneCountInString(left)+n+1 <= w {
		r.drawTextLocked(w-n, y, right, style)
	}
}

func (r *Renderer) FillLine(y int, style tcell.Style) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.screen == nil || r.closed {
		return
	}
	r.fillLocked(y, style)
}

func (r *Renderer) fillLocked(y int, style tcell.Style) {
	w, h := r.screen.Size()
	if y < 0 || y >= h {
		return
	}
	for x := 0; x < w; x++ {
		r.screen.SetContent(x, y, ' ', nil, style)
	}
}

// Centered message on a full-width band in the middle of the view
func (r *Renderer) RenderMessage(msg string, bgColor tcell.Color) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.screen == nil || r.closed {
		return
	}
	w, h := r.screen.Size()
	if w <= 0 || h <= 0 {
		return
	}

	style := tcell.StyleDefault.Background(bgColor).Foreground(tcell.ColorWhite)
	y := (h - StatusLines) / 2
	r.fillLocked(y, style)
	r.drawTextLocked(max(0, (w-utf8.RuneCountInString(msg))/2), y, msg, style)
}

// Horizontal bar over the full width at row y. progress is clamped to
// [0, 1]; buffered, also in [0, 1], shades the part ahead of the marker
// that is ready to play.
func (r *Renderer) ProgressBar(y int, progress, buffered float64, filledColor, bufferedColor, emptyColor tcell.Color) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.screen == nil || r.closed {
		return
	}
	w, h := r.screen.Size()
	if y < 0 || y >= h || w < 4 {
		return
	}

	progress = clamp01(progress)
	buffered = clamp01(buffered)
	barW := w - 2
	filled := int(float64(barW) * progress)
	ahead := filled + int(float64(barW-filled)*buffered)

	for i := 0; i < barW; i++ {
		ch, style := '─', tcell.StyleDefault.Background(emptyColor)
		switch {
		case i < filled:
			ch, style = '━', tcell.StyleDefault.Background(filledColor)
		case i < ahead:
			style = tcell.StyleDefault.Background(bufferedColor)
		}
		r.screen.SetContent(1+i, y, ch, nil, style)
	}

	mx := min(1+filled, w-2)
	r.screen.SetContent(mx, y, '●', nil, tcell.StyleDefault.Foreground(tcell.ColorWhite))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
