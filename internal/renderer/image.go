package renderer

import (
	"image"

	"github.com/gdamore/tcell/v2"
)

// Rows at the bottom of the screen reserved for the progress and status bars
const StatusLines = 2

// Draws img with its top-left corner at cell (offsetX, offsetY). Each cell
// shows two pixel rows: the upper one as the foreground of '▀', the lower
// one as the background. Cells whose colors did not change since the last
// call are skipped.
func (r *Renderer) RenderImage(img *image.RGBA, offsetX, offsetY int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if img == nil || r.screen == nil || r.closed {
		return
	}

	bounds := img.Bounds()
	imgW, imgH := bounds.Dx(), bounds.Dy()
	screenW, screenH := r.screen.Size()
	if imgW <= 0 || imgH <= 0 || screenW <= 0 || screenH <= 0 {
		return
	}

	cellW, cellH := imgW, (imgH+1)/2
	if len(r.prevCells) != cellW*cellH || r.prevW != cellW || r.prevH != cellH {
		r.prevCells = make([]uint64, cellW*cellH)
		r.prevW, r.prevH = cellW, cellH
		for i := range r.prevCells {
			r.prevCells[i] = ^uint64(0)
		}
	}

	for cy := 0; cy < cellH; cy++ {
		y := offsetY + cy
		if y < 0 || y >= screenH {
			continue
		}
		for cx := 0; cx < cellW; cx++ {
			x := offsetX + cx
			if x < 0 || x >= screenW {
				continue
			}

			top, bottom := cellPixels(img, cx, cy*2)
			packed := top<<24 | bottom
			i := cy*cellW + cx
			if r.prevCells[i] == packed {
				continue
			}
			r.prevCells[i] = packed

			style := tcell.StyleDefault.
				Foreground(tcell.NewHexColor(int32(top))).
				Background(tcell.NewHexColor(int32(bottom)))
			r.screen.SetContent(x, y, '▀', nil, style)
		}
	}
}

// 0xRRGGBB of the pixel at (x, y) and of the one below it, which repeats
// the first on the last row of an odd-height image
func cellPixels(img *image.RGBA, x, y int) (top, bottom uint64) {
	b := img.Bounds()
	top = rgb(img, b.Min.X+x, b.Min.Y+y)
	if y+1 < b.Dy() {
		return top, rgb(img, b.Min.X+x, b.Min.Y+y+1)
	}
	return top, top
}

func rgb(img *image.RGBA, x, y int) uint64 {
	off := img.PixOffset(x, y)
	p := img.Pix[off : off+3 : off+3]
	return uint64(p[0])<<16 | uint64(p[1])<<8 | uint64(p[2])
}
