package player

import (
	"fmt"
	"image"
	"time"

	"github.com/0bVdnt/xrvideo/internal/renderer"
	"github.com/0bVdnt/xrvideo/internal/resources"
	"github.com/gdamore/tcell/v2"
)

func (p *Player) Render() {
	if p.render.IsClosed() {
		return
	}

	p.mu.RLock()
	st := *p.state
	cam := p.cam
	p.mu.RUnlock()

	if st.State != p.prevState {
		p.render.RequestClear()
		p.prevState = st.State
	}
	if p.render.NeedsClear() {
		p.render.ClearViewArea()
	}

	switch st.State {
	case StateStopped:
		p.render.RenderMessage("No video", tcell.ColorDarkBlue)
	case StateLoading:
		p.render.RenderMessage("Loading video...", tcell.ColorDarkBlue)
	case StateError:
		p.render.RenderMessage(st.ErrorMsg, tcell.ColorDarkRed)
	default:
		if img := p.drawFrame(cam, st.ViewW, st.ViewH); img != nil {
			cellH := st.ViewH / 2
			offsetX := max(0, (st.ScreenW-st.ViewW)/2)
			offsetY := max(0, (st.ScreenH-cellH-3)/2)
			p.render.RenderImage(img, offsetX, offsetY)
		} else {
			p.render.RenderMessage("Buffering...", tcell.ColorDarkBlue)
		}
	}

	p.renderUI(st)
	p.render.Show()
}

// Rasterizes the frames shown now. While they are not decoded, for example
// right after a seek, the last image is kept on screen.
func (p *Player) drawFrame(cam renderer.Camera, w, h int) *image.RGBA {
	lock := p.video.CreateRenderLock()
	if lock == nil {
		return p.lastImage
	}
	defer lock.Release()

	key, ok := lock.Keyframe().(*resources.MemoryFrame)
	if !ok {
		return p.lastImage
	}
	cur := lock.Current().(*resources.MemoryFrame)
	var prev renderer.Deformer
	if pf, ok := lock.Previous().(*resources.MemoryFrame); ok {
		prev = pf
	}

	p.points = renderer.Compose(p.points, key, prev, cur, lock.IntraFrameTime())

	meta := cur.Metadata()
	luma := cur.Texture()
	if n := int(meta.TextureWidth * meta.TextureHeight); n <= len(luma) {
		luma = luma[:n]
	}
	p.lastImage = p.raster.Draw(p.points, luma, key.VertexAlpha(), cam, w, h)
	return p.lastImage
}

func (p *Player) renderUI(st PlayerState) {
	w, h := st.ScreenW, st.ScreenH
	if w < 10 || h < 5 {
		return
	}

	barY := h - 2
	p.render.FillLine(barY, tcell.StyleDefault.Background(tcell.ColorBlack))
	if st.End > st.Start {
		// while buffering, the track ahead fills up as frames become ready
		buffered := 0.0
		if st.State == StateBuffering {
			buffered = st.Buffered / 100
		}
		p.render.ProgressBar(barY, st.Progress(), buffered,
			tcell.ColorGreen, tcell.ColorDarkGreen, tcell.ColorDarkGray)
	}

	statusStyle := tcell.StyleDefault.
		Background(tcell.ColorDarkBlue).
		Foreground(tcell.ColorWhite)

	dir := "→"
	if st.Reverse {
		dir = "←"
	}
	left := fmt.Sprintf(" %s %s/%s %s │ frame %d/%d │ %s",
		st.State.Icon(),
		formatDuration(st.CurrentTime-st.Start),
		formatDuration(st.End-st.Start),
		dir,
		st.Frame+1, st.Frames,
		p.video.PlaybackMode(),
	)
	if st.State == StateBuffering {
		left += fmt.Sprintf(" │ buffering %.0f%%", st.Buffered)
	}
	right := "Q:quit SPC:pause ←/→:seek B:reverse M:mode HJKL:orbit +/-:zoom "

	p.render.StatusLine(h-1, left, right, statusStyle)
}

// m:ss.d; volumetric clips are short, so tenths matter
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(100 * time.Millisecond)
	m := d / time.Minute
	s := (d % time.Minute) / time.Second
	tenths := (d % time.Second) / (100 * time.Millisecond)
	return fmt.Sprintf("%d:%02d.%d", m, s, tenths)
}
