package player

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/0bVdnt/xrvideo/internal/playback"
	"github.com/0bVdnt/xrvideo/internal/renderer"
	"github.com/0bVdnt/xrvideo/internal/xrvideo"
	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"
)

const DefaultTick = 33 * time.Millisecond

// Terminal preview of one xrvideo.Video: advances its clock every tick,
// draws the locked frames and maps keys onto playback controls.
type Player struct {
	video  *xrvideo.Video
	render *renderer.Renderer
	log    *zap.Logger
	tick   time.Duration

	mu    sync.RWMutex
	state *PlayerState
	cam   renderer.Camera

	raster    renderer.Rasterizer
	points    [][3]float32
	lastImage *image.RGBA
	lastTick  time.Time
	prevState State

	ctx      context.Context
	cancel   context.CancelFunc
	doneChan chan struct{}
}

type Config struct {
	Video *xrvideo.Video
	// Screen to draw on; the controlling terminal when nil
	Renderer *renderer.Renderer
	Logger   *zap.Logger
	Tick     time.Duration
}

func New(cfg Config) (*Player, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}

	render := cfg.Renderer
	if render == nil {
		var err error
		if render, err = renderer.New(); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	screenW, screenH := render.Size()

	return &Player{
		video:    cfg.Video,
		render:   render,
		log:      log.Named("player"),
		tick:     cfg.Tick,
		state:    NewPlayerState(screenW, screenH),
		cam:      renderer.DefaultCamera(),
		ctx:      ctx,
		cancel:   cancel,
		doneChan: make(chan struct{}),
	}, nil
}

// Runs the event and draw loop until quit or Stop
func (p *Player) Run() {
	defer p.cleanup()

	eventChan := make(chan tcell.Event, 50)
	go p.pollEvents(eventChan)

	time.Sleep(50 * time.Millisecond)
	p.drainInitialEvents(eventChan)

	p.mu.Lock()
	w, h := p.render.Size()
	p.state.UpdateDimensions(w, h)
	p.mu.Unlock()

	p.mainLoop(eventChan)
}

func (p *Player) mainLoop(eventChan <-chan tcell.Event) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return

		case ev := <-eventChan:
			if ev == nil {
				return
			}
			if p.HandleEvent(ev) == EventQuit {
				return
			}

		case now := <-ticker.C:
			p.Update(now)
			p.Render()
		}
	}
}

// Advances the video clock by the time since the last call and refreshes
// the displayed state
func (p *Player) Update(now time.Time) {
	var elapsed time.Duration
	if !p.lastTick.IsZero() {
		elapsed = now.Sub(p.lastTick)
	}
	p.lastTick = now

	switch p.video.State() {
	case xrvideo.StateUninitialized:
		p.setState(StateStopped)
		return
	case xrvideo.StateLoading:
		p.setState(StateLoading)
		return
	case xrvideo.StateError:
		msg := "load failed"
		if err := p.video.Err(); err != nil {
			msg = err.Error()
		}
		p.SetError(msg)
		return
	}

	ts, err := p.video.Update(elapsed.Nanoseconds())
	if err != nil {
		return
	}
	snap := p.video.Snapshot()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.CurrentTime = time.Duration(ts)
	p.state.Start = time.Duration(snap.Start)
	p.state.End = time.Duration(snap.End)
	p.state.Reverse = snap.Direction == playback.Backward.String()
	p.state.Buffered = snap.Progress
	p.state.Frame = snap.Frame
	p.state.Frames = snap.Frames
	p.state.ErrorMsg = ""

	switch {
	case snap.Buffering:
		p.state.State = StateBuffering
	case snap.Paused:
		p.state.State = StatePaused
	case p.atEnd(ts, snap):
		p.state.State = StateEnded
	default:
		p.state.State = StatePlaying
	}
}

func (p *Player) atEnd(ts int64, snap xrvideo.Snapshot) bool {
	dir, err := p.video.Direction()
	if err != nil {
		return false
	}
	return playback.AtEnd(ts, snap.Start, snap.End, dir, p.video.PlaybackMode())
}

func (p *Player) setState(s State) {
	p.mu.Lock()
	p.state.State = s
	p.mu.Unlock()
}

func (p *Player) State() PlayerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.state
}

func (p *Player) pollEvents(eventChan chan<- tcell.Event) {
	screen := p.render.Screen()
	if screen == nil {
		return
	}

	for {
		ev := screen.PollEvent()
		if ev == nil {
			return
		}
		select {
		case eventChan <- ev:
		case <-p.doneChan:
			return
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Player) drainInitialEvents(eventChan <-chan tcell.Event) {
	for {
		select {
		case ev := <-eventChan:
			if ev == nil {
				return
			}
			if resize, ok := ev.(*tcell.EventResize); ok {
				w, h := resize.Size()
				p.mu.Lock()
				p.state.UpdateDimensions(w, h)
				p.mu.Unlock()
			}
		case <-time.After(20 * time.Millisecond):
			return
		}
	}
}

func (p *Player) cleanup() {
	close(p.doneChan)
	p.render.Close()
}

func (p *Player) Stop() {
	p.cancel()
}
