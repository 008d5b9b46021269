package pipeline

import (
	"context"
	"sync"

	"github.com/0bVdnt/xrvideo/internal/cache"
	"github.com/0bVdnt/xrvideo/internal/codec"
	"github.com/0bVdnt/xrvideo/internal/container"
	"github.com/0bVdnt/xrvideo/internal/metrics"
	"github.com/0bVdnt/xrvideo/internal/playback"
	"github.com/0bVdnt/xrvideo/internal/resources"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultCapacity          = 30
	DefaultMinBufferedFrames = 5
	DefaultQueueDepth        = 4

	// keyframe, previous and current of the playhead plus one slot to decode into
	MinCapacity = 4
)

// Decoded frame held by one cache slot
type Frame struct {
	Data resources.UserData
	Meta container.FrameMetadata
}

type Config struct {
	// Cache slots; 0 keeps every frame of the video
	Capacity           int
	MinBufferedFrames  int
	ReadQueueDepth     int
	TransferQueueDepth int

	Mode      playback.Mode
	Direction playback.Direction
	// First display frame
	StartFrame int

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.ReadQueueDepth <= 0 {
		c.ReadQueueDepth = DefaultQueueDepth
	}
	if c.TransferQueueDepth <= 0 {
		c.TransferQueueDepth = DefaultQueueDepth
	}
	if c.MinBufferedFrames < 0 {
		c.MinBufferedFrames = 0
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop()
	}
	return c
}

type readItem struct {
	frame  int
	epoch  uint64
	record []byte
}

type transferItem struct {
	slot       int
	generation uint64
	frame      int
	data       *Frame
}

// display frame and the direction playback moves through it
type position struct {
	frame int
	dir   playback.Direction
}

// Reading, decoding and transfer workers feeding the decoded frame cache of
// one video.
//
// The reading goroutine walks the display schedule from the playhead and
// queues each display frame's keyframe, predecessor and the frame itself,
// skipping frames already cached. The decoding goroutine claims a cache slot
// per frame, decodes into the slot's resources and hands it to the transfer
// goroutine, which waits for the upload and marks the slot readable.
//
// Lock ordering: mu, then the cache lock.
type Pipeline struct {
	log *zap.Logger
	met *metrics.Metrics
	cfg Config

	reader  *container.Reader
	index   *container.Index
	decoder codec.Decoder
	res     resources.FrameResources
	cache   *cache.Cache[*Frame]

	// display frames read ahead of the playhead
	lookahead   int
	minBuffered int

	mu        sync.Mutex
	epoch     uint64
	mode      playback.Mode
	playhead  position
	window    []position
	todo      []int
	exhausted bool
	pending   map[int]uint64
	buffering bool
	err       error

	// unique vertex count of every keyframe parsed so far; decode goroutine only
	keyVertices map[int]uint32

	wakeRead  chan struct{}
	progress  chan struct{}
	readQ     chan readItem
	transferQ chan transferItem

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
	closeErr error
	closed   bool
}

// Creates a stopped pipeline. It takes ownership of reader, decoder and res
// once it returns without error.
func New(reader *container.Reader, decoder codec.Decoder, res resources.FrameResources, cfg Config) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger
	index := reader.Index()
	n := index.Len()

	capacity := cfg.Capacity
	if capacity < 0 {
		return nil, errors.Errorf("negative cache capacity %d", capacity)
	}
	if capacity > 0 && capacity < MinCapacity {
		log.Warn("cache capacity raised", zap.Int("requested", capacity), zap.Int("capacity", MinCapacity))
		capacity = MinCapacity
	}

	c, err := cache.New(capacity,
		func(int) (*Frame, error) {
			data, err := res.ConstructFrame()
			if err != nil {
				return nil, err
			}
			return &Frame{Data: data}, nil
		},
		func(f *Frame) {
			if f != nil {
				res.DestructFrame(f.Data)
			}
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "create frame cache")
	}

	lookahead := n
	if capacity > 0 && capacity-3 < lookahead {
		lookahead = capacity - 3
	}
	minBuffered := cfg.MinBufferedFrames
	if minBuffered > lookahead-1 {
		minBuffered = lookahead - 1
	}

	start := cfg.StartFrame
	if start < 0 || start >= n {
		start = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		log:         log,
		met:         cfg.Metrics,
		cfg:         cfg,
		reader:      reader,
		index:       index,
		decoder:     decoder,
		res:         res,
		cache:       c,
		lookahead:   lookahead,
		minBuffered: minBuffered,
		mode:        cfg.Mode,
		playhead:    position{frame: start, dir: cfg.Direction},
		pending:     make(map[int]uint64),
		keyVertices: make(map[int]uint32),
		buffering:   true,
		wakeRead:    make(chan struct{}, 1),
		progress:    make(chan struct{}, 1),
		readQ:       make(chan readItem, cfg.ReadQueueDepth),
		transferQ:   make(chan transferItem, cfg.TransferQueueDepth),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Launches the workers
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.repositionLocked(p.playhead, "start")
	p.mu.Unlock()

	p.log.Info("pipeline started",
		zap.Int("frames", p.index.Len()),
		zap.Int("capacity", p.cache.Capacity()),
		zap.Bool("growable", p.cache.Growable()),
		zap.Int("lookahead", p.lookahead),
		zap.Int("min_buffered", p.minBuffered),
		zap.Stringer("mode", p.mode),
	)

	p.wg.Add(3)
	go p.readLoop(p.ctx)
	go p.decodeLoop(p.ctx)
	go p.transferLoop(p.ctx)
}

func (p *Pipeline) Info() container.Info {
	return p.reader.Info()
}

func (p *Pipeline) Index() *container.Index {
	return p.index
}

// Decoded frames; render locks read from here
func (p *Pipeline) Cache() *cache.Cache[*Frame] {
	return p.cache
}

// First terminal worker error
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Closed when the workers have been cancelled, by Stop or by a failure
func (p *Pipeline) Done() <-chan struct{} {
	return p.ctx.Done()
}

func (p *Pipeline) fail(stage string, err error) {
	p.mu.Lock()
	first := p.err == nil
	if first {
		p.err = err
	}
	p.mu.Unlock()

	if first {
		p.met.Errors.WithLabelValues(stage).Inc()
		p.log.Error("pipeline failed", zap.String("stage", stage), zap.Error(err))
	}
	p.cancel()
}

// Stops the workers and drops frames still waiting for their transfer.
// Safe to call more than once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.reader.Abort()
		p.wg.Wait()

	drain:
		for {
			select {
			case item := <-p.transferQ:
				p.res.CompleteTransfer(item.data.Data, &item.data.Meta)
				p.cache.Discard(item.slot, item.generation)
			case <-p.readQ:
			default:
				break drain
			}
		}
		p.decoder.Close()
		p.log.Debug("pipeline stopped")
	})
}

// Stops the pipeline, frees every cached frame and closes the stream.
// Returns cache.ErrLocksOutstanding, and frees nothing, while read handles
// from the cache are still held; call again once they are released.
func (p *Pipeline) Destroy() error {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.closeErr
	}
	if err := p.cache.Destroy(); err != nil {
		return err
	}
	p.closed = true
	p.closeErr = p.reader.Close()
	p.log.Debug("pipeline destroyed")
	return p.closeErr
}
