package xrvideo

import (
	"sync"
	"sync/atomic"

	"github.com/0bVdnt/xrvideo/internal/cache"
	"github.com/0bVdnt/xrvideo/internal/codec"
	"github.com/0bVdnt/xrvideo/internal/config"
	"github.com/0bVdnt/xrvideo/internal/container"
	"github.com/0bVdnt/xrvideo/internal/metrics"
	"github.com/0bVdnt/xrvideo/internal/pipeline"
	"github.com/0bVdnt/xrvideo/internal/playback"
	"github.com/0bVdnt/xrvideo/internal/resources"
	"github.com/0bVdnt/xrvideo/internal/stream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrNotReady      = errors.New("video not ready")
	ErrInvalidStream = errors.New("invalid input stream")
	ErrClosed        = errors.New("video closed")
)

type Options struct {
	Config    *config.Config
	Resources resources.Factory
	// Creates the frame decoder of each load; the zstd reference codec by default
	NewDecoder func() (codec.Decoder, error)
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// one loaded video with its pipeline and clock
type session struct {
	id    string
	seq   uint64
	pipe  *pipeline.Pipeline
	clock *playback.State
	log   *zap.Logger

	locks   atomic.Int64
	retired atomic.Bool
}

// Volumetric video player: loads XRVideo streams in the background, runs
// their decode pipeline and hands out render locks on decoded frames.
//
// A new load while a video is playing switches to it once it is ready;
// until then the old video keeps playing.
type Video struct {
	opts Options
	cfg  *config.Config
	log  *zap.Logger
	met  *metrics.Metrics

	mu      sync.Mutex
	state   LoadState
	loadErr error
	loadSeq uint64
	current *session
	retired []*session
	mode    playback.Mode
	closed  bool

	loads sync.WaitGroup
}

func New(opts Options) *Video {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}
	if opts.Resources == nil {
		opts.Resources = resources.MemoryFactory(opts.Config.Transfer.SimulatedLatency)
	}
	if opts.NewDecoder == nil {
		opts.NewDecoder = func() (codec.Decoder, error) {
			return codec.NewZstdDecoder()
		}
	}

	return &Video{
		opts: opts,
		cfg:  opts.Config,
		log:  opts.Logger.Named("video"),
		met:  opts.Metrics,
		mode: opts.Config.Mode(),
	}
}

// Starts loading the file at path in the background
func (v *Video) Load(path string) error {
	if path == "" {
		return errors.Wrap(ErrInvalidStream, "empty path")
	}
	return v.beginLoad(func() (stream.InputStream, error) {
		return stream.OpenFile(path)
	}, true)
}

// Starts loading from a caller-supplied stream in the background. The video
// takes ownership of s only if the load succeeds; after a failed load the
// caller still has to close it.
func (v *Video) LoadCustom(s stream.InputStream) error {
	if s == nil {
		return errors.Wrap(ErrInvalidStream, "nil stream")
	}
	if s.Size() <= 0 {
		return errors.Wrap(ErrInvalidStream, "empty stream")
	}
	return v.beginLoad(func() (stream.InputStream, error) {
		return s, nil
	}, false)
}

// LoadCustom over read/seek/size callbacks
func (v *Video) LoadCallbacks(cb stream.Callbacks) error {
	s, err := stream.NewCallbackStream(cb)
	if err != nil {
		return errors.Wrap(ErrInvalidStream, err.Error())
	}
	return v.LoadCustom(s)
}

func (v *Video) beginLoad(open func() (stream.InputStream, error), owned bool) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	v.loadSeq++
	seq := v.loadSeq
	switching := v.current != nil
	if !switching {
		v.state = StateLoading
	}
	v.loads.Add(1)
	v.mu.Unlock()

	id := uuid.NewString()
	v.log.Info("load started", zap.String("load_id", id), zap.Uint64("seq", seq), zap.Bool("switch", switching))

	go func() {
		defer v.loads.Done()
		sess, err := v.openSession(id, seq, open, owned)
		v.finishLoad(seq, sess, err)
	}()
	return nil
}

func (v *Video) openSession(id string, seq uint64, open func() (stream.InputStream, error), owned bool) (*session, error) {
	log := v.log.With(zap.String("load_id", id))

	src, err := open()
	if err != nil {
		return nil, err
	}
	closeSrc := func() {
		if owned {
			src.Close()
		}
	}

	reader, err := container.Open(src)
	if err != nil {
		closeSrc()
		return nil, errors.Wrap(err, "open container")
	}
	info := reader.Info()

	res, err := v.opts.Resources(info)
	if err != nil {
		closeSrc()
		return nil, errors.Wrap(err, "create frame resources")
	}
	dec, err := v.opts.NewDecoder()
	if err != nil {
		closeSrc()
		return nil, errors.Wrap(err, "create decoder")
	}

	v.mu.Lock()
	mode := v.mode
	v.mu.Unlock()

	clock := playback.NewState(info.StartTimestamp, info.EndTimestamp, mode, v.cfg.Direction())
	pipe, err := pipeline.New(reader, dec, res, pipeline.Config{
		Capacity:           v.cfg.DecodedFrameCount(),
		MinBufferedFrames:  v.cfg.MinBufferedFrames(),
		ReadQueueDepth:     v.cfg.Pipeline.ReadQueueDepth,
		TransferQueueDepth: v.cfg.Pipeline.TransferQueueDepth,
		Mode:               mode,
		Direction:          clock.Direction(),
		StartFrame:         reader.Index().FrameAt(clock.Current()),
		Logger:             log,
		Metrics:            v.met,
	})
	if err != nil {
		dec.Close()
		closeSrc()
		return nil, err
	}
	pipe.Start()

	log.Info("video opened",
		zap.Int("frames", info.FrameCount),
		zap.Duration("duration", info.Duration()),
		zap.Float64("fps", info.FrameRate()),
	)
	return &session{id: id, seq: seq, pipe: pipe, clock: clock, log: log}, nil
}

func (v *Video) finishLoad(seq uint64, sess *session, err error) {
	v.mu.Lock()

	if v.closed || seq != v.loadSeq {
		v.mu.Unlock()
		v.met.Loads.WithLabelValues("superseded").Inc()
		if sess != nil {
			v.retire(sess)
		}
		return
	}

	if err != nil {
		v.loadErr = err
		if v.current == nil {
			v.state = StateError
		}
		v.mu.Unlock()
		v.met.Loads.WithLabelValues("error").Inc()
		v.log.Error("load failed", zap.Uint64("seq", seq), zap.Error(err))
		return
	}

	old := v.current
	v.current = sess
	v.state = StateReady
	v.loadErr = nil
	v.mu.Unlock()

	v.met.Loads.WithLabelValues("ok").Inc()
	if old != nil {
		sess.log.Info("switched video", zap.String("previous_load_id", old.id))
		v.retire(old)
	}
}

// Stops a superseded session and frees it once its render locks are gone
func (v *Video) retire(s *session) {
	s.retired.Store(true)
	s.pipe.Stop()

	v.mu.Lock()
	v.retired = append(v.retired, s)
	v.mu.Unlock()
	v.reap()
}

// Destroys retired sessions that no longer have render locks
func (v *Video) reap() {
	v.mu.Lock()
	var keep []*session
	var free []*session
	for _, s := range v.retired {
		if s.locks.Load() == 0 {
			free = append(free, s)
		} else {
			keep = append(keep, s)
		}
	}
	v.retired = keep
	v.mu.Unlock()

	for _, s := range free {
		err := s.pipe.Destroy()
		if errors.Is(err, cache.ErrLocksOutstanding) {
			v.mu.Lock()
			v.retired = append(v.retired, s)
			v.mu.Unlock()
			continue
		}
		if err != nil {
			s.log.Warn("close video", zap.Error(err))
		}
		s.log.Debug("video destroyed")
	}
}

func (v *Video) session() *session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

func (v *Video) State() LoadState {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.current != nil && v.current.pipe.Err() != nil {
		return StateError
	}
	return v.state
}

// Last load or pipeline failure
func (v *Video) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.current != nil {
		if err := v.current.pipe.Err(); err != nil {
			return err
		}
	}
	return v.loadErr
}

// Whether the video playing comes from the most recent Load call
func (v *Video) SwitchedToMostRecentVideo() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current != nil && v.current.seq == v.loadSeq
}

// Id of the load currently playing, empty before the first one completes
func (v *Video) LoadID() string {
	if s := v.session(); s != nil {
		return s.id
	}
	return ""
}

func (v *Video) Info() (container.Info, error) {
	s := v.session()
	if s == nil {
		return container.Info{}, ErrNotReady
	}
	return s.pipe.Info(), nil
}

// Stops playback and frees the video. In-flight loads are abandoned and
// waited for; frames still referenced by render locks are freed when the
// last of those locks is released.
func (v *Video) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.loadSeq++
	cur := v.current
	v.current = nil
	v.state = StateUninitialized
	v.mu.Unlock()

	v.loads.Wait()
	if cur != nil {
		v.retire(cur)
	}
	v.log.Info("video closed")
	return nil
}

// Number of superseded videos waiting for render locks to be released
func (v *Video) PendingTeardowns() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.retired)
}
