package xrvideo

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0bVdnt/xrvideo/internal/codec"
	"github.com/0bVdnt/xrvideo/internal/config"
	"github.com/0bVdnt/xrvideo/internal/container"
	"github.com/0bVdnt/xrvideo/internal/metrics"
	"github.com/0bVdnt/xrvideo/internal/playback"
	"github.com/0bVdnt/xrvideo/internal/resources"
	"github.com/0bVdnt/xrvideo/internal/stream"
	"github.com/0bVdnt/xrvideo/internal/synth"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var testVideo = synth.Options{
	Frames:           30,
	KeyframeInterval: 10,
	FrameInterval:    10 * time.Millisecond,
	GridSize:         4,
}

const ms = int64(time.Millisecond)

func testConfig(mode playback.Mode) *config.Config {
	cfg := config.Default()
	slots, buffered := 10, 3
	cfg.Cache.DecodedFrameCount = &slots
	cfg.Cache.MinBufferedFrames = &buffered
	cfg.Playback.Mode = mode.String()
	return cfg
}

// records the frame resources created for each load
type resourceLog struct {
	mu   sync.Mutex
	mems []*resources.Memory
}

func (r *resourceLog) factory(info container.Info) (resources.FrameResources, error) {
	m := resources.NewMemory(info, 0)
	r.mu.Lock()
	r.mems = append(r.mems, m)
	r.mu.Unlock()
	return m, nil
}

func (r *resourceLog) get(i int) *resources.Memory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mems[i]
}

func newVideo(t *testing.T, cfg *config.Config, res resources.Factory) *Video {
	t.Helper()
	v := New(Options{Config: cfg, Resources: res})
	t.Cleanup(func() { v.Close() })
	return v
}

func loadSynth(t *testing.T, v *Video, opts synth.Options) {
	t.Helper()
	data, err := synth.Bytes(opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.LoadCustom(stream.NewMemoryStream(data)); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitBuffered(t *testing.T, v *Video) {
	t.Helper()
	waitFor(t, "video ready", func() bool { return v.State() == StateReady })
	waitFor(t, "buffering", func() bool { return !v.IsBuffering() })
}

func waitLock(t *testing.T, v *Video) *RenderLock {
	t.Helper()
	var l *RenderLock
	waitFor(t, "render lock", func() bool {
		l = v.CreateRenderLock()
		return l != nil
	})
	return l
}

func frameTag(data resources.UserData) int {
	return int(data.(*resources.MemoryFrame).Texture()[0])
}

func TestRenderLockAfterPriming(t *testing.T) {
	v := newVideo(t, config.Default(), nil)
	if l := v.CreateRenderLock(); l != nil {
		t.Fatal("render lock before any load")
	}

	loadSynth(t, v, synth.Options{Frames: 300, FrameInterval: time.Second / 30, GridSize: 4})
	l := waitLock(t, v)
	defer l.Release()

	if it := l.IntraFrameTime(); it < 0 || it >= 1 {
		t.Errorf("IntraFrameTime = %v", it)
	}
	if l.Timestamp() != 0 || frameTag(l.Current()) != 0 {
		t.Errorf("first lock at %d shows frame %d", l.Timestamp(), frameTag(l.Current()))
	}
	if v.Snapshot().RenderLocks != 1 {
		t.Error("lock not counted")
	}
}

func TestRenderLockFrames(t *testing.T) {
	v := newVideo(t, testConfig(playback.Loop), nil)
	loadSynth(t, v, testVideo)
	waitBuffered(t, v)

	tests := []struct {
		name     string
		ts       int64
		key      int
		previous int
		current  int
	}{
		{"keyframe", 0, 0, -1, 0},
		{"first after keyframe", 15 * ms, 0, 0, 1},
		{"later frame", 255 * ms, 20, 24, 25},
		{"second keyframe", 100 * ms, 10, -1, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Seek(tt.ts, true); err != nil {
				t.Fatal(err)
			}
			l := waitLock(t, v)
			defer l.Release()

			fs := l.Frames()
			if fs.Keyframe != tt.key || fs.Previous != tt.previous || fs.Current != tt.current {
				t.Fatalf("frames = %+v", fs)
			}
			if frameTag(l.Keyframe()) != tt.key || frameTag(l.Current()) != tt.current {
				t.Errorf("locked data holds frames %d, %d", frameTag(l.Keyframe()), frameTag(l.Current()))
			}
			switch {
			case tt.previous < 0:
				if l.Previous() != nil {
					t.Error("keyframe has previous frame data")
				}
				if l.Keyframe() != l.Current() {
					t.Error("keyframe and current data differ on a keyframe")
				}
			case tt.previous == tt.key:
				if l.Previous() != l.Keyframe() {
					t.Error("previous frame data is not the keyframe's")
				}
			default:
				if frameTag(l.Previous()) != tt.previous {
					t.Errorf("previous holds frame %d", frameTag(l.Previous()))
				}
			}
			if !l.CurrentMetadata().IsKeyframe && tt.previous < 0 {
				t.Error("current metadata is not a keyframe")
			}
		})
	}
}

func TestRenderLockReleaseIsIdempotent(t *testing.T) {
	v := newVideo(t, testConfig(playback.Loop), nil)
	loadSynth(t, v, testVideo)
	waitBuffered(t, v)

	l := waitLock(t, v)
	l.Release()
	l.Release()
	if n := v.Snapshot().RenderLocks; n != 0 {
		t.Fatalf("%d render locks after release", n)
	}
}

// holds every upload until the gate opens
type gatedResources struct {
	*resources.Memory
	gate chan struct{}
}

func (g *gatedResources) CompleteTransfer(frame resources.UserData, meta *container.FrameMetadata) error {
	<-g.gate
	return g.Memory.CompleteTransfer(frame, meta)
}

// TestUpdateWhileBuffering checks that Update drops elapsed time until the
// frames around the playhead are uploaded.
//
// Scenario:
//  1. Load with every transfer held back
//  2. Update with zero and with large elapsed times
//  3. Let transfers through and Update again
//
// Invariant: the timestamp only moves once buffering has ended.
func TestUpdateWhileBuffering(t *testing.T) {
	gate := make(chan struct{})
	var once sync.Once
	open := func() { once.Do(func() { close(gate) }) }

	v := newVideo(t, testConfig(playback.Loop), func(info container.Info) (resources.FrameResources, error) {
		return &gatedResources{Memory: resources.NewMemory(info, 0), gate: gate}, nil
	})
	t.Cleanup(open)

	loadSynth(t, v, testVideo)
	waitFor(t, "video ready", func() bool { return v.State() == StateReady })

	if !v.IsBuffering() {
		t.Fatal("not buffering with no frame uploaded")
	}
	if pct := v.BufferingProgressPercent(); pct >= 100 {
		t.Errorf("progress = %v%%", pct)
	}
	for _, elapsed := range []int64{0, 10 * ms, int64(time.Hour)} {
		ts, err := v.Update(elapsed)
		if err != nil {
			t.Fatal(err)
		}
		if ts != 0 {
			t.Fatalf("Update(%d) while buffering moved to %d", elapsed, ts)
		}
	}
	if l := v.CreateRenderLock(); l != nil {
		l.Release()
		t.Fatal("render lock before any upload")
	}

	open()
	waitFor(t, "buffering", func() bool { return !v.IsBuffering() })
	if pct := v.BufferingProgressPercent(); pct != 100 {
		t.Errorf("progress after buffering = %v%%", pct)
	}
	ts, err := v.Update(5 * ms)
	if err != nil {
		t.Fatal(err)
	}
	if ts != 5*ms {
		t.Errorf("Update after buffering = %d", ts)
	}
}

func TestNotReady(t *testing.T) {
	v := newVideo(t, nil, nil)

	if _, err := v.Update(ms); !errors.Is(err, ErrNotReady) {
		t.Errorf("Update: %v", err)
	}
	if _, err := v.Seek(0, true); !errors.Is(err, ErrNotReady) {
		t.Errorf("Seek: %v", err)
	}
	if _, err := v.CurrentTimestamp(); !errors.Is(err, ErrNotReady) {
		t.Errorf("CurrentTimestamp: %v", err)
	}
	if v.State() != StateUninitialized || !v.IsBuffering() {
		t.Errorf("state = %s, buffering = %v", v.State(), v.IsBuffering())
	}
}

func TestSeekIsIdempotent(t *testing.T) {
	met := metrics.New("xrvideo", nil)
	v := New(Options{Config: testConfig(playback.Loop), Metrics: met})
	t.Cleanup(func() { v.Close() })
	loadSynth(t, v, testVideo)
	waitBuffered(t, v)

	ts, err := v.Seek(172*ms, true)
	if err != nil || ts != 172*ms {
		t.Fatalf("Seek = %d, %v", ts, err)
	}
	waitFor(t, "buffering after seek", func() bool { return !v.IsBuffering() })
	epoch := v.Snapshot().Pipeline.Epoch

	ts, _ = v.Seek(172*ms, true)
	if ts != 172*ms {
		t.Errorf("repeated seek = %d", ts)
	}
	if v.IsBuffering() {
		t.Error("repeated seek started buffering")
	}
	if v.Snapshot().Pipeline.Epoch != epoch {
		t.Error("repeated seek repositioned the pipeline")
	}
	if n := testutil.ToFloat64(met.Seeks); n != 1 {
		t.Errorf("seeks counted = %v, want 1", n)
	}
}

func TestSeekClamps(t *testing.T) {
	v := newVideo(t, testConfig(playback.Loop), nil)
	loadSynth(t, v, testVideo)
	waitBuffered(t, v)

	end, _ := v.EndTimestamp()
	if ts, _ := v.Seek(end+time.Hour.Nanoseconds(), false); ts != end {
		t.Errorf("seek past the end = %d, want %d", ts, end)
	}
	if dir, _ := v.Direction(); dir != playback.Backward {
		t.Errorf("direction = %s", dir)
	}
	if ts, _ := v.Seek(-5*ms, true); ts != 0 {
		t.Errorf("seek before the start = %d", ts)
	}
}

func TestUpdateModes(t *testing.T) {
	tests := []struct {
		name    string
		mode    playback.Mode
		seek    int64
		elapsed int64
		want    int64
		wantDir playback.Direction
	}{
		{"single shot stops at the end", playback.SingleShot, 285 * ms, int64(time.Second), 300 * ms, playback.Forward},
		{"loop wraps", playback.Loop, 295 * ms, 10 * ms, 5 * ms, playback.Forward},
		{"back and forth bounces", playback.BackAndForth, 295 * ms, 10 * ms, 295 * ms, playback.Backward},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVideo(t, testConfig(tt.mode), nil)
			loadSynth(t, v, testVideo)
			waitBuffered(t, v)

			v.Seek(tt.seek, true)
			waitFor(t, "buffering after seek", func() bool { return !v.IsBuffering() })

			ts, err := v.Update(tt.elapsed)
			if err != nil {
				t.Fatal(err)
			}
			if ts != tt.want {
				t.Errorf("Update = %d, want %d", ts, tt.want)
			}
			if dir, _ := v.Direction(); dir != tt.wantDir {
				t.Errorf("direction = %s, want %s", dir, tt.wantDir)
			}

			l := waitLock(t, v)
			defer l.Release()
			wantFrame := int(tt.want / (10 * ms))
			if wantFrame >= testVideo.Frames {
				wantFrame = testVideo.Frames - 1
			}
			if frameTag(l.Current()) != wantFrame {
				t.Errorf("showing frame %d, want %d", frameTag(l.Current()), wantFrame)
			}
		})
	}
}

func TestPause(t *testing.T) {
	v := newVideo(t, testConfig(playback.Loop), nil)
	loadSynth(t, v, testVideo)
	waitBuffered(t, v)

	v.Pause()
	if !v.Paused() {
		t.Fatal("not paused")
	}
	if ts, _ := v.Update(20 * ms); ts != 0 {
		t.Errorf("paused clock moved to %d", ts)
	}

	v.Resume()
	if ts, _ := v.Update(20 * ms); ts != 20*ms {
		t.Errorf("resumed clock at %d", ts)
	}
}

func TestSetPlaybackMode(t *testing.T) {
	v := newVideo(t, testConfig(playback.Loop), nil)
	if err := v.SetPlaybackMode(playback.Mode(9)); !errors.Is(err, playback.ErrUnknownMode) {
		t.Errorf("invalid mode: %v", err)
	}

	loadSynth(t, v, testVideo)
	waitBuffered(t, v)

	if err := v.SetPlaybackMode(playback.BackAndForth); err != nil {
		t.Fatal(err)
	}
	if v.PlaybackMode() != playback.BackAndForth {
		t.Errorf("mode = %s", v.PlaybackMode())
	}
	if m := v.Snapshot().Pipeline.Mode; m != playback.BackAndForth {
		t.Errorf("pipeline mode = %s", m)
	}
}

// TestSwitchDefersTeardown loads a second video while a render lock on the
// first is held.
//
// Scenario:
//  1. Play video A and take a render lock
//  2. Load video B and wait for the switch
//  3. Read through the old lock, then release it
//
// Invariant: A's frames stay allocated and intact until the lock is gone.
func TestSwitchDefersTeardown(t *testing.T) {
	var res resourceLog
	v := newVideo(t, testConfig(playback.Loop), res.factory)

	loadSynth(t, v, testVideo)
	waitBuffered(t, v)
	first := v.LoadID()
	l := waitLock(t, v)

	second := testVideo
	second.Frames = 20
	loadSynth(t, v, second)
	if v.SwitchedToMostRecentVideo() && v.LoadID() == first {
		t.Fatal("switch reported before the new video loaded")
	}
	waitFor(t, "switch", v.SwitchedToMostRecentVideo)
	waitFor(t, "teardown queued", func() bool { return v.PendingTeardowns() == 1 })

	if v.LoadID() == first {
		t.Error("load id unchanged after switch")
	}
	if info, _ := v.Info(); info.FrameCount != 20 {
		t.Errorf("playing %d frames", info.FrameCount)
	}
	if live := res.get(0).Live(); live != 10 {
		t.Errorf("old video has %d live frames while locked", live)
	}
	if frameTag(l.Current()) != 0 {
		t.Error("locked frame changed after switch")
	}

	l.Release()
	if n := v.PendingTeardowns(); n != 0 {
		t.Errorf("%d teardowns pending after release", n)
	}
	if live := res.get(0).Live(); live != 0 {
		t.Errorf("old video leaked %d frames", live)
	}
}

func TestLoadCustomValidation(t *testing.T) {
	v := newVideo(t, nil, nil)

	if err := v.LoadCustom(nil); !errors.Is(err, ErrInvalidStream) {
		t.Errorf("nil stream: %v", err)
	}
	if err := v.LoadCustom(stream.NewMemoryStream(nil)); !errors.Is(err, ErrInvalidStream) {
		t.Errorf("empty stream: %v", err)
	}
	if err := v.LoadCallbacks(stream.Callbacks{}); !errors.Is(err, ErrInvalidStream) {
		t.Errorf("empty callbacks: %v", err)
	}
	if err := v.Load(""); !errors.Is(err, ErrInvalidStream) {
		t.Errorf("empty path: %v", err)
	}
	if v.State() != StateUninitialized {
		t.Errorf("rejected loads changed state to %s", v.State())
	}
}

func TestLoadCallbacksTransfersOwnership(t *testing.T) {
	data, err := synth.Bytes(testVideo)
	if err != nil {
		t.Fatal(err)
	}
	mem := stream.NewMemoryStream(data)
	var closed atomic.Bool

	v := New(Options{Config: testConfig(playback.Loop)})
	err = v.LoadCallbacks(stream.Callbacks{
		Read:  mem.Read,
		Seek:  mem.Seek,
		Size:  mem.Size,
		Close: func() error { closed.Store(true); return nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	waitBuffered(t, v)
	if closed.Load() {
		t.Fatal("stream closed while playing")
	}

	if err := v.Close(); err != nil {
		t.Fatal(err)
	}
	if !closed.Load() {
		t.Error("stream not closed with the video")
	}
}

func TestFailedLoad(t *testing.T) {
	v := newVideo(t, nil, nil)
	if err := v.LoadCustom(stream.NewMemoryStream([]byte("definitely not a volumetric video"))); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "load error", func() bool { return v.State() == StateError })

	if err := v.Err(); err == nil {
		t.Error("no error recorded")
	}
	if _, err := v.CurrentTimestamp(); !errors.Is(err, ErrNotReady) {
		t.Errorf("CurrentTimestamp after failed load: %v", err)
	}
}

// fails on the frame starting at failAt
type failingDecoder struct {
	codec.Decoder
	failAt int64
	err    error
}

func (d *failingDecoder) Decode(meta *container.FrameMetadata, payload []byte, dst *codec.Destinations) ([]byte, error) {
	if meta.StartTimestamp == d.failAt {
		return nil, d.err
	}
	return d.Decoder.Decode(meta, payload, dst)
}

func TestDecodeFailureWhilePlaying(t *testing.T) {
	errCorrupt := errors.New("corrupt deformation")
	failAt := 25 * int64(testVideo.FrameInterval)

	v := New(Options{
		Config: testConfig(playback.Loop),
		NewDecoder: func() (codec.Decoder, error) {
			dec, err := codec.NewZstdDecoder()
			if err != nil {
				return nil, err
			}
			return &failingDecoder{Decoder: dec, failAt: failAt, err: errCorrupt}, nil
		},
	})
	t.Cleanup(func() { v.Close() })
	loadSynth(t, v, testVideo)
	waitBuffered(t, v)
	if v.Err() != nil {
		t.Fatalf("error before reaching the bad frame: %v", v.Err())
	}

	if _, err := v.Seek(failAt, true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "decode error", func() bool { return v.State() == StateError })

	if err := v.Err(); !errors.Is(err, errCorrupt) {
		t.Errorf("Err = %v, want the decode error", err)
	}
	if snap := v.Snapshot(); snap.State != StateError.String() || snap.Error == "" {
		t.Errorf("snapshot state %q error %q", snap.State, snap.Error)
	}
}

func TestFailedSwitchKeepsPlaying(t *testing.T) {
	v := newVideo(t, testConfig(playback.Loop), nil)
	loadSynth(t, v, testVideo)
	waitBuffered(t, v)
	first := v.LoadID()

	if err := v.Load("/nonexistent/video.xrv"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "load error", func() bool { return v.Err() != nil })

	if v.State() != StateReady {
		t.Errorf("state = %s", v.State())
	}
	if v.SwitchedToMostRecentVideo() {
		t.Error("failed load reported as switched")
	}
	if v.LoadID() != first {
		t.Error("playing video replaced by a failed load")
	}
	if _, err := v.Update(ms); err != nil {
		t.Error(err)
	}
}

func TestCloseDefersFreeUntilLocksReleased(t *testing.T) {
	var res resourceLog
	v := New(Options{Config: testConfig(playback.Loop), Resources: res.factory})
	loadSynth(t, v, testVideo)
	waitBuffered(t, v)

	l := waitLock(t, v)
	if err := v.Close(); err != nil {
		t.Fatal(err)
	}
	if v.PendingTeardowns() != 1 || res.get(0).Live() == 0 {
		t.Fatal("video freed under a render lock")
	}
	if v.CreateRenderLock() != nil {
		t.Error("render lock after close")
	}
	if err := v.LoadCustom(stream.NewMemoryStream([]byte{1})); !errors.Is(err, ErrClosed) {
		t.Errorf("load after close: %v", err)
	}

	l.Release()
	if v.PendingTeardowns() != 0 || res.get(0).Live() != 0 {
		t.Error("video not freed after the last render lock")
	}
}
