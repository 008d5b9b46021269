package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/0bVdnt/xrvideo/internal/playback"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.DecodedFrameCount() != 30 || cfg.MinBufferedFrames() != 5 {
		t.Errorf("cache = %d slots, %d buffered", cfg.DecodedFrameCount(), cfg.MinBufferedFrames())
	}
	if cfg.Pipeline.ReadQueueDepth != 4 || cfg.Pipeline.TransferQueueDepth != 4 {
		t.Errorf("queue depths = %+v", cfg.Pipeline)
	}
	if cfg.Mode() != playback.Loop || cfg.Direction() != playback.Forward {
		t.Errorf("playback = %s %s", cfg.Mode(), cfg.Direction())
	}
	if w := cfg.Validate(); len(w) != 0 {
		t.Errorf("defaults produce warnings: %v", w)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("XRVIDEO_LOG_DIR", "/tmp/xr")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
cache:
  decoded_frame_count: 0
  min_buffered_frames: 8
playback:
  mode: back_and_forth
  reverse: true
transfer:
  simulated_latency: 5ms
log:
  path: ${XRVIDEO_LOG_DIR}/player.log
  level: debug
status:
  addr: 127.0.0.1:9090
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DecodedFrameCount() != 0 {
		t.Errorf("explicit 0 slots read as %d", cfg.DecodedFrameCount())
	}
	if cfg.MinBufferedFrames() != 8 {
		t.Errorf("MinBufferedFrames = %d", cfg.MinBufferedFrames())
	}
	if cfg.Mode() != playback.BackAndForth || cfg.Direction() != playback.Backward {
		t.Errorf("playback = %s %s", cfg.Mode(), cfg.Direction())
	}
	if cfg.Transfer.SimulatedLatency != 5*time.Millisecond {
		t.Errorf("latency = %v", cfg.Transfer.SimulatedLatency)
	}
	if cfg.Log.Path != "/tmp/xr/player.log" {
		t.Errorf("log path = %q", cfg.Log.Path)
	}
	if cfg.Status.Addr != "127.0.0.1:9090" {
		t.Errorf("status addr = %q", cfg.Status.Addr)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"bad yaml", "cache: [", "parse config"},
		{"negative slots", "cache:\n  decoded_frame_count: -1\n", "decoded_frame_count"},
		{"negative buffered", "cache:\n  min_buffered_frames: -2\n", "min_buffered_frames"},
		{"unknown mode", "playback:\n  mode: shuffle\n", "playback.mode"},
		{"negative latency", "transfer:\n  simulated_latency: -1s\n", "simulated_latency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg, err := Parse([]byte("cache:\n  decoded_frame_count: 8\n  min_buffered_frames: 6\n"))
	if err != nil {
		t.Fatal(err)
	}
	warnings := cfg.Validate()
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v", warnings)
	}
	if !strings.Contains(warnings[0], "recommended minimum of 20") {
		t.Errorf("first warning = %q", warnings[0])
	}
}

func TestFingerprint(t *testing.T) {
	a, err := Default().Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Default().Fingerprint()
	if a != b {
		t.Error("equal configs hash differently")
	}

	changed := Default()
	changed.Playback.Reverse = true
	c, _ := changed.Fingerprint()
	if c == a {
		t.Error("changed config kept its fingerprint")
	}
}
