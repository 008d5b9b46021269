package config

import (
	"fmt"
	"os"
	"time"

	"github.com/0bVdnt/xrvideo/internal/playback"
	hash "github.com/mitchellh/hashstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDecodedFrameCount = 30
	DefaultMinBufferedFrames = 5
	DefaultQueueDepth        = 4

	// smaller caches work but stall playback around keyframes
	RecommendedDecodedFrameCount = 20
)

// Player configuration
type Config struct {
	Cache    CacheConfig    `yaml:"cache"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Playback PlaybackConfig `yaml:"playback"`
	Transfer TransferConfig `yaml:"transfer"`
	Log      LogConfig      `yaml:"log"`
	Status   StatusConfig   `yaml:"status"`
}

type CacheConfig struct {
	// Decoded frame slots, 0 keeps the whole video. Unset means the default.
	DecodedFrameCount *int `yaml:"decoded_frame_count"`
	MinBufferedFrames *int `yaml:"min_buffered_frames"`
}

type PipelineConfig struct {
	ReadQueueDepth     int `yaml:"read_queue_depth"`
	TransferQueueDepth int `yaml:"transfer_queue_depth"`
}

type PlaybackConfig struct {
	Mode    string `yaml:"mode"` // single_shot, loop, back_and_forth
	Reverse bool   `yaml:"reverse"`
}

type TransferConfig struct {
	// Added to every frame upload by the memory backend
	SimulatedLatency time.Duration `yaml:"simulated_latency"`
}

type LogConfig struct {
	Path  string `yaml:"path"` // empty disables logging
	Level string `yaml:"level"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"` // empty disables the status server
}

// Configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Loads configuration from a YAML file, expanding ${VAR} references
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	cfg.applyDefaults()

	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Cache.DecodedFrameCount == nil {
		n := DefaultDecodedFrameCount
		c.Cache.DecodedFrameCount = &n
	}
	if c.Cache.MinBufferedFrames == nil {
		n := DefaultMinBufferedFrames
		c.Cache.MinBufferedFrames = &n
	}
	if c.Pipeline.ReadQueueDepth == 0 {
		c.Pipeline.ReadQueueDepth = DefaultQueueDepth
	}
	if c.Pipeline.TransferQueueDepth == 0 {
		c.Pipeline.TransferQueueDepth = DefaultQueueDepth
	}
	if c.Playback.Mode == "" {
		c.Playback.Mode = playback.Loop.String()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// hard errors only; soft problems are reported by Validate
func (c *Config) check() error {
	if c.DecodedFrameCount() < 0 {
		return errors.Errorf("cache.decoded_frame_count must not be negative, got %d", c.DecodedFrameCount())
	}
	if c.MinBufferedFrames() < 0 {
		return errors.Errorf("cache.min_buffered_frames must not be negative, got %d", c.MinBufferedFrames())
	}
	if c.Pipeline.ReadQueueDepth < 0 || c.Pipeline.TransferQueueDepth < 0 {
		return errors.New("pipeline queue depths must not be negative")
	}
	if c.Transfer.SimulatedLatency < 0 {
		return errors.New("transfer.simulated_latency must not be negative")
	}
	if _, err := playback.ParseMode(c.Playback.Mode); err != nil {
		return errors.Wrap(err, "playback.mode")
	}
	return nil
}

// Returns warnings for settings that work but are likely mistakes
func (c *Config) Validate() []string {
	var warnings []string

	n := c.DecodedFrameCount()
	if n > 0 && n < RecommendedDecodedFrameCount {
		warnings = append(warnings, fmt.Sprintf(
			"cache.decoded_frame_count %d is below the recommended minimum of %d", n, RecommendedDecodedFrameCount))
	}
	if n > 0 && c.MinBufferedFrames() > n-3 {
		warnings = append(warnings, fmt.Sprintf(
			"cache.min_buffered_frames %d does not fit a %d frame cache and will be lowered", c.MinBufferedFrames(), n))
	}
	if c.Transfer.SimulatedLatency > time.Second {
		warnings = append(warnings, fmt.Sprintf(
			"transfer.simulated_latency %s exceeds one second", c.Transfer.SimulatedLatency))
	}
	return warnings
}

func (c *Config) DecodedFrameCount() int {
	if c.Cache.DecodedFrameCount == nil {
		return DefaultDecodedFrameCount
	}
	return *c.Cache.DecodedFrameCount
}

func (c *Config) MinBufferedFrames() int {
	if c.Cache.MinBufferedFrames == nil {
		return DefaultMinBufferedFrames
	}
	return *c.Cache.MinBufferedFrames
}

func (c *Config) Mode() playback.Mode {
	m, _ := playback.ParseMode(c.Playback.Mode)
	return m
}

func (c *Config) Direction() playback.Direction {
	if c.Playback.Reverse {
		return playback.Backward
	}
	return playback.Forward
}

// Stable hash of the effective settings, reported alongside status so
// sessions running different settings can be told apart.
func (c *Config) Fingerprint() (uint64, error) {
	h, err := hash.Hash(c, hash.FormatV2, nil)
	if err != nil {
		return 0, errors.Wrap(err, "hash config")
	}
	return h, nil
}
