package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/mem"
)

const (
	StageRead     = "read"
	StageDecode   = "decode"
	StageTransfer = "transfer"
)

// Collectors for one player process. Pipelines of successive loads share
// them.
type Metrics struct {
	Frames        *prometheus.CounterVec   // frames through each stage
	Skipped       *prometheus.CounterVec   // frames dropped before decode, by reason
	Errors        *prometheus.CounterVec   // terminal failures by stage
	StageDuration *prometheus.HistogramVec // time spent per frame in each stage

	WriteLockWait prometheus.Histogram // decoder waiting on render-side readers
	Seeks         prometheus.Counter
	Loads         *prometheus.CounterVec // by outcome

	Buffering         prometheus.Gauge
	BufferingProgress prometheus.Gauge
	CacheSlots        *prometheus.GaugeVec // slots by state
	RenderLocks       prometheus.Gauge

	HostMemoryPercent prometheus.Gauge
}

// Creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests and embedded players use.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Frames completed by each pipeline stage.",
			},
			[]string{"stage"},
		),
		Skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_skipped_total",
				Help:      "Frames read but not decoded.",
			},
			[]string{"reason"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_errors_total",
				Help:      "Terminal pipeline failures.",
			},
			[]string{"stage"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Per-frame time spent in each pipeline stage.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"stage"},
		),
		WriteLockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_lock_wait_seconds",
			Help:      "Time the decoder waited for a cache slot.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		Seeks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seeks_total",
			Help:      "Pipeline repositions.",
		}),
		Loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loads_total",
				Help:      "Video loads by outcome.",
			},
			[]string{"outcome"},
		),
		Buffering: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffering",
			Help:      "1 while playback waits for decoded frames.",
		}),
		BufferingProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffering_progress_percent",
			Help:      "Progress towards leaving the buffering state.",
		}),
		CacheSlots: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_slots",
				Help:      "Decoded frame cache slots by state.",
			},
			[]string{"state"},
		),
		RenderLocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "render_locks",
			Help:      "Render locks currently held.",
		}),
		HostMemoryPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_percent",
			Help:      "Host memory in use.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Frames, m.Skipped, m.Errors, m.StageDuration,
			m.WriteLockWait, m.Seeks, m.Loads,
			m.Buffering, m.BufferingProgress, m.CacheSlots, m.RenderLocks,
			m.HostMemoryPercent)
	}
	return m
}

// Unregistered collectors
func Noop() *Metrics {
	return New("", nil)
}

func (m *Metrics) Observe(stage string, started time.Time) {
	m.Frames.WithLabelValues(stage).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

func (m *Metrics) SetBuffering(buffering bool, percent float64) {
	if buffering {
		m.Buffering.Set(1)
	} else {
		m.Buffering.Set(0)
	}
	m.BufferingProgress.Set(percent)
}

// Samples host memory usage. Returns the percentage in use.
func (m *Metrics) SampleHost() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	m.HostMemoryPercent.Set(vm.UsedPercent)
	return vm.UsedPercent, nil
}
