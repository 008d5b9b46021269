package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterAndObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("xrvideo", reg)

	m.Observe(StageDecode, time.Now())
	m.Observe(StageDecode, time.Now())
	m.Observe(StageRead, time.Now())
	m.SetBuffering(true, 40)

	if got := testutil.ToFloat64(m.Frames.WithLabelValues(StageDecode)); got != 2 {
		t.Errorf("decoded frames = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Buffering); got != 1 {
		t.Errorf("buffering = %v", got)
	}
	if got := testutil.ToFloat64(m.BufferingProgress); got != 40 {
		t.Errorf("progress = %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "xrvideo_frames_total" {
			found = true
		}
	}
	if !found {
		t.Error("xrvideo_frames_total not registered")
	}
}

func TestNoopDoesNotRegister(t *testing.T) {
	a := Noop()
	b := Noop()
	a.Seeks.Inc()
	if testutil.ToFloat64(b.Seeks) != 0 {
		t.Error("noop metrics share state")
	}
}
