package status

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/0bVdnt/xrvideo/internal/metrics"
	"github.com/0bVdnt/xrvideo/internal/xrvideo"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeSource struct {
	snap xrvideo.Snapshot
}

func (f *fakeSource) Snapshot() xrvideo.Snapshot {
	return f.snap
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	met := metrics.New("xrvideo", reg)
	met.Seeks.Inc()

	src := &fakeSource{snap: xrvideo.Snapshot{State: "ready", Mode: "loop", Frame: 12, Frames: 90}}
	s := New(src, Options{Gatherer: reg, Metrics: met, Fingerprint: 0xbeef, Interval: 10 * time.Millisecond})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func TestStatus(t *testing.T) {
	s, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var r Report
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Fatal(err)
	}
	if r.Session != s.Session() || r.Config != "beef" {
		t.Errorf("report identity = %q, %q", r.Session, r.Config)
	}
	if r.Video.State != "ready" || r.Video.Frame != 12 {
		t.Errorf("video = %+v", r.Video)
	}

	post, err := http.Post(ts.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", post.StatusCode)
	}
}

func TestMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "xrvideo_seeks_total 1") {
		t.Errorf("metrics output missing seek counter:\n%s", body)
	}
}

func TestFeed(t *testing.T) {
	s, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var r Report
		if err := conn.ReadJSON(&r); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if r.Session != s.Session() || r.Video.Frames != 90 {
			t.Fatalf("message %d = %+v", i, r)
		}
	}

	s.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestStartAndClose(t *testing.T) {
	s := New(&fakeSource{}, Options{})
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/heart")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("heart = %d", resp.StatusCode)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := http.Get("http://" + s.Addr() + "/heart"); err == nil {
		t.Error("server still answering after Close")
	}
}
