// Package status serves the player's state over HTTP: Prometheus metrics,
// a JSON snapshot and a websocket feed of snapshots.
package status

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/0bVdnt/xrvideo/internal/metrics"
	"github.com/0bVdnt/xrvideo/internal/xrvideo"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultMaxConns    = 16
	defaultHTTPTimeout = time.Second
	writeWait          = time.Second
)

// Anything that can describe the player's current state
type Source interface {
	Snapshot() xrvideo.Snapshot
}

type Options struct {
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	// Config fingerprint reported with every snapshot
	Fingerprint uint64
	// Websocket push interval
	Interval time.Duration
	MaxConns int
	Logger   *zap.Logger
}

// Message served on /status and pushed on /ws
type Report struct {
	Session           string           `json:"session"`
	Config            string           `json:"config"`
	Time              time.Time        `json:"time"`
	HostMemoryPercent float64          `json:"host_memory_percent,omitempty"`
	Video             xrvideo.Snapshot `json:"video"`
}

type Server struct {
	src         Source
	opts        Options
	log         *zap.Logger
	session     string
	fingerprint string
	upgrader    websocket.Upgrader
	mux         *http.ServeMux

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	http   *http.Server
	ln     net.Listener
	wg     sync.WaitGroup
	done   chan struct{}
}

func New(src Source, opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = DefaultMaxConns
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Server{
		src:         src,
		opts:        opts,
		log:         opts.Logger.Named("status"),
		session:     uuid.NewString(),
		fingerprint: strconv.FormatUint(opts.Fingerprint, 16),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: defaultHTTPTimeout,
			CheckOrigin:      func(_ *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
		done:  make(chan struct{}),
	}

	s.mux = http.NewServeMux()
	s.mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/status", s.serveStatus)
	s.mux.HandleFunc("/ws", s.serveWS)
	s.mux.HandleFunc("/heart", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Session() string {
	return s.session
}

// Listens on addr and serves in the background
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}

	s.mu.Lock()
	s.ln = ln
	s.http = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: defaultHTTPTimeout,
	}
	srv := s.http
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve", zap.Error(err))
		}
	}()
	s.log.Info("status server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Listening address, empty before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stops serving and disconnects every websocket client
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	srv := s.http
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) report() Report {
	r := Report{
		Session: s.session,
		Config:  s.fingerprint,
		Time:    time.Now().UTC(),
		Video:   s.src.Snapshot(),
	}
	if pct, err := s.opts.Metrics.SampleHost(); err == nil {
		r.HostMemoryPercent = pct
	} else {
		s.log.Debug("sample host", zap.Error(err))
	}
	return r
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.report()); err != nil {
		s.log.Warn("write status", zap.Error(err))
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(512)

	s.mu.Lock()
	if s.closed || len(s.conns) >= s.opts.MaxConns {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.wg.Done()
	}()

	log := s.log.With(zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("feed connected")

	// the client never sends anything we use; reading detects its close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(s.report()); err != nil {
			log.Debug("feed closed", zap.Error(err))
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			log.Debug("feed disconnected")
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
