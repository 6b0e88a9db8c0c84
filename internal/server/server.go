package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/lens/internal/events"
	"github.com/dshills/lens/internal/logging"
	"github.com/dshills/lens/internal/review"
)

// Pipeline is the control surface the server drives.
type Pipeline interface {
	Start(ctx context.Context, req review.Request) (string, error)
	Subscribe(replay bool) *events.Subscription
	Reply(key, answer string) error
	Pending() []review.PendingQuestion
	Report(runID string) (*review.Report, bool, error)
}

// Settings configure the listener.
type Settings struct {
	Addr string
	// Repo is used when a start request names no repository.
	Repo         string
	MaxBodyBytes int64
	Heartbeat    time.Duration
	ReadTimeout  time.Duration
	IdleTimeout  time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Addr == "" {
		s.Addr = "127.0.0.1:7420"
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = 1 << 20
	}
	if s.Heartbeat <= 0 {
		s.Heartbeat = 15 * time.Second
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 10 * time.Second
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = 60 * time.Second
	}
	return s
}

// Server serves a Pipeline over HTTP.
type Server struct {
	pipeline Pipeline
	settings Settings
	log      *zap.Logger
	started  time.Time

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
}

// New returns a Server for p.
func New(p Pipeline, settings Settings, log *zap.Logger) *Server {
	return &Server{pipeline: p, settings: settings.withDefaults(), log: logging.OrNop(log).Named("server")}
}

// Handler returns the routing handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("POST /reply", s.handleReply)
	mux.HandleFunc("GET /pending", s.handlePending)
	mux.HandleFunc("GET /runs/{id}", s.handleRun)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("server already started")
	}
	listener, err := net.Listen("tcp", s.settings.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.settings.Addr, err)
	}
	s.listener = listener
	s.started = time.Now()
	// No write timeout: event streams stay open.
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.settings.ReadTimeout,
		IdleTimeout:       s.settings.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srv := s.server
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve", zap.Error(err))
		}
	}()
	s.log.Info("listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Open event streams end when ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		err = s.server.Close()
	}
	s.server = nil
	s.listener = nil
	return err
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type startRequest struct {
	Repo   string `json:"repo"`
	Base   string `json:"base"`
	Target string `json:"target"`
}

type replyRequest struct {
	Session string `json:"session"`
	Message string `json:"message"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Repo == "" {
		req.Repo = s.settings.Repo
	}
	runID, err := s.pipeline.Start(r.Context(), review.Request{Repo: req.Repo, Base: req.Base, Target: req.Target})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "runId": runID})
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Session == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session is required"})
		return
	}
	err := s.pipeline.Reply(req.Session, req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, review.ErrUnknownSession):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, review.ErrNoPendingQuestion):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request) {
	pending := s.pipeline.Pending()
	if pending == nil {
		pending = []review.PendingQuestion{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	report, done, err := s.pipeline.Report(r.PathValue("id"))
	switch {
	case errors.Is(err, review.ErrUnknownRun):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case !done:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
	case err != nil && report == nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	uptime := int64(0)
	if !s.started.IsZero() {
		uptime = int64(time.Since(s.started).Seconds())
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "uptimeSeconds": uptime})
}

// handleStream writes events as server-sent events until the client goes
// away or the stream ends. Query parameters: replay=1 to receive retained
// history first, run and session to filter.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	q := r.URL.Query()
	replay, _ := strconv.ParseBool(q.Get("replay"))
	runFilter, sessionFilter := q.Get("run"), q.Get("session")

	sub := s.pipeline.Subscribe(replay)
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(s.settings.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if (runFilter != "" && ev.RunID != runFilter) || (sessionFilter != "" && ev.Session != sessionFilter) {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				s.log.Debug("stream client gone", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data)
	return err
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
