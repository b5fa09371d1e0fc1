package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/lamp-monitor/internal/analytics"
	"github.com/dj-oyu/lamp-monitor/internal/episodelog"
	"github.com/dj-oyu/lamp-monitor/internal/logger"
	"github.com/dj-oyu/lamp-monitor/internal/metrics"
	"github.com/dj-oyu/lamp-monitor/internal/status"
)

// Server serves the read-only dashboard endpoints.
type Server struct {
	cfg     Config
	board   *status.Board
	metrics *metrics.Metrics
	now     func() time.Time

	frames *FrameBroadcaster
	status *StatusBroadcaster
}

// NewServer returns a dashboard server with its broadcasters running.
// m may be nil, in which case /metrics answers 404.
func NewServer(cfg Config, board *status.Board, m *metrics.Metrics) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:     cfg,
		board:   board,
		metrics: m,
		now:     time.Now,
	}
	s.frames = NewFrameBroadcaster(board, cfg.MJPEGInterval, cfg.MaxWidth)
	s.frames.Start()
	s.status = NewStatusBroadcaster(s.serializeStatus, cfg.StatusInterval)
	s.status.Start()
	return s
}

// Close stops the broadcasters. Open streams end with their request context.
func (s *Server) Close() {
	s.frames.Stop()
	s.status.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/snapshot.jpg", s.handleSnapshot)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/durations", s.handleDurations)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return readOnly(mux)
}

// readOnly rejects every method that could imply a state change.
func readOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	img, _, fresh := s.board.LatestFrame(s.now())

	var (
		data []byte
		err  error
	)
	if img != nil && fresh {
		data, err = encodeFrame(img, s.cfg.MaxWidth)
	} else {
		data, err = noSignalJPEG()
	}
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Frame-Fresh", strconv.FormatBool(img != nil && fresh))
	_, _ = w.Write(data)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.metrics != nil {
		s.metrics.ClientConnected()
		defer s.metrics.ClientDisconnected()
	}
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh)
}

func (s *Server) statusPayload() StatusPayload {
	now := s.now()
	snap := s.board.Snapshot()
	img, captured, fresh := s.board.LatestFrame(now)
	return buildStatus(snap, captured, img != nil, fresh, now)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	if s.metrics != nil {
		s.metrics.ClientConnected()
		defer s.metrics.ClientDisconnected()
	}
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	first := s.serializeStatus()
	streamStatusEventsFromChannel(w, r, first, eventCh, useProtobuf)
}

// serializeStatus encodes the current status as JSON and as a base64
// protobuf Struct carrying the same fields.
func (s *Server) serializeStatus() *SerializedEvent {
	jsonData, err := json.Marshal(s.statusPayload())
	if err != nil {
		logger.Error("StatusBroadcaster", "JSON marshal error: %v", err)
		return nil
	}

	var generic map[string]any
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		logger.Error("StatusBroadcaster", "JSON decode error: %v", err)
		return nil
	}
	pbStatus, err := structpb.NewStruct(generic)
	if err != nil {
		logger.Error("StatusBroadcaster", "Protobuf convert error: %v", err)
		return nil
	}
	pbData, err := proto.Marshal(pbStatus)
	if err != nil {
		logger.Error("StatusBroadcaster", "Protobuf marshal error: %v", err)
		return nil
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := s.cfg.RecentLines
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeJSONWithStatus(w, map[string]any{"error": "n must be a positive integer"}, http.StatusBadRequest)
			return
		}
		n = v
	}

	recs, err := s.readLog()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	if n < len(recs) {
		recs = recs[len(recs)-n:]
	}

	lines := make([]string, len(recs))
	for i, rec := range recs {
		lines[i] = rec.Line()
	}
	writeJSON(w, LogsPayload{Path: s.cfg.LogPath, Count: len(lines), Lines: lines})
}

func (s *Server) handleDurations(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = s.board.Snapshot().Detection.Mode
	}
	if mode == "" {
		mode = "normal"
	}
	if mode != "normal" && mode != "debug" {
		writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("unknown mode %q", mode)}, http.StatusBadRequest)
		return
	}

	recs, err := s.readLog()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	summary := analytics.Durations(recs, mode)
	writeJSON(w, map[string]any{
		"summary": summary,
		"trend":   summary.TrendLabel(),
	})
}

// readLog treats a missing log as empty; the sampler creates it on first start.
func (s *Server) readLog() ([]episodelog.Record, error) {
	recs, err := episodelog.ReadAll(s.cfg.LogPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return recs, err
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
