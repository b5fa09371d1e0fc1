package webmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/lamp-monitor/internal/metrics"
	"github.com/dj-oyu/lamp-monitor/internal/status"
)

const testRunID = "run-test"

type testEnv struct {
	board   *status.Board
	server  *Server
	http    *httptest.Server
	logPath string
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StatusInterval = 20 * time.Millisecond
	cfg.MJPEGInterval = 20 * time.Millisecond
	cfg.LogPath = filepath.Join(t.TempDir(), "data.csv")
	if mutate != nil {
		mutate(&cfg)
	}

	board := status.NewBoard(testRunID, time.Hour, time.Now())
	srv := NewServer(cfg, board, metrics.New())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &testEnv{board: board, server: srv, http: ts, logPath: cfg.LogPath}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.http.Client().Get(e.http.URL + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func solidFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 200
		img.Pix[i+1] = 120
		img.Pix[i+3] = 255
	}
	return img
}

// readSSEEvent returns the first complete event and the response headers.
func readSSEEvent(url string, header http.Header, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				return string(buf[:idx]), resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func sseData(t *testing.T, event string) string {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return payload
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return ""
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	if payload["run_id"] != testRunID {
		t.Fatalf("run_id = %v", payload["run_id"])
	}
	requireNumber(t, payload["timestamp"], "timestamp")
	requireNumber(t, payload["cycles"], "cycles")

	det := requireMap(t, payload["detection"], "detection")
	for _, key := range []string{"elapsed_seconds", "remaining_seconds", "threshold_seconds"} {
		requireNumber(t, det[key], "detection."+key)
	}
	if _, ok := det["active"].(bool); !ok {
		t.Fatalf("detection.active missing")
	}

	frame := requireMap(t, payload["frame"], "frame")
	if _, ok := frame["fresh"].(bool); !ok {
		t.Fatalf("frame.fresh missing")
	}
	requireSlice(t, payload["judgment_history"], "judgment_history")
	requireSlice(t, payload["recent_lines"], "recent_lines")
}
