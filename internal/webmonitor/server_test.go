package webmonitor

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/lamp-monitor/internal/detection"
	"github.com/dj-oyu/lamp-monitor/internal/episodelog"
	"github.com/dj-oyu/lamp-monitor/internal/status"
	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

func TestIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.get(t, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("GET / content-type = %q", resp.Header.Get("Content-Type"))
	}
	for _, needle := range []string{"<title>Lamp Monitor</title>", "/api/status/stream", "/stream"} {
		if !strings.Contains(string(body), needle) {
			t.Fatalf("GET / missing %q", needle)
		}
	}

	resp, _ = env.get(t, "/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET /nope status = %d", resp.StatusCode)
	}
}

func TestReadOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/", "/api/status", "/api/logs", "/snapshot.jpg"} {
		resp, err := env.http.Client().Post(env.http.URL+path, "application/json", strings.NewReader("{}"))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("POST %s status = %d", path, resp.StatusCode)
		}
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	now := time.Now()
	start := now.Add(-90 * time.Second)
	env.board.PublishState(detection.Status{
		Active:       true,
		EpisodeStart: &start,
		Elapsed:      90 * time.Second,
		Remaining:    510 * time.Second,
		Threshold:    10 * time.Minute,
		Mode:         "normal",
	}, now.Add(time.Minute))
	env.board.PublishCycle(status.Cycle{
		Time:       now,
		Event:      detection.EventAlertContinue,
		Verdict:    types.VerdictOrange,
		Confidence: 95,
		OrangePct:  88,
	}, env.board.Snapshot().Detection, []string{"line one"})

	resp, body := env.get(t, "/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/status status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	assertStatusPayload(t, payload)

	det := requireMap(t, payload["detection"], "detection")
	if det["active"] != true {
		t.Fatalf("detection.active = %v", det["active"])
	}
	if got := requireNumber(t, det["remaining_seconds"], "remaining_seconds"); got != 510 {
		t.Fatalf("remaining_seconds = %v", got)
	}
	requireNumber(t, det["episode_start"], "detection.episode_start")
	requireNumber(t, payload["next_detection"], "next_detection")

	latest := requireMap(t, payload["latest_judgment"], "latest_judgment")
	if latest["verdict"] != "orange" || latest["event"] != "alert_continue" {
		t.Fatalf("latest_judgment = %v", latest)
	}
	if lines := requireSlice(t, payload["recent_lines"], "recent_lines"); len(lines) != 1 {
		t.Fatalf("recent_lines = %v", lines)
	}
}

func TestSnapshotNoSignal(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.get(t, "/snapshot.jpg")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /snapshot.jpg status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Frame-Fresh") != "false" {
		t.Fatalf("X-Frame-Fresh = %q", resp.Header.Get("X-Frame-Fresh"))
	}
	img, err := jpeg.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 640 || img.Bounds().Dy() != 480 {
		t.Fatalf("no-signal size = %v", img.Bounds())
	}
}

func TestSnapshotStaleFrame(t *testing.T) {
	env := newTestEnv(t, nil)
	env.board.PublishFrame(solidFrame(100, 50), time.Now().Add(-2*time.Hour))

	resp, body := env.get(t, "/snapshot.jpg")
	if resp.Header.Get("X-Frame-Fresh") != "false" {
		t.Fatalf("X-Frame-Fresh = %q", resp.Header.Get("X-Frame-Fresh"))
	}
	img, err := jpeg.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 640 {
		t.Fatalf("stale frame should be replaced, got %v", img.Bounds())
	}
}

func TestSnapshotFreshFrame(t *testing.T) {
	env := newTestEnv(t, nil)
	env.board.PublishFrame(solidFrame(100, 50), time.Now())

	resp, body := env.get(t, "/snapshot.jpg")
	if resp.Header.Get("X-Frame-Fresh") != "true" {
		t.Fatalf("X-Frame-Fresh = %q", resp.Header.Get("X-Frame-Fresh"))
	}
	img, err := jpeg.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Fatalf("snapshot size = %v", img.Bounds())
	}
}

func TestSnapshotScaledDown(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxWidth = 320 })
	env.board.PublishFrame(solidFrame(640, 480), time.Now())

	_, body := env.get(t, "/snapshot.jpg")
	img, err := jpeg.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 240 {
		t.Fatalf("scaled size = %v", img.Bounds())
	}
}

func writeLog(t *testing.T, path string, recs ...episodelog.Record) {
	t.Helper()
	l, err := episodelog.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	for _, r := range recs {
		if err := l.Append(r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func record(ts time.Time, ev detection.Event, result string, duration float64) episodelog.Record {
	return episodelog.Record{
		Timestamp:   ts,
		Event:       ev,
		Result:      result,
		OrangePct:   80,
		GreenPct:    5,
		Duration:    duration,
		Mode:        "normal",
		SourceImage: "frame.png",
	}
}

func TestLogs(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.get(t, "/api/logs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/logs on missing file status = %d", resp.StatusCode)
	}
	if got := requireNumber(t, decodeJSONMap(t, body)["count"], "count"); got != 0 {
		t.Fatalf("count = %v", got)
	}

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.Local)
	recs := []episodelog.Record{
		record(base, detection.EventNormalDetection, "green", 0),
		record(base.Add(time.Minute), detection.EventAlertStart, "orange", 0),
		record(base.Add(2*time.Minute), detection.EventAlertEnd, "green", 60),
	}
	writeLog(t, env.logPath, recs...)

	_, body = env.get(t, "/api/logs?n=2")
	payload := decodeJSONMap(t, body)
	lines := requireSlice(t, payload["lines"], "lines")
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	if lines[1] != recs[2].Line() {
		t.Fatalf("last line = %q, want %q", lines[1], recs[2].Line())
	}

	resp, _ = env.get(t, "/api/logs?n=zero")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad n status = %d", resp.StatusCode)
	}
}

func TestDurations(t *testing.T) {
	env := newTestEnv(t, nil)
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.Local)
	writeLog(t, env.logPath,
		record(base, detection.EventAlertEnd, "green", 120),
		record(base.Add(time.Hour), detection.EventAlertEnd, "green", 60),
		record(base.Add(2*time.Hour), detection.EventAlertStart, "orange", 0),
	)

	resp, body := env.get(t, "/api/durations?mode=normal")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/durations status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	summary := requireMap(t, payload["summary"], "summary")
	if got := requireNumber(t, summary["count"], "count"); got != 2 {
		t.Fatalf("count = %v", got)
	}
	if got := requireNumber(t, summary["mean"], "mean"); got != 90 {
		t.Fatalf("mean = %v", got)
	}
	if !strings.HasPrefix(payload["trend"].(string), "improving") {
		t.Fatalf("trend = %v", payload["trend"])
	}

	resp, _ = env.get(t, "/api/durations?mode=turbo")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown mode status = %d", resp.StatusCode)
	}
}

func TestStatusStreamJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	event, headers, err := readSSEEvent(env.http.URL+"/api/status/stream", nil, 3*time.Second)
	if err != nil {
		t.Fatalf("status stream error: %v", err)
	}
	if !strings.Contains(headers.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("status stream content-type = %q", headers.Get("Content-Type"))
	}
	if headers.Get("X-Content-Format") != "application/json" {
		t.Fatalf("X-Content-Format = %q", headers.Get("X-Content-Format"))
	}
	assertStatusPayload(t, decodeJSONMap(t, []byte(sseData(t, event))))
}

func TestStatusStreamProtobuf(t *testing.T) {
	env := newTestEnv(t, nil)
	header := http.Header{"Accept": []string{"application/protobuf"}}
	event, headers, err := readSSEEvent(env.http.URL+"/api/status/stream", header, 3*time.Second)
	if err != nil {
		t.Fatalf("status stream error: %v", err)
	}
	if headers.Get("X-Content-Format") != "application/protobuf" {
		t.Fatalf("X-Content-Format = %q", headers.Get("X-Content-Format"))
	}

	raw, err := base64.StdEncoding.DecodeString(sseData(t, event))
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := msg.GetFields()["run_id"].GetStringValue(); got != testRunID {
		t.Fatalf("run_id = %q", got)
	}
	if msg.GetFields()["detection"].GetStructValue() == nil {
		t.Fatalf("detection missing from protobuf payload")
	}
}

func TestMJPEGStream(t *testing.T) {
	env := newTestEnv(t, nil)
	env.board.PublishFrame(solidFrame(64, 48), time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.http.URL+"/stream", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "multipart/x-mixed-replace") ||
		!strings.Contains(contentType, "boundary=frame") {
		t.Fatalf("GET /stream content-type = %q", contentType)
	}

	buf := make([]byte, 0, 8192)
	tmp := make([]byte, 1024)
	for !bytes.Contains(buf, []byte("Content-Type: image/jpeg\r\n\r\n\xff\xd8")) {
		n, err := resp.Body.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err == io.EOF || (err != nil && n == 0) {
			t.Fatalf("stream ended before first frame: %v", err)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "lamp_") {
		t.Fatalf("metrics body missing lamp_ series")
	}
}
