package episodelog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/lamp-monitor/internal/detection"
)

func rec(i int, ev detection.Event, mode string) Record {
	return Record{
		Timestamp:   time.Date(2025, 6, 1, 8, 0, i, 0, time.Local),
		Event:       ev,
		Result:      "orange",
		OrangePct:   float64(i) + 0.5,
		GreenPct:    3.5,
		Duration:    float64(i * 60),
		Mode:        mode,
		SourceImage: fmt.Sprintf("frame_%03d.png", i),
	}
}

func lines(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Line()
	}
	return out
}

func TestAppendReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	l, err := Open(path)
	require.NoError(t, err)

	var want []Record
	for i := 0; i < 25; i++ {
		r := rec(i, detection.EventAlertContinue, "normal")
		require.NoError(t, l.Append(r))
		want = append(want, r)
	}
	require.NoError(t, l.Close())

	got, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, got, 25)
	assert.Equal(t, lines(want), lines(got))
	assert.True(t, want[3].Timestamp.Equal(got[3].Timestamp))
	assert.Equal(t, 180.0, got[3].Duration)
}

func TestRoundTripIsLossless(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	l, err := Open(path)
	require.NoError(t, err)

	r := Record{
		Timestamp:   time.Now(),
		Event:       detection.EventAlertEnd,
		Result:      "green",
		OrangePct:   100.0 / 3,
		GreenPct:    66.66666666666667,
		Duration:    612.4631,
		Mode:        "normal",
		SourceImage: "frame.png",
	}
	require.NoError(t, l.Append(r))
	require.NoError(t, l.Close())

	got, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r.Canonical(), got[0])
	assert.True(t, r.Timestamp.Equal(got[0].Timestamp))
}

func TestUTCStampReadsAsLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	content := strings.Join(Header, ",") + "\n" +
		"2025-06-01T08:00:00.25Z,alert_start,orange,80,1,0,normal,a.png\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	recs, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Timestamp.Equal(time.Date(2025, 6, 1, 8, 0, 0, 250_000_000, time.UTC)))
	assert.Equal(t, time.Local, recs[0].Timestamp.Location())
}

func TestHeaderWrittenOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	for i := 0; i < 2; i++ {
		l, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, l.Append(rec(i, detection.EventNormalDetection, "normal")))
		require.NoError(t, l.Close())
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rows := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, rows, 3)
	assert.Equal(t, strings.Join(Header, ","), rows[0])
	stamp := time.Date(2025, 6, 1, 8, 0, 1, 0, time.Local).Format(StampLayout)
	assert.Equal(t, stamp+",normal_detection,orange,1.5,3.5,60,normal,frame_001.png", rows[2])
}

func TestReadFromIsIncremental(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(rec(1, detection.EventAlertStart, "normal")))
	first, off, err := ReadFrom(path, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	none, off2, err := ReadFrom(path, off)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Equal(t, off, off2)

	require.NoError(t, l.Append(rec(2, detection.EventAlertEnd, "normal")))
	next, _, err := ReadFrom(path, off)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, detection.EventAlertEnd, next[0].Event)
}

func TestPartialRowIsDeferred(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	content := strings.Join(Header, ",") + "\n" +
		"2025-06-01 08:00:00,alert_start,orange,80.0,1.0,0.0,normal,a.png\n" +
		"2025-06-01 08:01:00,alert_end,gre"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	recs, off, err := ReadFrom(path, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(strings.LastIndex(content, "\n")+1), off)
}

func TestLegacyModeColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	content := "timestamp,event_type,detection_result,orange_percentage,green_percentage,duration_seconds,debug_mode,source_image\n" +
		"2025-06-01 08:00:00,alert_end,green,2.0,90.0,42.0,debug,b.png\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	recs, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "debug", recs[0].Mode)
	assert.Equal(t, 42.0, recs[0].Duration)
	assert.Equal(t, time.Date(2025, 6, 1, 8, 0, 0, 0, time.Local), recs[0].Timestamp)
}

func TestBadHeaderRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c\n1,2,3\n"), 0o644))
	_, err := ReadAll(path)
	assert.ErrorContains(t, err, "missing columns")
}

func TestFilter(t *testing.T) {
	recs := []Record{
		rec(1, detection.EventAlertEnd, "normal"),
		rec(2, detection.EventAlertEnd, "debug"),
		rec(3, detection.EventNormalDetection, "normal"),
	}
	f := Filter{Modes: []string{"normal"}, Events: []detection.Event{detection.EventAlertEnd}}
	got := f.Apply(recs)
	require.Len(t, got, 1)
	assert.Equal(t, "frame_001.png", got[0].SourceImage)
	assert.Len(t, Filter{}.Apply(recs), 3)
}

func TestConcurrentAppendKeepsRowsWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	l, err := Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, l.Append(rec(g*10+i, detection.EventAlertContinue, "normal")))
			}
		}(g)
	}
	wg.Wait()

	recent, err := l.Recent(5)
	require.NoError(t, err)
	assert.Len(t, recent, 5)
	require.NoError(t, l.Close())
	assert.Error(t, l.Append(rec(0, detection.EventAlertStart, "normal")))

	all, err := ReadAll(path)
	require.NoError(t, err)
	assert.Len(t, all, 40)
}
