// Package episodelog is the append-only CSV record of detection events.
package episodelog

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/dj-oyu/lamp-monitor/internal/detection"
)

// TimeLayout is the display format for timestamps and the legacy column format.
const TimeLayout = "2006-01-02 15:04:05"

// StampLayout is the timestamp column format written by Append.
const StampLayout = time.RFC3339Nano

// Header is the column order of the log file.
var Header = []string{
	"timestamp", "event_type", "detection_result",
	"orange_percentage", "green_percentage", "duration_seconds",
	"mode", "source_image",
}

// legacy column names accepted when reading
var aliases = map[string]string{"debug_mode": "mode"}

// Record is one immutable log row.
type Record struct {
	Timestamp   time.Time
	Event       detection.Event
	Result      string
	OrangePct   float64
	GreenPct    float64
	Duration    float64 // seconds, 0 when not applicable
	Mode        string  // normal or debug
	SourceImage string
}

// Canonical returns r as ReadAll will return it: local time, no monotonic reading.
func (r Record) Canonical() Record {
	r.Timestamp = r.Timestamp.Round(0).In(time.Local)
	return r
}

func (r Record) fields() []string {
	return []string{
		r.Timestamp.Format(StampLayout),
		string(r.Event),
		r.Result,
		strconv.FormatFloat(r.OrangePct, 'f', -1, 64),
		strconv.FormatFloat(r.GreenPct, 'f', -1, 64),
		strconv.FormatFloat(r.Duration, 'f', -1, 64),
		r.Mode,
		r.SourceImage,
	}
}

// Line renders the record as it appears in the file, without the newline.
func (r Record) Line() string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(r.fields())
	w.Flush()
	return strings.TrimRight(buf.String(), "\n")
}

// Log is an open episode log. Append is safe for concurrent use.
type Log struct {
	path string

	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// Open opens or creates the log at path, writing the header to a new file.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open episode log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat episode log: %w", err)
	}

	l := &Log{path: path, f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := l.writeRow(Header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return l, nil
}

// Path returns the file path.
func (l *Log) Path() string { return l.path }

// Append writes one record and syncs it to disk before returning.
func (l *Log) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return errors.New("episode log closed")
	}
	return l.writeRow(r.fields())
}

func (l *Log) writeRow(row []string) error {
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("write episode log: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("flush episode log: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync episode log: %w", err)
	}
	return nil
}

// Close flushes and closes the file. Further appends fail.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	l.w.Flush()
	err := errors.Join(l.w.Error(), l.f.Sync(), l.f.Close())
	l.f = nil
	return err
}

// ReadAll returns every record in file order.
func (l *Log) ReadAll() ([]Record, error) {
	recs, _, err := ReadFrom(l.path, 0)
	return recs, err
}

// Recent returns the last n records.
func (l *Log) Recent(n int) ([]Record, error) {
	recs, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	if n < len(recs) {
		recs = recs[len(recs)-n:]
	}
	return recs, nil
}

// ReadAll reads every record of the log at path.
func ReadAll(path string) ([]Record, error) {
	recs, _, err := ReadFrom(path, 0)
	return recs, err
}

// ReadFrom reads complete rows starting at byte offset (0 = start of file) and
// returns the offset to pass next time. A trailing partial row is left for later.
func ReadFrom(path string, offset int64) ([]Record, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, fmt.Errorf("open episode log: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	headerLine, err := br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, offset, nil
		}
		return nil, offset, fmt.Errorf("read episode log header: %w", err)
	}
	cols, err := columns(headerLine)
	if err != nil {
		return nil, offset, err
	}
	if offset < int64(len(headerLine)) {
		offset = int64(len(headerLine))
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek episode log: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, fmt.Errorf("read episode log: %w", err)
	}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil, offset, nil
	}
	data = data[:end+1]

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	var recs []Record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return recs, offset, fmt.Errorf("parse episode log: %w", err)
		}
		rec, err := parse(cols, row)
		if err != nil {
			line, _ := r.FieldPos(0)
			return recs, offset, fmt.Errorf("parse episode log row %d: %w", line, err)
		}
		recs = append(recs, rec)
	}
	return recs, offset + int64(len(data)), nil
}

func columns(headerLine string) (map[string]int, error) {
	row, err := csv.NewReader(strings.NewReader(headerLine)).Read()
	if err != nil {
		return nil, fmt.Errorf("parse episode log header: %w", err)
	}
	cols := make(map[string]int, len(row))
	for i, name := range row {
		name = strings.TrimSpace(name)
		if alias, ok := aliases[name]; ok {
			name = alias
		}
		cols[name] = i
	}
	missing := lo.Filter(Header, func(h string, _ int) bool {
		_, ok := cols[h]
		return !ok
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("episode log header missing columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func parse(cols map[string]int, row []string) (Record, error) {
	get := func(name string) string {
		i := cols[name]
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	num := func(name string) (float64, error) {
		s := get(name)
		if s == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return v, nil
	}

	ts, err := parseTime(get("timestamp"))
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		Timestamp:   ts.In(time.Local),
		Event:       detection.Event(get("event_type")),
		Result:      get("detection_result"),
		Mode:        get("mode"),
		SourceImage: get("source_image"),
	}
	if rec.OrangePct, err = num("orange_percentage"); err != nil {
		return Record{}, err
	}
	if rec.GreenPct, err = num("green_percentage"); err != nil {
		return Record{}, err
	}
	if rec.Duration, err = num("duration_seconds"); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func parseTime(s string) (time.Time, error) {
	ts, err := time.Parse(StampLayout, s)
	if err == nil {
		return ts, nil
	}
	if legacy, lerr := time.ParseInLocation(TimeLayout, s, time.Local); lerr == nil {
		return legacy, nil
	}
	return time.Time{}, fmt.Errorf("timestamp: %w", err)
}

// Filter selects records by mode and event type. Empty sets match everything.
type Filter struct {
	Modes  []string
	Events []detection.Event
}

// Match reports whether r passes the filter.
func (f Filter) Match(r Record) bool {
	if len(f.Modes) > 0 && !lo.Contains(f.Modes, r.Mode) {
		return false
	}
	if len(f.Events) > 0 && !lo.Contains(f.Events, r.Event) {
		return false
	}
	return true
}

// Apply returns the matching records in order.
func (f Filter) Apply(recs []Record) []Record {
	return lo.Filter(recs, func(r Record, _ int) bool { return f.Match(r) })
}
