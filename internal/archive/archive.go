// Package archive stores evidence frames for alert transitions.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Uploader copies an archived frame to remote storage.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) error
}

type job struct {
	img  image.Image
	name string
}

// Archiver writes frames on its own goroutine
type Archiver struct {
	mu       sync.RWMutex
	dir      string
	uploader Uploader
	log      *zap.Logger
	running  bool
	written  uint64
	uploaded uint64
	failed   uint64
	lastFile string
	jobs     chan job
	wg       sync.WaitGroup
}

// NewArchiver creates an archiver writing into dir. uploader may be nil.
func NewArchiver(dir string, uploader Uploader, log *zap.Logger) *Archiver {
	return &Archiver{
		dir:      dir,
		uploader: uploader,
		log:      log,
		jobs:     make(chan job, 16),
	}
}

// Start creates the directory and starts the writer goroutine
func (a *Archiver) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("already running")
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}
	a.running = true
	a.wg.Add(1)
	go a.writeFrames()
	return nil
}

// Stop drains pending frames and waits for the writer
func (a *Archiver) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return fmt.Errorf("not running")
	}
	a.running = false
	close(a.jobs)
	a.mu.Unlock()

	a.wg.Wait()
	return nil
}

// Submit queues a frame (non-blocking). The image must not be modified afterwards.
func (a *Archiver) Submit(img image.Image, name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running || img == nil {
		return false
	}

	select {
	case a.jobs <- job{img: img, name: name}:
		return true
	default:
		// Channel full, drop frame
		return false
	}
}

func (a *Archiver) writeFrames() {
	defer a.wg.Done()
	for j := range a.jobs {
		a.writeFrame(j)
	}
}

func (a *Archiver) writeFrame(j job) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, j.img, &jpeg.Options{Quality: 90}); err != nil {
		a.fail("encode", j.name, err)
		return
	}
	path := filepath.Join(a.dir, j.name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		a.fail("write", j.name, err)
		return
	}

	a.mu.Lock()
	a.written++
	a.lastFile = j.name
	a.mu.Unlock()

	if a.uploader == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.uploader.Upload(ctx, j.name, buf.Bytes()); err != nil {
		a.fail("upload", j.name, err)
		return
	}
	a.mu.Lock()
	a.uploaded++
	a.mu.Unlock()
}

func (a *Archiver) fail(stage, name string, err error) {
	a.log.Warn("archive "+stage+" failed", zap.String("file", name), zap.Error(err))
	a.mu.Lock()
	a.failed++
	a.mu.Unlock()
}

// GetStatus returns the current archive status
func (a *Archiver) GetStatus() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Status{
		Running:  a.running,
		Dir:      a.dir,
		Written:  a.written,
		Uploaded: a.uploaded,
		Failed:   a.failed,
		LastFile: a.lastFile,
	}
}

// Status holds the archive counters
type Status struct {
	Running  bool   `json:"running"`
	Dir      string `json:"dir"`
	Written  uint64 `json:"written"`
	Uploaded uint64 `json:"uploaded"`
	Failed   uint64 `json:"failed"`
	LastFile string `json:"last_file"`
}
