// Package capture provides frame sources and exclusive device access.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

var (
	// ErrFrameUnavailable is returned when a frame cannot be read this cycle.
	ErrFrameUnavailable = errors.New("frame unavailable")
	// ErrDeviceBusy is returned when another holder owns the capture device.
	ErrDeviceBusy = errors.New("capture device busy")
)

// Source yields frames. Read may block on device I/O.
type Source interface {
	Read(ctx context.Context) (types.Frame, error)
	Close() error
	Name() string
}

// ToRGBA converts any decoded image into a zero-origin RGBA copy.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// LoadImage decodes a PNG or JPEG file.
func LoadImage(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return ToRGBA(img), nil
}

// FileSource re-reads one still image every cycle.
type FileSource struct {
	path string
	seq  atomic.Uint64
	now  func() time.Time
}

// NewFileSource returns a source for the image at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, now: time.Now}
}

func (s *FileSource) Name() string { return s.path }

func (s *FileSource) Read(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	img, err := LoadImage(s.path)
	if err != nil {
		return types.Frame{}, fmt.Errorf("%w: %v", ErrFrameUnavailable, err)
	}
	return types.Frame{Image: img, Captured: s.now(), Seq: s.seq.Add(1), Source: filepath.Base(s.path)}, nil
}

func (s *FileSource) Close() error { return nil }

// RandomSource picks a random image from a directory each cycle.
type RandomSource struct {
	dir string
	seq atomic.Uint64
	now func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSource returns a source over the PNG/JPEG files in dir.
func NewRandomSource(dir string, seed int64) *RandomSource {
	return &RandomSource{dir: dir, now: time.Now, rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomSource) Name() string { return s.dir }

// Images lists the candidate files in name order.
func (s *RandomSource) Images() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			out = append(out, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *RandomSource) Read(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	files, err := s.Images()
	if err != nil {
		return types.Frame{}, fmt.Errorf("%w: %v", ErrFrameUnavailable, err)
	}
	if len(files) == 0 {
		return types.Frame{}, fmt.Errorf("%w: no images in %s", ErrFrameUnavailable, s.dir)
	}

	s.mu.Lock()
	path := files[s.rng.Intn(len(files))]
	s.mu.Unlock()

	img, err := LoadImage(path)
	if err != nil {
		return types.Frame{}, fmt.Errorf("%w: %v", ErrFrameUnavailable, err)
	}
	return types.Frame{Image: img, Captured: s.now(), Seq: s.seq.Add(1), Source: filepath.Base(path)}, nil
}

func (s *RandomSource) Close() error { return nil }
