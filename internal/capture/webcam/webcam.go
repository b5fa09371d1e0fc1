// Package webcam reads frames from a local camera through OpenCV.
package webcam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/lamp-monitor/internal/capture"
	"github.com/dj-oyu/lamp-monitor/internal/logger"
	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

// Camera is an opened capture device. It holds the device lease until Close.
type Camera struct {
	index int
	name  string
	lease *capture.Lease

	mu  sync.Mutex
	vc  *gocv.VideoCapture
	mat gocv.Mat
	seq atomic.Uint64
}

func deviceName(index int) string {
	return fmt.Sprintf("video%d", index)
}

// Open acquires the lease for index and opens the device.
func Open(index int) (*Camera, error) {
	name := deviceName(index)
	lease, err := capture.Acquire(name)
	if err != nil {
		return nil, err
	}

	vc, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		lease.Release()
		return nil, fmt.Errorf("open camera %d: %w", index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		lease.Release()
		return nil, fmt.Errorf("open camera %d: device not opened", index)
	}
	// only the newest frame matters
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	return &Camera{index: index, name: name, lease: lease, vc: vc, mat: gocv.NewMat()}, nil
}

// Find tries indices 0..searchRange-1 and returns the first camera that delivers a frame.
func Find(searchRange int) (*Camera, error) {
	var found *Camera
	i, err := firstUsable(searchRange, func(i int) error {
		cam, err := Open(i)
		if err != nil {
			return err
		}
		if _, err := cam.Read(context.Background()); err != nil {
			cam.Close()
			return fmt.Errorf("opened but read failed: %w", err)
		}
		found = cam
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Webcam", "using camera %d", i)
	return found, nil
}

// firstUsable returns the first index in 0..n-1 for which try succeeds. Busy
// devices are reported at warn level and named in the final error.
func firstUsable(n int, try func(int) error) (int, error) {
	var busy []error
	for i := 0; i < n; i++ {
		err := try(i)
		if err == nil {
			return i, nil
		}
		if errors.Is(err, capture.ErrDeviceBusy) {
			logger.Warn("Webcam", "camera %d skipped: %v", i, err)
			busy = append(busy, err)
			continue
		}
		logger.Debug("Webcam", "camera %d unavailable: %v", i, err)
	}
	err := fmt.Errorf("no usable camera in indices 0..%d", n-1)
	if len(busy) > 0 {
		return -1, fmt.Errorf("%w: %w", err, errors.Join(busy...))
	}
	return -1, err
}

// OpenOrFind opens index when it is non-negative, otherwise searches.
func OpenOrFind(index, searchRange int) (*Camera, error) {
	if index >= 0 {
		return Open(index)
	}
	return Find(searchRange)
}

func (c *Camera) Name() string { return c.name }

// Index returns the device index.
func (c *Camera) Index() int { return c.index }

// Read grabs one frame and converts it from BGR to RGBA.
func (c *Camera) Read(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vc == nil {
		return types.Frame{}, fmt.Errorf("%w: camera closed", capture.ErrFrameUnavailable)
	}
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return types.Frame{}, fmt.Errorf("%w: %s returned no frame", capture.ErrFrameUnavailable, c.name)
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return types.Frame{}, fmt.Errorf("%w: convert: %v", capture.ErrFrameUnavailable, err)
	}
	return types.Frame{
		Image:    capture.ToRGBA(img),
		Captured: time.Now(),
		Seq:      c.seq.Add(1),
		Source:   c.name,
	}, nil
}

// Close releases the camera handle and the lease.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	c.mat.Close()
	c.vc = nil
	if rerr := c.lease.Release(); err == nil {
		err = rerr
	}
	return err
}
