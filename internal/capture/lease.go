package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Registry hands out exclusive leases on named devices. Within the process a map
// guards each name; across processes an advisory lock file does.
type Registry struct {
	dir string

	mu   sync.Mutex
	held map[string]*Lease
}

// NewRegistry keeps lock files in dir (os.TempDir when empty).
func NewRegistry(dir string) *Registry {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Registry{dir: dir, held: make(map[string]*Lease)}
}

var defaultRegistry = NewRegistry("")

// Acquire takes the device lease from the process-wide registry.
func Acquire(device string) (*Lease, error) {
	return defaultRegistry.Acquire(device)
}

// Lease is an exclusive hold on one device. Release is idempotent.
type Lease struct {
	device string
	reg    *Registry
	file   *os.File
	once   sync.Once
}

// Device returns the leased device name.
func (l *Lease) Device() string { return l.device }

// Acquire returns ErrDeviceBusy if the device is already held here or by another process.
func (r *Registry) Acquire(device string) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.held[device]; ok {
		return nil, fmt.Errorf("%w: %s is held by this process", ErrDeviceBusy, device)
	}

	name := "lamp-monitor-" + strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(device) + ".lock"
	f, err := os.OpenFile(filepath.Join(r.dir, name), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceBusy, device, err)
	}

	l := &Lease{device: device, reg: r, file: f}
	r.held[device] = l
	return l, nil
}

// Release gives the device back.
func (l *Lease) Release() error {
	var err error
	l.once.Do(func() {
		l.reg.mu.Lock()
		delete(l.reg.held, l.device)
		l.reg.mu.Unlock()

		unlockFile(l.file)
		err = l.file.Close()
	})
	return err
}
