package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/lamp-monitor/internal/logger"
	"github.com/dj-oyu/lamp-monitor/internal/status"
)

// FrameBroadcaster manages fanout of JPEG frames to multiple clients.
type FrameBroadcaster struct {
	mu        sync.Mutex
	clients   map[int]chan []byte
	nextID    int
	board     *status.Board
	interval  time.Duration
	maxWidth  int
	now       func() time.Time
	stop      chan struct{}
	stopped   bool
	skipCount int // Count of ticks skipped when no clients

	lastCaptured time.Time
	lastJPEG     []byte
}

// NewFrameBroadcaster creates a broadcaster that encodes board frames and fans them out.
func NewFrameBroadcaster(board *status.Board, interval time.Duration, maxWidth int) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients:  make(map[int]chan []byte),
		board:    board,
		interval: interval,
		maxWidth: maxWidth,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))

		if len(fb.clients) == 0 {
			logger.Info("FrameBroadcaster", "No clients remaining - frame encoding will be skipped")
		}
	}
}

// Start begins the frame encode and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the broadcaster.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	if !fb.stopped {
		close(fb.stop)
		fb.stopped = true
	}
	fb.mu.Unlock()
}

func (fb *FrameBroadcaster) run() {
	ticker := time.NewTicker(fb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-fb.stop:
			return
		case <-ticker.C:
		}

		fb.mu.Lock()
		clientCount := len(fb.clients)
		fb.mu.Unlock()

		if clientCount == 0 {
			fb.skipCount++
			if fb.skipCount%20 == 0 {
				logger.Debug("FrameBroadcaster", "No clients connected (idle for %d ticks)", fb.skipCount)
			}
			continue
		}
		fb.skipCount = 0

		fb.broadcast(fb.nextFrame())
	}
}

// nextFrame returns the encoded latest frame, or nil when it is missing or stale.
// Encoding happens once per captured frame.
func (fb *FrameBroadcaster) nextFrame() []byte {
	img, captured, fresh := fb.board.LatestFrame(fb.now())
	if img == nil || !fresh {
		return nil
	}
	if captured.Equal(fb.lastCaptured) && fb.lastJPEG != nil {
		return fb.lastJPEG
	}
	data, err := encodeFrame(img, fb.maxWidth)
	if err != nil {
		logger.Warn("FrameBroadcaster", "JPEG encode failed: %v", err)
		return nil
	}
	fb.lastCaptured = captured
	fb.lastJPEG = data
	return data
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// StatusBroadcaster manages fanout of status events to multiple SSE clients.
type StatusBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan *SerializedEvent
	nextID   int
	build    func() *SerializedEvent
	stop     chan struct{}
	stopped  bool
	interval time.Duration
}

// NewStatusBroadcaster creates a broadcaster that emits build() every interval.
func NewStatusBroadcaster(build func() *SerializedEvent, interval time.Duration) *StatusBroadcaster {
	return &StatusBroadcaster{
		clients:  make(map[int]chan *SerializedEvent),
		build:    build,
		stop:     make(chan struct{}),
		interval: interval,
	}
}

// Subscribe adds a new client and returns a channel for receiving status events.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 2) // Buffer 2 events to avoid blocking
	sb.clients[id] = ch

	logger.Debug("StatusBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		logger.Debug("StatusBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// Start begins the status event loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the broadcaster.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	if !sb.stopped {
		close(sb.stop)
		sb.stopped = true
	}
	sb.mu.Unlock()
}

func (sb *StatusBroadcaster) run() {
	logger.Info("StatusBroadcaster", "Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
			sb.mu.Lock()
			clientCount := len(sb.clients)
			sb.mu.Unlock()

			if clientCount == 0 {
				continue
			}

			if event := sb.build(); event != nil {
				sb.broadcast(event)
			}
		}
	}
}

func (sb *StatusBroadcaster) broadcast(event *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for _, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
}
