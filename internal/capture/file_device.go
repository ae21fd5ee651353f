package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"
)

// ErrDeviceBusy is returned when a device is acquired twice.
var ErrDeviceBusy = errors.New("device busy")

// FileDevice plays an audio file as if it were a microphone, emitting
// fixed-size chunks. Only one handle can be held at a time.
type FileDevice struct {
	Path      string
	ChunkSize int
	// Interval paces chunks; zero emits them as fast as they are consumed.
	Interval time.Duration

	mu   sync.Mutex
	held bool
}

// NewFileDevice creates a device streaming path in chunkSize pieces.
func NewFileDevice(path string, chunkSize int) *FileDevice {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &FileDevice{Path: path, ChunkSize: chunkSize}
}

// Acquire opens the file and starts streaming it.
func (d *FileDevice) Acquire(ctx context.Context) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held {
		return nil, ErrDeviceBusy
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(d.Path)
	if err != nil {
		return nil, err
	}

	h := &fileHandle{
		device: d,
		file:   f,
		chunks: make(chan []byte, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	d.held = true
	go h.stream(d.ChunkSize, d.Interval)
	return h, nil
}

// SetPath points the device at another file. It fails while a handle is held.
func (d *FileDevice) SetPath(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held {
		return ErrDeviceBusy
	}
	d.Path = path
	return nil
}

// Held reports whether a handle is currently outstanding.
func (d *FileDevice) Held() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

type fileHandle struct {
	device *FileDevice
	file   *os.File
	chunks chan []byte
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error
}

func (h *fileHandle) Chunks() <-chan []byte {
	return h.chunks
}

func (h *fileHandle) stream(chunkSize int, interval time.Duration) {
	defer close(h.done)
	defer close(h.chunks)

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-h.stop:
				return
			case <-tick:
			}
		}

		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(h.file, buf)
		if n > 0 {
			select {
			case h.chunks <- buf[:n]:
			case <-h.stop:
				return
			}
		}
		if err != nil {
			// EOF: the "microphone" goes silent until released.
			return
		}
	}
}

// Release stops streaming and frees the device. It is idempotent.
func (h *fileHandle) Release() error {
	h.once.Do(func() {
		close(h.stop)
		<-h.done
		h.err = h.file.Close()

		h.device.mu.Lock()
		h.device.held = false
		h.device.mu.Unlock()
	})
	return h.err
}
