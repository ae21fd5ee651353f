// Package capture implements the voice recording state machine.
//
// A Recorder moves Idle → RequestingDevice → Recording → Finalizing → Idle.
// Start is only accepted from Idle, the device is held only while
// recording, and Stop always ends in Idle whatever the delivery outcome.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xiaot623/clinichat/internal/domain"
)

// State is a recorder state.
type State int

const (
	Idle State = iota
	RequestingDevice
	Recording
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RequestingDevice:
		return "requesting_device"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrBusy is returned by Start when the recorder is not Idle.
	ErrBusy = errors.New("recorder busy")
	// ErrNotRecording is returned by Stop outside of Recording.
	ErrNotRecording = errors.New("not recording")
	// ErrCanceled is returned by Start when Cancel ran during device acquisition.
	ErrCanceled = errors.New("recording canceled")
	// ErrEmptyRecording is returned by Stop when no audio was captured.
	ErrEmptyRecording = errors.New("empty recording")
)

// DeviceError wraps a failure to acquire the capture device.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	return "capture device unavailable: " + e.Err.Error()
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Device hands out exclusive capture handles.
type Device interface {
	Acquire(ctx context.Context) (Handle, error)
}

// Handle is an acquired device. Chunks delivers audio in arrival order.
// After Release returns the Chunks channel must be closed.
type Handle interface {
	Chunks() <-chan []byte
	Release() error
}

// DeliverFunc receives the finished clip while the recorder is Finalizing.
type DeliverFunc func(ctx context.Context, clip domain.AudioClip) error

// Options configures a Recorder.
type Options struct {
	Filename string
	MIMEType string
	// OnStateChange, if set, is called after every transition, outside the lock.
	OnStateChange func(from, to State)
}

// Recorder is the capture state machine. It is safe for concurrent use.
type Recorder struct {
	device Device
	opts   Options

	mu         sync.Mutex
	state      State
	generation uint64
	session    *session
}

// session is one acquisition of the device and the audio it produced.
type session struct {
	handle    Handle
	mu        sync.Mutex
	chunks    [][]byte
	collected chan struct{}
}

func (s *session) collect() {
	defer close(s.collected)
	for chunk := range s.handle.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		buf := make([]byte, len(chunk))
		copy(buf, chunk)
		s.mu.Lock()
		s.chunks = append(s.chunks, buf)
		s.mu.Unlock()
	}
}

// release stops the device and waits until every delivered chunk is buffered.
func (s *session) release() error {
	err := s.handle.Release()
	<-s.collected
	return err
}

func (s *session) data() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Join(s.chunks, nil)
}

// NewRecorder creates a recorder for device.
func NewRecorder(device Device, opts Options) *Recorder {
	if opts.Filename == "" {
		opts.Filename = "recording.webm"
	}
	if opts.MIMEType == "" {
		opts.MIMEType = "audio/webm"
	}
	return &Recorder{device: device, opts: opts}
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// setState must be called with mu held. It returns the notification to fire after unlocking.
func (r *Recorder) setState(to State) func() {
	from := r.state
	r.state = to
	if r.opts.OnStateChange == nil || from == to {
		return func() {}
	}
	cb := r.opts.OnStateChange
	return func() { cb(from, to) }
}

// Start acquires the device and begins buffering chunks.
// It fails with ErrBusy, without side effects, unless the recorder is Idle.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != Idle {
		r.mu.Unlock()
		return ErrBusy
	}
	r.generation++
	gen := r.generation
	notify := r.setState(RequestingDevice)
	r.mu.Unlock()
	notify()

	handle, err := r.device.Acquire(ctx)

	r.mu.Lock()
	if r.generation != gen || r.state != RequestingDevice {
		// Cancelled while waiting for the device.
		r.mu.Unlock()
		if err == nil {
			_ = handle.Release()
		}
		return ErrCanceled
	}
	if err != nil {
		notify = r.setState(Idle)
		r.mu.Unlock()
		notify()
		return &DeviceError{Err: err}
	}

	sess := &session{handle: handle, collected: make(chan struct{})}
	go sess.collect()
	r.session = sess
	notify = r.setState(Recording)
	r.mu.Unlock()
	notify()
	return nil
}

// Stop finalizes the recording: the device is released first, the buffered
// chunks are joined into one clip, deliver (if non-nil) runs, and the recorder
// returns to Idle regardless of deliver's result.
func (r *Recorder) Stop(ctx context.Context, deliver DeliverFunc) (domain.AudioClip, error) {
	r.mu.Lock()
	if r.state != Recording {
		r.mu.Unlock()
		return domain.AudioClip{}, ErrNotRecording
	}
	sess := r.session
	r.session = nil
	notify := r.setState(Finalizing)
	r.mu.Unlock()
	notify()

	defer func() {
		r.mu.Lock()
		notify := r.setState(Idle)
		r.mu.Unlock()
		notify()
	}()

	releaseErr := sess.release()
	clip := domain.AudioClip{
		Filename: r.opts.Filename,
		MIMEType: r.opts.MIMEType,
		Data:     sess.data(),
	}
	if releaseErr != nil {
		return clip, &DeviceError{Err: releaseErr}
	}
	if len(clip.Data) == 0 {
		return clip, ErrEmptyRecording
	}
	if deliver == nil {
		return clip, nil
	}
	return clip, deliver(ctx, clip)
}

// Cancel abandons an acquisition or recording: the device is released and
// the buffer discarded. It is a no-op in Idle and Finalizing.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	var notify func()
	switch r.state {
	case RequestingDevice:
		r.generation++
		notify = r.setState(Idle)
	case Recording:
		_ = r.session.release()
		r.session = nil
		notify = r.setState(Idle)
	default:
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	notify()
}
