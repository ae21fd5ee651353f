package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/clinichat/internal/domain"
)

type fakeHandle struct {
	chunks   chan []byte
	mu       sync.Mutex
	released bool
	once     sync.Once
}

func (h *fakeHandle) Chunks() <-chan []byte { return h.chunks }

func (h *fakeHandle) Release() error {
	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()
		close(h.chunks)
	})
	return nil
}

func (h *fakeHandle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

type fakeDevice struct {
	err      error
	acquired int
	handle   *fakeHandle
	block    chan struct{}
}

func (d *fakeDevice) Acquire(ctx context.Context) (Handle, error) {
	if d.block != nil {
		<-d.block
	}
	d.acquired++
	if d.err != nil {
		return nil, d.err
	}
	d.handle = &fakeHandle{chunks: make(chan []byte, 8)}
	return d.handle, nil
}

func TestRecorderLifecycle(t *testing.T) {
	device := &fakeDevice{}
	var transitions []string
	rec := NewRecorder(device, Options{OnStateChange: func(from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}})

	require.NoError(t, rec.Start(context.Background()))
	assert.Equal(t, Recording, rec.State())

	device.handle.chunks <- []byte("one-")
	device.handle.chunks <- []byte("two")

	var delivered domain.AudioClip
	clip, err := rec.Stop(context.Background(), func(ctx context.Context, c domain.AudioClip) error {
		delivered = c
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "one-two", string(clip.Data))
	assert.Equal(t, clip, delivered)
	assert.Equal(t, "audio/webm", clip.MIMEType)
	assert.Equal(t, Idle, rec.State())
	assert.Equal(t, []string{
		"idle>requesting_device",
		"requesting_device>recording",
		"recording>finalizing",
		"finalizing>idle",
	}, transitions)
}

func TestRecorderSecondStartRejected(t *testing.T) {
	device := &fakeDevice{}
	rec := NewRecorder(device, Options{})

	require.NoError(t, rec.Start(context.Background()))
	device.handle.chunks <- []byte("a")

	err := rec.Start(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 1, device.acquired)
	assert.Equal(t, Recording, rec.State())

	clip, err := rec.Stop(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "a", string(clip.Data))
}

func TestRecorderReleasesDeviceBeforeDeliver(t *testing.T) {
	device := &fakeDevice{}
	rec := NewRecorder(device, Options{})
	require.NoError(t, rec.Start(context.Background()))
	device.handle.chunks <- []byte("x")

	_, err := rec.Stop(context.Background(), func(ctx context.Context, c domain.AudioClip) error {
		assert.True(t, device.handle.Released())
		assert.Equal(t, Finalizing, rec.State())
		return nil
	})
	require.NoError(t, err)
}

func TestRecorderReturnsToIdleWhenDeliverFails(t *testing.T) {
	device := &fakeDevice{}
	rec := NewRecorder(device, Options{})
	require.NoError(t, rec.Start(context.Background()))
	device.handle.chunks <- []byte("x")

	uploadErr := errors.New("upload failed")
	_, err := rec.Stop(context.Background(), func(ctx context.Context, c domain.AudioClip) error {
		return uploadErr
	})
	assert.ErrorIs(t, err, uploadErr)
	assert.Equal(t, Idle, rec.State())

	require.NoError(t, rec.Start(context.Background()))
	rec.Cancel()
}

func TestRecorderDeviceErrorReturnsToIdle(t *testing.T) {
	device := &fakeDevice{err: errors.New("permission denied")}
	rec := NewRecorder(device, Options{})

	err := rec.Start(context.Background())
	var devErr *DeviceError
	require.True(t, errors.As(err, &devErr))
	assert.Equal(t, Idle, rec.State())
}

func TestRecorderCancelDiscardsBuffer(t *testing.T) {
	device := &fakeDevice{}
	rec := NewRecorder(device, Options{})
	require.NoError(t, rec.Start(context.Background()))
	device.handle.chunks <- []byte("secret")

	rec.Cancel()
	assert.Equal(t, Idle, rec.State())
	assert.True(t, device.handle.Released())

	_, err := rec.Stop(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestRecorderCancelDuringAcquisition(t *testing.T) {
	device := &fakeDevice{block: make(chan struct{})}
	rec := NewRecorder(device, Options{})

	result := make(chan error, 1)
	go func() { result <- rec.Start(context.Background()) }()

	require.Eventually(t, func() bool { return rec.State() == RequestingDevice }, time.Second, time.Millisecond)
	rec.Cancel()
	assert.Equal(t, Idle, rec.State())
	close(device.block)

	assert.ErrorIs(t, <-result, ErrCanceled)
	assert.True(t, device.handle.Released())
	assert.Equal(t, Idle, rec.State())
}

func TestRecorderEmptyRecordingSkipsDeliver(t *testing.T) {
	device := &fakeDevice{}
	rec := NewRecorder(device, Options{})
	require.NoError(t, rec.Start(context.Background()))

	called := false
	_, err := rec.Stop(context.Background(), func(ctx context.Context, c domain.AudioClip) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrEmptyRecording)
	assert.False(t, called)
	assert.Equal(t, Idle, rec.State())
}

func TestFileDeviceStreamsAndIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.wav")
	payload := bytes.Repeat([]byte("abcdefgh"), 100)
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	device := NewFileDevice(path, 64)
	rec := NewRecorder(device, Options{Filename: "voice.wav", MIMEType: "audio/wav"})
	require.NoError(t, rec.Start(context.Background()))

	_, err := device.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrDeviceBusy)
	assert.ErrorIs(t, device.SetPath("other.wav"), ErrDeviceBusy)

	// The whole file is available once the stream reaches EOF.
	require.Eventually(t, func() bool {
		return len(rec.session.data()) == len(payload)
	}, time.Second, time.Millisecond)

	clip, err := rec.Stop(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, payload, clip.Data)
	assert.False(t, device.Held())
	require.NoError(t, device.SetPath("other.wav"))

	_, err = NewFileDevice(filepath.Join(t.TempDir(), "missing.wav"), 64).Acquire(context.Background())
	require.Error(t, err)
}
