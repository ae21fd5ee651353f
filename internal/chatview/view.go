// Package chatview assembles the client core for one open conversation:
// the log client, the recorder, the linker, the synchronizer and the
// search resolver.
package chatview

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/clinichat/internal/adapter/messagelog"
	"github.com/xiaot623/clinichat/internal/adapter/notify"
	"github.com/xiaot623/clinichat/internal/capture"
	"github.com/xiaot623/clinichat/internal/domain"
	"github.com/xiaot623/clinichat/internal/highlight"
	"github.com/xiaot623/clinichat/internal/linker"
	"github.com/xiaot623/clinichat/internal/synchronizer"
)

var (
	// ErrEmptyText is returned when sending a blank text message.
	ErrEmptyText = errors.New("message text is empty")
	// ErrNoRecording is returned when no clip is kept for a retry.
	ErrNoRecording = errors.New("no recording kept for message")
)

// Options configures a View.
type Options struct {
	PollInterval time.Duration
	// Device enables voice recording when set.
	Device capture.Device
	// Pending persists failed attachments when set.
	Pending linker.PendingStore
	// RelinkInterval drives background retries of Pending; zero disables them.
	RelinkInterval time.Duration
	// RelinkMaxAttempts caps background retries of one clip.
	RelinkMaxAttempts int
	// Notifications subscribes to the store's change stream.
	Notifications bool
	Logger        zerolog.Logger
}

// View is the client-side state of one conversation.
type View struct {
	client         *messagelog.Client
	conversationID int64
	opts           Options
	logger         zerolog.Logger

	sync     *synchronizer.Synchronizer
	recorder *capture.Recorder
	linker   *linker.Linker

	mu       sync.Mutex
	unlinked map[int64]domain.AudioClip
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// New creates a view. Nothing runs until Start.
func New(client *messagelog.Client, conversationID int64, opts Options) *View {
	logger := opts.Logger.With().Int64("conversation_id", conversationID).Logger()
	v := &View{
		client:         client,
		conversationID: conversationID,
		opts:           opts,
		logger:         logger,
		sync:           synchronizer.New(client, conversationID, opts.PollInterval, logger),
		linker:         linker.New(client, opts.Pending, logger),
		unlinked:       make(map[int64]domain.AudioClip),
	}
	v.linker.MaxAttempts = opts.RelinkMaxAttempts
	v.linker.OnLinked = func(_, messageID int64) {
		v.mu.Lock()
		delete(v.unlinked, messageID)
		v.mu.Unlock()
		v.sync.Trigger()
	}
	if opts.Device != nil {
		v.recorder = capture.NewRecorder(opts.Device, capture.Options{
			OnStateChange: func(from, to capture.State) {
				logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("recorder state")
			},
		})
	}
	return v
}

// ConversationID returns the open conversation.
func (v *View) ConversationID() int64 {
	return v.conversationID
}

// Start begins polling and, if configured, listens for change notifications
// and relinks pending clips.
func (v *View) Start(ctx context.Context) error {
	v.mu.Lock()
	if v.cancel != nil {
		v.mu.Unlock()
		return synchronizer.ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	v.cancel = cancel
	v.group = g
	v.mu.Unlock()

	if err := v.sync.Start(gctx); err != nil {
		cancel()
		v.mu.Lock()
		v.cancel, v.group = nil, nil
		v.mu.Unlock()
		return err
	}

	if v.opts.Notifications {
		sub, err := notify.NewSubscriber(v.client.BaseURL(), v.conversationID, func(domain.Notification) {
			v.sync.Trigger()
		}, v.logger)
		if err != nil {
			v.logger.Warn().Err(err).Msg("change notifications disabled")
		} else {
			g.Go(func() error {
				sub.Run(gctx)
				return nil
			})
		}
	}
	if v.opts.Pending != nil && v.opts.RelinkInterval > 0 {
		g.Go(func() error {
			v.linker.RunRelinker(gctx, v.opts.RelinkInterval)
			return nil
		})
	}
	return nil
}

// Close stops the timers and background listeners. Requests already in
// flight finish on their own and their results are dropped.
func (v *View) Close() error {
	v.mu.Lock()
	cancel, g := v.cancel, v.group
	v.cancel, v.group = nil, nil
	v.mu.Unlock()

	if v.recorder != nil {
		v.recorder.Cancel()
	}
	v.sync.Stop()
	if cancel == nil {
		return nil
	}
	cancel()
	return g.Wait()
}

// Snapshot returns the current mirror.
func (v *View) Snapshot() synchronizer.Snapshot {
	return v.sync.Snapshot()
}

// Subscribe streams mirror snapshots.
func (v *View) Subscribe() (<-chan synchronizer.Snapshot, func()) {
	return v.sync.Subscribe()
}

// Refresh runs one tick now and waits for it.
func (v *View) Refresh(ctx context.Context) error {
	return v.sync.Tick(ctx)
}

// SendText appends a text message. The mirror picks it up on the next tick.
func (v *View) SendText(ctx context.Context, role domain.SenderRole, text string) (*domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	msg, err := v.client.CreateMessage(context.WithoutCancel(ctx), domain.CreateMessageRequest{
		ConversationID:  v.conversationID,
		SenderRole:      role,
		OriginalContent: domain.StringPtr(text),
	})
	if err != nil {
		return nil, err
	}
	v.sync.Trigger()
	return msg, nil
}

// RecorderState reports the capture state, or Idle without a device.
func (v *View) RecorderState() capture.State {
	if v.recorder == nil {
		return capture.Idle
	}
	return v.recorder.State()
}

// StartRecording begins capturing audio.
func (v *View) StartRecording(ctx context.Context) error {
	if v.recorder == nil {
		return &capture.DeviceError{Err: errors.New("no capture device configured")}
	}
	return v.recorder.Start(ctx)
}

// CancelRecording discards the current recording.
func (v *View) CancelRecording() {
	if v.recorder != nil {
		v.recorder.Cancel()
	}
}

// StopRecording finishes the recording and sends it as role. On a partial
// commit the clip is kept so RetryAttach can finish the job.
func (v *View) StopRecording(ctx context.Context, role domain.SenderRole) (*domain.Message, error) {
	if v.recorder == nil {
		return nil, capture.ErrNotRecording
	}
	var sent *domain.Message
	_, err := v.recorder.Stop(ctx, func(ctx context.Context, clip domain.AudioClip) error {
		msg, err := v.SendVoice(ctx, role, clip)
		sent = msg
		return err
	})
	return sent, err
}

// SendVoice runs the two-phase send for an already captured clip.
func (v *View) SendVoice(ctx context.Context, role domain.SenderRole, clip domain.AudioClip) (*domain.Message, error) {
	msg, err := v.linker.SendVoice(context.WithoutCancel(ctx), v.conversationID, role, clip)
	var partial *linker.PartialCommitError
	if errors.As(err, &partial) {
		v.mu.Lock()
		v.unlinked[partial.Message.ID] = clip
		v.mu.Unlock()
		// The placeholder exists remotely even though the upload failed.
		v.sync.Trigger()
	}
	return msg, err
}

// Unlinked returns the ids of placeholders whose clip is kept for retry.
func (v *View) Unlinked() []int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]int64, 0, len(v.unlinked))
	for id := range v.unlinked {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RetryAttach re-uploads the kept clip for messageID.
func (v *View) RetryAttach(ctx context.Context, messageID int64) error {
	v.mu.Lock()
	clip, ok := v.unlinked[messageID]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %d", ErrNoRecording, messageID)
	}
	return v.linker.Attach(context.WithoutCancel(ctx), v.conversationID, messageID, clip)
}

// RetryPending re-attempts the persisted queue, if any.
func (v *View) RetryPending(ctx context.Context) (int, error) {
	return v.linker.RetryPending(ctx)
}

// Search queries the store and marks matches. It never reads the mirror.
func (v *View) Search(ctx context.Context, query string) ([]highlight.Result, error) {
	conversationID := v.conversationID
	messages, err := v.client.SearchMessages(ctx, query, &conversationID)
	if err != nil {
		return nil, err
	}
	return highlight.Resolve(query, messages), nil
}

// Summary asks the store for a generated summary.
func (v *View) Summary(ctx context.Context) (*domain.Summary, error) {
	return v.client.GetSummary(ctx, v.conversationID)
}
