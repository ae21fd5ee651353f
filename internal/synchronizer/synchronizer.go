// Package synchronizer keeps a local mirror of one conversation's message log
// by polling the store.
package synchronizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/xiaot623/clinichat/internal/domain"
	"github.com/xiaot623/clinichat/internal/metrics"
)

// DefaultInterval is the polling period when none is configured.
const DefaultInterval = 3 * time.Second

var (
	// ErrAlreadyStarted is returned by Start on a running synchronizer.
	ErrAlreadyStarted = errors.New("synchronizer already started")
	// ErrTickInFlight is returned by Tick when another tick has not finished.
	ErrTickInFlight = errors.New("tick already in flight")
)

// Lister fetches a conversation's messages.
type Lister interface {
	ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error)
}

// Snapshot is an immutable copy of the mirror.
type Snapshot struct {
	ConversationID int64
	Messages       []domain.Message
	// Version increases by one every time the mirror is replaced.
	Version  uint64
	SyncedAt time.Time
	LastErr  error
}

// Stats counts tick outcomes since creation.
type Stats struct {
	OK        int64
	Failed    int64
	Skipped   int64
	Discarded int64
}

// Synchronizer owns the mirror. Only completed ticks replace it, and always
// as a whole.
type Synchronizer struct {
	lister         Lister
	conversationID int64
	interval       time.Duration
	logger         zerolog.Logger

	// inFlight holds epoch+1 of the running tick, or 0 when none runs.
	inFlight atomic.Uint64
	ok       atomic.Int64
	failed   atomic.Int64
	skipped  atomic.Int64
	discard  atomic.Int64

	mu       sync.Mutex
	messages []domain.Message
	version  uint64
	syncedAt time.Time
	lastErr  error
	// epoch changes on Start and Stop; ticks launched in an older epoch are discarded.
	epoch   uint64
	running bool
	cancel  context.CancelFunc
	baseCtx context.Context
	done    chan struct{}
	subs    map[chan Snapshot]struct{}
}

// New creates a synchronizer for one conversation.
func New(lister Lister, conversationID int64, interval time.Duration, logger zerolog.Logger) *Synchronizer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Synchronizer{
		lister:         lister,
		conversationID: conversationID,
		interval:       interval,
		logger:         logger.With().Int64("conversation_id", conversationID).Logger(),
		subs:           make(map[chan Snapshot]struct{}),
	}
}

// Start ticks once immediately and then every interval until Stop or ctx ends.
// A tick left over from before a Stop does not delay the first new tick.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.epoch++
	s.cancel = cancel
	s.baseCtx = context.WithoutCancel(loopCtx)
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.loop(loopCtx, done)
	return nil
}

// Stop cancels the timer. A tick already in flight is allowed to finish but
// its result is dropped.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.epoch++
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Trigger asks for an early tick. It is skipped if one is in flight and
// ignored when the synchronizer is not running.
func (s *Synchronizer) Trigger() {
	s.mu.Lock()
	running, epoch, ctx := s.running, s.epoch, s.baseCtx
	s.mu.Unlock()
	if running {
		s.launch(ctx, epoch)
	}
}

// Tick runs one synchronous tick, for callers that drive the mirror
// themselves. It returns ErrTickInFlight when another tick is running.
func (s *Synchronizer) Tick(ctx context.Context) error {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	if !s.acquire(epoch) {
		s.countSkip()
		return ErrTickInFlight
	}
	defer s.release(epoch)
	return s.run(ctx, epoch)
}

// acquire claims the in-flight slot for epoch. A tick from an older epoch
// does not block it; one from the same or a newer epoch does.
func (s *Synchronizer) acquire(epoch uint64) bool {
	mark := epoch + 1
	for {
		cur := s.inFlight.Load()
		if cur >= mark {
			return false
		}
		if s.inFlight.CompareAndSwap(cur, mark) {
			return true
		}
	}
}

// release frees the slot unless a newer epoch has taken it over.
func (s *Synchronizer) release(epoch uint64) {
	s.inFlight.CompareAndSwap(epoch+1, 0)
}

func (s *Synchronizer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.mu.Lock()
	epoch, base := s.epoch, s.baseCtx
	s.mu.Unlock()

	s.launch(base, epoch)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.launch(base, epoch)
		}
	}
}

func (s *Synchronizer) launch(ctx context.Context, epoch uint64) {
	if !s.acquire(epoch) {
		s.countSkip()
		return
	}
	go func() {
		defer s.release(epoch)
		_ = s.run(ctx, epoch)
	}()
}

func (s *Synchronizer) countSkip() {
	s.skipped.Add(1)
	metrics.SyncTicks.WithLabelValues("skipped").Inc()
}

func (s *Synchronizer) run(ctx context.Context, epoch uint64) error {
	messages, err := s.lister.ListMessages(ctx, s.conversationID)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.discard.Add(1)
		metrics.SyncTicks.WithLabelValues("discarded").Inc()
		return nil
	}
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		s.failed.Add(1)
		metrics.SyncTicks.WithLabelValues("failed").Inc()
		s.logger.Warn().Err(err).Msg("sync tick failed")
		return err
	}

	mirror := make([]domain.Message, len(messages))
	copy(mirror, messages)
	domain.SortMessages(mirror)
	s.messages = mirror
	s.version++
	s.syncedAt = time.Now()
	s.lastErr = nil
	snap := s.snapshotLocked()
	for ch := range s.subs {
		publish(ch, snap)
	}
	s.mu.Unlock()

	s.ok.Add(1)
	metrics.SyncTicks.WithLabelValues("ok").Inc()
	return nil
}

// publish replaces any undelivered snapshot with snap.
func publish(ch chan Snapshot, snap Snapshot) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// Snapshot returns a copy of the current mirror.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	msgs := make([]domain.Message, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{
		ConversationID: s.conversationID,
		Messages:       msgs,
		Version:        s.version,
		SyncedAt:       s.syncedAt,
		LastErr:        s.lastErr,
	}
}

// Subscribe returns a channel receiving the latest snapshot after each
// replacement. Slow readers only see the newest one. The returned func
// unsubscribes and closes the channel.
func (s *Synchronizer) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Stats returns tick counters.
func (s *Synchronizer) Stats() Stats {
	return Stats{
		OK:        s.ok.Load(),
		Failed:    s.failed.Load(),
		Skipped:   s.skipped.Load(),
		Discarded: s.discard.Load(),
	}
}

// ConversationID returns the mirrored conversation.
func (s *Synchronizer) ConversationID() int64 {
	return s.conversationID
}
