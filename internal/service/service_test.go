package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/clinichat/internal/adapter/audiostore"
	"github.com/xiaot623/clinichat/internal/adapter/llm"
	"github.com/xiaot623/clinichat/internal/config"
	"github.com/xiaot623/clinichat/internal/domain"
	"github.com/xiaot623/clinichat/internal/summarize"
	"github.com/xiaot623/clinichat/internal/testutil"
	"github.com/xiaot623/clinichat/policy"
)

type recordingNotifier struct {
	mu      sync.Mutex
	reasons []domain.ChangeReason
}

func (n *recordingNotifier) NotifyChanged(conversationID, messageID int64, reason domain.ChangeReason) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reasons = append(n.reasons, reason)
}

func (n *recordingNotifier) Reasons() []domain.ChangeReason {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.ChangeReason(nil), n.reasons...)
}

type stubTranslator struct {
	err   error
	calls []string
}

func (t *stubTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	t.calls = append(t.calls, sourceLang+"->"+targetLang)
	if t.err != nil {
		return "", t.err
	}
	return "translated: " + text, nil
}

type testEnv struct {
	svc        *Service
	notifier   *recordingNotifier
	translator *stubTranslator
	audioDir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db := testutil.NewTestSQLiteStore(t)
	audioDir := t.TempDir()
	audio, err := audiostore.New(audioDir, 1024)
	require.NoError(t, err)
	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	translator := &stubTranslator{}
	cfg := &config.Config{TranslationMaxAttempts: 2, LLMTimeout: time.Second, TranslationSweepInterval: 10 * time.Millisecond}
	summarizer := summarize.NewLLMSummarizer(llm.NewMockClient(), "mock")

	svc := New(db, audio, translator, summarizer, engine, notifier, cfg, zerolog.Nop())
	return &testEnv{svc: svc, notifier: notifier, translator: translator, audioDir: audioDir}
}

func (e *testEnv) conversation(t *testing.T) *domain.Conversation {
	t.Helper()
	conv, err := e.svc.CreateConversation(context.Background(), domain.CreateConversationRequest{
		DoctorLanguage:  "English",
		PatientLanguage: "Spanish",
	})
	require.NoError(t, err)
	return conv
}

func TestCreateMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.conversation(t)

	_, err := env.svc.CreateMessage(ctx, domain.CreateMessageRequest{ConversationID: conv.ID, SenderRole: "nurse", OriginalContent: domain.StringPtr("hi")})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = env.svc.CreateMessage(ctx, domain.CreateMessageRequest{ConversationID: 999, SenderRole: domain.SenderRoleDoctor, OriginalContent: domain.StringPtr("hi")})
	assert.ErrorIs(t, err, ErrConversationNotFound)

	msg, err := env.svc.CreateMessage(ctx, domain.CreateMessageRequest{ConversationID: conv.ID, SenderRole: domain.SenderRoleDoctor, OriginalContent: domain.StringPtr("How are you feeling?")})
	require.NoError(t, err)
	assert.Nil(t, msg.TranslatedContent)
	assert.Equal(t, []domain.ChangeReason{domain.ChangeReasonMessageCreated}, env.notifier.Reasons())
}

func TestCreateConversationRequiresLanguages(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.CreateConversation(context.Background(), domain.CreateConversationRequest{DoctorLanguage: "English"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSearchMessagesRejectsBlankQuery(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.SearchMessages(context.Background(), "  ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSweepTranslationsFillsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.conversation(t)

	doctorMsg, err := env.svc.CreateMessage(ctx, domain.CreateMessageRequest{ConversationID: conv.ID, SenderRole: domain.SenderRoleDoctor, OriginalContent: domain.StringPtr("Take rest")})
	require.NoError(t, err)
	_, err = env.svc.CreateMessage(ctx, domain.CreateMessageRequest{ConversationID: conv.ID, SenderRole: domain.SenderRolePatient, OriginalContent: domain.StringPtr("Gracias")})
	require.NoError(t, err)
	_, err = env.svc.CreateMessage(ctx, domain.CreateMessageRequest{ConversationID: conv.ID, SenderRole: domain.SenderRolePatient, OriginalContent: domain.StringPtr(domain.AudioPlaceholder)})
	require.NoError(t, err)

	assert.Equal(t, 2, env.svc.SweepTranslations(ctx))
	assert.Equal(t, []string{"English->Spanish", "Spanish->English"}, env.translator.calls)
	assert.Equal(t, 0, env.svc.SweepTranslations(ctx))

	messages, err := env.svc.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, doctorMsg.ID, messages[0].ID)
	assert.Equal(t, "translated: Take rest", domain.Deref(messages[0].TranslatedContent))
	assert.Nil(t, messages[2].TranslatedContent)

	reasons := env.notifier.Reasons()
	assert.Equal(t, domain.ChangeReasonTranslationFilled, reasons[len(reasons)-1])
}

func TestSweepTranslationsGivesUpAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.conversation(t)
	env.translator.err = errors.New("translator down")

	_, err := env.svc.CreateMessage(ctx, domain.CreateMessageRequest{ConversationID: conv.ID, SenderRole: domain.SenderRoleDoctor, OriginalContent: domain.StringPtr("Hello")})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		assert.Equal(t, 0, env.svc.SweepTranslations(ctx))
	}
	assert.Len(t, env.translator.calls, 2)

	messages, err := env.svc.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, messages[0].TranslatedContent)
}

func TestRunTranslationWorkerStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	conv := env.conversation(t)
	_, err := env.svc.CreateMessage(ctx, domain.CreateMessageRequest{ConversationID: conv.ID, SenderRole: domain.SenderRoleDoctor, OriginalContent: domain.StringPtr("Hello")})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		env.svc.RunTranslationWorker(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		messages, err := env.svc.ListMessages(context.Background(), conv.ID)
		return err == nil && messages[0].TranslatedContent != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop")
	}
}

func TestAttachAudio(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.conversation(t)

	msg, err := env.svc.CreateMessage(ctx, domain.CreateMessageRequest{ConversationID: conv.ID, SenderRole: domain.SenderRolePatient, OriginalContent: domain.StringPtr(domain.AudioPlaceholder)})
	require.NoError(t, err)

	upload := func(data string) (*domain.AttachAudioResponse, error) {
		return env.svc.AttachAudio(ctx, AudioUpload{
			MessageID: msg.ID,
			Filename:  "voice.webm",
			Size:      int64(len(data)),
			Body:      bytes.NewReader([]byte(data)),
		})
	}

	resp, err := upload("clip")
	require.NoError(t, err)
	assert.Contains(t, resp.AudioURL, audiostore.URLPrefix)

	_, err = upload("again")
	assert.ErrorIs(t, err, ErrAudioAlreadyAttached)

	entries, err := os.ReadDir(env.audioDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(resp.AudioURL), entries[0].Name())

	got, err := env.svc.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.AudioURL, domain.Deref(got[0].AudioPath))
}

func TestAttachAudioRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.conversation(t)

	_, err := env.svc.AttachAudio(ctx, AudioUpload{MessageID: 42, Filename: "a.webm", Size: 1, Body: bytes.NewReader([]byte("x"))})
	assert.ErrorIs(t, err, ErrMessageNotFound)

	msg, err := env.svc.CreateMessage(ctx, domain.CreateMessageRequest{ConversationID: conv.ID, SenderRole: domain.SenderRoleDoctor, OriginalContent: domain.StringPtr(domain.AudioPlaceholder)})
	require.NoError(t, err)

	_, err = env.svc.AttachAudio(ctx, AudioUpload{MessageID: msg.ID, Filename: "a.exe", Size: 1, Body: bytes.NewReader([]byte("x"))})
	assert.ErrorIs(t, err, ErrUploadRejected)

	big := bytes.Repeat([]byte("x"), 2048)
	_, err = env.svc.AttachAudio(ctx, AudioUpload{MessageID: msg.ID, Filename: "a.webm", Size: int64(len(big)), Body: bytes.NewReader(big)})
	assert.ErrorIs(t, err, ErrUploadRejected)

	// A lying size header is still caught while writing.
	_, err = env.svc.AttachAudio(ctx, AudioUpload{MessageID: msg.ID, Filename: "a.webm", Size: 10, Body: bytes.NewReader(big)})
	assert.ErrorIs(t, err, ErrUploadRejected)

	entries, err := os.ReadDir(env.audioDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerateSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.GenerateSummary(ctx, 999)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	conv := env.conversation(t)
	_, err = env.svc.GenerateSummary(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNoMessages)

	_, err = env.svc.CreateMessage(ctx, domain.CreateMessageRequest{ConversationID: conv.ID, SenderRole: domain.SenderRolePatient, OriginalContent: domain.StringPtr("I have a headache")})
	require.NoError(t, err)

	summary, err := env.svc.GenerateSummary(ctx, conv.ID)
	require.NoError(t, err)
	assert.NotZero(t, summary.ID)
	assert.Contains(t, summary.SummaryText, "Patient said: I have a headache")
}

func TestGenerateSummaryUnavailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	failing := llm.NewMockClient()
	failing.Err = errors.New("model offline")
	env.svc.summarizer = summarize.NewLLMSummarizer(failing, "mock")

	conv := env.conversation(t)
	_, err := env.svc.CreateMessage(ctx, domain.CreateMessageRequest{ConversationID: conv.ID, SenderRole: domain.SenderRoleDoctor, OriginalContent: domain.StringPtr("Rest")})
	require.NoError(t, err)

	_, err = env.svc.GenerateSummary(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrSummaryUnavailable)
}
