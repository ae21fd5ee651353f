package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/clinichat/internal/adapter/audiostore"
	"github.com/xiaot623/clinichat/internal/adapter/llm"
	"github.com/xiaot623/clinichat/internal/config"
	"github.com/xiaot623/clinichat/internal/domain"
	"github.com/xiaot623/clinichat/internal/service"
	"github.com/xiaot623/clinichat/internal/summarize"
	"github.com/xiaot623/clinichat/internal/testutil"
	"github.com/xiaot623/clinichat/internal/translate"
	"github.com/xiaot623/clinichat/policy"
)

func newTestHandler(t *testing.T) (*Handler, *llm.MockClient) {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{TranslationMaxAttempts: 3, LLMTimeout: time.Second}
	db := testutil.NewTestSQLiteStore(t)
	audio, err := audiostore.New(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("audiostore.New failed: %v", err)
	}
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	mock := llm.NewMockClient()
	svc := service.New(db, audio,
		translate.NewLLMTranslator(mock, "mock"),
		summarize.NewLLMSummarizer(mock, "mock"),
		policyEngine, nil, cfg, zerolog.Nop())
	return NewHandler(svc, func() int { return 0 }, zerolog.Nop()), mock
}

func doJSON(t *testing.T, handler echo.HandlerFunc, method, target, body string, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp domain.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Detail
}

func createConversation(t *testing.T, h *Handler) domain.Conversation {
	t.Helper()
	rec := doJSON(t, h.CreateConversation, http.MethodPost, "/v1/conversations", `{"doctor_language":"English","patient_language":"Spanish"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var conv domain.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	return conv
}

func createMessage(t *testing.T, h *Handler, convID int64, role, content string) domain.Message {
	t.Helper()
	body := `{"conversation_id":` + strconv.FormatInt(convID, 10) + `,"sender_role":"` + role + `","original_content":` + strconv.Quote(content) + `}`
	rec := doJSON(t, h.CreateMessage, http.MethodPost, "/v1/messages", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var msg domain.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func TestCreateConversationValidation(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doJSON(t, h.CreateConversation, http.MethodPost, "/v1/conversations", `{"doctor_language":"English"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doJSON(t, h.GetConversation, http.MethodGet, "/v1/conversations/5", "", "conversation_id", "5")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if decodeDetail(t, rec) != "conversation not found" {
		t.Fatalf("unexpected detail: %s", rec.Body.String())
	}

	rec = doJSON(t, h.GetConversation, http.MethodGet, "/v1/conversations/abc", "", "conversation_id", "abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateMessageAndList(t *testing.T) {
	h, _ := newTestHandler(t)
	conv := createConversation(t, h)

	msg := createMessage(t, h, conv.ID, "doctor", "How are you feeling?")
	if msg.TranslatedContent != nil {
		t.Fatalf("expected null translation, got %v", *msg.TranslatedContent)
	}

	id := strconv.FormatInt(conv.ID, 10)
	rec := doJSON(t, h.ListMessages, http.MethodGet, "/v1/conversations/"+id+"/messages", "", "conversation_id", id)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var messages []domain.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &messages); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != msg.ID {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestCreateMessageErrors(t *testing.T) {
	h, _ := newTestHandler(t)
	conv := createConversation(t, h)
	id := strconv.FormatInt(conv.ID, 10)

	rec := doJSON(t, h.CreateMessage, http.MethodPost, "/v1/messages", `{"conversation_id":`+id+`,"sender_role":"nurse","original_content":"hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad role, got %d", rec.Code)
	}

	rec = doJSON(t, h.CreateMessage, http.MethodPost, "/v1/messages", `{"conversation_id":999,"sender_role":"doctor","original_content":"hi"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown conversation, got %d", rec.Code)
	}
}

func TestSearchMessages(t *testing.T) {
	h, _ := newTestHandler(t)
	conv := createConversation(t, h)
	createMessage(t, h, conv.ID, "patient", "I have a headache")
	createMessage(t, h, conv.ID, "doctor", "Since when?")

	rec := doJSON(t, h.SearchMessages, http.MethodGet, "/v1/messages/search?q=HEAD", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var messages []domain.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &messages); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 match, got %d", len(messages))
	}

	rec = doJSON(t, h.SearchMessages, http.MethodGet, "/v1/messages/search?q=", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank query, got %d", rec.Code)
	}

	rec = doJSON(t, h.SearchMessages, http.MethodGet, "/v1/messages/search?q=x&conversation_id=nope", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad conversation_id, got %d", rec.Code)
	}
}

func uploadRequest(t *testing.T, messageID string, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if messageID != "" {
		if err := w.WriteField("message_id", messageID); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write(data)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/upload", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestUploadAudio(t *testing.T) {
	h, _ := newTestHandler(t)
	conv := createConversation(t, h)
	msg := createMessage(t, h, conv.ID, "patient", domain.AudioPlaceholder)
	msgID := strconv.FormatInt(msg.ID, 10)

	tests := []struct {
		name     string
		id       string
		filename string
		data     []byte
		status   int
	}{
		{"missing file", msgID, "", nil, http.StatusBadRequest},
		{"bad message id", "x", "a.webm", []byte("abc"), http.StatusBadRequest},
		{"unknown message", "999", "a.webm", []byte("abc"), http.StatusNotFound},
		{"blocked extension", msgID, "a.exe", []byte("abc"), http.StatusBadRequest},
		{"attached", msgID, "a.webm", []byte("abc"), http.StatusOK},
		{"already attached", msgID, "b.webm", []byte("abc"), http.StatusConflict},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(uploadRequest(t, tt.id, tt.filename, tt.data), rec)
			if err := h.UploadAudio(c); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.status == http.StatusOK {
				var resp domain.AttachAudioResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				if !strings.HasPrefix(resp.AudioURL, "/audio_storage/") {
					t.Fatalf("unexpected audio_url: %s", resp.AudioURL)
				}
			}
		})
	}
}

func TestGetSummary(t *testing.T) {
	h, mock := newTestHandler(t)
	conv := createConversation(t, h)
	id := strconv.FormatInt(conv.ID, 10)

	rec := doJSON(t, h.GetSummary, http.MethodGet, "/v1/ai/summary/"+id, "", "conversation_id", id)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without messages, got %d", rec.Code)
	}

	createMessage(t, h, conv.ID, "patient", "I feel dizzy")
	rec = doJSON(t, h.GetSummary, http.MethodGet, "/v1/ai/summary/"+id, "", "conversation_id", id)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary domain.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.ConversationID != conv.ID || !strings.Contains(summary.SummaryText, "I feel dizzy") {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	mock.Err = context.DeadlineExceeded
	rec = doJSON(t, h.GetSummary, http.MethodGet, "/v1/ai/summary/"+id, "", "conversation_id", id)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}

	rec = doJSON(t, h.GetSummary, http.MethodGet, "/v1/ai/summary/999", "", "conversation_id", "999")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doJSON(t, h.Health, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"connections":0`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
