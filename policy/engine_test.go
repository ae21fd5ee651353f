package policy

import (
	"context"
	"strings"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func TestEvaluateUpload(t *testing.T) {
	engine := newTestEngine(t)
	const limit = 10 * 1024 * 1024

	tests := []struct {
		name       string
		input      UploadInput
		decision   string
		reasonPart string
	}{
		{"allowed", UploadInput{Size: 2048, MaxBytes: limit, Extension: ".webm"}, DecisionAllow, ""},
		{"too large", UploadInput{Size: limit + 1, MaxBytes: limit, Extension: ".wav"}, DecisionBlock, "10MB"},
		{"empty", UploadInput{Size: 0, MaxBytes: limit, Extension: ".wav"}, DecisionBlock, "empty"},
		{"bad extension", UploadInput{Size: 10, MaxBytes: limit, Extension: ".exe"}, DecisionBlock, ".exe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, reason, err := engine.EvaluateUpload(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("EvaluateUpload failed: %v", err)
			}
			if decision != tt.decision {
				t.Fatalf("expected %s, got %s (%s)", tt.decision, decision, reason)
			}
			if !strings.Contains(reason, tt.reasonPart) {
				t.Fatalf("reason %q does not mention %q", reason, tt.reasonPart)
			}
		})
	}
}

func TestNewEngineRejectsBadPolicy(t *testing.T) {
	if _, err := NewEngine(context.Background(), "package upload_policy\nresult = {"); err == nil {
		t.Fatalf("expected compile error")
	}
}
