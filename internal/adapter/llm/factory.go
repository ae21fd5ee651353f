package llm

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	// EnvMode is the environment variable name for mode selection.
	EnvMode = "CLINICHAT_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewLLMClient creates an LLM client based on the CLINICHAT_MODE environment variable.
// If CLINICHAT_MODE=MOCK, or no API key is configured, returns a MockClient;
// otherwise returns a real Client.
func NewLLMClient(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) LLMClient {
	if os.Getenv(EnvMode) == ModeMock {
		logger.Info().Msg("CLINICHAT_MODE=MOCK detected, using mock LLM client")
		return NewMockClient()
	}
	if apiKey == "" {
		logger.Warn().Msg("LLM_API_KEY not set, using mock LLM client")
		return NewMockClient()
	}

	return NewClient(baseURL, apiKey, timeout)
}
