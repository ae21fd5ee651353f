package highlight

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/clinichat/internal/domain"
)

func TestFindSubstring(t *testing.T) {
	spans := Find("head", "I have a headache. HEAD hurts.")
	assert.Equal(t, []Span{{9, 13}, {19, 23}}, spans)
}

func TestFindIsLiteral(t *testing.T) {
	assert.Equal(t, []Span{{4, 7}}, Find("a.b", "xxx a.b"))
	assert.Empty(t, Find("a.b", "axb"))
	assert.Equal(t, []Span{{0, 3}}, Find("50%", "50% better"))
	assert.Equal(t, []Span{{2, 5}}, Find("(1)", "x (1)"))
}

func TestBlankQueryHasNoSpans(t *testing.T) {
	assert.Nil(t, Find("", "anything"))
	assert.Nil(t, Find("   ", "a   b"))
}

func TestResolveKeepsEveryMessage(t *testing.T) {
	messages := []domain.Message{
		{ID: 1, OriginalContent: domain.StringPtr("Headache since Monday"), TranslatedContent: domain.StringPtr("Dolor de cabeza")},
		{ID: 2, OriginalContent: domain.StringPtr("No fever")},
		{ID: 3, OriginalContent: domain.StringPtr(domain.AudioPlaceholder)},
	}

	results := Resolve("head", messages)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	assert.Equal(t, []Span{{0, 4}}, results[0].Original)
	assert.Empty(t, results[0].Translated)
	assert.True(t, results[0].Matched())
	assert.False(t, results[1].Matched())
	assert.Equal(t, int64(3), results[2].Message.ID)

	assert.Equal(t, results, Resolve("head", messages))
}

func TestSegmentsAndMark(t *testing.T) {
	text := "headache and head"
	spans := Find("head", text)

	assert.Equal(t, []Segment{
		{Text: "head", Match: true},
		{Text: "ache and "},
		{Text: "head", Match: true},
	}, Segments(text, spans))
	assert.Equal(t, "[head]ache and [head]", Mark(text, spans, "[", "]"))
	assert.Equal(t, "plain", Mark("plain", nil, "[", "]"))
	assert.Nil(t, Segments("", nil))
}
