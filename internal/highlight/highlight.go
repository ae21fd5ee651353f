// Package highlight locates search matches inside messages for display.
package highlight

import (
	"regexp"
	"strings"

	"github.com/xiaot623/clinichat/internal/domain"
)

// Span is a match at byte offsets [Start, End).
type Span struct {
	Start int
	End   int
}

// Result holds the matches for one message.
type Result struct {
	Message    domain.Message
	Original   []Span
	Translated []Span
}

// Matched reports whether any span was found.
func (r Result) Matched() bool {
	return len(r.Original) > 0 || len(r.Translated) > 0
}

// Segment is a piece of text, marked when it is a match.
type Segment struct {
	Text  string
	Match bool
}

// Compile returns a case-insensitive matcher for query taken literally,
// or nil for a blank query.
func Compile(query string) *regexp.Regexp {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	return regexp.MustCompile("(?i)" + regexp.QuoteMeta(query))
}

// Find returns the spans of query in text.
func Find(query, text string) []Span {
	return find(Compile(query), text)
}

func find(re *regexp.Regexp, text string) []Span {
	if re == nil || text == "" {
		return nil
	}
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	spans := make([]Span, len(locs))
	for i, loc := range locs {
		spans[i] = Span{Start: loc[0], End: loc[1]}
	}
	return spans
}

// Resolve computes spans for every message. It never drops a message.
func Resolve(query string, messages []domain.Message) []Result {
	re := Compile(query)
	out := make([]Result, len(messages))
	for i, m := range messages {
		out[i] = Result{
			Message:    m,
			Original:   find(re, domain.Deref(m.OriginalContent)),
			Translated: find(re, domain.Deref(m.TranslatedContent)),
		}
	}
	return out
}

// Segments splits text at the given spans. Spans must be sorted and
// non-overlapping, as Find returns them.
func Segments(text string, spans []Span) []Segment {
	if len(spans) == 0 {
		if text == "" {
			return nil
		}
		return []Segment{{Text: text}}
	}
	var out []Segment
	pos := 0
	for _, sp := range spans {
		if sp.Start < pos || sp.End > len(text) || sp.Start >= sp.End {
			continue
		}
		if sp.Start > pos {
			out = append(out, Segment{Text: text[pos:sp.Start]})
		}
		out = append(out, Segment{Text: text[sp.Start:sp.End], Match: true})
		pos = sp.End
	}
	if pos < len(text) {
		out = append(out, Segment{Text: text[pos:]})
	}
	return out
}

// Mark renders text with every match wrapped in openTag and closeTag.
func Mark(text string, spans []Span, openTag, closeTag string) string {
	var b strings.Builder
	for _, seg := range Segments(text, spans) {
		if seg.Match {
			b.WriteString(openTag)
			b.WriteString(seg.Text)
			b.WriteString(closeTag)
			continue
		}
		b.WriteString(seg.Text)
	}
	return b.String()
}
