package summarize

import (
	"context"
	"strings"

	"meetsum/internal/models"
)

const localSentences = 3

// Local is the offline summarizer used when no provider credential exists.
// It ignores instructions and never fails on non-empty text.
type Local struct{}

func NewLocal() *Local { return &Local{} }

func (*Local) Name() string { return "local" }

func (*Local) Summarize(ctx context.Context, req Request) (Reply, error) {
	if err := validate(req); err != nil {
		return Reply{}, err
	}
	text := FirstSentences(req.Text, localSentences)
	if req.OnDelta != nil {
		if err := req.OnDelta(text); err != nil {
			return Reply{}, err
		}
	}
	result := models.NewSummary(text)
	return Reply{Raw: text, Parsed: &result}, nil
}

// FirstSentences splits text on '.', '!' and '?', drops empty pieces and joins
// the first n back together with ". ", ending in a period.
func FirstSentences(text string, n int) string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	sentences := make([]string, 0, n)
	for _, p := range parts {
		if len(sentences) == n {
			break
		}
		if s := strings.TrimSpace(p); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return ""
	}
	return strings.Join(sentences, ". ") + "."
}
