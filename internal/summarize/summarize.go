// Package summarize turns transcript text into a SummaryResult, either through a
// remote text-generation provider or an offline first-sentences digest.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"meetsum/internal/apperr"
	"meetsum/internal/config"
	"meetsum/internal/models"
)

// Request is one summarization call. Instruction is empty for a plain summary
// and carries the user's wording for chat-refine.
type Request struct {
	Text        string `json:"text"`
	Instruction string `json:"instruction,omitempty"`

	// OnDelta, when set, receives the reply as it streams in.
	OnDelta func(delta string) error `json:"-"`
}

// Reply is what a provider answered. Parsed is nil when Raw was not the
// structured JSON the prompt asked for.
type Reply struct {
	Raw    string
	Parsed *models.SummaryResult
}

// Result returns the structured summary, falling back to the raw text.
func (r Reply) Result() models.SummaryResult {
	if r.Parsed != nil {
		out := r.Parsed.Clone()
		out.Normalize()
		return out
	}
	return models.NewSummary(strings.TrimSpace(r.Raw))
}

// ErrMissingText rejects blank input before any provider is contacted.
var ErrMissingText = fmt.Errorf("%w: Missing text", apperr.ErrInvalidInput)

type Summarizer interface {
	Summarize(ctx context.Context, req Request) (Reply, error)
	Name() string
}

func validate(req Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrMissingText
	}
	return nil
}

// New returns the provider configured in cfg, or the offline summarizer when
// no API key is set.
func New(ctx context.Context, cfg config.SummarizationConfig, client *http.Client, logger *slog.Logger) (Summarizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		logger.Info("no summarization credential configured, using local summary")
		return NewLocal(), nil
	}
	switch cfg.Provider {
	case config.ProviderHuggingFace:
		return NewHuggingFace(cfg, client, logger), nil
	case config.ProviderOpenAI, config.ProviderClaude, config.ProviderGemini, "":
		gen, err := newChatModel(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init %s chat model: %w", cfg.Provider, err)
		}
		return NewChat(cfg.Provider+":"+modelName(cfg), gen, cfg.MaxTokens, logger), nil
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
}
