package summarize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"meetsum/internal/apperr"
	"meetsum/internal/config"
)

var defaultModels = map[string]string{
	config.ProviderOpenAI:      "gpt-4o-mini",
	config.ProviderClaude:      "claude-3-5-haiku-latest",
	config.ProviderGemini:      "gemini-2.0-flash",
	config.ProviderHuggingFace: "facebook/bart-large-cnn",
}

func modelName(cfg config.SummarizationConfig) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderOpenAI
	}
	return defaultModels[provider]
}

// generator is the slice of an eino chat model the summarizer uses.
type generator interface {
	Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error)
}

func newChatModel(ctx context.Context, cfg config.SummarizationConfig) (generator, error) {
	name := modelName(cfg)
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   name,
			APIKey:  cfg.APIKey,
		})
	case config.ProviderGemini:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  name,
		})
	case config.ProviderClaude:
		var baseURL *string
		if cfg.BaseURL != "" {
			baseURL = &cfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     name,
			BaseURL:   baseURL,
			MaxTokens: cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
}

// Chat summarizes through an eino chat model and asks it for JSON.
type Chat struct {
	name      string
	model     generator
	maxTokens int
	logger    *slog.Logger
}

func NewChat(name string, gen generator, maxTokens int, logger *slog.Logger) *Chat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chat{name: name, model: gen, maxTokens: maxTokens, logger: logger.With("component", "summarize.Chat")}
}

func (c *Chat) Name() string { return c.name }

func (c *Chat) Summarize(ctx context.Context, req Request) (Reply, error) {
	if err := validate(req); err != nil {
		return Reply{}, err
	}
	var opts []model.Option
	if c.maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(c.maxTokens))
	}

	stream, err := c.model.Stream(ctx, buildMessages(req), opts...)
	if err != nil {
		return Reply{}, apperr.Wrap(apperr.ErrSummarizationFailed, fmt.Errorf("generate stream: %w", err))
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Reply{}, apperr.Wrap(apperr.ErrSummarizationFailed, err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if req.OnDelta != nil {
			if err := req.OnDelta(chunk.Content); err != nil {
				return Reply{}, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, apperr.Wrap(apperr.ErrSummarizationFailed, err)
	}

	raw := strings.TrimSpace(full.String())
	if raw == "" {
		return Reply{}, fmt.Errorf("%w: empty model reply", apperr.ErrSummarizationFailed)
	}
	reply := Reply{Raw: raw, Parsed: ParseReply(raw)}
	if reply.Parsed == nil {
		c.logger.Warn("model reply was not structured JSON, using raw text", "chars", len(raw))
	}
	return reply, nil
}
