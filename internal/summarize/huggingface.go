package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"meetsum/internal/apperr"
	"meetsum/internal/config"
	"meetsum/internal/models"
)

const (
	defaultHFBaseURL = "https://api-inference.huggingface.co/models"
	noSummary        = "No summary generated"
)

// HuggingFace calls a hosted summarization pipeline such as BART. The model
// returns prose only, so decisions and action items stay empty.
type HuggingFace struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	logger   *slog.Logger
}

func NewHuggingFace(cfg config.SummarizationConfig, client *http.Client, logger *slog.Logger) *HuggingFace {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultHFBaseURL
	}
	name := modelName(cfg)
	return &HuggingFace{
		endpoint: base + "/" + name,
		apiKey:   cfg.APIKey,
		model:    name,
		client:   client,
		logger:   logger.With("component", "summarize.HuggingFace"),
	}
}

func (h *HuggingFace) Name() string { return config.ProviderHuggingFace + ":" + h.model }

func (h *HuggingFace) Summarize(ctx context.Context, req Request) (Reply, error) {
	if err := validate(req); err != nil {
		return Reply{}, err
	}
	payload, err := json.Marshal(map[string]string{"inputs": req.Text})
	if err != nil {
		return Reply{}, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, apperr.Wrap(apperr.ErrSummarizationFailed, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Reply{}, apperr.Wrap(apperr.ErrSummarizationFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Reply{}, apperr.Wrap(apperr.ErrSummarizationFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Reply{}, fmt.Errorf("%w: Hugging Face API error: %s", apperr.ErrSummarizationFailed, strings.TrimSpace(string(body)))
	}

	var out []struct {
		SummaryText string `json:"summary_text"`
	}
	text := noSummary
	if err := json.Unmarshal(body, &out); err != nil {
		h.logger.Warn("unexpected response shape", "err", err)
	} else if len(out) > 0 && strings.TrimSpace(out[0].SummaryText) != "" {
		text = strings.TrimSpace(out[0].SummaryText)
	}
	if req.OnDelta != nil {
		if err := req.OnDelta(text); err != nil {
			return Reply{}, err
		}
	}
	result := models.NewSummary(text)
	return Reply{Raw: text, Parsed: &result}, nil
}
