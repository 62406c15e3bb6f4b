package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"

	"meetsum/internal/apperr"
	"meetsum/internal/config"
	"meetsum/internal/models"
)

const maxErrorBody = 4 << 10

// Remote posts media to an OpenAI-compatible /audio/transcriptions endpoint.
type Remote struct {
	cfg    config.ProviderConfig
	client *http.Client
	logger *slog.Logger
}

type transcriptionResponse struct {
	Text     *string `json:"text"`
	Language string  `json:"language,omitempty"`
}

func NewRemote(cfg config.ProviderConfig, client *http.Client, logger *slog.Logger) *Remote {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{cfg: cfg, client: client, logger: logger.With("component", "transcribe.Remote")}
}

func (r *Remote) Name() string {
	return "remote:" + r.cfg.Model
}

func (r *Remote) Transcribe(ctx context.Context, file *models.UploadedFile) (string, error) {
	if file == nil || file.Path == "" {
		return "", fmt.Errorf("%w: no media file", apperr.ErrInvalidInput)
	}
	body, contentType, err := r.buildBody(file)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrTranscriptionFailed, err)
	}

	endpoint := strings.TrimRight(r.cfg.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		body.Close()
		return "", apperr.Wrap(apperr.ErrTranscriptionFailed, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	r.logger.Info("sending media for transcription", "file", file.Name, "size", file.Size)
	resp, err := r.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrTranscriptionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("%w: remote returned %s: %s", apperr.ErrTranscriptionFailed, resp.Status, strings.TrimSpace(string(detail)))
	}
	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", apperr.ErrTranscriptionFailed, err)
	}
	if out.Text == nil {
		return "", fmt.Errorf("%w: response has no text field", apperr.ErrTranscriptionFailed)
	}
	text := strings.TrimSpace(*out.Text)
	if text == "" {
		return "", fmt.Errorf("%w: response has empty text", apperr.ErrTranscriptionFailed)
	}
	return text, nil
}

// buildBody streams the multipart form through a pipe so large recordings are
// never held in memory. The writer goroutine ends when the transport closes
// the body, on success or failure.
func (r *Remote) buildBody(file *models.UploadedFile) (io.ReadCloser, string, error) {
	src, err := os.Open(file.Path)
	if err != nil {
		return nil, "", fmt.Errorf("open media: %w", err)
	}
	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)
	go func() {
		defer src.Close()
		pw.CloseWithError(r.writeForm(w, file, src))
	}()
	return pr, w.FormDataContentType(), nil
}

func (r *Remote) writeForm(w *multipart.Writer, file *models.UploadedFile, src io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	h.Set("Content-Type", file.MediaType)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copy media: %w", err)
	}
	fields := [][2]string{{"model", r.cfg.Model}, {"response_format", "json"}}
	if r.cfg.Language != "" {
		fields = append(fields, [2]string{"language", r.cfg.Language})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	return w.Close()
}
