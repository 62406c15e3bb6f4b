// Package transcribe turns uploaded media into transcript text.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"meetsum/internal/config"
	"meetsum/internal/models"
)

// Transcriber converts one uploaded media file into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, file *models.UploadedFile) (string, error)
	Name() string
}

// New picks the backend named in cfg.
func New(cfg config.TranscriptionConfig, exec Executor, client *http.Client, logger *slog.Logger) (Transcriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case config.BackendCLI, "":
		if exec == nil {
			exec = NewExecutor()
		}
		return NewCLI(cfg.CLI, exec, logger), nil
	case config.BackendRemote:
		return NewRemote(cfg.Remote, client, logger), nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
	}
}
