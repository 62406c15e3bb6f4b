package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"meetsum/internal/apperr"
	"meetsum/internal/config"
	"meetsum/internal/models"
)

// CLI shells out to an openai-whisper compatible command and reads the .txt it writes.
type CLI struct {
	cfg    config.WhisperCLI
	exec   Executor
	logger *slog.Logger
}

func NewCLI(cfg config.WhisperCLI, exec Executor, logger *slog.Logger) *CLI {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLI{cfg: cfg, exec: exec, logger: logger.With("component", "transcribe.CLI")}
}

func (c *CLI) Name() string {
	return "cli:" + filepath.Base(c.cfg.BinaryPath)
}

// Transcribe writes its output next to the upload so the relay's cleanup removes it too.
func (c *CLI) Transcribe(ctx context.Context, file *models.UploadedFile) (string, error) {
	if file == nil || file.Path == "" {
		return "", fmt.Errorf("%w: no media file", apperr.ErrInvalidInput)
	}
	outDir := filepath.Dir(file.Path)
	outPath := OutputPath(file.Path, outDir)
	if outPath == file.Path {
		return "", fmt.Errorf("%w: media file must not use a .txt extension", apperr.ErrInvalidInput)
	}
	args := []string{
		file.Path,
		"--model", c.cfg.Model,
		"--language", c.cfg.Language,
		"--output_format", "txt",
		"--output_dir", outDir,
	}
	args = append(args, c.cfg.ExtraArgs...)

	c.logger.Info("starting transcription", "file", file.Name, "model", c.cfg.Model)
	if _, err := c.exec.Execute(ctx, c.cfg.BinaryPath, args...); err != nil {
		return "", apperr.Wrap(apperr.ErrTranscriptionFailed, err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: expected output %s was not produced", apperr.ErrTranscriptionFailed, filepath.Base(outPath))
		}
		return "", apperr.Wrap(apperr.ErrTranscriptionFailed, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("%w: %s is empty", apperr.ErrTranscriptionFailed, filepath.Base(outPath))
	}
	c.logger.Info("transcription completed", "file", file.Name, "chars", len(text))
	return text, nil
}

// OutputPath is where whisper puts the txt transcript for input.
func OutputPath(input, outDir string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(outDir, base+".txt")
}
