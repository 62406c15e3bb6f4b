// Package cli holds the meetsum command tree: the HTTP server and one-shot
// transcribe/summarize commands that share its configuration.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"meetsum/internal/config"
	"meetsum/internal/logging"
	"meetsum/internal/summarize"
	"meetsum/internal/transcribe"
	"meetsum/internal/upload"
)

// runtime carries the process dependencies commands build their adapters
// from. Tests replace the executor and HTTP client.
type runtime struct {
	configPath string
	exec       transcribe.Executor
	httpClient *http.Client
}

// Execute runs the root command against os.Args.
func Execute() error {
	return newRootCommand(&runtime{}).Execute()
}

func newRootCommand(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:   "meetsum",
		Short: "Meeting transcription and summarization backend",
		Long: `meetsum turns meeting recordings into transcripts and structured summaries.

Commands:
  serve       - run the HTTP API
  transcribe  - transcribe one media file to stdout
  summarize   - summarize one transcript file to stdout`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&rt.configPath, "config", os.Getenv("MEETSUM_CONFIG"), "config file (.json, .yaml or .toml)")
	root.AddCommand(
		newServeCommand(rt),
		newTranscribeCommand(rt),
		newSummarizeCommand(rt),
	)
	return root
}

func (rt *runtime) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cmd.ErrOrStderr(), cfg.BasicConfig.LogLevel, cfg.BasicConfig.LogFormat)
	return cfg, logger, nil
}

func (rt *runtime) client() *http.Client {
	if rt.httpClient != nil {
		return rt.httpClient
	}
	return http.DefaultClient
}

func (rt *runtime) relay(cfg *config.Config, logger *slog.Logger) (*upload.Relay, error) {
	return upload.NewRelay(cfg.BasicConfig.UploadDir, cfg.BasicConfig.MaxUploadMB<<20, logger)
}

func (rt *runtime) transcriber(cfg *config.Config, logger *slog.Logger) (transcribe.Transcriber, error) {
	return transcribe.New(cfg.Transcription, rt.exec, rt.client(), logger)
}

func (rt *runtime) summarizer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (summarize.Summarizer, error) {
	return summarize.New(ctx, cfg.Summarization, rt.client(), logger)
}
