package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"meetsum/internal/config"
	"meetsum/internal/models"
	"meetsum/internal/summarize"
	"meetsum/internal/transcribe"
)

func callContext(parent context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, time.Duration(cfg.BasicConfig.RequestTimeoutSeconds)*time.Second)
}

func newTranscribeCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <media-file>",
		Short: "Transcribe one audio or video file and print the text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rt.load(cmd)
			if err != nil {
				return err
			}
			relay, err := rt.relay(cfg, logger)
			if err != nil {
				return err
			}
			stt, err := rt.transcriber(cfg, logger)
			if err != nil {
				return fmt.Errorf("init transcriber: %w", err)
			}
			file, cleanup, err := relay.Stage(args[0], models.ClassMedia)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := callContext(cmd.Context(), cfg)
			defer cancel()
			text, err := stt.Transcribe(ctx, file)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func newSummarizeCommand(rt *runtime) *cobra.Command {
	var instruction string
	cmd := &cobra.Command{
		Use:   "summarize <transcript-file>",
		Short: "Summarize a transcript file and print the JSON result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rt.load(cmd)
			if err != nil {
				return err
			}
			text, err := transcribe.ReadTranscript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			llm, err := rt.summarizer(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("init summarizer: %w", err)
			}

			ctx, cancel := callContext(cmd.Context(), cfg)
			defer cancel()
			reply, err := llm.Summarize(ctx, summarize.Request{Text: text, Instruction: instruction})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reply.Result())
		},
	}
	cmd.Flags().StringVarP(&instruction, "instruction", "i", "", "extra instruction for the summary, e.g. \"list only action items\"")
	return cmd
}
