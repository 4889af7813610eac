package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quorum/internal/client"
	"quorum/internal/logging"
	"quorum/internal/pipeline"
	"quorum/internal/transcript"
)

func newAskCmd(v *viper.Viper) *cobra.Command {
	var (
		verbose bool
		noSave  bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Submit a question and stream the deliberation live",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("question is empty")
			}

			logger := logging.NewComponentLogger("Ask")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			backend := client.New(cfg.ServerURL, cfg.APIKey, cfg.RequestTimeout, logger)
			body, err := backend.StreamQuery(ctx, question)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", blue("?"), bold(question))

			renderer := NewRenderer(out, verbose)
			controller := pipeline.NewController(logger)
			run, err := controller.Stream(ctx, body, renderer)
			if err != nil {
				return fmt.Errorf("stream failed: %w", err)
			}

			cancelled := ctx.Err() != nil
			renderer.Summary(run, cancelled)

			if run.IsComplete() && !noSave {
				store, err := transcript.NewStore(cfg.TranscriptDir)
				if err != nil {
					return err
				}
				t := &transcript.Transcript{
					Question: question,
					Snapshot: transcript.Serialize(run),
				}
				if err := store.Save(t); err != nil {
					return fmt.Errorf("save transcript: %w", err)
				}
				fmt.Fprintf(out, "%s\n", gray("transcript saved: "+t.ID))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "stream raw agent text instead of status lines")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not persist the transcript")
	return cmd
}
