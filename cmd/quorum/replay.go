package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quorum/internal/logging"
	"quorum/internal/normalize"
	"quorum/internal/pipeline"
	"quorum/internal/transcript"
)

func newReplayCmd(v *viper.Viper) *cobra.Command {
	var renormalize bool

	cmd := &cobra.Command{
		Use:   "replay <transcript-id>",
		Short: "Replay a stored transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			store, err := transcript.NewStore(cfg.TranscriptDir)
			if err != nil {
				return err
			}
			t, err := store.Get(args[0])
			if err != nil {
				return err
			}

			snap := t.Snapshot
			if renormalize {
				snap = renormalizeSnapshot(snap)
			}
			run, err := transcript.Restore(snap)
			if err != nil {
				return err
			}

			logger := logging.NewComponentLogger("Replay")
			controller := pipeline.NewController(logger)
			controller.Adopt(run)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", blue("?"), bold(t.Question))
			fmt.Fprintf(out, "%s\n", gray(t.CreatedAt.Format("2006-01-02 15:04")+" · "+t.ID))

			renderer := NewRenderer(out, false)
			renderer.RenderRun(run)
			return nil
		},
	}

	cmd.Flags().BoolVar(&renormalize, "renormalize", false, "re-derive structure from the retained raw text")
	return cmd
}

// renormalizeSnapshot rebuilds every structured output from its retained raw
// text with the current normalizer. Outputs without raw text are kept as
// stored.
func renormalizeSnapshot(snap *transcript.Snapshot) *transcript.Snapshot {
	fresh := &transcript.Snapshot{
		Step1Responses: renormalizeStage(pipeline.StageDraft, snap.Step1Responses),
		Step2Responses: renormalizeStage(pipeline.StageRefine, snap.Step2Responses),
		Step3Responses: renormalizeStage(pipeline.StageEvaluate, snap.Step3Responses),
		Step4Response:  snap.Step4Response,
		Synthesizer:    snap.Synthesizer,
		Errors:         snap.Errors,
	}
	if final := snap.Step4Response; final != nil && final.Raw != "" {
		fresh.Step4Response = normalize.Normalize(pipeline.StageSynthesize, final.Raw)
	}
	return fresh
}

func renormalizeStage(stage int, responses *pipeline.StageResponses) *pipeline.StageResponses {
	fresh := &pipeline.StageResponses{}
	for _, agent := range responses.Agents() {
		out, _ := responses.Get(agent)
		if out.Raw != "" {
			fresh.Set(agent, normalize.Normalize(stage, out.Raw))
		} else {
			fresh.Set(agent, out)
		}
	}
	return fresh
}
