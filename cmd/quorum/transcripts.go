package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quorum/internal/jsonx"
	"quorum/internal/transcript"
)

func newTranscriptsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcripts",
		Short: "Manage stored deliberation transcripts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored transcripts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(v)
			if err != nil {
				return err
			}
			all, err := store.LoadAll()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(all) == 0 {
				fmt.Fprintln(out, gray("no transcripts yet"))
				return nil
			}
			for _, t := range all {
				fmt.Fprintf(out, "%s  %s  %s\n",
					cyan(t.ID),
					gray(t.CreatedAt.Format("2006-01-02 15:04")),
					firstLine(t.Question))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <transcript-id>",
		Short: "Print one transcript's snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(v)
			if err != nil {
				return err
			}
			t, err := store.Get(args[0])
			if err != nil {
				return err
			}
			data, err := jsonx.MarshalIndent(t, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <transcript-id>",
		Short: "Delete a transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(v)
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func openStore(v *viper.Viper) (*transcript.Store, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	return transcript.NewStore(cfg.TranscriptDir)
}
