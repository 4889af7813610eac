package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quorum/internal/config"
	"quorum/internal/logging"
)

var version = "0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()

	root := &cobra.Command{
		Use:           "quorum",
		Short:         "Ask a council of AI agents and watch them deliberate",
		Long:          "quorum submits a question to a multi-agent deliberation backend,\nstreams the four-stage process (draft, refine, evaluate, synthesize)\nlive to the terminal, and keeps replayable transcripts.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("server", "", "backend base URL")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("no-color", false, "disable colored output")
	_ = v.BindPFlag("server_url", flags.Lookup("server"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("no_color", flags.Lookup("no-color"))

	root.AddCommand(
		newAskCmd(v),
		newReplayCmd(v),
		newTranscriptsCmd(v),
		newConfigCmd(v),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves settings and applies the global side effects that
// depend on them (log level, color mode).
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	logging.SetBaseLevel(logging.ParseLevel(cfg.LogLevel))
	if cfg.NoColor {
		disableColor()
	}
	return cfg, nil
}

func newConfigCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage quorum configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a starter config file to ~/.quorum/config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.Dir()
			if err != nil {
				return err
			}
			path := filepath.Join(dir, "config.yaml")
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "server_url:      %s\n", cfg.ServerURL)
			fmt.Fprintf(out, "request_timeout: %s\n", cfg.RequestTimeout)
			fmt.Fprintf(out, "transcript_dir:  %s\n", cfg.TranscriptDir)
			fmt.Fprintf(out, "log_level:       %s\n", cfg.LogLevel)
			fmt.Fprintf(out, "no_color:        %v\n", cfg.NoColor)
			return nil
		},
	})

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the quorum version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quorum %s\n", version)
		},
	}
}
