package main

import (
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"hongit/backend"
)

func init() {
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("ytdlp", "", "Path to the yt-dlp binary")
	rootCmd.PersistentFlags().String("proxy", "", "Proxy URL passed to yt-dlp")
}

// rootCmd is the entry point; subcommands do the work.
var rootCmd = &cobra.Command{
	Use:           "ytextract",
	Short:         "Resolve playable YouTube audio stream URLs",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := backend.LoadConfig()
		if err != nil {
			return err
		}
		if path := lo.Must(cmd.Flags().GetString("ytdlp")); path != "" {
			config.YtDlpPath = path
		}
		if proxy := lo.Must(cmd.Flags().GetString("proxy")); proxy != "" {
			config.ProxyURL = proxy
		}

		backend.InitLogger(lo.Must(cmd.Flags().GetString("log-level")))
		backend.ConfigureYtDlp(config.YtDlpPath)
		loadedConfig = config
		return nil
	},
}

// loadedConfig is populated before any subcommand runs.
var loadedConfig *backend.Config
