package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hongit/backend"
	"hongit/internal/api"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tool and yt-dlp versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "ytextract %s\n", api.AppVersion)
		ytdlp, err := backend.YtDlpVersion(cmd.Context())
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "yt-dlp: unavailable (%v)\n", err)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "yt-dlp %s\n", ytdlp)
		return nil
	},
}
