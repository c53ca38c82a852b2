package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"hongit/backend"
)

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().BoolP("data-saver", "d", false, "Prefer the lowest-bitrate audio stream")
	extractCmd.Flags().StringArrayP("header", "H", nil, `Auth header as "Name: value" (repeatable)`)
	extractCmd.Flags().BoolP("json", "j", false, "Print the URL and stream headers as JSON")
}

var extractCmd = &cobra.Command{
	Use:   "extract <video-id|url>",
	Short: "Resolve the audio stream for a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		videoID, err := backend.VideoIDFromInput(args[0])
		if err != nil {
			return err
		}

		headers, err := parseHeaderFlags(lo.Must(cmd.Flags().GetStringArray("header")))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		extractor := backend.NewExtractor(backend.NewYtDlpResolver(), loadedConfig.ExtractorConfig())
		result, err := extractor.ExtractAudio(ctx, videoID, lo.Must(cmd.Flags().GetBool("data-saver")), headers)
		if err != nil {
			var ee *backend.ExtractError
			if errors.As(err, &ee) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", ee.Code, ee.Message)
			}
			return err
		}

		if lo.Must(cmd.Flags().GetBool("json")) {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.URL)
		return nil
	},
}

// parseHeaderFlags turns "Name: value" pairs into the auth header map the
// extractor accepts. Unknown names are dropped later by the normalizer.
func parseHeaderFlags(values []string) (map[string]any, error) {
	headers := make(map[string]any, len(values))
	for _, v := range values {
		name, value, ok := strings.Cut(v, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", v)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}
