package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marketgate/marketgate/internal/observability"
	"github.com/marketgate/marketgate/internal/output"
	"github.com/marketgate/marketgate/internal/scheduler"
)

var prefetchCmd = &cobra.Command{
	Use:   "prefetch",
	Short: "Warm the cache for identifiers fetched today",
}

var prefetchRunCmd = &cobra.Command{
	Use:   "run [vendor...]",
	Short: "Run one warm pass now",
	Long: `Refetch every identifier saved today for the given vendors (default:
prefetch.vendors, or every configured vendor). Gate denials fall back to the
stored copy, so a run never exceeds a vendor's limits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gw, err := openGateway(cmd.Context(), cfg, observability.CLILogger)
		if err != nil {
			return err
		}
		defer func() { _ = gw.Close() }()

		warmer := gw.warmer()
		if len(args) > 0 {
			warmer.Vendors = args
		}
		summaries := warmer.RunOnce(cmd.Context())

		rendered, err := renderPrefetch(summaries, format)
		if err != nil {
			return err
		}
		return writeOutput(cmd, rendered)
	},
}

func init() {
	rootCmd.AddCommand(prefetchCmd)
	prefetchCmd.AddCommand(prefetchRunCmd)
	addOutputFlags(prefetchRunCmd)
}

type prefetchSummaryJSON struct {
	Vendor    string `json:"vendor"`
	Total     int    `json:"total"`
	Live      int    `json:"live"`
	Cached    int    `json:"cached"`
	Failed    int    `json:"failed"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

func renderPrefetch(summaries []scheduler.Summary, format output.Format) (string, error) {
	if format != output.FormatJSON {
		return output.PrefetchTable(summaries), nil
	}
	rows := make([]prefetchSummaryJSON, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, prefetchSummaryJSON{
			Vendor:    s.Vendor,
			Total:     s.Total,
			Live:      s.Live,
			Cached:    s.Cached,
			Failed:    s.Failed,
			ElapsedMS: s.Elapsed.Milliseconds(),
		})
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode prefetch summary: %w", err)
	}
	return string(data), nil
}
