package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/marketgate/marketgate/internal/core"
	"github.com/marketgate/marketgate/internal/observability"
	"github.com/marketgate/marketgate/internal/output"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <vendor> <identifier> [identifier...]",
	Short: "Fetch quotes or series once",
	Long: `Fetch one or more identifiers from a configured vendor through the same
gate, cache and fallback path the HTTP gateway uses.

Examples:
  marketgate fetch alpha IBM MSFT
  marketgate fetch alpha IBM --category series --from 2025-01-01 --to 2025-01-31
  marketgate fetch finnhub AAPL -o json --out quotes.json`,
	Args: cobra.MinimumNArgs(2),
	RunE: runFetchCommand,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	addFetchFlags(fetchCmd)
}

func addFetchFlags(cmd *cobra.Command) {
	cmd.Flags().String("category", string(core.CategoryQuote), "data category: quote or series")
	cmd.Flags().String("from", "", "series start (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().String("to", "", "series end (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().String("resolution", "", "series resolution passed to the vendor")
	cmd.Flags().StringToString("param", nil, "extra vendor parameter (key=value, repeatable)")
	cmd.Flags().Int("concurrency", 0, "parallel fetches (default gateway.fetch_concurrency)")
	addOutputFlags(cmd)
}

func runFetchCommand(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	reqs, err := fetchRequestsFromFlags(cmd, args[0], args[1:])
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

	concurrency, _ := cmd.Flags().GetInt("concurrency")
	if concurrency <= 0 {
		concurrency = cfg.Gateway.FetchConcurrency
	}

	results := runFetch(cmd.Context(), gw, reqs, concurrency)
	rendered, err := output.NewFormatter(format).FormatResults(results)
	if err != nil {
		return err
	}

	if err := writeOutput(cmd, rendered); err != nil {
		return err
	}

	if failed := countFailed(results); failed == len(results) {
		return fmt.Errorf("all %d fetches failed", failed)
	}
	return nil
}

// fetchRequestsFromFlags builds one request per identifier. All share a correlation id.
func fetchRequestsFromFlags(cmd *cobra.Command, vendor string, identifiers []string) ([]core.MarketDataRequest, error) {
	rawCategory, _ := cmd.Flags().GetString("category")
	category, ok := core.ParseCategory(rawCategory)
	if !ok {
		return nil, fmt.Errorf("unknown category %q (expected quote or series)", rawCategory)
	}

	rawFrom, _ := cmd.Flags().GetString("from")
	rawTo, _ := cmd.Flags().GetString("to")
	from, err := parseBoundFlag("from", rawFrom)
	if err != nil {
		return nil, err
	}
	to, err := parseBoundFlag("to", rawTo)
	if err != nil {
		return nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, fmt.Errorf("--to %s is before --from %s", rawTo, rawFrom)
	}

	resolution, _ := cmd.Flags().GetString("resolution")
	params, _ := cmd.Flags().GetStringToString("param")
	correlationID := uuid.NewString()

	reqs := make([]core.MarketDataRequest, 0, len(identifiers))
	for _, identifier := range identifiers {
		identifier = strings.TrimSpace(identifier)
		if identifier == "" {
			continue
		}
		reqs = append(reqs, core.MarketDataRequest{
			Vendor:        vendor,
			Category:      category,
			Identifier:    identifier,
			From:          from,
			To:            to,
			Resolution:    resolution,
			Params:        params,
			CorrelationID: correlationID,
		})
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("at least one identifier is required")
	}
	return reqs, nil
}

// parseBoundFlag accepts RFC3339 or a bare UTC date. Empty means unbounded.
func parseBoundFlag(name, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if parsed, err := time.Parse(layout, value); err == nil {
			parsed = parsed.UTC()
			return &parsed, nil
		}
	}
	return nil, fmt.Errorf("--%s %q is not RFC3339 or YYYY-MM-DD", name, value)
}

func runFetch(ctx context.Context, gw *gateway, reqs []core.MarketDataRequest, concurrency int) []output.FetchResult {
	outcomes := gw.orchestrator.FetchMany(ctx, reqs, concurrency)
	results := make([]output.FetchResult, len(reqs))
	for i, req := range reqs {
		results[i] = output.FetchResult{Request: req, Result: outcomes[i]}
	}
	return results
}

func countFailed(results []output.FetchResult) int {
	failed := 0
	for _, result := range results {
		if !result.Result.Success {
			failed++
		}
	}
	return failed
}
