package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketgate/marketgate/internal/core/engine"
	"github.com/marketgate/marketgate/internal/output"
	"github.com/marketgate/marketgate/internal/server/handlers"
)

const gateStatusTimeout = 5 * time.Second

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Inspect rate-limit windows",
}

var gateStatusCmd = &cobra.Command{
	Use:   "status [vendor...]",
	Short: "Show per-vendor window usage",
	Long: `Show minute, hour and day window usage per vendor.

Without --server the counts come from a fresh gate, which shows the configured
limits. With --server the live counts are read from a running gateway; this
never consumes a request.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		var snapshots []engine.GateSnapshot
		if serverURL, _ := cmd.Flags().GetString("server"); strings.TrimSpace(serverURL) != "" {
			client := &http.Client{Timeout: gateStatusTimeout}
			snapshots, err = remoteGateSnapshots(cmd.Context(), client, serverURL, args)
		} else {
			snapshots, err = localGateSnapshots(args)
		}
		if err != nil {
			return err
		}

		rendered, err := renderGate(snapshots, format)
		if err != nil {
			return err
		}
		return writeOutput(cmd, rendered)
	},
}

func init() {
	rootCmd.AddCommand(gateCmd)
	gateCmd.AddCommand(gateStatusCmd)
	gateStatusCmd.Flags().String("server", "", "base URL of a running gateway (e.g. http://localhost:8080)")
	addOutputFlags(gateStatusCmd)
}

func localGateSnapshots(vendors []string) ([]engine.GateSnapshot, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	reg, err := cfg.VendorRegistry()
	if err != nil {
		return nil, err
	}
	return gateSnapshots(engine.NewGate(reg.Limits()), vendors)
}

// gateSnapshots reports the named vendors, or all of them when none are named.
func gateSnapshots(gate *engine.Gate, vendors []string) ([]engine.GateSnapshot, error) {
	if len(vendors) == 0 {
		vendors = gate.Vendors()
	}
	snapshots := make([]engine.GateSnapshot, 0, len(vendors))
	for _, vendor := range vendors {
		snapshot, ok := gate.Snapshot(vendor)
		if !ok {
			return nil, fmt.Errorf("unknown vendor %q", vendor)
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

// remoteGateSnapshots reads GET /v1/gate/{vendor} from a running gateway.
func remoteGateSnapshots(ctx context.Context, client *http.Client, serverURL string, vendors []string) ([]engine.GateSnapshot, error) {
	base := strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if len(vendors) == 0 {
		var list handlers.VendorsResponse
		if err := getJSON(ctx, client, base+"/v1/vendors", &list); err != nil {
			return nil, err
		}
		vendors = list.Vendors
	}

	snapshots := make([]engine.GateSnapshot, 0, len(vendors))
	for _, vendor := range vendors {
		var resp handlers.GateResponse
		if err := getJSON(ctx, client, base+"/v1/gate/"+url.PathEscape(vendor), &resp); err != nil {
			return nil, err
		}
		if resp.Snapshot == nil {
			return nil, fmt.Errorf("gateway returned no snapshot for %q", vendor)
		}
		snapshots = append(snapshots, *resp.Snapshot)
	}
	return snapshots, nil
}

func getJSON(ctx context.Context, client *http.Client, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}

func renderGate(snapshots []engine.GateSnapshot, format output.Format) (string, error) {
	if format != output.FormatJSON {
		return output.GateTable(snapshots), nil
	}
	data, err := json.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
