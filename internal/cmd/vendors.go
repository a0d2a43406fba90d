package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/marketgate/marketgate/internal/core"
	"github.com/marketgate/marketgate/internal/core/registry"
	"github.com/marketgate/marketgate/internal/output"
)

var vendorsCmd = &cobra.Command{
	Use:   "vendors",
	Short: "Inspect configured vendors",
}

var vendorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured vendors with their limits and endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := cfg.VendorRegistry()
		if err != nil {
			return err
		}

		rendered, err := renderVendors(vendorConfigs(reg), format)
		if err != nil {
			return err
		}
		return writeOutput(cmd, rendered)
	},
}

func init() {
	rootCmd.AddCommand(vendorsCmd)
	vendorsCmd.AddCommand(vendorsListCmd)
	addOutputFlags(vendorsListCmd)
}

// vendorConfigs returns the registry's vendors in name order.
func vendorConfigs(reg *registry.Registry) []core.VendorConfig {
	names := reg.Names()
	vendors := make([]core.VendorConfig, 0, len(names))
	for _, name := range names {
		if vendor, err := reg.Get(name); err == nil {
			vendors = append(vendors, vendor)
		}
	}
	return vendors
}

// renderVendors never includes API keys: VendorConfig drops them from JSON and the table shows a flag.
func renderVendors(vendors []core.VendorConfig, format output.Format) (string, error) {
	if format != output.FormatJSON {
		return output.VendorTable(vendors), nil
	}
	data, err := json.MarshalIndent(vendors, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
