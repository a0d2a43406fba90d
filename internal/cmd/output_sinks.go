package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marketgate/marketgate/internal/output"
)

// addOutputFlags registers --output-format and --out on cmd.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output-format", "o", string(output.FormatTable), "output format: table, json, markdown")
	cmd.Flags().String("out", "", "write output to this file instead of stdout")
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

// writeOutput sends rendered to the --out file of cmd, or to its stdout.
func writeOutput(cmd *cobra.Command, rendered string) error {
	path, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}
	return writeRendered(path, cmd.OutOrStdout(), rendered)
}

// writeRendered writes rendered with a trailing newline to path. An empty path
// or "-" selects stdout; parent directories of path are created.
func writeRendered(path string, stdout io.Writer, rendered string) error {
	if !strings.HasSuffix(rendered, "\n") {
		rendered += "\n"
	}

	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		_, err := io.WriteString(stdout, rendered)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	_, err = io.WriteString(file, rendered)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return err
}
