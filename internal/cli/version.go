package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thicket-db/thicket/internal/backend"
)

// VersionResult holds the version report.
type VersionResult struct {
	Version    string   `json:"version"`
	Compatible []string `json:"compatible_predecessors"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the compatibility version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(rootOpts, cmd)
		},
	}

	return cmd
}

func runVersion(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	result := VersionResult{
		Version:    backend.Version,
		Compatible: backend.CompatibleVersions,
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "thicket %s (reads data from: %s)\n",
		result.Version, strings.Join(result.Compatible, ", "))
	return nil
}
