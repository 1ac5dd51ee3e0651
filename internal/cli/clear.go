package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thicket-db/thicket/internal/backend"
)

// ClearResult holds the teardown outcome.
type ClearResult struct {
	Cleared bool   `json:"cleared"`
	Backend string `json:"backend"`
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Irreversibly delete all data in the configured backend",
		Long: `Delete ALL persisted data in the configured storage backend and every
registered index provider. The data cannot be recovered. Requires
--yes-i-mean-it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(rootOpts, confirmed, cmd)
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes-i-mean-it", false, "confirm irreversible deletion of all data")

	return cmd
}

func runClear(opts *RootOptions, confirmed bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if !confirmed {
		msg := "refusing to clear storage without --yes-i-mean-it"
		_ = formatter.Error("UNCONFIRMED", msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	cfg, err := buildConfig(opts)
	if err != nil {
		_ = formatter.Error(string(backend.CodeConfiguration), err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	b, err := backend.New(cfg)
	if err != nil {
		_ = formatter.Error(backendErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "could not resolve backend", err)
	}

	formatter.VerboseLog("clearing storage backend %q", cfg.Backend)
	if err := b.ClearStorage(cmd.Context()); err != nil {
		_ = formatter.Error(backendErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "clear storage failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(ClearResult{Cleared: true, Backend: cfg.Backend})
	}
	fmt.Fprintf(formatter.Writer, "Cleared all data in backend %q\n", cfg.Backend)
	return nil
}
