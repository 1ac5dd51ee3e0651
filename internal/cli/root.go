package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thicket-db/thicket/internal/backend"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	Backend     string
	StorageOpts []string // key=value pairs
	Indexes     []string // name=backend pairs
	BufferSize  int
	Metrics     bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the thicketctl CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "thicketctl",
		Short: "Thicket storage backend administration",
		Long:  "Inspect and administer a Thicket graph storage backend: capability profile, store composition, version marker, and storage teardown.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "inmemory", "storage backend shorthand or fully-qualified identifier")
	cmd.PersistentFlags().StringArrayVar(&opts.StorageOpts, "storage-opt", nil, "storage backend option as key=value (repeatable)")
	cmd.PersistentFlags().StringArrayVar(&opts.Indexes, "index", nil, "index provider as name=backend (repeatable)")
	cmd.PersistentFlags().IntVar(&opts.BufferSize, "buffer-size", backend.DefaultConfig().BufferSize, "mutation buffer size (0 disables)")
	cmd.PersistentFlags().BoolVar(&opts.Metrics, "metrics", false, "instrument stores with basic metrics")

	// Add subcommands
	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// buildConfig assembles the backend configuration from the global flags.
func buildConfig(opts *RootOptions) (backend.Config, error) {
	cfg := backend.DefaultConfig()
	cfg.Backend = opts.Backend
	cfg.BufferSize = opts.BufferSize
	cfg.BasicMetrics = opts.Metrics

	if len(opts.StorageOpts) > 0 {
		cfg.StorageOptions = make(map[string]string, len(opts.StorageOpts))
		for _, kv := range opts.StorageOpts {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return cfg, fmt.Errorf("invalid --storage-opt %q: expected key=value", kv)
			}
			cfg.StorageOptions[k] = v
		}
	}

	if len(opts.Indexes) > 0 {
		cfg.Index = make(map[string]backend.IndexConfig, len(opts.Indexes))
		for _, kv := range opts.Indexes {
			name, impl, ok := strings.Cut(kv, "=")
			if !ok || name == "" || impl == "" {
				return cfg, fmt.Errorf("invalid --index %q: expected name=backend", kv)
			}
			cfg.Index[name] = backend.IndexConfig{Backend: impl}
		}
	}

	return cfg, nil
}

// backendErrorCode maps a backend failure to the CLI error code string.
func backendErrorCode(err error) string {
	switch {
	case backend.IsConfiguration(err):
		return string(backend.CodeConfiguration)
	case backend.IsCapability(err):
		return string(backend.CodeCapability)
	case backend.IsIncompatible(err):
		return string(backend.CodeIncompatibility)
	case backend.IsStorage(err):
		return string(backend.CodeStorage)
	default:
		return "UNKNOWN"
	}
}
