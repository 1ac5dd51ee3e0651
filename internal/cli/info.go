package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thicket-db/thicket/internal/backend"
)

// StorePlan describes the wrapper chain of one logical store.
type StorePlan struct {
	Store string   `json:"store"`
	Chain []string `json:"chain"`
}

// InfoResult holds the resolved backend description.
type InfoResult struct {
	Backend       string      `json:"backend"`
	LockStrategy  string      `json:"lock_strategy"`
	Features      FeatureList `json:"features"`
	HashPrefixed  bool        `json:"hash_prefixed_indexes"`
	BufferSize    int         `json:"buffer_size"`
	IndexBackends []string    `json:"index_backends,omitempty"`
	Plans         []StorePlan `json:"plans"`
}

// FeatureList mirrors the capability profile for output.
type FeatureList struct {
	Locking       bool `json:"locking"`
	Transactions  bool `json:"transactions"`
	ConsistentKey bool `json:"consistent_key"`
	BatchMutation bool `json:"batch_mutation"`
	Distributed   bool `json:"distributed"`
	KeyOrdered    bool `json:"key_ordered"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the resolved backend's capability profile and store composition",
		Long: `Resolve the configured storage backend, print its capability profile,
the selected lock strategy, and the wrapper chain each logical store
would be composed with. Nothing is opened or written.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(rootOpts, cmd)
		},
	}

	return cmd
}

func runInfo(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
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
	defer b.Close()

	f := b.Features()
	result := InfoResult{
		Backend:      cfg.Backend,
		LockStrategy: b.LockStrategy(),
		Features: FeatureList{
			Locking:       f.Locking,
			Transactions:  f.Transactions,
			ConsistentKey: f.ConsistentKey,
			BatchMutation: f.BatchMutation,
			Distributed:   f.Distributed,
			KeyOrdered:    f.KeyOrdered,
		},
		HashPrefixed: b.HashPrefixIndex(),
		BufferSize:   cfg.BufferSize,
		Plans: []StorePlan{
			{Store: backend.EdgeStoreName, Chain: b.Plan(backend.EdgeStoreName, true, false)},
			{Store: backend.VertexIndexStoreName, Chain: b.Plan(backend.VertexIndexStoreName, true, b.HashPrefixIndex())},
			{Store: backend.EdgeIndexStoreName, Chain: b.Plan(backend.EdgeIndexStoreName, false, b.HashPrefixIndex())},
		},
	}
	result.IndexBackends = b.IndexNames()
	sort.Strings(result.IndexBackends)

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Backend:       %s\n", result.Backend)
	fmt.Fprintf(w, "Lock strategy: %s\n", result.LockStrategy)
	fmt.Fprintf(w, "Features:      locking=%t transactions=%t consistent-key=%t batch=%t distributed=%t ordered=%t\n",
		f.Locking, f.Transactions, f.ConsistentKey, f.BatchMutation, f.Distributed, f.KeyOrdered)
	fmt.Fprintf(w, "Buffer size:   %d\n", result.BufferSize)
	fmt.Fprintf(w, "Hash-prefixed indexes: %t\n", result.HashPrefixed)
	if len(result.IndexBackends) > 0 {
		fmt.Fprintf(w, "Index providers: %s\n", strings.Join(result.IndexBackends, ", "))
	}
	fmt.Fprintln(w, "Store composition (innermost first):")
	for _, p := range result.Plans {
		fmt.Fprintf(w, "  %-12s %s\n", p.Store+":", strings.Join(p.Chain, " -> "))
	}
	return nil
}
