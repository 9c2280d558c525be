package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/unitao/internal/federation"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var inventoryURL string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Ask the inventory service to re-poll every store",
		Long: `Trigger a schema sync on a running inventory service and print the
result per store. The command fails when any store was unreachable.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if inventoryURL == "" {
				cfg, err := rootOpts.loadConfig()
				if err != nil {
					return f.Fail(ExitCommandError, "load config", err)
				}
				inventoryURL = cfg.DataService.InventoryURL
				if inventoryURL == "" {
					inventoryURL = "http://localhost" + cfg.Inventory.Listen
				}
			}

			res, err := federation.NewInventoryClient(inventoryURL, nil).Sync(cmd.Context())
			if err != nil {
				return f.Fail(ExitCommandError, "sync", err)
			}
			if err := outputSync(f, res); err != nil {
				return err
			}
			if failed := res.Failed(); len(failed) > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("unreachable stores: %v", failed))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inventoryURL, "inventory", "", "inventory service URL (default from config)")
	return cmd
}

func outputSync(f *OutputFormatter, res *federation.SyncResult) error {
	if f.Format == "json" {
		return f.Success(res)
	}
	for _, st := range res.Stores {
		if st.Error != "" {
			fmt.Fprintf(f.Writer, "✗ %s: %s\n", st.Name, st.Error)
			continue
		}
		fmt.Fprintf(f.Writer, "✓ %s: %d type(s)\n", st.Name, len(st.Types))
		f.VerboseLog("  %s: %v", st.Name, st.Types)
	}
	types := make([]string, 0, len(res.Conflicts))
	for typ := range res.Conflicts {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		fmt.Fprintf(f.Writer, "⚠ %s declared by %v\n", typ, res.Conflicts[typ])
	}
	return nil
}
