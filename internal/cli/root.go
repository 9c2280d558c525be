package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/unitao/internal/config"
	"github.com/roach88/unitao/internal/ir"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // YAML config file; empty uses defaults
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the unitao CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "unitao",
		Short:   "UniTAO - schema-driven federated record stores",
		Long:    "Run data services and the inventory service, and author the schemas they serve.",
		Version: ir.EngineVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "config file (YAML)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))

	return cmd
}

// loadConfig reads --config, or returns the defaults when it is unset.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	if o.Config == "" {
		return config.Default(), nil
	}
	return config.Load(o.Config)
}

// newLogger builds the process logger: JSON lines with --format json,
// text otherwise, at debug level with --verbose.
func (o *RootOptions) newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if o.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
