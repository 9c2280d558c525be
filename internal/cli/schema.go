package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/unitao/internal/compiler"
	"github.com/roach88/unitao/internal/federation"
	"github.com/roach88/unitao/internal/schema"
)

// CompilationResult is the JSON payload of schema compile and push.
type CompilationResult struct {
	Schemas  []*schema.Document      `json:"schemas"`
	Warnings []compiler.CycleWarning `json:"warnings,omitempty"`
	Pushed   []string                `json:"pushed,omitempty"`
}

// NewSchemaCommand groups the schema authoring commands.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Compile and push CUE-authored schemas",
	}
	cmd.AddCommand(newSchemaCompileCommand(rootOpts))
	cmd.AddCommand(newSchemaPushCommand(rootOpts))
	return cmd
}

func newSchemaCompileCommand(rootOpts *RootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "compile <schema-dir>",
		Short: "Compile CUE schemas to schema documents",
		Long: `Compile the entries under the top-level schema field of a CUE package
into JSON schema documents.

Every document is checked with the same rules a data service applies on
registration. Versions of one id must be compatible upgrades of each
other. Required-reference cycles are reported as warnings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			res, err := compileSchemas(f, args[0])
			if err != nil {
				return err
			}
			if output != "" {
				if err := writeDocuments(res.Schemas, output); err != nil {
					_ = f.Error(ErrCodeWriteFailed, err.Error(), nil)
					return WrapExitError(ExitCommandError, ErrCodeWriteFailed, err)
				}
				f.VerboseLog("Wrote %d schema document(s) to %s", len(res.Schemas), output)
			}
			return outputCompileSuccess(f, res)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the documents as a JSON array to this file")
	return cmd
}

func newSchemaPushCommand(rootOpts *RootOptions) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "push <schema-dir>",
		Short: "Compile CUE schemas and register them with a data service",
		Long: `Compile the schemas in a CUE package and POST each document to a data
service, oldest version first. Re-pushing an identical version is
accepted, so push is safe to repeat.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if target == "" {
				cfg, err := rootOpts.loadConfig()
				if err != nil {
					return f.Fail(ExitCommandError, "load config", err)
				}
				target = "http://localhost" + cfg.DataService.Listen
			}

			res, err := compileSchemas(f, args[0])
			if err != nil {
				return err
			}
			client := federation.NewStoreClient("data", target, nil)
			for _, doc := range res.Schemas {
				if _, err := client.RegisterSchema(cmd.Context(), doc); err != nil {
					return f.Fail(ExitFailure, fmt.Sprintf("push %s@%s", doc.ID, doc.Version), err)
				}
				res.Pushed = append(res.Pushed, doc.ID+"@"+doc.Version)
				f.VerboseLog("Pushed %s@%s to %s", doc.ID, doc.Version, target)
			}
			if f.Format == "json" {
				return f.Success(res)
			}
			fmt.Fprintf(f.Writer, "✓ Pushed %d schema(s) to %s\n", len(res.Pushed), target)
			for _, p := range res.Pushed {
				fmt.Fprintf(f.Writer, "  %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "data service base URL (default: http://localhost<dataService.listen>)")
	return cmd
}

// compileSchemas loads and validates dir. On failure the errors have been
// written and the returned error carries the exit code.
func compileSchemas(f *OutputFormatter, dir string) (*CompilationResult, error) {
	loaded, loadErrs := LoadSchemas(dir)
	if loaded == nil {
		return nil, f.Fail(ExitCommandError, "load schemas", loadErrs[0])
	}
	f.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, dir)
	if len(loadErrs) > 0 {
		return nil, outputErrors(f, "compilation", loadErrs)
	}

	if verrs := compiler.Validate(loaded.Documents); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, v := range verrs {
			errs[i] = v
		}
		return nil, outputErrors(f, "validation", errs)
	}

	res := &CompilationResult{
		Schemas:  loaded.Documents,
		Warnings: compiler.AnalyzeCycles(loaded.Documents),
	}
	for _, w := range res.Warnings {
		f.VerboseLog("%s: %s", w.Level, w.Message)
	}
	return res, nil
}

func outputCompileSuccess(f *OutputFormatter, res *CompilationResult) error {
	if f.Format == "json" {
		return f.Success(res)
	}

	fmt.Fprintf(f.Writer, "✓ Compiled %d schema(s)\n\n", len(res.Schemas))
	for _, doc := range res.Schemas {
		fmt.Fprintf(f.Writer, "  %s@%s: %d propert%s, %d definition(s)\n",
			doc.ID, doc.Version, len(doc.Properties), plural(len(doc.Properties), "y", "ies"), len(doc.Definitions))
	}
	if len(res.Warnings) > 0 {
		fmt.Fprintln(f.Writer)
		for _, w := range res.Warnings {
			mark := "⚠"
			if w.Level == "info" {
				mark = "ℹ"
			}
			fmt.Fprintf(f.Writer, "%s %s\n", mark, w.Message)
		}
	}
	return nil
}

func outputErrors(f *OutputFormatter, stage string, errs []error) error {
	if f.Format == "json" {
		list := make([]CLIError, len(errs))
		for i, err := range errs {
			list[i] = schemaCLIError(err)
		}
		_ = f.encode(CLIResponse{Status: "error", Error: &list[0], Data: list})
		return NewExitError(ExitFailure, fmt.Sprintf("%s failed with %d error(s)", stage, len(errs)))
	}

	fmt.Fprintf(f.Writer, "✗ Schema %s failed\n\n", stage)
	for _, err := range errs {
		var le *LoadError
		if errors.As(err, &le) && le.Pos.IsValid() {
			fmt.Fprintf(f.Writer, "%s:%d:%d\n", le.Pos.Filename(), le.Pos.Line(), le.Pos.Column())
		}
		ce := schemaCLIError(err)
		fmt.Fprintf(f.Writer, "  %s: %s\n", ce.Code, ce.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%s failed with %d error(s)", stage, len(errs)))
}

func schemaCLIError(err error) CLIError {
	if v, ok := err.(compiler.ValidationError); ok {
		return CLIError{Code: v.Code, Message: v.Field + ": " + v.Message}
	}
	return cliError(err)
}

func writeDocuments(docs []*schema.Document, filename string) error {
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling schemas: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
