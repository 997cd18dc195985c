package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/conneroisu/playground/internal/workspace"
	"github.com/spf13/cobra"
)

var templateFormat string

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Inspect workspace templates",
}

var templateShowCmd = &cobra.Command{
	Use:   "show [file.yml]",
	Short: "Print a template, the built-in one by default",
	Long: `Print a workspace template after validation, including the generated
package.json manifest.

Examples:
  playground template show                  # Built-in template
  playground template show workspace.yml    # Normalised custom template`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		ws, err := loadWorkspace(path)
		if err != nil {
			return err
		}
		return writeTemplate(cmd.OutOrStdout(), ws, templateFormat)
	},
}

var templateValidateCmd = &cobra.Command{
	Use:   "validate file.yml...",
	Short: "Check workspace templates for errors",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateTemplates(cmd.OutOrStdout(), args)
	},
}

func init() {
	rootCmd.AddCommand(templateCmd)
	templateCmd.AddCommand(templateShowCmd, templateValidateCmd)

	templateShowCmd.Flags().StringVarP(&templateFormat, "format", "f", "yaml", "Output format (yaml, json)")
}

func writeTemplate(w io.Writer, ws workspace.Workspace, format string) error {
	tpl := ws.ToTemplate()
	switch format {
	case "yaml":
		data, err := tpl.Encode()
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tpl)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", format)
	}
}

// validateTemplates reports every file and fails if any is invalid.
func validateTemplates(w io.Writer, paths []string) error {
	invalid := 0
	for _, p := range paths {
		ws, err := workspace.LoadTemplate(p)
		if err != nil {
			invalid++
			fmt.Fprintf(w, "✗ %s: %v\n", p, err)
			continue
		}
		files := 0
		_ = ws.Walk(func(n *workspace.Node, _ string) error {
			if n.IsFile() {
				files++
			}
			return nil
		})
		fmt.Fprintf(w, "✓ %s: workspace %q, %d files\n", p, ws.Name(), files)
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d templates invalid", invalid, len(paths))
	}
	return nil
}
