package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/damianoneill/nettables/schema"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compile schema files and list the catalog",
	Long: `Compile the schema files, reporting the first definition error.

Examples:
  nettables validate -s tables/
  nettables validate -s ports.yaml -s users.yaml`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	printCatalog(cmd, cat)
	return nil
}

func printCatalog(cmd *cobra.Command, cat *schema.Catalog) {
	out := cmd.OutOrStdout()
	for _, name := range cat.Tables() {
		t, _ := cat.Table(name)
		line := fmt.Sprintf("table %s (%s)", name, t.Kind)
		if t.View != nil {
			line += " view " + t.View.Name
		}
		if t.Writable() {
			line += " writable"
		}
		fmt.Fprintln(out, line)
	}
	for _, name := range cat.Views() {
		v, _ := cat.View(name)
		fmt.Fprintf(out, "view %s: %d fields\n", name, len(v.FieldNames()))
	}
	fmt.Fprintf(out, "%d definitions\n", cat.Len())
}
