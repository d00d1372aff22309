package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/damianoneill/nettables/schema"
	"github.com/damianoneill/nettables/table"
)

var showCmd = &cobra.Command{
	Use:   "show <table>",
	Short: "Render a table from a captured payload or a live device",
	Long: `Render the records of a table as YAML, keyed by record key.

The payload is read from --payload (an XML document, or command output for
command tables) or fetched from the device named by --host.

Examples:
  nettables show PhyPortTable -s tables/ --payload interfaces.xml
  nettables show PhyPortTable -s tables/ --host r1:830 --key ge-0/0/0
  nettables show ArpTable -s tables/ --host r1:22 --transport cli`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var (
	showPayload string
	showKey     string
	showArgs    map[string]string
	showDump    bool
	showDevice  deviceFlags
)

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().StringVar(&showPayload, "payload", "", "file holding the device output, - for stdin")
	showCmd.Flags().StringVar(&showKey, "key", "", "fetch a single record by its args_key")
	showCmd.Flags().StringToStringVar(&showArgs, "arg", nil, "request arguments, name=value")
	showCmd.Flags().BoolVar(&showDump, "dump", false, "dump the records with their Go types")
	showDevice.register(showCmd.Flags())
}

func runShow(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	desc, err := cat.Table(args[0])
	if err != nil {
		return err
	}

	var tbl *table.Table
	if showPayload != "" {
		tbl, err = staticTable(cmd, desc)
	} else {
		tbl, err = fetchTable(cmd, desc)
	}
	if err != nil {
		return err
	}

	records, err := tbl.Map()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if showDump {
		spew.Fdump(out, records)
		return nil
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err = enc.Encode(records); err != nil {
		return errors.Wrap(err, "render")
	}
	return enc.Close()
}

func staticTable(cmd *cobra.Command, desc *schema.TableDescriptor) (*table.Table, error) {
	var data []byte
	var err error
	if showPayload == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(showPayload)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read payload")
	}
	if desc.Text() {
		return table.FromText(desc, string(data))
	}
	return table.FromXML(desc, strings.TrimSpace(string(data)))
}

func fetchTable(cmd *cobra.Command, desc *schema.TableDescriptor) (*table.Table, error) {
	ctx := traced(cmd.Context(), nil)
	target, closer, err := showDevice.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	tbl := table.New(desc, target)
	if showKey != "" {
		err = tbl.FetchKey(ctx, showKey, showArgs)
	} else {
		err = tbl.Fetch(ctx, showArgs)
	}
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d records\n", desc.Name, tbl.Len())
	return tbl, nil
}
