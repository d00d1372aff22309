package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/resource"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and write configuration objects described by writable tables",
	Long: `Operate on the configuration objects of a writable configuration table.

Examples:
  nettables config list UserTable -s tables/ --host r1:830
  nettables config get UserTable alice -s tables/ --host r1:830
  nettables config set UserTable alice class=operator uid=2001 -s tables/ --host r1:830 --commit
  nettables config delete UserTable alice -s tables/ --host r1:830 --commit`,
}

var (
	configDevice deviceFlags
	configMode   string
	configTo     string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configDevice.register(configCmd.PersistentFlags())

	configCmd.AddCommand(&cobra.Command{
		Use:   "list <table>",
		Short: "List object names with their properties",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigList,
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "get <table> <name>",
		Short: "Show the properties of an object",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigGet,
	})
	setCmd := &cobra.Command{
		Use:   "set <table> <name> <prop=value>...",
		Short: "Write object properties, creating the object if absent; an empty value deletes",
		Args:  cobra.MinimumNArgs(3),
		RunE:  runConfigSet,
	}
	setCmd.Flags().StringVar(&configMode, "mode", string(common.MergeMode), "submit mode")
	configCmd.AddCommand(setCmd)
	configCmd.AddCommand(&cobra.Command{
		Use:   "delete <table> <name>",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigDelete,
	})
	renameCmd := &cobra.Command{
		Use:   "rename <table> <name>",
		Short: "Rename an object",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigRename,
	}
	renameCmd.Flags().StringVar(&configTo, "to", "", "new name")
	configCmd.AddCommand(renameCmd)
	configCmd.AddCommand(&cobra.Command{
		Use:   "activate <table> <name>",
		Short: "Activate an object",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigActivation(true),
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "deactivate <table> <name>",
		Short: "Deactivate an object",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigActivation(false),
	})
}

// withManager connects to the device and runs fn with a manager for the table's objects.
func withManager(cmd *cobra.Command, tableName string, fn func(m *resource.Resource, kind *resource.FieldKind) error) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	desc, err := cat.Table(tableName)
	if err != nil {
		return err
	}
	kind, err := resource.KindFromTable(desc)
	if err != nil {
		return err
	}

	ctx := traced(cmd.Context(), nil)
	target, closer, err := configDevice.connect(ctx)
	if err != nil {
		return err
	}
	defer closer.Close()

	cmd.SetContext(ctx)
	return fn(resource.NewManager(target, kind, resource.WithMode(common.Mode(configMode))), kind)
}

func printYAML(cmd *cobra.Command, v interface{}) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "render")
	}
	_, err = cmd.OutOrStdout().Write(b)
	return err
}

func runConfigList(cmd *cobra.Command, args []string) error {
	return withManager(cmd, args[0], func(m *resource.Resource, _ *resource.FieldKind) error {
		catalog, err := m.Catalog(cmd.Context())
		if err != nil {
			return err
		}
		out := make(map[string]map[string]interface{}, len(catalog))
		for name, props := range catalog {
			out[name] = props
		}
		return printYAML(cmd, out)
	})
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	return withManager(cmd, args[0], func(m *resource.Resource, _ *resource.FieldKind) error {
		r, err := m.Open(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		return printYAML(cmd, map[string]interface{}(r.Has()))
	})
}

// parseAssignments converts prop=value arguments with the kind's property types.
func parseAssignments(kind *resource.FieldKind, args []string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	for _, a := range args {
		i := strings.Index(a, "=")
		if i <= 0 {
			return nil, errors.Errorf("expected prop=value, got %q", a)
		}
		v, err := kind.ParseValue(a[:i], a[i+1:])
		if err != nil {
			return nil, err
		}
		out[a[:i]] = v
	}
	return out, nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	return withManager(cmd, args[0], func(m *resource.Resource, kind *resource.FieldKind) error {
		values, err := parseAssignments(kind, args[2:])
		if err != nil {
			return err
		}
		r, err := m.Open(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		names := make([]string, 0, len(values))
		for n := range values {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			if err = r.Set(n, values[n]); err != nil {
				return err
			}
		}
		res, err := r.Write(cmd.Context())
		if err != nil {
			return err
		}
		return report(cmd, args[1], res.Changed, res.Warnings)
	})
}

func runConfigDelete(cmd *cobra.Command, args []string) error {
	return withManager(cmd, args[0], func(m *resource.Resource, _ *resource.FieldKind) error {
		r, err := m.Open(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		changed, err := r.Delete(cmd.Context())
		if err != nil {
			return err
		}
		return report(cmd, args[1], changed, nil)
	})
}

func runConfigRename(cmd *cobra.Command, args []string) error {
	if configTo == "" {
		return errors.New("no new name given, use --to")
	}
	return withManager(cmd, args[0], func(m *resource.Resource, _ *resource.FieldKind) error {
		r, err := m.Open(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		changed, err := r.Rename(cmd.Context(), configTo)
		if err != nil {
			return err
		}
		return report(cmd, args[1], changed, nil)
	})
}

func runConfigActivation(active bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, args[0], func(m *resource.Resource, _ *resource.FieldKind) error {
			r, err := m.Open(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			var res *resource.WriteResult
			if active {
				res, err = r.Activate(cmd.Context())
			} else {
				res, err = r.Deactivate(cmd.Context())
			}
			if err != nil {
				return err
			}
			return report(cmd, args[1], res.Changed, res.Warnings)
		})
	}
}

func report(cmd *cobra.Command, name string, changed bool, warnings []*common.RPCError) error {
	out := cmd.OutOrStdout()
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s\n", strings.TrimSpace(w.Message))
	}
	if changed {
		fmt.Fprintf(out, "%s: changed\n", name)
	} else {
		fmt.Fprintf(out, "%s: unchanged\n", name)
	}
	return nil
}
