package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/netconf"
	"github.com/damianoneill/nettables/schema"
)

var (
	// Global flags
	schemaPaths []string
	logLevel    string
	trace       bool
)

var rootCmd = &cobra.Command{
	Use:   "nettables",
	Short: "Declarative tables and configuration resources for network devices",
	Long: `nettables compiles YAML table and view definitions and applies them to
device output, either captured in a file or fetched live over NETCONF or the
command line.

Examples:
  nettables validate --schema tables/
  nettables show PhyPortTable --schema tables/ --payload interfaces.xml
  nettables show ArpTable --schema tables/ --host r1:22 --transport cli
  nettables config get UserTable alice --schema tables/ --host r1:830`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			return errors.Wrap(err, "log level")
		}
		common.Logger = common.Logger.Level(level)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&schemaPaths, "schema", "s", nil, "schema files or directories")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "log every fetch, submit and rpc")
}

// schemaSources returns the --schema files and directories.
func schemaSources() ([]string, error) {
	if len(schemaPaths) == 0 {
		return nil, errors.New("no schema given, use --schema")
	}
	return schemaPaths, nil
}

func loadCatalog() (*schema.Catalog, error) {
	paths, err := schemaSources()
	if err != nil {
		return nil, err
	}
	return schema.Load(paths...)
}

// traced returns a context carrying the diagnostic hooks when --trace is set, merged over extra.
func traced(ctx context.Context, extra *common.Trace) context.Context {
	hooks := &common.Trace{}
	if extra != nil {
		*hooks = *extra
	}
	if trace {
		ctx = netconf.WithSessionTrace(ctx, netconf.DiagnosticLoggingHooks)
		chain(hooks, common.DiagnosticLoggingHooks)
	} else {
		chain(hooks, common.DefaultLoggingHooks)
	}
	return common.WithTrace(ctx, hooks)
}

// chain makes each hook of t call the matching hook of next as well.
func chain(t, next *common.Trace) {
	if next.FetchStart != nil {
		prev := t.FetchStart
		t.FetchStart = func(req *common.FetchRequest) {
			if prev != nil {
				prev(req)
			}
			next.FetchStart(req)
		}
	}
	if next.FetchDone != nil {
		prev := t.FetchDone
		t.FetchDone = func(req *common.FetchRequest, err error, d time.Duration) {
			if prev != nil {
				prev(req, err, d)
			}
			next.FetchDone(req, err, d)
		}
	}
	if next.SubmitStart != nil {
		prev := t.SubmitStart
		t.SubmitStart = func(doc *common.ChangeDocument, mode common.Mode) {
			if prev != nil {
				prev(doc, mode)
			}
			next.SubmitStart(doc, mode)
		}
	}
	if next.SubmitDone != nil {
		prev := t.SubmitDone
		t.SubmitDone = func(doc *common.ChangeDocument, mode common.Mode, res *common.Result, err error, d time.Duration) {
			if prev != nil {
				prev(doc, mode, res, err, d)
			}
			next.SubmitDone(doc, mode, res, err, d)
		}
	}
	if next.SubmitSkipped != nil {
		prev := t.SubmitSkipped
		t.SubmitSkipped = func(resource string) {
			if prev != nil {
				prev(resource)
			}
			next.SubmitSkipped(resource)
		}
	}
	if next.Error != nil {
		prev := t.Error
		t.Error = func(context, target string, err error) {
			if prev != nil {
				prev(context, target, err)
			}
			next.Error(context, target, err)
		}
	}
}
