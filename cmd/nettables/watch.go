package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/metrics"
	"github.com/damianoneill/nettables/schema"
	"github.com/damianoneill/nettables/table"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Recompile the schema on change, optionally polling a table",
	Long: `Watch the schema files, recompiling the catalog whenever one changes. A bad
edit is logged and the previous catalog kept.

With --table and --host the table is fetched every --interval using the
current catalog, and fetch metrics are served on --metrics-addr.

Examples:
  nettables watch -s tables/
  nettables watch -s tables/ --table PhyPortTable --host r1:830 --metrics-addr :9105`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchTable       string
	watchInterval    time.Duration
	watchMetricsAddr string
	watchDevice      deviceFlags
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchTable, "table", "", "table to poll")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Minute, "poll interval")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "address serving /metrics")
	watchDevice.register(watchCmd.Flags())
}

func runWatch(cmd *cobra.Command, args []string) error {
	paths, err := schemaSources()
	if err != nil {
		return err
	}
	holder, err := schema.NewHolder(common.Logger, paths...)
	if err != nil {
		return err
	}
	holder.OnChange(func(cat *schema.Catalog) {
		printCatalog(cmd, cat)
	})
	if err = holder.Watch(); err != nil {
		return err
	}
	defer holder.Stop()
	printCatalog(cmd, holder.Catalog())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchTable == "" {
		<-ctx.Done()
		return nil
	}
	return poll(ctx, holder)
}

// poll fetches the watched table until ctx is done, recording metrics.
func poll(ctx context.Context, holder *schema.Holder) error {
	reg := prometheus.NewRegistry()
	collector := metrics.NewWithRegistry(reg)
	if watchMetricsAddr != "" {
		srv := &http.Server{
			Addr:              watchMetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				common.Logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
	}

	ctx = traced(ctx, collector.Hooks())
	target, closer, err := watchDevice.connect(ctx)
	if err != nil {
		return err
	}
	defer closer.Close()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		// The descriptor is looked up each round so schema edits apply to the next fetch.
		desc, err := holder.Catalog().Table(watchTable)
		if err != nil {
			return errors.Wrap(err, "watched table")
		}
		tbl := table.New(desc, target)
		if err = tbl.Fetch(ctx, nil); err != nil {
			common.Logger.Error().Err(err).Str("table", watchTable).Msg("poll failed")
		} else {
			common.Logger.Info().Str("table", watchTable).Int("records", tbl.Len()).Msg("polled")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
