package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SystemCRM24/tendersync/internal/directory"
	"github.com/SystemCRM24/tendersync/internal/ingest"
	"github.com/SystemCRM24/tendersync/internal/poll"
	"github.com/SystemCRM24/tendersync/internal/reconcile"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Continuously reconcile the configured spreadsheet source",
	Long:  "Watches the spreadsheet named by poll.source and runs a reconciliation pass whenever a newer extraction batch appears. Stops cleanly on SIGINT/SIGTERM.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Poll.Source == "" {
			return fmt.Errorf("poll.source is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := zap.L().Named("poll")

		client, err := newCRMClient()
		if err != nil {
			return err
		}

		archive, err := newArchive(ctx)
		if err != nil {
			return err
		}
		if archive != nil {
			defer archive.Close()
		}

		dir := directory.New()
		if err := dir.Load(ctx, client); err != nil {
			return err
		}

		engine := reconcile.NewEngine(client, dir, cfg, nil)
		source := ingest.NewXLSXSource(cfg.Poll.Source)
		poller := poll.New(source, engine, archive, cfg.Poll.Interval())

		log.Info("polling started",
			zap.String("source", cfg.Poll.Source),
			zap.Duration("interval", cfg.Poll.Interval()),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return poller.Run(gctx)
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}
