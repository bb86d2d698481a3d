package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SystemCRM24/tendersync/internal/directory"
	"github.com/SystemCRM24/tendersync/internal/ingest"
	"github.com/SystemCRM24/tendersync/internal/reconcile"
)

var syncCmd = &cobra.Command{
	Use:   "sync <winners.xlsx>",
	Short: "Run a single reconciliation pass over a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().Named("sync")

		client, err := newCRMClient()
		if err != nil {
			return err
		}

		source := ingest.NewXLSXSource(args[0])
		records, extractedAt, err := source.Load(ctx)
		if err != nil {
			return err
		}
		log.Info("batch loaded",
			zap.String("path", args[0]),
			zap.Int("records", len(records)),
			zap.Time("extracted_at", extractedAt),
		)

		dir := directory.New()
		if err := dir.Load(ctx, client); err != nil {
			return err
		}

		engine := reconcile.NewEngine(client, dir, cfg, nil)
		summary, err := engine.ProcessBatch(ctx, records)
		if err != nil {
			return err
		}

		log.Info("pass complete",
			zap.Int("processed", summary.Processed),
			zap.Int("skipped", summary.Skipped),
			zap.Int("leads_created", summary.LeadsCreated),
			zap.Int("leads_updated", summary.LeadsUpdated),
			zap.Int("notes_added", summary.NotesAdded),
			zap.Int("tasks", summary.Tasks),
			zap.Int("failed", summary.Failed),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
