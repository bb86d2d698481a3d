package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SystemCRM24/tendersync/internal/config"
	"github.com/SystemCRM24/tendersync/internal/resilience"
	"github.com/SystemCRM24/tendersync/internal/store"
	"github.com/SystemCRM24/tendersync/pkg/amocrm"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tendersync",
	Short: "Reconciles purchase-win records against the CRM",
	Long:  "Reads government-tender winner spreadsheets and idempotently creates or updates CRM companies, leads, notes, and follow-up tasks.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newCRMClient builds the rate-limited CRM client from config.
func newCRMClient() (amocrm.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []amocrm.Option{
		amocrm.WithRateLimit(cfg.CRM.RPS),
		amocrm.WithHTTPClient(&http.Client{Timeout: cfg.CRM.Timeout()}),
	}
	if cfg.CRM.BaseURL != "" {
		opts = append(opts, amocrm.WithBaseURL(cfg.CRM.BaseURL))
	}
	if cfg.CRM.RetryEnabled {
		retryCfg := resilience.DefaultRetryConfig()
		retryCfg.MaxAttempts = cfg.CRM.RetryMax
		retryCfg.OnRetry = resilience.RetryLogger("amocrm", "request")
		opts = append(opts, amocrm.WithRetry(retryCfg))
	}

	return amocrm.NewClient(cfg.CRM.Subdomain, cfg.CRM.Token, opts...), nil
}

// newArchive opens the configured record archive, or returns nil when
// archiving is disabled.
func newArchive(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
