package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/consolidation"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

var consolidateUser string

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run a one-off consolidation pass for a user",
	Long: `Run the merge, rule-extraction, and prune phases once against the
configured backing store and print the phase counts as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsolidate()
	},
}

func init() {
	consolidateCmd.Flags().StringVar(&consolidateUser, "user", "", "user ID to consolidate (required)")
	_ = consolidateCmd.MarkFlagRequired("user")
}

func runConsolidate() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("consolidate requires a configured postgres DSN")
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := store.NewPostgresPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	facts := store.NewPostgresFactualStore(pool, logger)
	experiences := store.NewPostgresExperientialStore(pool, logger)

	engine, err := consolidation.NewEngine(facts, experiences, logger)
	if err != nil {
		return err
	}

	result, err := engine.Consolidate(ctx, consolidateUser)
	if err != nil {
		logger.Error("consolidation failed", zap.String("user_id", consolidateUser), zap.Error(err))
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
