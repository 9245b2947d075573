// Command migrate applies pending SQL migrations and exits. Deployments run
// it as a pre-start step; the service also migrates on boot, so this exists
// for operators who want the schema change separate from the rollout.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"ammcore/internal/config"
	"ammcore/internal/observability"
	"ammcore/internal/persistence"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := observability.NewLogger(cfg.Log.Level, cfg.Log.Pretty)

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	if err := persistence.Migrate(ctx, db, cfg.Postgres.MigrationsDir, log); err != nil {
		return err
	}
	log.Info().Msg("migrations up to date")
	return nil
}
