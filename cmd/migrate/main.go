// Package main applies the embedded SQL migrations with goose.
//
// Usage:
//
//	go run ./cmd/migrate            # up
//	go run ./cmd/migrate -cmd=status
//	go run ./cmd/migrate -cmd=down
//
// DATABASE_URL is read through the regular config loader, so SSM pointer
// variables work outside local.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"classbook/internal/config"
	"classbook/migrations"
)

// allowedCommands are the goose commands this binary exposes.
var allowedCommands = map[string]bool{
	"up":        true,
	"up-by-one": true,
	"down":      true,
	"status":    true,
	"version":   true,
}

func main() {
	cmd := flag.String("cmd", "up", "goose command: up, up-by-one, down, status, version")
	flag.Parse()

	if err := run(*cmd); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(command string) error {
	if !allowedCommands[command] {
		return fmt.Errorf("unsupported command %q", command)
	}

	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadMigrateConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB, err := sql.Open("pgx", cfg.Database.URL.Unmask())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	if err := migrate(ctx, sqlDB, command); err != nil {
		return err
	}
	logger.Info("migrations finished", "command", command, "environment", cfg.Environment)
	return nil
}

// migrate runs command against the embedded migrations.
func migrate(ctx context.Context, sqlDB *sql.DB, command string) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting dialect: %w", err)
	}
	if err := goose.RunContext(ctx, command, sqlDB, "."); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}
