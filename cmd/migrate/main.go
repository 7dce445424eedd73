package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"MarginLedger/internal/observability"
	"MarginLedger/internal/persistence"

	"github.com/joho/godotenv"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|status>")
		fmt.Println("  up     - apply all pending migrations")
		fmt.Println("  down   - roll back the last migration")
		fmt.Println("  status - list applied versions")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  MARGIN_OPLOG_DRIVER  - postgres (default) or sqlite")
		fmt.Println("  MARGIN_POSTGRES_DSN  - Postgres connection string")
		fmt.Println("  MARGIN_SQLITE_PATH   - SQLite database file")
		os.Exit(1)
	}
	godotenv.Load()

	driver := os.Getenv("MARGIN_OPLOG_DRIVER")
	if driver == "" {
		driver = "postgres"
	}

	ctx := context.Background()
	store, err := persistence.Open(ctx, driver, os.Getenv("MARGIN_POSTGRES_DSN"), os.Getenv("MARGIN_SQLITE_PATH"))
	if err != nil {
		log.Fatalf("FATAL: open store: %v", err)
	}
	defer store.Close()

	migrator := persistence.NewMigrator(store, observability.NewLogger("migrate"))

	switch os.Args[1] {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			log.Fatalf("FATAL: migrate up: %v", err)
		}
		log.Printf("INFO: %d migrations applied (%s)", n, store.Dialect())

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatalf("FATAL: migrate down: %v", err)
		}
		log.Println("INFO: last migration rolled back")

	case "status":
		versions, err := migrator.Versions(ctx)
		if err != nil {
			log.Fatalf("FATAL: migrate status: %v", err)
		}
		fmt.Printf("%s: %s\n", store.Dialect(), strings.Join(versions, ", "))

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'status')\n", os.Args[1])
		os.Exit(1)
	}
}
