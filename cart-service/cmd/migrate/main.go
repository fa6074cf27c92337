// Command migrate applies the cart store migrations.
//
//	migrate <connection-string> [changeId]
//
// With a changeId only that migration is applied, and only if every earlier
// one is already executed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/emart/emart-cart/cart-service/internal/migration"
	"github.com/emart/emart-cart/pkg/logger"
)

func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Fprintln(os.Stderr, "usage: migrate <connection-string> [changeId]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.Must(os.Getenv("APP_ENV"))
	defer func() { _ = log.Sync() }()

	runner, closeFn, err := migration.Open(ctx, os.Args[1], "migrate-cli", log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	if len(os.Args) == 3 {
		err = runner.RunOne(ctx, os.Args[2])
	} else {
		err = runner.Run(ctx)
	}

	switch {
	case errors.Is(err, migration.ErrLockHeld):
		fmt.Println("✗ another migration run holds the lock; check migration-status")
	case errors.Is(err, migration.ErrUnknownMigration):
		fmt.Printf("✗ %v\n", err)
		for _, m := range runner.Migrations() {
			fmt.Printf("    %s\n", m.ID())
		}
	case err != nil:
		fmt.Printf("✗ migration failed: %v\n", err)
	default:
		fmt.Println("✓ cart store is up to date")
	}

	if report, serr := runner.Status(ctx); serr == nil {
		fmt.Println()
		report.Print(os.Stdout)
	}

	if err != nil {
		closeFn()
		os.Exit(1)
	}
}
