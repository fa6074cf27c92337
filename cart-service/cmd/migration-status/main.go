// Command migration-status reports each cart store migration as EXECUTED,
// FAILED or PENDING, along with the carts collection and the lock.
//
//	migration-status <connection-string>
//
// It exits 1 when any migration is not executed.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/emart/emart-cart/cart-service/internal/migration"
	"github.com/emart/emart-cart/pkg/logger"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: migration-status <connection-string>")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log := logger.Must(os.Getenv("APP_ENV"))
	runner, closeFn, err := migration.Open(ctx, os.Args[1], "migration-status", log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	report, err := runner.Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		closeFn()
		os.Exit(1)
	}
	report.Print(os.Stdout)

	if report.Pending() {
		closeFn()
		os.Exit(1)
	}
}
