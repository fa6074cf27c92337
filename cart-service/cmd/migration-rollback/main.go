// Command migration-rollback undoes every cart store migration: it drops the
// indexes and the validator, drops the carts collection with all its data,
// clears the change log and releases the lock.
//
//	migration-rollback <connection-string>
//
// Emergency use only. There is no confirmation and no dry run.
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
		fmt.Fprintln(os.Stderr, "usage: migration-rollback <connection-string>")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log := logger.Must(os.Getenv("APP_ENV"))
	runner, closeFn, err := migration.Open(ctx, os.Args[1], "migration-rollback", log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	fmt.Println("⚠ rolling back all cart store migrations")
	steps, err := runner.Rollback(ctx)
	for _, s := range steps {
		if s.Err != nil {
			fmt.Printf("  ✗ %s: %v\n", s.Name, s.Err)
			continue
		}
		fmt.Printf("  ✓ %s\n", s.Name)
	}

	if err != nil {
		fmt.Println("✗ rollback finished with errors")
		closeFn()
		os.Exit(1)
	}
	fmt.Println("✓ rollback complete")
}
