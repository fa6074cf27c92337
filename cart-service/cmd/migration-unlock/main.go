// Command migration-unlock clears the migration lock left behind by a runner
// that died while holding it.
//
//	migration-unlock <connection-string>
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
		fmt.Fprintln(os.Stderr, "usage: migration-unlock <connection-string>")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log := logger.Must(os.Getenv("APP_ENV"))
	runner, closeFn, err := migration.Open(ctx, os.Args[1], "migration-unlock", log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	st, err := runner.LockStatus(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		closeFn()
		os.Exit(1)
	}
	if st.Locked {
		fmt.Printf("lock held by %q since %v\n", st.Owner, st.LockedAt)
	}

	released, err := runner.ForceUnlock(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		closeFn()
		os.Exit(1)
	case released:
		fmt.Println("✓ lock released")
	default:
		fmt.Println("lock was not held")
	}
}
