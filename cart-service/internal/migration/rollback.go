package migration

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

type RollbackStep struct {
	Name string
	Err  error
}

// Rollback undoes every migration in reverse order, clears the change log and
// releases the lock. Each step runs even if an earlier one failed; the joined
// error names every step that did not succeed.
func (r *Runner) Rollback(ctx context.Context) ([]RollbackStep, error) {
	r.log.Warn("rolling back all cart store migrations")

	var steps []RollbackStep
	step := func(name string, fn func() error) {
		err := fn()
		if err != nil {
			r.log.Error("rollback step failed", zap.String("step", name), zap.Error(err))
		} else {
			r.log.Info("rollback step done", zap.String("step", name))
		}
		steps = append(steps, RollbackStep{Name: name, Err: err})
	}

	for i := len(r.migrations) - 1; i >= 0; i-- {
		m := r.migrations[i]
		step("rollback "+m.ID(), func() error { return m.Rollback(ctx, r.db) })
	}

	step("clear change log", func() error {
		_, err := r.db.Collection(ChangeLogCollection).DeleteMany(ctx, bson.M{})
		if err != nil {
			return fmt.Errorf("clear change log: %w", err)
		}
		return nil
	})

	step("release lock", func() error {
		_, err := r.releaseLock(ctx)
		return err
	})

	var errs []error
	for _, s := range steps {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, s.Err))
		}
	}
	return steps, errors.Join(errs...)
}
