package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type Runner struct {
	db         *mongo.Database
	log        *zap.Logger
	migrations []Migration
	source     string
	now        func() time.Time
}

type Option func(*Runner)

// WithSource names the tool that applies the migrations in the change log.
func WithSource(source string) Option {
	return func(r *Runner) { r.source = source }
}

func WithMigrations(ms ...Migration) Option {
	return func(r *Runner) { r.migrations = ms }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func NewRunner(db *mongo.Database, log *zap.Logger, opts ...Option) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runner{
		db:     db,
		log:    log,
		source: "cart-service",
		now:    func() time.Time { return time.Now().UTC() },
	}
	r.migrations = Default(log)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Migrations() []Migration {
	return r.migrations
}

// Run applies every migration not yet executed, in order. It stops at the
// first failure; the failed step is recorded and later steps stay pending.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("migration run starting", zap.Int("migrations", len(r.migrations)))

	err := r.withLock(ctx, func() error {
		for _, m := range r.migrations {
			if err := r.apply(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info("all migrations completed")
	return nil
}

// RunOne applies a single migration. Every migration ordered before it must
// already be executed.
func (r *Runner) RunOne(ctx context.Context, changeID string) error {
	pos := -1
	for i, m := range r.migrations {
		if m.ID() == changeID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownMigration, changeID)
	}

	return r.withLock(ctx, func() error {
		for _, prev := range r.migrations[:pos] {
			rec, err := r.record(ctx, prev.ID())
			if err != nil {
				return err
			}
			if rec == nil || rec.State != StateExecuted {
				return fmt.Errorf("%w: %s", ErrOutOfOrder, prev.ID())
			}
		}
		return r.apply(ctx, r.migrations[pos])
	})
}

func (r *Runner) withLock(ctx context.Context, fn func() error) error {
	if err := r.acquireLock(ctx); err != nil {
		if errors.Is(err, ErrLockHeld) {
			r.log.Error("migration lock is held, aborting; clear it with migration-unlock if no runner is active")
		}
		return err
	}
	defer func() {
		if _, err := r.releaseLock(ctx); err != nil {
			r.log.Error("failed to release migration lock", zap.Error(err))
		}
	}()

	return fn()
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	log := r.log.With(zap.String("change_id", m.ID()), zap.String("order", m.Order()))

	rec, err := r.record(ctx, m.ID())
	if err != nil {
		return err
	}
	if rec != nil {
		switch rec.State {
		case StateExecuted:
			log.Info("skipping already executed migration")
			return nil
		case StateFailed:
			log.Warn("retrying previously failed migration", zap.String("previous_error", rec.Error))
		case StateRunning:
			log.Warn("previous attempt did not finish, retrying")
		}
	}

	if err := r.markRunning(ctx, m); err != nil {
		return err
	}

	log.Info("executing migration")
	if errExec := m.Execute(ctx, r.db); errExec != nil {
		log.Error("migration failed", zap.Error(errExec))
		if errMark := r.markFinished(context.WithoutCancel(ctx), m, StateFailed, errExec.Error()); errMark != nil {
			log.Error("failed to record migration failure", zap.Error(errMark))
		}
		return fmt.Errorf("migration %s failed: %w", m.ID(), errExec)
	}

	if err := r.markFinished(ctx, m, StateExecuted, ""); err != nil {
		return err
	}
	log.Info("migration executed")
	return nil
}

func (r *Runner) markRunning(ctx context.Context, m Migration) error {
	update := bson.M{
		"$set": bson.M{
			"changeId":  m.ID(),
			"author":    Author,
			"order":     m.Order(),
			"source":    r.source,
			"state":     StateRunning,
			"startedAt": r.now(),
		},
		"$unset": bson.M{"executedAt": "", "error": ""},
	}
	_, err := r.db.Collection(ChangeLogCollection).
		UpdateOne(ctx, bson.M{"changeId": m.ID()}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("record %s running: %w", m.ID(), err)
	}
	return nil
}

func (r *Runner) markFinished(ctx context.Context, m Migration, state State, errMsg string) error {
	set := bson.M{
		"state":      state,
		"executedAt": r.now(),
	}
	if errMsg != "" {
		set["error"] = errMsg
	}
	_, err := r.db.Collection(ChangeLogCollection).
		UpdateOne(ctx, bson.M{"changeId": m.ID()}, bson.M{"$set": set}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("record %s %s: %w", m.ID(), state, err)
	}
	return nil
}

func (r *Runner) record(ctx context.Context, changeID string) (*Record, error) {
	var rec Record
	err := r.db.Collection(ChangeLogCollection).FindOne(ctx, bson.M{"changeId": changeID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read change log for %s: %w", changeID, err)
	}
	return &rec, nil
}

// Records returns the change log keyed by change id.
func (r *Runner) Records(ctx context.Context) (map[string]Record, error) {
	cursor, err := r.db.Collection(ChangeLogCollection).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("read change log: %w", err)
	}
	var recs []Record
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("decode change log: %w", err)
	}

	out := make(map[string]Record, len(recs))
	for _, rec := range recs {
		out[rec.ChangeID] = rec
	}
	return out, nil
}
