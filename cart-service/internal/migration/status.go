package migration

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

type MigrationStatus struct {
	ChangeID   string
	Order      string
	State      State
	ExecutedAt *time.Time
	Error      string
}

type Report struct {
	Migrations  []MigrationStatus
	Collections []string
	CartIndexes []string
	CartCount   int64
	Lock        LockStatus
	GeneratedAt time.Time
}

func (r *Runner) Status(ctx context.Context) (*Report, error) {
	recs, err := r.Records(ctx)
	if err != nil {
		return nil, err
	}

	rep := &Report{GeneratedAt: r.now()}
	for _, m := range r.migrations {
		st := MigrationStatus{ChangeID: m.ID(), Order: m.Order(), State: StatePending}
		if rec, ok := recs[m.ID()]; ok {
			st.State = rec.State
			st.ExecutedAt = rec.ExecutedAt
			st.Error = rec.Error
		}
		rep.Migrations = append(rep.Migrations, st)
	}

	rep.Collections, err = r.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	if contains(rep.Collections, CartsCollection) {
		carts := r.db.Collection(CartsCollection)
		specs, err := carts.Indexes().ListSpecifications(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s indexes: %w", CartsCollection, err)
		}
		for _, s := range specs {
			rep.CartIndexes = append(rep.CartIndexes, s.Name)
		}
		rep.CartCount, err = carts.CountDocuments(ctx, bson.D{})
		if err != nil {
			return nil, fmt.Errorf("count carts: %w", err)
		}
	}

	rep.Lock, err = r.LockStatus(ctx)
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// Pending reports whether any migration has not executed yet.
func (rep *Report) Pending() bool {
	for _, m := range rep.Migrations {
		if m.State != StateExecuted {
			return true
		}
	}
	return false
}

func (rep *Report) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Cart store migration status ===")
	for _, m := range rep.Migrations {
		switch m.State {
		case StateExecuted:
			fmt.Fprintf(w, "  [EXECUTED] %s  %s\n", m.ChangeID, formatTime(m.ExecutedAt))
		case StateFailed:
			fmt.Fprintf(w, "  [FAILED]   %s  %s  error: %s\n", m.ChangeID, formatTime(m.ExecutedAt), m.Error)
		case StateRunning:
			fmt.Fprintf(w, "  [RUNNING]  %s  (unfinished attempt)\n", m.ChangeID)
		default:
			fmt.Fprintf(w, "  [PENDING]  %s\n", m.ChangeID)
		}
	}

	fmt.Fprintf(w, "\nCollections: %v\n", rep.Collections)
	if contains(rep.Collections, CartsCollection) {
		fmt.Fprintf(w, "Indexes on %s: %v\n", CartsCollection, rep.CartIndexes)
		fmt.Fprintf(w, "Total carts: %d\n", rep.CartCount)
	} else {
		fmt.Fprintf(w, "Collection %s does not exist\n", CartsCollection)
	}

	switch {
	case !rep.Lock.Present:
		fmt.Fprintln(w, "Lock: no lock document")
	case rep.Lock.Locked:
		fmt.Fprintf(w, "Lock: HELD by %q since %s (expires %s)\n",
			rep.Lock.Owner, formatTime(rep.Lock.LockedAt), formatTime(rep.Lock.ExpiresAt))
		if rep.Lock.Expired(rep.GeneratedAt) {
			fmt.Fprintln(w, "  lock is past its expiry; if no runner is active clear it with migration-unlock")
		}
	default:
		fmt.Fprintln(w, "Lock: released")
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
