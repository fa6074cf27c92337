// Package migration applies the ordered, change-log guarded schema setup of
// the carts collection and can roll it back.
package migration

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	ChangeLogCollection = "mongockChangeLog"
	LockCollection      = "mongockLock"
	CartsCollection     = "carts"

	Author = "emart-db-team"
)

type State string

const (
	StatePending  State = "PENDING"
	StateRunning  State = "RUNNING"
	StateExecuted State = "EXECUTED"
	StateFailed   State = "FAILED"
)

var (
	ErrLockHeld         = errors.New("migration lock held by another process")
	ErrUnknownMigration = errors.New("unknown migration")
	ErrOutOfOrder       = errors.New("earlier migration not executed")
)

// Migration is one named structural change. Execute must be safe to repeat
// against a store where the change is already present.
type Migration interface {
	ID() string
	Order() string
	Execute(ctx context.Context, db *mongo.Database) error
	Rollback(ctx context.Context, db *mongo.Database) error
}

// Record is a change-log entry. PENDING is never stored; it is the absence
// of a record.
type Record struct {
	ChangeID   string     `bson:"changeId"`
	Author     string     `bson:"author"`
	State      State      `bson:"state"`
	Order      string     `bson:"order"`
	Source     string     `bson:"source"`
	StartedAt  time.Time  `bson:"startedAt"`
	ExecutedAt *time.Time `bson:"executedAt,omitempty"`
	Error      string     `bson:"error,omitempty"`
}

// Default returns the cart store migrations in the order they must run.
func Default(log *zap.Logger) []Migration {
	return []Migration{
		CreateCartsCollection{},
		AddCartIndexes{Log: log},
		AddSchemaValidation{},
	}
}

// Mongo server error codes the migrations tolerate.
const (
	codeNamespaceNotFound     = 26
	codeIndexNotFound         = 27
	codeNamespaceExists       = 48
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

func hasErrorCode(err error, codes ...int) bool {
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	for _, c := range codes {
		if se.HasErrorCode(c) {
			return true
		}
	}
	return false
}
