package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	lockID = "migration-lock"
	// LockTTL only sets expiresAt for operators; an expired lock is not taken over.
	LockTTL = 5 * time.Minute
)

type LockStatus struct {
	Present   bool       `bson:"-"`
	Locked    bool       `bson:"locked"`
	LockedAt  *time.Time `bson:"lockedAt,omitempty"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty"`
	Owner     string     `bson:"owner,omitempty"`
}

// Expired reports a held lock whose expiresAt has passed, usually the sign
// of a runner that crashed while holding it.
func (l LockStatus) Expired(now time.Time) bool {
	return l.Locked && l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

func (r *Runner) acquireLock(ctx context.Context) error {
	now := r.now()
	filter := bson.M{"_id": lockID, "locked": bson.M{"$ne": true}}
	update := bson.M{"$set": bson.M{
		"locked":    true,
		"lockedAt":  now,
		"expiresAt": now.Add(LockTTL),
		"owner":     r.source,
	}}

	// A held lock does not match the filter, so the upsert collides on _id.
	_, err := r.db.Collection(LockCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return ErrLockHeld
	}
	if err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	return nil
}

// releaseLock runs even when ctx is already cancelled.
func (r *Runner) releaseLock(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	res, err := r.db.Collection(LockCollection).UpdateOne(ctx,
		bson.M{"_id": lockID},
		bson.M{
			"$set":   bson.M{"locked": false},
			"$unset": bson.M{"lockedAt": "", "expiresAt": "", "owner": ""},
		})
	if err != nil {
		return false, fmt.Errorf("release migration lock: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// ForceUnlock clears the lock regardless of who holds it. It reports whether
// the lock was held.
func (r *Runner) ForceUnlock(ctx context.Context) (bool, error) {
	st, err := r.LockStatus(ctx)
	if err != nil {
		return false, err
	}
	if !st.Locked {
		return false, nil
	}
	if _, err := r.releaseLock(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Runner) LockStatus(ctx context.Context) (LockStatus, error) {
	var st LockStatus
	err := r.db.Collection(LockCollection).FindOne(ctx, bson.M{"_id": lockID}).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return LockStatus{}, nil
	}
	if err != nil {
		return LockStatus{}, fmt.Errorf("read migration lock: %w", err)
	}
	st.Present = true
	return st, nil
}
