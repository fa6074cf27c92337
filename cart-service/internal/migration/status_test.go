package migration

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReport_Print(t *testing.T) {
	executed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lockedAt := executed.Add(time.Hour)
	expires := lockedAt.Add(LockTTL)

	rep := &Report{
		Migrations: []MigrationStatus{
			{ChangeID: "CART-V001_CreateCartsCollection", State: StateExecuted, ExecutedAt: &executed},
			{ChangeID: "CART-V002_AddCartIndexes", State: StateFailed, ExecutedAt: &executed, Error: "boom"},
			{ChangeID: "CART-V003_AddSchemaValidation", State: StatePending},
		},
		Collections: []string{"mongockChangeLog"},
		Lock:        LockStatus{Present: true, Locked: true, LockedAt: &lockedAt, ExpiresAt: &expires, Owner: "migrate"},
		GeneratedAt: expires.Add(time.Minute),
	}

	var sb strings.Builder
	rep.Print(&sb)
	out := sb.String()

	assert.Contains(t, out, "[EXECUTED] CART-V001_CreateCartsCollection  2026-03-01T10:00:00Z")
	assert.Contains(t, out, "[FAILED]   CART-V002_AddCartIndexes  2026-03-01T10:00:00Z  error: boom")
	assert.Contains(t, out, "[PENDING]  CART-V003_AddSchemaValidation")
	assert.Contains(t, out, "Collection carts does not exist")
	assert.Contains(t, out, `Lock: HELD by "migrate"`)
	assert.Contains(t, out, "past its expiry")
	assert.True(t, rep.Pending())
}

func TestReport_NotPending(t *testing.T) {
	rep := &Report{Migrations: []MigrationStatus{{State: StateExecuted}, {State: StateExecuted}}}
	assert.False(t, rep.Pending())
}

func TestLockStatus_Expired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, LockStatus{Locked: true, ExpiresAt: &past}.Expired(now))
	assert.False(t, LockStatus{Locked: true, ExpiresAt: &future}.Expired(now))
	assert.False(t, LockStatus{Locked: false, ExpiresAt: &past}.Expired(now))
}

func TestDefaultOrder(t *testing.T) {
	ms := Default(nil)
	var orders []string
	for _, m := range ms {
		orders = append(orders, m.Order())
	}
	assert.Equal(t, []string{"001", "002", "003"}, orders)
}
