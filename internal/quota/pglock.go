package quota

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresLocker acquires pg_advisory_xact_lock on a *sql.Tx. It must be
// constructed with a transaction, not a bare *sql.DB, so the lock is
// automatically released on commit or rollback.
type PostgresLocker struct {
	Tx *sql.Tx
}

// LockAdvisory blocks until the advisory lock is acquired for the lifetime
// of the enclosing transaction.
func (p PostgresLocker) LockAdvisory(ctx context.Context, key int64) error {
	if p.Tx == nil {
		return fmt.Errorf("quota: PostgresLocker requires a transaction")
	}
	_, err := p.Tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", key)
	return err
}
