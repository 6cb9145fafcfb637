// SPDX-License-Identifier: AGPL-3.0-or-later

package stopgap

import (
	"context"
	"database/sql"
	"fmt"
)

// acquireDeploymentLock takes a transaction-scoped Postgres advisory lock
// keyed by HashLockKey(env), serializing concurrent deploy/rollback attempts
// against the same environment. The lock releases automatically at the
// transaction's commit or rollback, so every caller must run this inside a
// *sql.Tx that spans the whole operation it guards.
func acquireDeploymentLock(ctx context.Context, tx *sql.Tx, env string) error {
	key := HashLockKey(env)
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", key); err != nil {
		return fmt.Errorf("failed to acquire deployment lock for env %s: %w", env, err)
	}
	return nil
}
