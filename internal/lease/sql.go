package lease

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"karuna.org/internal/ids"
)

// SQL stores leases as rows in the leases table. A row whose expires_at has
// passed may be taken over by any holder.
type SQL struct {
	db     *sql.DB
	holder string
	now    func() time.Time
}

// NewSQL builds a locker identified by a fresh holder id.
func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db, holder: ids.New(), now: time.Now}
}

const acquireSQL = `INSERT INTO leases (name, holder, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
WHERE leases.expires_at < $4 OR leases.holder = EXCLUDED.holder`

func (s *SQL) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, acquireSQL, name, s.holder, now.Add(ttl), now)
	if err != nil {
		return nil, fmt.Errorf("lease: acquire %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("lease: acquire %s: %w", name, err)
	}
	if n == 0 {
		return nil, ErrNotAcquired
	}
	return sqlLease{db: s.db, name: name, holder: s.holder}, nil
}

type sqlLease struct {
	db     *sql.DB
	name   string
	holder string
}

func (l sqlLease) Release(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM leases WHERE name = $1 AND holder = $2`, l.name, l.holder); err != nil {
		return fmt.Errorf("lease: release %s: %w", l.name, err)
	}
	return nil
}
