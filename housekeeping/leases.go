package housekeeping

import (
	"context"
	"database/sql"
	"time"

	"github.com/quarters-hq/quarters/errors"
)

// LeaseStore is a SQL-backed LeaseSource.
type LeaseStore struct {
	db *sql.DB
}

// NewLeaseStore creates the store and its schema.
func NewLeaseStore(db *sql.DB) (*LeaseStore, error) {
	store := &LeaseStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *LeaseStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leases (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		property_name TEXT NOT NULL,
		resident_user_id TEXT NOT NULL,
		ends_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_leases_ends_at ON leases(ends_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, "failed to initialize leases schema")
	}
	return nil
}

// Upsert inserts or replaces a lease record.
func (s *LeaseStore) Upsert(ctx context.Context, lease Lease) error {
	query := `
	INSERT INTO leases (id, tenant_id, property_name, resident_user_id, ends_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		tenant_id = excluded.tenant_id,
		property_name = excluded.property_name,
		resident_user_id = excluded.resident_user_id,
		ends_at = excluded.ends_at
	`
	_, err := s.db.ExecContext(ctx, query,
		lease.ID, lease.TenantID, lease.PropertyName, lease.ResidentUserID, lease.EndsAt)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert lease %s", lease.ID)
	}
	return nil
}

// ExpiringWithin implements LeaseSource. Leases that already ended are
// excluded; those are a different workflow.
func (s *LeaseStore) ExpiringWithin(ctx context.Context, window time.Duration) ([]Lease, error) {
	now := time.Now()
	query := `
	SELECT id, tenant_id, property_name, resident_user_id, ends_at
	FROM leases
	WHERE ends_at > ? AND ends_at <= ?
	ORDER BY ends_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, now, now.Add(window))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query expiring leases")
	}
	defer rows.Close()

	var leases []Lease
	for rows.Next() {
		var lease Lease
		if err := rows.Scan(&lease.ID, &lease.TenantID, &lease.PropertyName,
			&lease.ResidentUserID, &lease.EndsAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan lease")
		}
		leases = append(leases, lease)
	}
	return leases, rows.Err()
}
