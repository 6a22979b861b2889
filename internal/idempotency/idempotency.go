// Package idempotency implements the idempotency store (C5): clients that
// retry a write operation with the same key get back the original result
// instead of a duplicate side effect. Concurrent first attempts race on a
// Postgres unique constraint — the loser reads the winner's row rather than
// retrying the insert, per spec.
package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/opsgateway/issuegateway/internal/apierrors"
	"github.com/opsgateway/issuegateway/internal/store"
)

// Status is the lifecycle state of a stored idempotency record.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is one stored idempotency-key row.
type Record struct {
	ID        string          `db:"id"`
	TenantID  string          `db:"tenant_id"`
	Key       string          `db:"key"`
	Operation string          `db:"operation"`
	Result    json.RawMessage `db:"result"`
	Status    Status          `db:"status"`
	Error     json.RawMessage `db:"error"`
	RequestID *string         `db:"request_id"`
	ExpiresAt time.Time       `db:"expires_at"`
	CreatedAt time.Time       `db:"created_at"`
}

// postgresUniqueViolation is the SQLSTATE Postgres returns for a unique
// constraint violation.
const postgresUniqueViolation = "23505"

// Store is the C5 idempotency store, backed by internal/store's
// connection pool.
type Store struct {
	db  *store.DB
	ttl time.Duration
}

// New builds a Store with the given default TTL for newly claimed keys.
func New(db *store.DB, ttlHours int) *Store {
	return &Store{db: db, ttl: time.Duration(ttlHours) * time.Hour}
}

// CheckAndClaim attempts to atomically claim (tenantID, operation, key) for
// a new write operation. If no record exists, it inserts a "processing"
// placeholder and returns claimed=true so the caller should proceed with the
// underlying operation and call Store when done. An expired record that
// CleanupExpired has not deleted yet still holds the unique key: the insert
// fails and claimed is false with a nil Record.
//
// If a record already exists and is unexpired, claimed is false and the
// stored Record is returned: a "completed" record should be returned to the
// client as-is; a "failed" record should surface its stored error; a
// "processing" record means a concurrent request is still in flight and the
// caller should surface apierrors.Conflict (see DESIGN.md's Open Question
// decision).
func (s *Store) CheckAndClaim(ctx context.Context, tenantID, operation, key string, requestID string) (claimed bool, existing *Record, err error) {
	now := time.Now().UTC()

	existing, err = s.find(ctx, tenantID, operation, key, now)
	if err != nil {
		return false, nil, err
	}
	if existing != nil {
		return false, existing, nil
	}

	id := uuid.NewString()
	expiresAt := now.Add(s.ttl)

	const q = `
		INSERT INTO idempotency_keys (id, tenant_id, key, operation, result, status, expires_at, request_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '{}', $5, $6, $7, $8, $8)
	`
	_, err = s.db.ExecContext(ctx, q, id, tenantID, key, operation, StatusProcessing, expiresAt, requestID, now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == postgresUniqueViolation {
			// Lost the race: someone else claimed it between our find and
			// our insert. Read their row instead of retrying.
			winner, ferr := s.find(ctx, tenantID, operation, key, now)
			if ferr != nil {
				return false, nil, ferr
			}
			return false, winner, nil
		}
		return false, nil, fmt.Errorf("claiming idempotency key: %w", err)
	}

	return true, nil, nil
}

func (s *Store) find(ctx context.Context, tenantID, operation, key string, now time.Time) (*Record, error) {
	const q = `
		SELECT id, tenant_id, key, operation, result, status, error, request_id, expires_at, created_at
		FROM idempotency_keys
		WHERE tenant_id = $1 AND operation = $2 AND key = $3 AND expires_at > $4
	`
	var rec Record
	err := s.db.GetContext(ctx, &rec, q, tenantID, operation, key, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up idempotency key: %w", err)
	}
	return &rec, nil
}

// Store records the final outcome of a claimed operation.
func (s *Store) Store(ctx context.Context, tenantID, operation, key string, result json.RawMessage, opErr error) error {
	status := StatusCompleted
	var errJSON json.RawMessage
	if opErr != nil {
		status = StatusFailed
		if apiErr, ok := apierrors.As(opErr); ok {
			errJSON, _ = json.Marshal(map[string]any{"kind": apiErr.Kind, "message": apiErr.Message})
		} else {
			errJSON, _ = json.Marshal(map[string]any{"message": opErr.Error()})
		}
	}
	if result == nil {
		result = json.RawMessage(`{}`)
	}

	const q = `
		UPDATE idempotency_keys
		SET result = $1, status = $2, error = $3, updated_at = $4
		WHERE tenant_id = $5 AND operation = $6 AND key = $7
	`
	_, err := s.db.ExecContext(ctx, q, result, status, errJSON, time.Now().UTC(), tenantID, operation, key)
	if err != nil {
		return fmt.Errorf("storing idempotency result: %w", err)
	}
	return nil
}

// CleanupExpired deletes every expired record and returns how many rows
// were removed. Intended to be run periodically by internal/scheduler.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	const q = `DELETE FROM idempotency_keys WHERE expires_at <= $1`
	res, err := s.db.ExecContext(ctx, q, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}
