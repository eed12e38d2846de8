package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/configmat/configmat/internal/domain"
)

const auditColumns = `id, seq, tenant_id, actor_id, action, target, details, hash, previous_hash, hash_version, created_at`

// AppendEntry appends one hash-chained entry for the tenant. The tenant's
// chain-head pointer row is locked for the duration of the transaction, so
// two concurrent appends cannot read the same previous hash.
func (r *Repository) AppendEntry(ctx context.Context, tenantID string, actorID *string, action, target string, details json.RawMessage) (*domain.AuditEntry, error) {
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const ensureHead = `INSERT INTO audit_chain_heads (tenant_id, head_hash)
		VALUES ($1, $2) ON CONFLICT (tenant_id) DO NOTHING`
	if _, err := tx.Exec(ctx, ensureHead, tenantID, domain.GenesisHash); err != nil {
		return nil, mapError(err)
	}

	var previousHash string
	const lockHead = `SELECT head_hash FROM audit_chain_heads WHERE tenant_id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, lockHead, tenantID).Scan(&previousHash); err != nil {
		return nil, mapError(err)
	}

	entry := &domain.AuditEntry{
		TenantID:     tenantID,
		ActorID:      actorID,
		Action:       action,
		Target:       target,
		Details:      details,
		PreviousHash: previousHash,
		Hash:         domain.ComputeEntryHash(previousHash, action, target, details),
		HashVersion:  domain.HashVersion,
	}

	const insert = `INSERT INTO audit_entries (id, tenant_id, actor_id, action, target, details, hash, previous_hash, hash_version, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, seq, created_at`
	if err := tx.QueryRow(ctx, insert,
		tenantID,
		stringPtrToNil(actorID),
		action,
		target,
		[]byte(details),
		entry.Hash,
		entry.PreviousHash,
		entry.HashVersion,
	).Scan(&entry.ID, &entry.Seq, &entry.CreatedAt); err != nil {
		return nil, mapError(err)
	}

	const advanceHead = `UPDATE audit_chain_heads SET head_hash = $2, updated_at = NOW() WHERE tenant_id = $1`
	if _, err := tx.Exec(ctx, advanceHead, tenantID, entry.Hash); err != nil {
		return nil, mapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListEntries returns recent entries for a tenant, newest first.
func (r *Repository) ListEntries(ctx context.Context, tenantID string, limit, offset int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT ` + auditColumns + ` FROM audit_entries
		WHERE tenant_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`
	return r.queryEntries(ctx, query, tenantID, limit, offset)
}

// ChainEntries returns the tenant's full chain in creation order for
// verification.
func (r *Repository) ChainEntries(ctx context.Context, tenantID string) ([]domain.AuditEntry, error) {
	const query = `SELECT ` + auditColumns + ` FROM audit_entries
		WHERE tenant_id = $1 ORDER BY seq ASC`
	return r.queryEntries(ctx, query, tenantID)
}

func (r *Repository) queryEntries(ctx context.Context, query string, args ...any) ([]domain.AuditEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var (
			entry     domain.AuditEntry
			actorID   sql.NullString
			details   []byte
			createdAt time.Time
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.Seq,
			&entry.TenantID,
			&actorID,
			&entry.Action,
			&entry.Target,
			&details,
			&entry.Hash,
			&entry.PreviousHash,
			&entry.HashVersion,
			&createdAt,
		); err != nil {
			return nil, err
		}
		if actorID.Valid {
			value := actorID.String
			entry.ActorID = &value
		}
		if len(details) > 0 {
			entry.Details = append(json.RawMessage(nil), details...)
		}
		entry.CreatedAt = createdAt
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
