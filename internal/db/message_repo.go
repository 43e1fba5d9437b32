package db

import (
	"context"
	"fmt"
	"time"

	"alertstream/internal/types"
)

const messageColumns = `id, message, created_by, created_at, site_uuid, host, host_site_id,
	host_sensor_id, trigger_type, target_channels, site_lat, site_long, tags`

// MessageRepository provides data access for the message table.
//
// Rows move pending -> processing (claimed with a token) -> sent, duplicate
// or failed. Every transition out of processing is conditional on the claim
// token, so a worker whose claim was reset cannot overwrite a newer outcome.
type MessageRepository struct {
	db DBTX
}

// NewMessageRepository creates a repository backed by a pool or transaction.
func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

// Insert stores a new pending row and sets m.ID.
func (r *MessageRepository) Insert(ctx context.Context, m *types.MessageRecord) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO message
		 (message, created_by, created_at, site_uuid, host, host_site_id, host_sensor_id,
		  trigger_type, target_channels, site_lat, site_long, tags, status)
		 VALUES ($1, $2, COALESCE($3, NOW()), $4, $5, $6, $7, $8, $9, $10, $11, $12, 'pending')
		 RETURNING id, created_at`,
		m.Message,
		nilIfEmpty(m.CreatedBy),
		nilIfZeroTime(m.CreatedAt),
		nilIfEmpty(m.SiteUUID),
		nilIfEmpty(m.Host),
		nilIfEmpty(m.HostSiteID),
		nilIfEmpty(m.HostSensorID),
		nilIfEmpty(m.TriggerType),
		m.TargetChannels,
		m.SiteLat,
		m.SiteLong,
		m.Tags,
	)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert message", err)
	}
	m.Status = types.MessagePending
	return nil
}

// ClaimPending marks up to limit pending rows as processing under token and
// returns them oldest first. Rows locked by a concurrent claimer are skipped.
func (r *MessageRepository) ClaimPending(ctx context.Context, token string, limit int) ([]*types.MessageRecord, error) {
	if limit <= 0 {
		limit = 25
	}
	now := time.Now().UTC()

	rows, err := r.db.Query(ctx,
		`UPDATE message SET status = 'processing', claim_token = $1, claimed_at = $2
		 WHERE id IN (
			SELECT id FROM message
			WHERE status = 'pending'
			ORDER BY created_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+messageColumns,
		token,
		now,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim pending messages", err)
	}
	defer rows.Close()

	var out []*types.MessageRecord
	for rows.Next() {
		var m types.MessageRecord
		var createdBy, siteUUID, host, siteID, sensorID, trigger *string
		if err := rows.Scan(
			&m.ID, &m.Message, &createdBy, &m.CreatedAt, &siteUUID, &host, &siteID,
			&sensorID, &trigger, &m.TargetChannels, &m.SiteLat, &m.SiteLong, &m.Tags,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan message row", err)
		}
		m.CreatedBy = deref(createdBy)
		m.SiteUUID = deref(siteUUID)
		m.Host = deref(host)
		m.HostSiteID = deref(siteID)
		m.HostSensorID = deref(sensorID)
		m.TriggerType = deref(trigger)
		m.Status = types.MessageProcessing
		m.ClaimToken = token
		m.ClaimedAt = &now
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate message rows", err)
	}
	return out, nil
}

// MarkTerminal records the outcome of a claimed row.
func (r *MessageRepository) MarkTerminal(ctx context.Context, id int64, token string, status types.MessageStatus, reason string) error {
	switch status {
	case types.MessageSent, types.MessageDuplicate, types.MessageFailed:
	default:
		return fmt.Errorf("db: %q is not a terminal message status", status)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE message SET
			status = $1,
			failure_reason = $2,
			processed_at = $3,
			claim_token = NULL
		 WHERE id = $4 AND claim_token = $5 AND status = 'processing'`,
		string(status),
		nilIfEmpty(reason),
		time.Now().UTC(),
		id,
		token,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record message outcome", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeIOMoveFailed,
			"message claim no longer held", nil, map[string]any{"id": id})
	}
	return nil
}

// Release returns a claimed row to pending.
func (r *MessageRepository) Release(ctx context.Context, id int64, token string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE message SET status = 'pending', claim_token = NULL, claimed_at = NULL
		 WHERE id = $1 AND claim_token = $2 AND status = 'processing'`,
		id,
		token,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release message", err)
	}
	return nil
}

// ResetStaleClaims returns rows stuck in processing for longer than
// olderThan to pending and reports how many were reset.
func (r *MessageRepository) ResetStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	// Concrete cutoff rather than interval arithmetic in SQL.
	cutoff := time.Now().UTC().Add(-olderThan)

	tag, err := r.db.Exec(ctx,
		`UPDATE message SET status = 'pending', claim_token = NULL, claimed_at = NULL
		 WHERE status = 'processing' AND claimed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to reset stale claims", err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus reports how many rows are in each status.
func (r *MessageRepository) CountByStatus(ctx context.Context) (map[types.MessageStatus]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM message GROUP BY status`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count messages", err)
	}
	defer rows.Close()

	counts := make(map[types.MessageStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan message count", err)
		}
		counts[types.MessageStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate message counts", err)
	}
	return counts, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
