package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry represents a record stored in audit_logs.
type AuditEntry struct {
	TenantID uuid.UUID
	Entity   string
	EntityID string
	Action   string
	Before   map[string]any
	After    map[string]any
	Summary  string
	Actor    string
	At       time.Time
}

// AuditRecorder is the append-only audit sink. Implementations must never
// influence the outcome of the operation being audited.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditEntry) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	beforeJSON, err := json.Marshal(entry.Before)
	if err != nil {
		return err
	}
	afterJSON, err := json.Marshal(entry.After)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (tenant_id, entity, entity_id, action, actor, before, after, summary, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE(NULLIF($9, '0001-01-01 00:00:00+00'::timestamptz), NOW()))`,
		entry.TenantID, entry.Entity, entry.EntityID, entry.Action, entry.Actor, beforeJSON, afterJSON, entry.Summary, entry.At)
	return err
}
