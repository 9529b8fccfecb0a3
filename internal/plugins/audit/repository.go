package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/caregate/caregate/internal/plugins/auth"
)

// AuditRepository defines the data access contract for the event trail.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type AuditRepository interface {
	// Log inserts a new entry and sets its ID.
	Log(ctx context.Context, entry *Entry) error

	// ListByAccount returns an account's entries, most recent first.
	ListByAccount(ctx context.Context, kind auth.Kind, accountID string, limit, offset int) ([]Entry, error)

	// CountByAccount returns the number of entries for an account.
	CountByAccount(ctx context.Context, kind auth.Kind, accountID string) (int, error)
}

// auditRepository implements AuditRepository with MariaDB queries.
type auditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new repository backed by the given DB pool.
func NewAuditRepository(db *sql.DB) AuditRepository {
	return &auditRepository{db: db}
}

// Log inserts a new entry. The details map is serialized to JSON before
// storage. Nil details are stored as SQL NULL.
func (r *auditRepository) Log(ctx context.Context, entry *Entry) error {
	query := `INSERT INTO auth_events (account_kind, account_id, action, remote_ip, details, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshaling event details: %w", err)
		}
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, query,
		string(entry.AccountKind), entry.AccountID, entry.Action,
		entry.RemoteIP, detailsJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting auth event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting auth event id: %w", err)
	}
	entry.ID = id

	return nil
}

// ListByAccount returns entries for one account ordered by most recent
// first. The id breaks ties between events written in the same second.
func (r *auditRepository) ListByAccount(ctx context.Context, kind auth.Kind, accountID string, limit, offset int) ([]Entry, error) {
	query := `SELECT id, account_kind, account_id, action, remote_ip, details, created_at
	          FROM auth_events
	          WHERE account_kind = ? AND account_id = ?
	          ORDER BY created_at DESC, id DESC
	          LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, string(kind), accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing auth events: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// CountByAccount returns the total number of entries for an account.
func (r *auditRepository) CountByAccount(ctx context.Context, kind auth.Kind, accountID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM auth_events WHERE account_kind = ? AND account_id = ?`,
		string(kind), accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting auth events: %w", err)
	}
	return count, nil
}

// scanEntries scans rows from an auth_events query. Expects columns: id,
// account_kind, account_id, action, remote_ip, details, created_at.
func scanEntries(rows *sql.Rows) ([]Entry, error) {
	entries := []Entry{}
	for rows.Next() {
		var (
			e           Entry
			kind        string
			remoteIP    sql.NullString
			detailsJSON sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &kind, &e.AccountID, &e.Action,
			&remoteIP, &detailsJSON, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning auth event: %w", err)
		}
		e.AccountKind = auth.Kind(kind)
		e.RemoteIP = remoteIP.String

		// Non-fatal: a malformed details column must not break the feed.
		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &e.Details); err != nil {
				e.Details = map[string]any{"_parse_error": "invalid JSON"}
			}
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating auth event rows: %w", err)
	}

	return entries, nil
}
