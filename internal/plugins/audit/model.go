// Package audit records the credential and session lifecycle of every
// account. Each transition the auth services report (challenge issued, OTP
// accepted or rejected, refresh, logout, password changes, invitations) is
// stored as an Entry in the auth_events table, and an account can read its
// own trail through the activity endpoint.
//
// Recording is fire-and-forget: a failed write is logged and never fails the
// operation that produced it.
package audit

import (
	"time"

	"github.com/caregate/caregate/internal/plugins/auth"
)

// Entry is a single recorded lifecycle event. Details holds action-specific
// metadata (a rejection reason, the inviting clinician) and never secrets.
type Entry struct {
	ID          int64          `json:"id"`
	AccountKind auth.Kind      `json:"account_kind"`
	AccountID   string         `json:"account_id"`
	Action      string         `json:"action"`
	RemoteIP    string         `json:"remote_ip,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Page is one page of an account's activity feed.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
}
