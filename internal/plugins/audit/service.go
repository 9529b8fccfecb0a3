package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caregate/caregate/internal/apperror"
	"github.com/caregate/caregate/internal/dispatch"
	"github.com/caregate/caregate/internal/plugins/auth"
)

// perPage is the number of entries returned per page of the activity feed.
const perPage = 50

// AuditService handles business logic for the event trail. It also
// implements auth.EventRecorder so the auth services can report to it.
type AuditService interface {
	auth.EventRecorder

	// Log validates and persists an entry.
	Log(ctx context.Context, entry *Entry) error

	// GetAccountActivity returns one page of an account's activity feed.
	// Pages are 1-indexed.
	GetAccountActivity(ctx context.Context, kind auth.Kind, accountID string, page int) (*Page, error)
}

// auditService implements AuditService.
type auditService struct {
	repo    AuditRepository
	async   *dispatch.Dispatcher
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// NewAuditService creates a new audit service. Writes made through Record
// run on async, bounded by timeout; a nil async writes inline.
func NewAuditService(repo AuditRepository, async *dispatch.Dispatcher, timeout time.Duration, logger *slog.Logger) AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	return &auditService{
		repo:    repo,
		async:   async,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger,
	}
}

// Record turns an auth event into an entry and queues the write. It never
// fails the caller: the write survives the request's cancellation and any
// error is logged. CreatedAt is taken now, not when the write runs.
func (s *auditService) Record(ctx context.Context, e auth.Event) {
	entry := &Entry{
		AccountKind: e.Kind,
		AccountID:   e.AccountID,
		Action:      e.Action,
		RemoteIP:    e.RemoteIP,
		Details:     e.Details,
		CreatedAt:   s.now(),
	}

	s.async.Submit(ctx, func(ctx context.Context) {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		_ = s.Log(ctx, entry)
	})
}

// Log validates and persists an entry. Write failures are logged here so
// callers may treat the call as fire-and-forget.
func (s *auditService) Log(ctx context.Context, entry *Entry) error {
	if entry.AccountKind == "" {
		return apperror.NewBadRequest("account kind is required for audit entry")
	}
	if entry.AccountID == "" {
		return apperror.NewBadRequest("account ID is required for audit entry")
	}
	if entry.Action == "" {
		return apperror.NewBadRequest("action is required for audit entry")
	}

	if err := s.repo.Log(ctx, entry); err != nil {
		s.log.Error("failed to write auth event",
			slog.String("kind", string(entry.AccountKind)),
			slog.String("account_id", entry.AccountID),
			slog.String("action", entry.Action),
			slog.Any("error", err),
		)
		return apperror.NewUnavailable(fmt.Errorf("writing auth event: %w", err))
	}

	return nil
}

// GetAccountActivity returns a page of the feed. Invalid page numbers are
// clamped to 1.
func (s *auditService) GetAccountActivity(ctx context.Context, kind auth.Kind, accountID string, page int) (*Page, error) {
	if accountID == "" {
		return nil, apperror.NewBadRequest("account ID is required")
	}
	if page < 1 {
		page = 1
	}

	total, err := s.repo.CountByAccount(ctx, kind, accountID)
	if err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("counting account activity: %w", err))
	}

	entries, err := s.repo.ListByAccount(ctx, kind, accountID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("listing account activity: %w", err))
	}

	return &Page{Entries: entries, Total: total, Page: page, PerPage: perPage}, nil
}
