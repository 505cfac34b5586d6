package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
	"github.com/lorisconti/drivehub-backend/pkg/pagination"
)

// Page is one slice of the feed plus the cursor to fetch the next one.
type Page struct {
	Items      []models.Notification
	NextCursor string
}

// Service exposes the per-user notification feed.
type Service interface {
	List(ctx context.Context, companyID, userID uuid.UUID, params pagination.Params) (*Page, error)
	UnreadCount(ctx context.Context, companyID, userID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, companyID, userID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, companyID, userID uuid.UUID) (int64, error)
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// Params wires the feed dependencies.
type Params struct {
	Repo   Repository
	Logger *logger.Logger
	Now    func() time.Time
}

// NewService wires the feed dependencies.
func NewService(p Params) (Service, error) {
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notification repository required")
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{repo: p.Repo, logg: p.Logger, now: p.Now}, nil
}

func (s *service) List(ctx context.Context, companyID, userID uuid.UUID, params pagination.Params) (*Page, error) {
	if companyID == uuid.Nil || userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company and user ids required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListPage(ctx, companyID, userID, cursor, limit+1)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	page := &Page{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		last := page.Items[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}

func (s *service) UnreadCount(ctx context.Context, companyID, userID uuid.UUID) (int64, error) {
	if companyID == uuid.Nil || userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "company and user ids required")
	}
	count, err := s.repo.CountUnread(ctx, companyID, userID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unread")
	}
	return count, nil
}

func (s *service) MarkRead(ctx context.Context, companyID, userID, id uuid.UUID) error {
	if companyID == uuid.Nil || userID == uuid.Nil || id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "company, user and notification ids required")
	}
	updated, err := s.repo.MarkRead(ctx, companyID, userID, id, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !updated {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found or already read")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, companyID, userID uuid.UUID) (int64, error) {
	if companyID == uuid.Nil || userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "company and user ids required")
	}
	updated, err := s.repo.MarkAllRead(ctx, companyID, userID, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark all read")
	}
	return updated, nil
}
