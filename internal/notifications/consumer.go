package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
	"github.com/lorisconti/drivehub-backend/pkg/outbox"
	"github.com/lorisconti/drivehub-backend/pkg/outbox/payloads"
)

// StudentResolver looks the event subject up to scope the feed row.
type StudentResolver interface {
	GetStudent(ctx context.Context, id uuid.UUID) (*models.Student, error)
}

// Consumer materializes outbox events into feed rows. Events that have no
// feed representation are acknowledged without writing anything.
type Consumer struct {
	repo     Repository
	students StudentResolver
	logg     *logger.Logger
}

// ConsumerParams wires the consumer dependencies.
type ConsumerParams struct {
	Repo     Repository
	Students StudentResolver
	Logger   *logger.Logger
}

// NewConsumer wires the consumer dependencies.
func NewConsumer(p ConsumerParams) (*Consumer, error) {
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notification repository required")
	}
	if p.Students == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "student resolver required")
	}
	return &Consumer{repo: p.Repo, students: p.Students, logg: p.Logger}, nil
}

// Handle converts one resolved event into a feed row.
func (c *Consumer) Handle(ctx context.Context, resolved *outbox.ResolvedEvent) error {
	if resolved == nil {
		return nil
	}

	var (
		studentID uuid.UUID
		kind      enums.NotificationKind
		title     string
		body      string
	)

	switch payload := resolved.Payload.(type) {
	case *payloads.ProposalCreatedEvent:
		studentID = payload.StudentID
		kind = enums.NotificationKindRepositionProposal
		title = "New lesson proposal"
		body = fmt.Sprintf("Your cancelled lesson has a replacement slot on %s.", payload.StartsAt.Format("Mon 2 Jan at 15:04"))
	case *payloads.PaymentInsolutoEvent:
		studentID = payload.StudentID
		kind = enums.NotificationKindPaymentInsoluto
		title = "Payment could not be collected"
		body = "We could not charge your card after several attempts. Please contact the school to settle your balance."
	case *payloads.InvoiceIssuedEvent:
		studentID = payload.StudentID
		kind = enums.NotificationKindInvoiceIssued
		title = "Invoice issued"
		body = fmt.Sprintf("Invoice %s for your lesson is available.", payload.Number)
	default:
		// Cancellations and successful payments stay off the feed.
		return nil
	}

	student, err := c.students.GetStudent(ctx, studentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve student")
	}
	if student == nil {
		return outbox.NewNonRetryableError(fmt.Errorf("student %s not found for %s", studentID, resolved.Descriptor.EventType))
	}

	metadata, err := json.Marshal(resolved.Payload)
	if err != nil {
		return outbox.NewNonRetryableError(fmt.Errorf("encode metadata: %w", err))
	}

	notification := &models.Notification{
		CompanyID: student.CompanyID,
		UserID:    student.ID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		Metadata:  metadata,
	}
	if err := c.repo.Insert(ctx, notification); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert notification")
	}

	if c.logg != nil {
		logCtx := c.logg.WithFields(ctx, map[string]any{
			"kind":    kind.String(),
			"user_id": student.ID.String(),
		})
		c.logg.Info(logCtx, "notification materialized")
	}
	return nil
}
