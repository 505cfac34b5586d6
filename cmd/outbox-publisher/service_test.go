package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/pkg/config"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
	"github.com/lorisconti/drivehub-backend/pkg/outbox"
	"github.com/lorisconti/drivehub-backend/pkg/outbox/payloads"
)

var testNow = time.Date(2026, 5, 18, 10, 0, 0, 0, time.UTC)

type fakeOutboxRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	dropped   []uuid.UUID
}

func (f *fakeOutboxRepo) FetchUnpublished(limit int) ([]models.OutboxEvent, error) {
	out := f.events
	f.events = nil
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeOutboxRepo) MarkPublished(id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeOutboxRepo) MarkFailed(id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeOutboxRepo) MarkDropped(id uuid.UUID, _ error) error {
	f.dropped = append(f.dropped, id)
	return nil
}

type fakePublisher struct {
	err      error
	messages []*gcppubsub.Message
}

type fakeResult struct {
	err error
}

func (r fakeResult) Get(context.Context) (string, error) {
	return "msg-1", r.err
}

func (p *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	return fakeResult{err: p.err}
}

type fakeConsumer struct {
	err     error
	handled []*outbox.ResolvedEvent
}

func (c *fakeConsumer) Handle(_ context.Context, resolved *outbox.ResolvedEvent) error {
	c.handled = append(c.handled, resolved)
	return c.err
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.PubSub.NotificationTopic = "drivehub-notifications"
	cfg.Outbox.BatchSize = 10
	cfg.Outbox.MaxAttempts = 3
	return cfg
}

func newPublisherService(t *testing.T, repo *fakeOutboxRepo, pub *fakePublisher, consumer *fakeConsumer) *Service {
	t.Helper()
	cfg := testConfig()
	registry, err := outbox.NewEventRegistry(cfg.PubSub)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logger.New(logger.Options{ServiceName: "outbox-test", Output: io.Discard}),
		Repository: repo,
		Registry:   registry,
		Consumer:   consumer,
		PublisherFactory: func(string) publisher {
			if pub == nil {
				return nil
			}
			return pub
		},
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc
}

func proposalEvent(t *testing.T) models.OutboxEvent {
	t.Helper()
	data, err := json.Marshal(payloads.ProposalCreatedEvent{
		TaskID:                uuid.New(),
		SourceAppointmentID:   uuid.New(),
		ProposalAppointmentID: uuid.New(),
		StudentID:             uuid.New(),
		InstructorID:          uuid.New(),
		VehicleID:             uuid.New(),
		StartsAt:              testNow.Add(48 * time.Hour),
		EndsAt:                testNow.Add(48*time.Hour + 30*time.Minute),
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: testNow,
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventProposalCreated,
		AggregateType: enums.AggregateTask,
		AggregateID:   uuid.New(),
		Payload:       envelope,
		CreatedAt:     testNow,
	}
}

func TestProcessBatchPublishesAndMaterializes(t *testing.T) {
	event := proposalEvent(t)
	repo := &fakeOutboxRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{}
	consumer := &fakeConsumer{}
	svc := newPublisherService(t, repo, pub, consumer)

	processed, err := svc.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to report work")
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected 1 publish got %d", len(pub.messages))
	}
	if got := pub.messages[0].Attributes["event_type"]; got != string(enums.EventProposalCreated) {
		t.Fatalf("unexpected event_type attribute %q", got)
	}
	if len(consumer.handled) != 1 {
		t.Fatalf("expected consumer to see 1 event got %d", len(consumer.handled))
	}
	if len(repo.published) != 1 || repo.published[0] != event.ID {
		t.Fatalf("expected row marked published, got %v", repo.published)
	}
}

func TestProcessBatchRetryableFailureMarksFailed(t *testing.T) {
	event := proposalEvent(t)
	repo := &fakeOutboxRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{err: errors.New("pubsub unavailable")}
	svc := newPublisherService(t, repo, pub, &fakeConsumer{})

	if _, err := svc.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(repo.failed) != 1 {
		t.Fatalf("expected failure recorded, got %v", repo.failed)
	}
	if len(repo.published) != 0 || len(repo.dropped) != 0 {
		t.Fatal("row should stay unpublished for retry")
	}
}

func TestProcessBatchDropsAfterMaxAttempts(t *testing.T) {
	event := proposalEvent(t)
	event.AttemptCount = 2
	repo := &fakeOutboxRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{err: errors.New("pubsub unavailable")}
	svc := newPublisherService(t, repo, pub, &fakeConsumer{})

	if _, err := svc.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(repo.dropped) != 1 {
		t.Fatalf("expected row dropped, got %v", repo.dropped)
	}
}

func TestProcessBatchDropsNonRetryableConsumerError(t *testing.T) {
	event := proposalEvent(t)
	repo := &fakeOutboxRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{}
	consumer := &fakeConsumer{err: outbox.NewNonRetryableError(errors.New("student missing"))}
	svc := newPublisherService(t, repo, pub, consumer)

	if _, err := svc.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(repo.dropped) != 1 {
		t.Fatalf("expected row dropped, got %v", repo.dropped)
	}
	if len(repo.published) != 0 {
		t.Fatal("dropped row must not be marked published separately")
	}
}

func TestProcessBatchDropsMalformedPayload(t *testing.T) {
	event := proposalEvent(t)
	event.Payload = []byte(`{"version":1,"data":null}`)
	repo := &fakeOutboxRepo{events: []models.OutboxEvent{event}}
	svc := newPublisherService(t, repo, &fakePublisher{}, &fakeConsumer{})

	if _, err := svc.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(repo.dropped) != 1 {
		t.Fatalf("expected malformed row dropped, got %v", repo.dropped)
	}
}

func TestProcessBatchNoEvents(t *testing.T) {
	svc := newPublisherService(t, &fakeOutboxRepo{}, &fakePublisher{}, &fakeConsumer{})
	processed, err := svc.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if processed {
		t.Fatal("expected idle batch")
	}
}
