package cron

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lorisconti/drivehub-backend/pkg/logger"
)

type fakeLock struct {
	available bool
	acquired  int
	released  int
}

func (f *fakeLock) Acquire(_ context.Context) (bool, error) {
	f.acquired++
	return f.available, nil
}

func (f *fakeLock) Release(_ context.Context) error {
	f.released++
	return nil
}

type fakeJob struct {
	name string
	err  error
	runs int
}

func (f *fakeJob) Name() string { return f.name }

func (f *fakeJob) Run(_ context.Context) error {
	f.runs++
	return f.err
}

func newTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Level: zerolog.ErrorLevel, Output: io.Discard})
}

func TestRunOnceSkipsWhenLockHeldElsewhere(t *testing.T) {
	lock := &fakeLock{available: false}
	job := &fakeJob{name: "sweep"}
	svc, err := NewService(ServiceParams{
		Logger:   newTestLogger(),
		Registry: NewRegistry(job),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runs != 0 {
		t.Fatal("job must not run without the lock")
	}
	if lock.released != 0 {
		t.Fatal("lock must not be released when never acquired")
	}
}

func TestRunOnceRunsEveryJobAndReleasesLock(t *testing.T) {
	lock := &fakeLock{available: true}
	failing := &fakeJob{name: "first", err: errors.New("boom")}
	second := &fakeJob{name: "second"}
	svc, err := NewService(ServiceParams{
		Logger:   newTestLogger(),
		Registry: NewRegistry(failing, second),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if failing.runs != 1 || second.runs != 1 {
		t.Fatalf("runs = %d/%d, want 1/1", failing.runs, second.runs)
	}
	if lock.released != 1 {
		t.Fatalf("released = %d, want 1", lock.released)
	}
}

func TestRegistryIgnoresNilJobs(t *testing.T) {
	registry := NewRegistry(nil, &fakeJob{name: "only"})
	if len(registry.Jobs()) != 1 {
		t.Fatalf("jobs = %d, want 1", len(registry.Jobs()))
	}
}
