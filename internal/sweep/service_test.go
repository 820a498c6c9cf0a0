package sweep

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/marketloop-backend/pkg/logger"
)

type stubLock struct {
	available bool
	acquires  int
	releases  int
}

func (l *stubLock) Acquire(ctx context.Context) (bool, error) {
	l.acquires++
	return l.available, nil
}

func (l *stubLock) Release(ctx context.Context) error {
	l.releases++
	return nil
}

type stubJob struct {
	name string
	runs int
	err  error
}

func (j *stubJob) Name() string { return j.name }

func (j *stubJob) Run(ctx context.Context) error {
	j.runs++
	return j.err
}

func newSweepService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "sweep-test"}),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}
	return svc
}

func TestRunCycle_executesJobsInOrder(t *testing.T) {
	lock := &stubLock{available: true}
	first := &stubJob{name: "first"}
	second := &stubJob{name: "second"}
	svc := newSweepService(t, lock, first, second)

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if first.runs != 1 || second.runs != 1 {
		t.Fatalf("expected each job to run once, got %d and %d", first.runs, second.runs)
	}
	if lock.releases != 1 {
		t.Fatalf("lock must be released after the cycle, releases %d", lock.releases)
	}
}

func TestRunCycle_skipsWhenLockHeldElsewhere(t *testing.T) {
	lock := &stubLock{available: false}
	job := &stubJob{name: "noop"}
	svc := newSweepService(t, lock, job)

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("a contested lock is not an error: %v", err)
	}
	if job.runs != 0 {
		t.Fatal("jobs must not run without the lock")
	}
	if lock.releases != 0 {
		t.Fatal("a lock never acquired must not be released")
	}
}

func TestRunCycle_jobFailureDoesNotStopTheCycle(t *testing.T) {
	lock := &stubLock{available: true}
	failing := &stubJob{name: "failing", err: errors.New("boom")}
	trailing := &stubJob{name: "trailing"}
	svc := newSweepService(t, lock, failing, trailing)

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if trailing.runs != 1 {
		t.Fatal("a failed job must not block the jobs after it")
	}
	if lock.releases != 1 {
		t.Fatal("lock must be released even when a job fails")
	}
}

func TestRegistry_skipsNilAndCopiesOnRead(t *testing.T) {
	registry := NewRegistry(nil, &stubJob{name: "only"})
	registry.Register(nil)
	jobs := registry.Jobs()
	if len(jobs) != 1 || jobs[0].Name() != "only" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	jobs[0] = &stubJob{name: "mutated"}
	if registry.Jobs()[0].Name() != "only" {
		t.Fatal("Jobs must return a copy")
	}
}
