package pipeline

import (
	"testing"
	"time"
)

func TestJobSet_AddIsExclusive(t *testing.T) {
	s := newJobSet()
	if !s.add("doc-1") {
		t.Fatal("expected first add to succeed")
	}
	if s.add("doc-1") {
		t.Error("expected second add of the same id to be refused")
	}
	if !s.has("doc-1") {
		t.Error("expected doc-1 to be tracked")
	}
	s.remove("doc-1")
	if s.has("doc-1") {
		t.Error("expected doc-1 removed")
	}
	if !s.add("doc-1") {
		t.Error("expected re-add after remove to succeed")
	}
}

func TestJobSet_StateTransitions(t *testing.T) {
	s := newJobSet()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	s.add("b")
	clock = clock.Add(time.Second)
	s.add("a")
	clock = clock.Add(time.Second)
	s.start("b")
	s.start("missing")

	jobs := s.snapshot()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].DocumentID != "b" || jobs[0].State != JobRunning {
		t.Errorf("expected b running first, got %+v", jobs[0])
	}
	if !jobs[0].StartedAt.Equal(clock) {
		t.Errorf("expected start time %v, got %v", clock, jobs[0].StartedAt)
	}
	if jobs[1].DocumentID != "a" || jobs[1].State != JobQueued {
		t.Errorf("expected a queued second, got %+v", jobs[1])
	}
}
