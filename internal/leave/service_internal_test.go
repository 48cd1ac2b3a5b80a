package leave

import (
	"context"
	"testing"
	"time"
)

type allowAll struct{}

func (allowAll) IsSupervisor(context.Context, string, string) (bool, error) { return true, nil }

func TestTerminalTransitionDropsLock(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), allowAll{})

	req, err := svc.Create(ctx, "student-1", "dokter gigi", time.Now(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Approve(ctx, req.ID, "teacher-1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	svc.mu.Lock()
	n := len(svc.locks)
	svc.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected one lock entry while the request is live, have %d", n)
	}

	if _, err := svc.Complete(ctx, req.ID, "student-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	svc.mu.Lock()
	n = len(svc.locks)
	svc.mu.Unlock()
	if n != 0 {
		t.Fatalf("completed request must not keep a lock entry, have %d", n)
	}
}

func TestRejectDropsLock(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), allowAll{})

	req, err := svc.Create(ctx, "student-1", "izin pulang", time.Now(), nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Reject(ctx, req.ID, "teacher-1"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	svc.mu.Lock()
	n := len(svc.locks)
	svc.mu.Unlock()
	if n != 0 {
		t.Fatalf("rejected request must not keep a lock entry, have %d", n)
	}
}
