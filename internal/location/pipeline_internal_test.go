package location

import (
	"fmt"
	"testing"
	"time"

	"leavetrack/internal/leave"
	"leavetrack/internal/school"
)

func newBarePipeline() *Pipeline {
	return NewPipeline(NewMemoryStore(), leave.NewMemoryStore(), school.NewMemoryDirectory(), nil, nil, 30*time.Second, time.Second)
}

func TestStaleRatePairsSwept(t *testing.T) {
	p := newBarePipeline()
	base := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		p.rateFor(fmt.Sprintf("student-%d|leave-%d", i, i), base)
	}

	// One pair keeps reporting; the rest go quiet past ten intervals.
	later := base.Add(6 * time.Minute)
	p.rateFor("student-0|leave-0", later)

	p.mu.Lock()
	p.sweepLocked(later)
	kept := len(p.rates)
	_, active := p.rates["student-0|leave-0"]
	p.mu.Unlock()

	if kept != 1 || !active {
		t.Fatalf("expected only the active pair to survive, kept=%d active=%v", kept, active)
	}
}

func TestRateMapCapTriggersSweep(t *testing.T) {
	p := newBarePipeline()
	base := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	for i := 0; i < maxRateEntries; i++ {
		p.rateFor(fmt.Sprintf("student-%d|leave-%d", i, i), base)
	}

	// The next access past the horizon sweeps the stale bulk.
	p.rateFor("student-new|leave-new", base.Add(6*time.Minute))

	p.mu.Lock()
	n := len(p.rates)
	p.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected the cap sweep to clear stale pairs, have %d entries", n)
	}
}
