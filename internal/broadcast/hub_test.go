package broadcast

import (
	"testing"
	"time"
)

func collect(sub *Subscription, n int, timeout time.Duration) []Event {
	var out []Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestPublishReachesSchoolSubscribers(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("session-1", "school-a")
	defer hub.Unsubscribe("session-1", "school-a")

	hub.Publish("school-a", Event{Kind: KindLocationUpdate, SubjectID: "student-1"})

	got := collect(sub, 1, time.Second)
	if len(got) != 1 || got[0].SubjectID != "student-1" {
		t.Fatalf("expected one event for student-1, got %+v", got)
	}
}

func TestPublishIsolatedBySchool(t *testing.T) {
	hub := NewHub()
	subA := hub.Subscribe("session-a", "school-a")
	subB := hub.Subscribe("session-b", "school-b")
	defer hub.Unsubscribe("session-a", "school-a")
	defer hub.Unsubscribe("session-b", "school-b")

	hub.Publish("school-a", Event{Kind: KindLocationUpdate, SubjectID: "student-1"})

	if got := collect(subA, 1, time.Second); len(got) != 1 {
		t.Errorf("school-a subscriber expected 1 event, got %d", len(got))
	}
	select {
	case ev := <-subB.C:
		t.Errorf("school-b subscriber should get nothing, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNeverConnectedReceivesNothing(t *testing.T) {
	hub := NewHub()
	hub.Publish("school-a", Event{Kind: KindLocationUpdate, SubjectID: "student-1"})
	if n := hub.SubscriberCount("school-a"); n != 0 {
		t.Errorf("expected zero subscribers, got %d", n)
	}
}

func TestPartialConnectionWindow(t *testing.T) {
	hub := NewHub()

	hub.Publish("school-a", Event{Kind: KindLocationUpdate, SubjectID: "student-1", Latitude: 1})

	sub := hub.Subscribe("session-1", "school-a")
	hub.Publish("school-a", Event{Kind: KindLocationUpdate, SubjectID: "student-1", Latitude: 2})
	hub.Publish("school-a", Event{Kind: KindLocationUpdate, SubjectID: "student-1", Latitude: 3})
	hub.Unsubscribe("session-1", "school-a")

	hub.Publish("school-a", Event{Kind: KindLocationUpdate, SubjectID: "student-1", Latitude: 4})

	got := collect(sub, 3, 200*time.Millisecond)
	if len(got) != 2 {
		t.Fatalf("expected exactly the 2 events published while connected, got %d", len(got))
	}
	// Ingestion order preserved for a single subject.
	if got[0].Latitude != 2 || got[1].Latitude != 3 {
		t.Errorf("events out of order: %+v", got)
	}
}

func TestPerSubjectOrdering(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("session-1", "school-a")
	defer hub.Unsubscribe("session-1", "school-a")

	for i := 1; i <= 10; i++ {
		hub.Publish("school-a", Event{Kind: KindLocationUpdate, SubjectID: "student-1", Latitude: float64(i)})
	}

	got := collect(sub, 10, time.Second)
	if len(got) != 10 {
		t.Fatalf("expected 10 events, got %d", len(got))
	}
	for i, ev := range got {
		if ev.Latitude != float64(i+1) {
			t.Fatalf("event %d out of order: %+v", i, ev)
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("session-1", "school-a")
	defer hub.Unsubscribe("session-1", "school-a")

	// Nobody drains sub; overflowing the buffer must not block Publish.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBuffer*2; i++ {
			hub.Publish("school-a", Event{Kind: KindLocationUpdate, SubjectID: "student-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if got := collect(sub, defaultBuffer+1, 100*time.Millisecond); len(got) != defaultBuffer {
		t.Errorf("expected buffer-sized delivery, got %d", len(got))
	}
}

func TestResubscribeReplacesSession(t *testing.T) {
	hub := NewHub()
	old := hub.Subscribe("session-1", "school-a")
	fresh := hub.Subscribe("session-1", "school-a")
	defer hub.Unsubscribe("session-1", "school-a")

	if _, ok := <-old.C; ok {
		t.Error("replaced subscription channel should be closed")
	}

	hub.Publish("school-a", Event{Kind: KindLocationUpdate, SubjectID: "student-1"})
	if got := collect(fresh, 1, time.Second); len(got) != 1 {
		t.Errorf("fresh subscription expected 1 event, got %d", len(got))
	}
	if n := hub.SubscriberCount("school-a"); n != 1 {
		t.Errorf("expected 1 subscriber after resubscribe, got %d", n)
	}
}
