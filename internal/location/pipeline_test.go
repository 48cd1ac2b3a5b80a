package location_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leavetrack/internal/broadcast"
	"leavetrack/internal/geofence"
	"leavetrack/internal/leave"
	"leavetrack/internal/location"
	"leavetrack/internal/notify"
	"leavetrack/internal/school"
)

// capturePublisher records published events in order.
type capturePublisher struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (p *capturePublisher) Publish(schoolID string, ev broadcast.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

type fixture struct {
	pipeline *location.Pipeline
	leaves   *leave.MemoryStore
	samples  *location.MemoryStore
	notes    *notify.MemoryStore
	pub      *capturePublisher
	dir      *school.MemoryDirectory
	now      time.Time
	nowMu    sync.Mutex
}

// Latitude degrees per meter on the test sphere, for building points at a
// known distance north of the school.
const degPerMeter = 1.0 / 111194.9266

var center = school.School{
	ID:           "school-a",
	Name:         "SMA 1",
	Latitude:     f64(-6.2088),
	Longitude:    f64(106.8456),
	RadiusMeters: 100,
}

func f64(v float64) *float64 { return &v }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		leaves:  leave.NewMemoryStore(),
		samples: location.NewMemoryStore(),
		notes:   notify.NewMemoryStore(),
		pub:     &capturePublisher{},
		dir:     school.NewMemoryDirectory(),
		now:     time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
	}
	fx.dir.AddSchool(center)
	fx.dir.AddMember(school.Member{ID: "student-1", SchoolID: "school-a", Role: school.RoleStudent, FullName: "Budi"})
	fx.dir.AddMember(school.Member{ID: "teacher-1", SchoolID: "school-a", Role: school.RoleTeacher, FullName: "Pak Agus"})

	fx.pipeline = location.NewPipeline(fx.samples, fx.leaves, fx.dir, fx.pub, fx.notes, 30*time.Second, time.Second)
	fx.pipeline.SetClock(func() time.Time {
		fx.nowMu.Lock()
		defer fx.nowMu.Unlock()
		return fx.now
	})
	return fx
}

func (fx *fixture) advance(d time.Duration) {
	fx.nowMu.Lock()
	defer fx.nowMu.Unlock()
	fx.now = fx.now.Add(d)
}

// approvedLeave seeds an APPROVED request for student-1.
func (fx *fixture) approvedLeave(t *testing.T) leave.Request {
	t.Helper()
	req := leave.Request{
		ID:        "leave-1",
		SubjectID: "student-1",
		Reason:    "dokter gigi",
		StartTime: fx.now,
		Status:    leave.StatusPending,
		CreatedAt: fx.now,
		UpdatedAt: fx.now,
	}
	if err := fx.leaves.Insert(context.Background(), req); err != nil {
		t.Fatalf("seed leave: %v", err)
	}
	approver := "teacher-1"
	out, err := fx.leaves.Transition(context.Background(), req.ID, leave.StatusPending, leave.Update{
		Status:           leave.StatusApproved,
		ApproverID:       &approver,
		ResetOutOfRadius: true,
	})
	if err != nil {
		t.Fatalf("approve leave: %v", err)
	}
	return out
}

func (fx *fixture) ingestAt(t *testing.T, leaveID string, meters float64) location.IngestResult {
	t.Helper()
	res, err := fx.pipeline.Ingest(context.Background(), location.IngestRequest{
		SubjectID:      "student-1",
		LeaveRequestID: leaveID,
		Latitude:       *center.Latitude + meters*degPerMeter,
		Longitude:      *center.Longitude,
		CapturedAt:     fx.now,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return res
}

func TestApprovalStartsTrackingScenario(t *testing.T) {
	fx := newFixture(t)
	req := fx.approvedLeave(t)
	if req.IsOutOfRadius {
		t.Fatal("approved request must start with latch clear")
	}

	// 50m inside a 100m radius: within, no alert.
	res := fx.ingestAt(t, req.ID, 50)
	if !res.Sample.IsWithinRadius {
		t.Errorf("expected within at 50m, distance=%v", res.DistanceMeters)
	}
	if res.AlertFired {
		t.Error("no alert expected inside the radius")
	}

	// 200m out: outside, latch flips, alert published.
	fx.advance(30 * time.Second)
	res = fx.ingestAt(t, req.ID, 200)
	if res.Sample.IsWithinRadius {
		t.Errorf("expected outside at 200m, distance=%v", res.DistanceMeters)
	}
	if !res.AlertFired {
		t.Error("expected radius alert at 200m")
	}
	got, _ := fx.leaves.Get(context.Background(), req.ID)
	if !got.IsOutOfRadius {
		t.Error("expected latch set after out-of-radius sample")
	}

	kinds := fx.pub.kinds()
	want := []string{broadcast.KindLocationUpdate, broadcast.KindRadiusAlert, broadcast.KindLocationUpdate}
	if len(kinds) != len(want) {
		t.Fatalf("expected events %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, kinds)
		}
	}
}

func TestCompletionFreezesLatch(t *testing.T) {
	fx := newFixture(t)
	req := fx.approvedLeave(t)

	fx.ingestAt(t, req.ID, 200)

	ret := fx.now
	if _, err := fx.leaves.Transition(context.Background(), req.ID, leave.StatusApproved, leave.Update{
		Status:           leave.StatusCompleted,
		ActualReturnTime: &ret,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// A late out-of-radius sample is persisted but must not touch the latch.
	fx.advance(time.Minute)
	res := fx.ingestAt(t, req.ID, 300)
	if res.Sample.IsWithinRadius {
		t.Error("late sample should still be evaluated as outside")
	}
	if res.AlertFired {
		t.Error("no alert for a completed request")
	}

	samples, _ := fx.samples.List(context.Background(), location.Filter{LeaveRequestID: req.ID})
	if len(samples) != 2 {
		t.Errorf("late sample should be persisted, have %d", len(samples))
	}
}

func TestLatchNotClearedByReturningInside(t *testing.T) {
	fx := newFixture(t)
	req := fx.approvedLeave(t)

	fx.ingestAt(t, req.ID, 200)
	fx.advance(30 * time.Second)
	fx.ingestAt(t, req.ID, 10)

	got, _ := fx.leaves.Get(context.Background(), req.ID)
	if !got.IsOutOfRadius {
		t.Error("latch must hold after the subject returns inside the radius")
	}
}

func TestRateLimitMarksSupplementary(t *testing.T) {
	fx := newFixture(t)
	req := fx.approvedLeave(t)

	first := fx.ingestAt(t, req.ID, 10)
	if !first.Sample.Official {
		t.Error("first sample must be official immediately")
	}

	// 5s later: inside the interval, stored but supplementary, no broadcast.
	fx.advance(5 * time.Second)
	second := fx.ingestAt(t, req.ID, 12)
	if second.Sample.Official {
		t.Error("sample inside the interval must be supplementary")
	}

	// 29.5s after the first official tick: within slack of the 30s interval,
	// counts as the next official tick.
	fx.advance(24*time.Second + 500*time.Millisecond)
	third := fx.ingestAt(t, req.ID, 14)
	if !third.Sample.Official {
		t.Error("sample within slack of the interval must be official")
	}

	kinds := fx.pub.kinds()
	if len(kinds) != 2 {
		t.Errorf("expected 2 broadcasts (official ticks only), got %v", kinds)
	}

	samples, _ := fx.samples.List(context.Background(), location.Filter{LeaveRequestID: req.ID})
	if len(samples) != 3 {
		t.Errorf("all samples must be persisted, have %d", len(samples))
	}
}

func TestRateLimitIndependentPerPair(t *testing.T) {
	fx := newFixture(t)
	fx.dir.AddMember(school.Member{ID: "student-2", SchoolID: "school-a", Role: school.RoleStudent})

	res1, err := fx.pipeline.Ingest(context.Background(), location.IngestRequest{
		SubjectID: "student-1", Latitude: *center.Latitude, Longitude: *center.Longitude, CapturedAt: fx.now,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	res2, err := fx.pipeline.Ingest(context.Background(), location.IngestRequest{
		SubjectID: "student-2", Latitude: *center.Latitude, Longitude: *center.Longitude, CapturedAt: fx.now,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res1.Sample.Official || !res2.Sample.Official {
		t.Error("different subjects have independent rate-limit state")
	}
}

func TestFailOpenWithoutGeofence(t *testing.T) {
	fx := newFixture(t)
	fx.dir.AddSchool(school.School{ID: "school-b", Name: "SMA 2"}) // no coordinates
	fx.dir.AddMember(school.Member{ID: "student-9", SchoolID: "school-b", Role: school.RoleStudent})

	res, err := fx.pipeline.Ingest(context.Background(), location.IngestRequest{
		SubjectID:  "student-9",
		Latitude:   40.0,
		Longitude:  -74.0,
		CapturedAt: fx.now,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.Sample.IsWithinRadius {
		t.Error("missing geofence config must fail open to within-radius")
	}
}

func TestInvalidCoordinateRejectedEntirely(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.pipeline.Ingest(context.Background(), location.IngestRequest{
		SubjectID:  "student-1",
		Latitude:   95.0,
		Longitude:  10.0,
		CapturedAt: fx.now,
	})
	if !errors.Is(err, geofence.ErrInvalidCoordinate) {
		t.Fatalf("expected ErrInvalidCoordinate, got %v", err)
	}

	samples, _ := fx.samples.List(context.Background(), location.Filter{SubjectID: "student-1"})
	if len(samples) != 0 {
		t.Error("rejected sample must not be persisted")
	}
	if len(fx.pub.kinds()) != 0 {
		t.Error("rejected sample must not be broadcast")
	}
}

func TestUnknownSubjectNotFound(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.pipeline.Ingest(context.Background(), location.IngestRequest{
		SubjectID:  "ghost",
		Latitude:   *center.Latitude,
		Longitude:  *center.Longitude,
		CapturedAt: fx.now,
	})
	if !errors.Is(err, leave.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRadiusAlertWritesNotification(t *testing.T) {
	fx := newFixture(t)
	req := fx.approvedLeave(t)

	fx.ingestAt(t, req.ID, 200)

	notes, _ := fx.notes.ListBySubject(context.Background(), "student-1", 10)
	if len(notes) != 1 || notes[0].Type != notify.TypeRadiusAlert {
		t.Fatalf("expected one radius-alert notification, got %+v", notes)
	}

	// Latch already set: the repeated official alert does not duplicate the
	// notification row.
	fx.advance(30 * time.Second)
	fx.ingestAt(t, req.ID, 250)
	notes, _ = fx.notes.ListBySubject(context.Background(), "student-1", 10)
	if len(notes) != 1 {
		t.Errorf("expected notification only on latch change, got %d", len(notes))
	}
}

func TestSampleWithoutLeaveRequest(t *testing.T) {
	fx := newFixture(t)

	// Ordinary check-in style sample, no leave attached; outside the radius
	// must not create alerts.
	res := fx.ingestAt(t, "", 200)
	if res.AlertFired {
		t.Error("no alert without a leave request")
	}
	if res.Sample.IsWithinRadius {
		t.Error("expected outside verdict")
	}
	kinds := fx.pub.kinds()
	if len(kinds) != 1 || kinds[0] != broadcast.KindLocationUpdate {
		t.Errorf("expected a single location-update, got %v", kinds)
	}
}
