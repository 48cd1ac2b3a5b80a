package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"leavetrack/internal/broadcast"
	"leavetrack/internal/geofence"
	"leavetrack/internal/leave"
	"leavetrack/internal/metrics"
	"leavetrack/internal/notify"
	"leavetrack/internal/school"
)

// Defaults for the tracking cadence. The slack absorbs jitter between the
// client's watch-position events and its interval timer so a sample arriving
// marginally early still counts as the official tick.
const (
	DefaultUpdateInterval = 30 * time.Second
	DefaultSlack          = time.Second
)

// IngestRequest is one sample as reported by a device.
type IngestRequest struct {
	SubjectID      string
	LeaveRequestID string
	Latitude       float64
	Longitude      float64
	AccuracyMeters *float64
	CapturedAt     time.Time
}

// IngestResult echoes the stored sample plus the evaluated distance. Distance
// is zero when no geofence was configured (fail-open).
type IngestResult struct {
	Sample         Sample
	DistanceMeters float64
	AlertFired     bool
}

// maxRateEntries caps the dedup map. Past it, pairs that stopped reporting
// are swept so finished leaves do not accumulate state for the process
// lifetime.
const maxRateEntries = 4096

// rateState is the per-(subject, leave) dedup record. One mutex per key keeps
// concurrent writers for the same pair serialized without a global lock.
// touched is guarded by the pipeline mutex, not rs.mu, so the sweep can read
// it without taking every entry's lock.
type rateState struct {
	mu           sync.Mutex
	lastOfficial time.Time

	touched time.Time
}

// Pipeline validates, persists, and fans out location samples.
type Pipeline struct {
	samples SampleStore
	leaves  leave.Store
	dir     school.Directory
	pub     broadcast.Publisher
	notes   notify.Store

	interval time.Duration
	slack    time.Duration
	now      func() time.Time

	mu    sync.Mutex
	rates map[string]*rateState
}

// NewPipeline wires the ingestion path. notes may be nil to skip the durable
// notification trail.
func NewPipeline(samples SampleStore, leaves leave.Store, dir school.Directory, pub broadcast.Publisher, notes notify.Store, interval, slack time.Duration) *Pipeline {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	if slack <= 0 {
		slack = DefaultSlack
	}
	return &Pipeline{
		samples:  samples,
		leaves:   leaves,
		dir:      dir,
		pub:      pub,
		notes:    notes,
		interval: interval,
		slack:    slack,
		now:      time.Now,
		rates:    make(map[string]*rateState),
	}
}

// SetClock overrides the pipeline's time source. Tests only.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

func (p *Pipeline) rateFor(key string, now time.Time) *rateState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rates) >= maxRateEntries {
		p.sweepLocked(now)
	}
	rs, ok := p.rates[key]
	if !ok {
		rs = &rateState{}
		p.rates[key] = rs
	}
	rs.touched = now
	return rs
}

// sweepLocked drops pairs idle for more than ten intervals. A device reports
// at least once per interval while its leave is tracked, so anything that
// quiet is finished.
func (p *Pipeline) sweepLocked(now time.Time) {
	horizon := 10 * p.interval
	for key, rs := range p.rates {
		if now.Sub(rs.touched) > horizon {
			delete(p.rates, key)
		}
	}
}

// Ingest processes one sample: coordinate validation, geofence evaluation
// against the subject's school (fail-open when no boundary is configured),
// append-only persistence, the out-of-radius latch on an approved leave, and
// the school-channel broadcast. Runs to completion; there is no internal
// retry — a transient failure surfaces to the device, which retries on its
// next tick.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	pt := geofence.Point{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := geofence.ValidatePoint(pt); err != nil {
		metrics.SamplesRejected.WithLabelValues("invalid_coordinate").Inc()
		return IngestResult{}, err
	}

	member, err := p.dir.Member(ctx, req.SubjectID)
	if err != nil {
		if errors.Is(err, leave.ErrNotFound) {
			metrics.SamplesRejected.WithLabelValues("unknown_subject").Inc()
			return IngestResult{}, fmt.Errorf("subject %s: %w", req.SubjectID, leave.ErrNotFound)
		}
		return IngestResult{}, err
	}

	// Fail-open: a school without a boundary never blocks reporting.
	within := true
	distance := 0.0
	if sch, err := p.dir.Get(ctx, member.SchoolID); err == nil {
		if cfg := sch.Geofence(); cfg != nil {
			res, err := geofence.Evaluate(*cfg, pt)
			if err != nil {
				return IngestResult{}, err
			}
			within = res.IsWithin
			distance = res.DistanceMeters
		}
	} else if !errors.Is(err, leave.ErrNotFound) {
		return IngestResult{}, err
	}

	now := p.now().UTC()
	rs := p.rateFor(req.SubjectID+"|"+req.LeaveRequestID, now)
	rs.mu.Lock()
	official := rs.lastOfficial.IsZero() || now.Sub(rs.lastOfficial) >= p.interval-p.slack
	if official {
		rs.lastOfficial = now
	}
	rs.mu.Unlock()

	capturedAt := req.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = now
	}
	sample := Sample{
		ID:             uuid.NewString(),
		SubjectID:      req.SubjectID,
		LeaveRequestID: req.LeaveRequestID,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		AccuracyMeters: req.AccuracyMeters,
		CapturedAt:     capturedAt,
		ReceivedAt:     now,
		IsWithinRadius: within,
		Official:       official,
	}
	if err := p.samples.Insert(ctx, sample); err != nil {
		return IngestResult{}, err
	}
	metrics.SamplesIngested.WithLabelValues(boolLabel(official)).Inc()

	result := IngestResult{Sample: sample, DistanceMeters: distance}

	if !within && req.LeaveRequestID != "" {
		fired, err := p.flagOutOfRadius(ctx, member, sample, official)
		if err != nil {
			return IngestResult{}, err
		}
		result.AlertFired = fired
	}

	// Supplementary samples are stored for history but not broadcast; the
	// official-tick gate is exactly what prevents event storms from the
	// client's overlapping watch and timer.
	if official {
		p.pub.Publish(member.SchoolID, broadcast.Event{
			Kind:           broadcast.KindLocationUpdate,
			SchoolID:       member.SchoolID,
			SubjectID:      sample.SubjectID,
			LeaveRequestID: sample.LeaveRequestID,
			Latitude:       sample.Latitude,
			Longitude:      sample.Longitude,
			CapturedAt:     sample.CapturedAt,
		})
	}

	return result, nil
}

// flagOutOfRadius latches the leave request and raises the alert. The latch
// only moves while the request is APPROVED; a late sample for a completed
// request is persisted but changes nothing.
func (p *Pipeline) flagOutOfRadius(ctx context.Context, member school.Member, sample Sample, official bool) (bool, error) {
	req, err := p.leaves.Get(ctx, sample.LeaveRequestID)
	if err != nil {
		return false, err
	}
	if req.Status != leave.StatusApproved {
		return false, nil
	}

	changed, err := p.leaves.MarkOutOfRadius(ctx, req.ID)
	if err != nil {
		return false, err
	}
	if changed {
		metrics.RadiusAlerts.Inc()
		if p.notes != nil {
			note := notify.Notification{
				ID:        uuid.NewString(),
				SubjectID: sample.SubjectID,
				Type:      notify.TypeRadiusAlert,
				Message:   "Siswa keluar dari radius yang diizinkan",
				CreatedAt: sample.ReceivedAt,
			}
			if err := p.notes.Insert(ctx, note); err != nil {
				return false, err
			}
		}
	}

	// The alert repeats on every official out-of-radius tick, not only on the
	// first; a supplementary sample raises it only when it moved the latch.
	if !changed && !official {
		return false, nil
	}
	p.pub.Publish(member.SchoolID, broadcast.Event{
		Kind:           broadcast.KindRadiusAlert,
		SchoolID:       member.SchoolID,
		SubjectID:      sample.SubjectID,
		LeaveRequestID: sample.LeaveRequestID,
		Latitude:       sample.Latitude,
		Longitude:      sample.Longitude,
		CapturedAt:     sample.CapturedAt,
	})
	return true, nil
}

// History lists stored samples, newest first.
func (p *Pipeline) History(ctx context.Context, f Filter) ([]Sample, error) {
	return p.samples.List(ctx, f)
}

// Latest returns the newest sample for a leave request, or nil.
func (p *Pipeline) Latest(ctx context.Context, leaveRequestID string) (*Sample, error) {
	return p.samples.Latest(ctx, leaveRequestID)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
