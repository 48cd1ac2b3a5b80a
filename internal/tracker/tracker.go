// Package tracker runs the device-side tracking loop for one approved leave
// request: it acquires location permission, produces candidate samples from
// both a continuous position watch and a fixed-interval timer, and sends them
// opportunistically to the ingestion API until the leave ends.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"leavetrack/internal/leave"
)

// Permission mirrors the platform location-permission states.
type Permission string

const (
	PermissionPrompt      Permission = "prompt"
	PermissionGranted     Permission = "granted"
	PermissionDenied      Permission = "denied"
	PermissionUnsupported Permission = "unsupported"
)

// State is the loop's lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting-permission"
	StateTracking   State = "tracking"
	StateError      State = "error"
	StateStopped    State = "stopped"
)

// Loop-terminating errors.
var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnsupported      = errors.New("location not supported on this device")
	// ErrPermissionRevoked is returned by a Source when a previously granted
	// permission is withdrawn mid-session.
	ErrPermissionRevoked = errors.New("location permission revoked")
)

// Position is one device fix.
type Position struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	CapturedAt     time.Time
}

// Source is the device location API. Watch delivers positions as the device
// reports movement; Current takes a one-shot fix for timer ticks. Both report
// ErrPermissionRevoked once the user withdraws permission.
type Source interface {
	RequestPermission(ctx context.Context) (Permission, error)
	Watch(ctx context.Context) (<-chan Position, func(), error)
	Current(ctx context.Context) (Position, error)
}

// Sender delivers one sample to the ingestion pipeline over the network.
type Sender interface {
	Send(ctx context.Context, pos Position) (withinRadius bool, err error)
}

// LeaveWatcher reports the current status of the tracked leave request.
type LeaveWatcher interface {
	Status(ctx context.Context) (leave.Status, error)
}

// Snapshot is the loop state as shown to the user. Send failures and position
// errors are distinct from permission problems because the remediation
// differs.
type Snapshot struct {
	State         State
	Permission    Permission
	LastError     string
	LastSentAt    time.Time
	WithinRadius  *bool
	DroppedSends  int
}

// Config tunes the loop. Zero values take the server's defaults.
type Config struct {
	// UpdateInterval is the timer cadence; also the minimum spacing between
	// successful sends, less Slack.
	UpdateInterval time.Duration
	Slack          time.Duration
	// PollInterval is how often the leave request status is re-checked.
	PollInterval time.Duration
}

type sendOutcome struct {
	within bool
	err    error
}

// Tracker is the loop for a single leave request.
type Tracker struct {
	cfg    Config
	source Source
	sender Sender
	leaves LeaveWatcher

	mu   sync.Mutex
	snap Snapshot

	cancel context.CancelFunc
}

// New builds a tracker.
func New(cfg Config, source Source, sender Sender, leaves LeaveWatcher) *Tracker {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = 30 * time.Second
	}
	if cfg.Slack <= 0 {
		cfg.Slack = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = cfg.UpdateInterval
	}
	return &Tracker{
		cfg:    cfg,
		source: source,
		sender: sender,
		leaves: leaves,
		snap:   Snapshot{State: StateIdle, Permission: PermissionPrompt},
	}
}

// Snapshot returns the current loop state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Stop ends the loop. Run releases the watch subscription and the timer
// together before returning.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *Tracker) update(fn func(s *Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.snap)
}

// Run drives the loop until the leave request leaves APPROVED, Stop is
// called, or permission is lost. Denied/unsupported permission is terminal
// for this attempt; the user has to change device settings and start again.
func (t *Tracker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	defer cancel()

	t.update(func(s *Snapshot) { s.State = StateRequesting })
	perm, err := t.source.RequestPermission(ctx)
	if err != nil {
		t.update(func(s *Snapshot) { s.State = StateError; s.LastError = err.Error() })
		return err
	}
	t.update(func(s *Snapshot) { s.Permission = perm })
	switch perm {
	case PermissionDenied:
		t.update(func(s *Snapshot) { s.State = StateError; s.LastError = ErrPermissionDenied.Error() })
		return ErrPermissionDenied
	case PermissionUnsupported:
		t.update(func(s *Snapshot) { s.State = StateError; s.LastError = ErrUnsupported.Error() })
		return ErrUnsupported
	}

	watch, release, err := t.source.Watch(ctx)
	if err != nil {
		t.update(func(s *Snapshot) { s.State = StateError; s.LastError = err.Error() })
		return err
	}
	ticker := time.NewTicker(t.cfg.UpdateInterval)
	poll := time.NewTicker(t.cfg.PollInterval)
	stopAll := func() {
		release()
		ticker.Stop()
		poll.Stop()
	}
	defer stopAll()

	t.update(func(s *Snapshot) { s.State = StateTracking })

	var (
		inFlight bool
		lastSent time.Time
		results  = make(chan sendOutcome, 1)
	)
	minGap := t.cfg.UpdateInterval - t.cfg.Slack

	// candidate applies the opportunistic-send rule shared by both producers:
	// drop when a send is in flight or the minimum gap since the last
	// successful send has not elapsed. Candidates are never queued.
	candidate := func(pos Position) {
		if inFlight || (!lastSent.IsZero() && time.Since(lastSent) < minGap) {
			t.update(func(s *Snapshot) { s.DroppedSends++ })
			return
		}
		inFlight = true
		go func() {
			within, err := t.sender.Send(ctx, pos)
			select {
			case results <- sendOutcome{within: within, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			t.update(func(s *Snapshot) { s.State = StateStopped })
			return nil

		case pos, ok := <-watch:
			if !ok {
				// Device stopped reporting movement; the interval timer keeps
				// the loop alive.
				watch = nil
				continue
			}
			candidate(pos)

		case <-ticker.C:
			pos, err := t.source.Current(ctx)
			if err != nil {
				if errors.Is(err, ErrPermissionRevoked) {
					t.update(func(s *Snapshot) {
						s.State = StateStopped
						s.Permission = PermissionDenied
						s.LastError = err.Error()
					})
					return ErrPermissionRevoked
				}
				t.update(func(s *Snapshot) { s.State = StateError; s.LastError = err.Error() })
				continue
			}
			candidate(pos)

		case out := <-results:
			inFlight = false
			if out.err != nil {
				// Stay in tracking for acquisition; the failure is visible
				// and the next natural tick retries.
				t.update(func(s *Snapshot) { s.State = StateError; s.LastError = out.err.Error() })
				continue
			}
			lastSent = time.Now()
			within := out.within
			t.update(func(s *Snapshot) {
				s.State = StateTracking
				s.LastError = ""
				s.LastSentAt = lastSent
				s.WithinRadius = &within
			})

		case <-poll.C:
			status, err := t.leaves.Status(ctx)
			if err != nil {
				t.update(func(s *Snapshot) { s.State = StateError; s.LastError = err.Error() })
				continue
			}
			if status != leave.StatusApproved {
				t.update(func(s *Snapshot) { s.State = StateStopped })
				return nil
			}
		}
	}
}
