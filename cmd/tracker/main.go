package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leavetrack/internal/apiclient"
	"leavetrack/internal/config"
	"leavetrack/internal/leave"
	"leavetrack/internal/tracker"
)

// Tracker is the device-side agent: it follows one approved leave request,
// reads positions from gpsd, and reports them to the API until the leave ends.
func main() {
	cfg := config.Load()

	if cfg.LeaveRequestID == "" {
		log.Fatal("LEAVE_REQUEST_ID is required")
	}
	if cfg.DeviceToken == "" {
		log.Fatal("DEVICE_TOKEN is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	client := apiclient.New(cfg.APIBaseURL, cfg.DeviceToken)

	// Refuse to start tracking a leave that is not approved; the loop itself
	// handles the leave ending mid-session.
	status, err := client.LeaveStatus(ctx, cfg.LeaveRequestID)
	if err != nil {
		log.Fatalf("leave request lookup failed: %v", err)
	}
	if status != leave.StatusApproved {
		log.Fatalf("leave request %s is %s, not APPROVED; nothing to track", cfg.LeaveRequestID, status)
	}

	source := tracker.NewGPSDSource(cfg.GPSDAddr)
	t := tracker.New(tracker.Config{
		UpdateInterval: cfg.UpdateInterval,
		Slack:          cfg.DedupSlack,
	}, source, &apiSender{client: client, leaveRequestID: cfg.LeaveRequestID}, &leaveWatcher{client: client, id: cfg.LeaveRequestID})

	go logSnapshots(ctx, t)

	log.Printf("tracking leave request %s, reporting every %s", cfg.LeaveRequestID, cfg.UpdateInterval)
	if err := t.Run(ctx); err != nil {
		log.Fatalf("tracking ended with error: %v", err)
	}
	log.Println("tracking stopped")
}

// apiSender adapts the HTTP client to the tracker's Sender.
type apiSender struct {
	client         *apiclient.Client
	leaveRequestID string
}

func (s *apiSender) Send(ctx context.Context, pos tracker.Position) (bool, error) {
	return s.client.SendSample(ctx, s.leaveRequestID, pos)
}

// leaveWatcher adapts the HTTP client to the tracker's LeaveWatcher.
type leaveWatcher struct {
	client *apiclient.Client
	id     string
}

func (w *leaveWatcher) Status(ctx context.Context) (leave.Status, error) {
	return w.client.LeaveStatus(ctx, w.id)
}

// logSnapshots prints loop state transitions so the agent is observable from
// its own logs.
func logSnapshots(ctx context.Context, t *tracker.Tracker) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var last tracker.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := t.Snapshot()
			if snap.State == last.State && snap.LastError == last.LastError && snap.LastSentAt.Equal(last.LastSentAt) {
				continue
			}
			switch {
			case snap.LastError != "":
				log.Printf("state=%s permission=%s error=%q dropped=%d", snap.State, snap.Permission, snap.LastError, snap.DroppedSends)
			case snap.WithinRadius != nil:
				log.Printf("state=%s permission=%s lastSent=%s withinRadius=%v", snap.State, snap.Permission, snap.LastSentAt.Format(time.RFC3339), *snap.WithinRadius)
			default:
				log.Printf("state=%s permission=%s", snap.State, snap.Permission)
			}
			last = snap
		}
	}
}
