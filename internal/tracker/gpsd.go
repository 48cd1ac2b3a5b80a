package tracker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// watchCommand enables gpsd's JSON report stream.
const watchCommand = `?WATCH={"enable":true,"json":true}` + "\n"

// GPSDSource reads positions from a gpsd daemon. Permission maps onto daemon
// reachability: no address configured means the device has no location
// support, a refused connection means access is switched off and the user has
// to fix it outside this process.
type GPSDSource struct {
	addr        string
	dialTimeout time.Duration

	mu   sync.Mutex
	last *Position
	lost bool
}

// NewGPSDSource creates a source for the given gpsd address (host:port).
func NewGPSDSource(addr string) *GPSDSource {
	return &GPSDSource{addr: addr, dialTimeout: 5 * time.Second}
}

func (g *GPSDSource) RequestPermission(ctx context.Context) (Permission, error) {
	if g.addr == "" {
		return PermissionUnsupported, nil
	}
	conn, err := g.dial(ctx)
	if err != nil {
		return PermissionDenied, nil
	}
	conn.Close()
	return PermissionGranted, nil
}

// Watch streams TPV reports until the returned release func is called or the
// connection drops. A dropped connection closes the channel; the tracker's
// interval timer keeps sampling through Current.
func (g *GPSDSource) Watch(ctx context.Context) (<-chan Position, func(), error) {
	conn, err := g.dial(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("gpsd connect: %w", err)
	}
	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("gpsd watch: %w", err)
	}

	out := make(chan Position, 1)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			pos, ok := parseTPV(scanner.Bytes())
			if !ok {
				continue
			}
			g.mu.Lock()
			p := pos
			g.last = &p
			g.mu.Unlock()
			select {
			case out <- pos:
			default:
				// Consumer is behind; the next report supersedes this one.
			}
		}
		g.mu.Lock()
		g.lost = true
		g.mu.Unlock()
	}()

	release := func() { conn.Close() }
	return out, release, nil
}

// Current returns the last streamed fix, or takes a fresh connection when the
// stream has dropped. A refused reconnect after a working session is treated
// as revoked access.
func (g *GPSDSource) Current(ctx context.Context) (Position, error) {
	g.mu.Lock()
	last, lost := g.last, g.lost
	g.mu.Unlock()

	if last != nil && !lost {
		return *last, nil
	}

	conn, err := g.dial(ctx)
	if err != nil {
		if lost {
			return Position{}, ErrPermissionRevoked
		}
		return Position{}, fmt.Errorf("position unavailable: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		return Position{}, fmt.Errorf("position unavailable: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(g.dialTimeout))
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if pos, ok := parseTPV(scanner.Bytes()); ok {
			g.mu.Lock()
			p := pos
			g.last = &p
			g.lost = false
			g.mu.Unlock()
			return pos, nil
		}
	}
	return Position{}, errors.New("position unavailable: no fix from gpsd")
}

func (g *GPSDSource) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: g.dialTimeout}
	return d.DialContext(ctx, "tcp", g.addr)
}

// tpvReport is the subset of gpsd's TPV class the tracker needs.
type tpvReport struct {
	Class string   `json:"class"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Time  string   `json:"time"`
	EPX   float64  `json:"epx"`
	EPY   float64  `json:"epy"`
}

func parseTPV(line []byte) (Position, bool) {
	var rep tpvReport
	if err := json.Unmarshal(line, &rep); err != nil {
		return Position{}, false
	}
	if rep.Class != "TPV" || rep.Lat == nil || rep.Lon == nil {
		return Position{}, false
	}
	capturedAt := time.Now()
	if rep.Time != "" {
		if t, err := time.Parse(time.RFC3339, rep.Time); err == nil {
			capturedAt = t
		}
	}
	accuracy := rep.EPX
	if rep.EPY > accuracy {
		accuracy = rep.EPY
	}
	return Position{
		Latitude:       *rep.Lat,
		Longitude:      *rep.Lon,
		AccuracyMeters: accuracy,
		CapturedAt:     capturedAt,
	}, true
}
