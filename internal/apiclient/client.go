// Package apiclient is the tracker agent's HTTP client for the leavetrack
// API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"leavetrack/internal/leave"
	"leavetrack/internal/tracker"
)

// Client calls the leavetrack API server.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New creates a client with a bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type sampleRequest struct {
	LeaveRequestID string    `json:"leaveRequestId,omitempty"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters *float64  `json:"accuracyMeters,omitempty"`
	CapturedAt     time.Time `json:"capturedAt"`
}

type sampleResponse struct {
	Sample struct {
		IsWithinRadius bool `json:"isWithinRadius"`
	} `json:"sample"`
}

// SendSample reports one position for a leave request and returns the
// server's within-radius verdict.
func (c *Client) SendSample(ctx context.Context, leaveRequestID string, pos tracker.Position) (bool, error) {
	body := sampleRequest{
		LeaveRequestID: leaveRequestID,
		Latitude:       pos.Latitude,
		Longitude:      pos.Longitude,
		CapturedAt:     pos.CapturedAt,
	}
	if pos.AccuracyMeters > 0 {
		acc := pos.AccuracyMeters
		body.AccuracyMeters = &acc
	}

	var resp sampleResponse
	if err := c.do(ctx, http.MethodPost, "/api/location-samples", body, &resp); err != nil {
		return false, err
	}
	return resp.Sample.IsWithinRadius, nil
}

// LeaveStatus fetches the current status of a leave request.
func (c *Client) LeaveStatus(ctx context.Context, id string) (leave.Status, error) {
	var resp struct {
		Status leave.Status `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/leave-requests/"+id, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
