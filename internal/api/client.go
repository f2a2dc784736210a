package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ispctl/internal/dashboard"
	"ispctl/internal/fleet"
	"ispctl/internal/model"
	"ispctl/internal/suspension"
)

// Client is a thin HTTP client for the dashboard API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:port).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Summary fetches the dashboard summary.
func (c *Client) Summary(ctx context.Context) (dashboard.Summary, error) {
	var resp dashboard.Summary
	err := c.getJSON(ctx, "/api/dashboard/summary", &resp)
	return resp, err
}

// Routers fetches router statuses.
func (c *Client) Routers(ctx context.Context) (RoutersResponse, error) {
	var resp RoutersResponse
	err := c.getJSON(ctx, "/api/routers/status", &resp)
	return resp, err
}

// Poll runs one poll cycle on the server.
func (c *Client) Poll(ctx context.Context) (fleet.CycleReport, error) {
	var resp fleet.CycleReport
	err := c.postJSON(ctx, "/api/routers/poll", struct{}{}, &resp)
	return resp, err
}

// RecordPayment records a payment.
func (c *Client) RecordPayment(ctx context.Context, req PaymentRequest) (PaymentResponse, error) {
	var resp PaymentResponse
	err := c.postJSON(ctx, "/api/payments", req, &resp)
	return resp, err
}

// Payments lists a client's payments, newest first.
func (c *Client) Payments(ctx context.Context, clientID int64) ([]model.Payment, error) {
	var resp []model.Payment
	err := c.getJSON(ctx, "/api/payments/"+strconv.FormatInt(clientID, 10), &resp)
	return resp, err
}

// CheckPayment reports whether month is paid.
func (c *Client) CheckPayment(ctx context.Context, clientID int64, month string) (CheckResponse, error) {
	var resp CheckResponse
	endpoint := fmt.Sprintf("/api/payments/check/%d/%s", clientID, url.PathEscape(month))
	err := c.getJSON(ctx, endpoint, &resp)
	return resp, err
}

// Months fetches a month window. Empty query uses the server default.
func (c *Client) Months(ctx context.Context, clientID int64, query url.Values) (MonthsResponse, error) {
	var resp MonthsResponse
	endpoint := fmt.Sprintf("/api/payments/%d/months", clientID)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	err := c.getJSON(ctx, endpoint, &resp)
	return resp, err
}

// RunSuspensions triggers a suspension run.
func (c *Client) RunSuspensions(ctx context.Context) (suspension.Report, error) {
	var resp suspension.Report
	err := c.postJSON(ctx, "/api/payments/run-suspensions", struct{}{}, &resp)
	return resp, err
}

// Settings fetches the effective settings.
func (c *Client) Settings(ctx context.Context) (model.Settings, error) {
	var resp model.Settings
	err := c.getJSON(ctx, "/api/settings", &resp)
	return resp, err
}

// UpdateSettings writes the given keys and returns the effective settings.
func (c *Client) UpdateSettings(ctx context.Context, values map[string]string) (model.Settings, error) {
	var resp model.Settings
	err := c.postJSON(ctx, "/api/settings", values, &resp)
	return resp, err
}

// PublishTelemetry pushes a snapshot to the hub.
func (c *Client) PublishTelemetry(ctx context.Context, snap model.TelemetrySnapshot) error {
	return c.postJSON(ctx, "/api/telemetry", snap, nil)
}

// TrafficURL returns the websocket URL of the traffic stream.
func (c *Client) TrafficURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/traffic"
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
		return &StatusError{Code: res.StatusCode, Status: res.Status, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}

	decoder := json.NewDecoder(res.Body)
	return decoder.Decode(out)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("request failed: %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("request failed: %s", e.Status)
}
