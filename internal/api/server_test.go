package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"ispctl/internal/billing"
	"ispctl/internal/config"
	"ispctl/internal/dashboard"
	"ispctl/internal/fleet"
	"ispctl/internal/model"
	"ispctl/internal/store"
	"ispctl/internal/suspension"
	"ispctl/internal/telemetry"
)

type staticProber struct{}

func (staticProber) Probe(ctx context.Context, r model.Router) model.RouterStatus {
	return model.RouterStatus{
		RouterID:  r.ID,
		Name:      r.Name,
		Address:   r.Address,
		Online:    model.Bool(r.ID%2 == 1),
		LastCheck: time.Now().UTC(),
		Latency:   5 * time.Millisecond,
	}
}

var testNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	_, err = s.Import(ctx, &store.Inventory{
		Routers: []model.Router{
			{ID: 1, Name: "core", Address: "10.0.0.1", Username: "admin", Active: true},
			{ID: 2, Name: "edge", Address: "10.0.0.2", Username: "admin", Active: true},
		},
		Clients: []model.Client{
			{ID: 1, Name: "ana", IPAddress: "10.1.0.2", BillingDay: 5, RouterID: 1, Status: model.ClientSuspended},
			{ID: 2, Name: "ben", IPAddress: "10.1.0.3", BillingDay: 5, RouterID: 1},
		},
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	var cfg config.Config
	config.ApplyDefaults(&cfg)

	now := func() time.Time { return testNow }
	ledger := billing.NewLedger(s)
	poller := fleet.New(s, staticProber{}, fleet.Options{})
	hub := telemetry.NewHub(nil, nil)
	eval := suspension.NewEvaluator(s, ledger, nil, suspension.Options{Now: now})

	srv := NewServer(cfg, Deps{
		Store:     s,
		Poller:    poller,
		Hub:       hub,
		Ledger:    ledger,
		Evaluator: eval,
		Dashboard: dashboard.New(poller, hub, s, eval),
	})
	srv.now = now
	return srv, s
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRecordPayment_StatusCodes(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/payments", PaymentRequest{ClientID: 1, Month: "2025-3", Amount: 25})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp PaymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !resp.Reactivated || resp.Payment.Month.String() != "2025-03" || resp.Payment.ID == "" {
		t.Fatalf("resp=%+v", resp)
	}
	c, err := st.GetClient(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if c.Status != model.ClientActive {
		t.Fatalf("status=%q", c.Status)
	}

	cases := []struct {
		name string
		req  any
		want int
	}{
		{"duplicate", PaymentRequest{ClientID: 1, Month: "2025-03", Amount: 25}, http.StatusConflict},
		{"unknown client", PaymentRequest{ClientID: 99, Month: "2025-03", Amount: 25}, http.StatusNotFound},
		{"bad month", PaymentRequest{ClientID: 2, Month: "2025-13", Amount: 25}, http.StatusBadRequest},
		{"zero amount", PaymentRequest{ClientID: 2, Month: "2025-03", Amount: 0}, http.StatusBadRequest},
		{"missing client", PaymentRequest{Month: "2025-03", Amount: 25}, http.StatusBadRequest},
		{"unknown field", map[string]any{"client_id": 2, "month": "2025-03", "amount": 1, "x": 1}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := do(t, h, http.MethodPost, "/api/payments", tc.req)
		if rec.Code != tc.want {
			t.Fatalf("%s: status=%d want=%d body=%s", tc.name, rec.Code, tc.want, rec.Body.String())
		}
		var e ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e.Error == "" {
			t.Fatalf("%s: error body=%s", tc.name, rec.Body.String())
		}
	}
}

func TestPaymentQueries(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := NewClient(ts.URL)
	ctx := context.Background()
	for _, m := range []string{"2025-01", "2025-03"} {
		if _, err := c.RecordPayment(ctx, PaymentRequest{ClientID: 2, Month: m, Amount: 10}); err != nil {
			t.Fatalf("RecordPayment %s: %v", m, err)
		}
	}

	list, err := c.Payments(ctx, 2)
	if err != nil {
		t.Fatalf("Payments: %v", err)
	}
	if len(list) != 2 || list[0].Month.String() != "2025-03" {
		t.Fatalf("payments=%+v", list)
	}

	check, err := c.CheckPayment(ctx, 2, "2025-01")
	if err != nil {
		t.Fatalf("CheckPayment: %v", err)
	}
	if !check.Paid || check.Payment == nil {
		t.Fatalf("check=%+v", check)
	}
	check, err = c.CheckPayment(ctx, 2, "2025-02")
	if err != nil {
		t.Fatalf("CheckPayment: %v", err)
	}
	if check.Paid || check.Payment != nil {
		t.Fatalf("unpaid check=%+v", check)
	}

	months, err := c.Months(ctx, 2, nil)
	if err != nil {
		t.Fatalf("Months: %v", err)
	}
	if months.From.String() != "2024-09" || months.To.String() != "2025-08" || len(months.Months) != 12 {
		t.Fatalf("rolling window=%s..%s len=%d", months.From, months.To, len(months.Months))
	}

	months, err = c.Months(ctx, 2, url.Values{"year": {"2025"}})
	if err != nil {
		t.Fatalf("Months year: %v", err)
	}
	if len(months.Months) != 12 || !months.Months[0].Paid || months.Months[1].Paid || !months.Months[2].IsCurrent {
		t.Fatalf("year=%+v", months.Months)
	}

	months, err = c.Months(ctx, 2, url.Values{"from": {"2025-02"}, "to": {"2025-03"}})
	if err != nil {
		t.Fatalf("Months range: %v", err)
	}
	if len(months.Months) != 2 || months.Months[0].Paid || !months.Months[1].Paid {
		t.Fatalf("range=%+v", months.Months)
	}

	_, err = c.Months(ctx, 2, url.Values{"from": {"2025-05"}, "to": {"2025-01"}})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Fatalf("inverted window err=%v", err)
	}
	_, err = c.Payments(ctx, 42)
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("unknown client err=%v", err)
	}
}

func TestSettings_UpdateValidatesMergedValues(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/settings", nil)
	var got model.Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != model.DefaultSettings() {
		t.Fatalf("settings=%+v", got)
	}

	rec = do(t, h, http.MethodPost, "/api/settings", map[string]string{model.KeyGraceDays: "7"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/api/settings", map[string]string{model.KeySuspensionMethod: "firewall"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid method status=%d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/settings", map[string]string{"colour": "blue"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown key status=%d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/settings", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.GraceDays != 7 || got.SuspensionMethod != model.MethodQueue {
		t.Fatalf("settings after update=%+v", got)
	}
}

func TestRunSuspensions(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	rep, err := NewClient(ts.URL).RunSuspensions(context.Background())
	if err != nil {
		t.Fatalf("RunSuspensions: %v", err)
	}
	// Client 1 is already suspended; client 2 is overdue on day 10.
	if rep.Processed != 2 || rep.Suspended != 1 || rep.Reactivated != 0 {
		t.Fatalf("report=%+v", rep)
	}
}

func TestRouters_PollStatusAndCSV(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	c := NewClient(ts.URL)
	ctx := context.Background()

	report, err := c.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if report.Total != 2 || report.Online != 1 || report.Offline != 1 {
		t.Fatalf("report=%+v", report)
	}

	routers, err := c.Routers(ctx)
	if err != nil {
		t.Fatalf("Routers: %v", err)
	}
	if routers.Summary.Online != 1 || routers.Summary.Offline != 1 || len(routers.Routers) != 2 {
		t.Fatalf("routers=%+v", routers)
	}

	res, err := http.Get(ts.URL + "/api/routers/status?format=csv")
	if err != nil {
		t.Fatalf("GET csv: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content-type=%q", ct)
	}
}

func TestTelemetry_PublishAndSummary(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	c := NewClient(ts.URL)
	ctx := context.Background()

	snap := model.TelemetrySnapshot{Queues: map[string]model.QueueUsage{"10.1.0.2": {Upload: 1, Download: 2}}}
	if err := c.PublishTelemetry(ctx, snap); err != nil {
		t.Fatalf("PublishTelemetry: %v", err)
	}

	res, err := http.Post(ts.URL+"/api/telemetry", "application/json", strings.NewReader(`{"system":{}}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing queues status=%d", res.StatusCode)
	}

	summary, err := c.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if !summary.Telemetry.Available || summary.Telemetry.Queues != 1 {
		t.Fatalf("telemetry=%+v", summary.Telemetry)
	}
	if summary.Clients.Total != 2 || summary.Clients.Suspended != 1 || summary.Clients.Overdue != 2 {
		t.Fatalf("clients=%+v", summary.Clients)
	}
	if summary.Routers.Initialized {
		t.Fatalf("routers initialized before first poll: %+v", summary.Routers)
	}
}

func TestRoutes_MethodAndPathErrors(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	h := srv.Handler()

	if rec := do(t, h, http.MethodGet, "/api/payments/abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/settings", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("delete status=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/payments/check/1/nope", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad month status=%d", rec.Code)
	}
}
