package dashboard

import (
	"context"
	"fmt"
	"time"

	"ispctl/internal/fleet"
	"ispctl/internal/metrics"
	"ispctl/internal/model"
	"ispctl/internal/suspension"
)

// Routers is the poller contract the dashboard reads.
type Routers interface {
	Summary() fleet.Summary
	Statuses() []model.RouterStatus
}

// Telemetry is the hub contract the dashboard reads.
type Telemetry interface {
	Current() (model.TelemetrySnapshot, bool)
}

// Clients lists subscriber accounts.
type Clients interface {
	ListClients(ctx context.Context) ([]model.Client, error)
}

// Verdicts classifies every client for the current month.
type Verdicts interface {
	Verdicts(ctx context.Context) ([]suspension.Verdict, error)
}

// RouterSummary extends the poller summary with probe latency.
type RouterSummary struct {
	fleet.Summary
	Latency metrics.Summary `json:"latency"`
}

// ClientSummary counts accounts by stored status and by current verdict.
type ClientSummary struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Suspended int `json:"suspended"`
	Grace     int `json:"grace"`
	Overdue   int `json:"overdue"`
}

// TelemetrySummary describes the latest traffic snapshot.
type TelemetrySummary struct {
	Available  bool      `json:"available"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
	Queues     int       `json:"queues"`
}

// Summary is the dashboard landing view.
type Summary struct {
	Routers     RouterSummary    `json:"routers"`
	Clients     ClientSummary    `json:"clients"`
	Telemetry   TelemetrySummary `json:"telemetry"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// Aggregator composes the dashboard summary from its sources.
type Aggregator struct {
	routers   Routers
	telemetry Telemetry
	clients   Clients
	verdicts  Verdicts
	now       func() time.Time
}

// New returns an Aggregator. verdicts may be nil, in which case grace and
// overdue counts stay zero.
func New(r Routers, t Telemetry, c Clients, v Verdicts) *Aggregator {
	return &Aggregator{routers: r, telemetry: t, clients: c, verdicts: v, now: time.Now}
}

// Summary reads every source once. Only a failure to read clients is fatal;
// router and telemetry state are in-memory and always available.
func (a *Aggregator) Summary(ctx context.Context) (Summary, error) {
	out := Summary{GeneratedAt: a.now().UTC()}

	out.Routers.Summary = a.routers.Summary()
	out.Routers.Latency = metrics.Summarize(a.routers.Statuses(), time.Time{})

	if snap, ok := a.telemetry.Current(); ok {
		out.Telemetry = TelemetrySummary{Available: true, ReceivedAt: snap.ReceivedAt, Queues: len(snap.Queues)}
	}

	clients, err := a.clients.ListClients(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list clients: %w", err)
	}
	out.Clients.Total = len(clients)
	for _, c := range clients {
		if c.Suspended() {
			out.Clients.Suspended++
		} else {
			out.Clients.Active++
		}
	}

	if a.verdicts != nil {
		verdicts, err := a.verdicts.Verdicts(ctx)
		if err != nil {
			return Summary{}, fmt.Errorf("classify clients: %w", err)
		}
		for _, v := range verdicts {
			switch v.Status {
			case suspension.StatusGrace:
				out.Clients.Grace++
			case suspension.StatusOverdue:
				out.Clients.Overdue++
			}
		}
	}
	return out, nil
}
