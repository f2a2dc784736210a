package suspension

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"ispctl/internal/metrics"
	"ispctl/internal/model"
	"ispctl/internal/store"
)

// Run triggers, used as a metrics label.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerPayment   = "payment"
)

// Store is the client, router and settings persistence the evaluator needs.
type Store interface {
	GetRouter(ctx context.Context, id int64) (model.Router, error)
	ListClients(ctx context.Context) ([]model.Client, error)
	GetClient(ctx context.Context, id int64) (model.Client, error)
	SetClientStatus(ctx context.Context, id int64, status string) error
	Settings(ctx context.Context) (map[string]string, error)
}

// PaymentChecker answers whether a month is paid.
type PaymentChecker interface {
	IsPaid(ctx context.Context, clientID int64, month model.YearMonth) (bool, error)
}

// ClientError records a failure isolated to one client.
type ClientError struct {
	ClientID int64  `json:"client_id"`
	Error    string `json:"error"`
}

// Report is the aggregate result of one run. Failures are counted, never
// collapsed into a single pass or fail.
type Report struct {
	Processed   int           `json:"processed"`
	Suspended   int           `json:"suspended"`
	Reactivated int           `json:"reactivated"`
	Skipped     int           `json:"skipped"`
	Errored     int           `json:"errored"`
	Message     string        `json:"message"`
	Errors      []ClientError `json:"errors,omitempty"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration_ns"`
}

func (r *Report) summarize() {
	r.Message = fmt.Sprintf("processed %d clients: %d suspended, %d reactivated, %d skipped, %d errors",
		r.Processed, r.Suspended, r.Reactivated, r.Skipped, r.Errored)
}

// Options tunes an Evaluator. Zero values select defaults.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Collectors
	Tracer  trace.Tracer
	Now     func() time.Time
}

// Evaluator reconciles client status against the ledger. Runs and
// reactivations are serialized.
type Evaluator struct {
	mu       sync.Mutex
	store    Store
	payments PaymentChecker
	enforcer Enforcer
	log      *zap.Logger
	metrics  *metrics.Collectors
	tracer   trace.Tracer
	now      func() time.Time
}

// NewEvaluator returns an Evaluator. A nil enforcer only logs.
func NewEvaluator(s Store, p PaymentChecker, e Enforcer, opts Options) *Evaluator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if e == nil {
		e = LogEnforcer{Log: opts.Logger}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("ispctl/suspension")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Evaluator{
		store:    s,
		payments: p,
		enforcer: e,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		now:      opts.Now,
	}
}

// Settings loads stored settings over the defaults.
func (e *Evaluator) Settings(ctx context.Context) (model.Settings, error) {
	raw, err := e.store.Settings(ctx)
	if err != nil {
		return model.Settings{}, err
	}
	return model.SettingsFromMap(raw)
}

// Verdict classifies one client as of now.
func (e *Evaluator) Verdict(ctx context.Context, c model.Client, graceDays int, now time.Time) (Verdict, error) {
	paid, err := e.payments.IsPaid(ctx, c.ID, model.MonthOf(now))
	if err != nil {
		return Verdict{}, err
	}
	v := Classify(c.BillingDay, graceDays, paid, now)
	v.ClientID = c.ID
	return v, nil
}

// Verdicts classifies every client as of now.
func (e *Evaluator) Verdicts(ctx context.Context) ([]Verdict, error) {
	settings, err := e.Settings(ctx)
	if err != nil {
		return nil, err
	}
	clients, err := e.store.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()
	out := make([]Verdict, 0, len(clients))
	for _, c := range clients {
		v, err := e.Verdict(ctx, c, settings.GraceDays, now)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Run evaluates every client once. Active overdue clients are suspended and
// suspended clients that are no longer overdue are reactivated; clients
// without a router, or whose router is not stored, are skipped. Only failing to list clients or load
// settings returns an error. Running again without payment changes makes
// no transitions.
func (e *Evaluator) Run(ctx context.Context, trigger string) (Report, error) {
	ctx, span := e.tracer.Start(ctx, "suspension.run", trace.WithAttributes(attribute.String("trigger", trigger)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	rep := Report{Started: e.now().UTC()}
	settings, err := e.Settings(ctx)
	if err != nil {
		span.RecordError(err)
		return rep, fmt.Errorf("load settings: %w", err)
	}
	clients, err := e.store.ListClients(ctx)
	if err != nil {
		span.RecordError(err)
		return rep, fmt.Errorf("list clients: %w", err)
	}

	now := e.now()
	routers := make(map[int64]bool)
	for _, c := range clients {
		if err := ctx.Err(); err != nil {
			rep.Duration = time.Since(rep.Started)
			rep.summarize()
			return rep, err
		}
		if !c.HasRouter() {
			rep.Skipped++
			e.log.Debug("client has no router, skipped", zap.Int64("client_id", c.ID))
			continue
		}
		known, ok := routers[c.RouterID]
		if !ok {
			known, err = e.routerExists(ctx, c.RouterID)
			if err != nil {
				rep.Errored++
				rep.Errors = append(rep.Errors, ClientError{ClientID: c.ID, Error: err.Error()})
				e.log.Warn("router lookup failed", zap.Int64("client_id", c.ID), zap.Int64("router_id", c.RouterID), zap.Error(err))
				continue
			}
			routers[c.RouterID] = known
		}
		if !known {
			rep.Skipped++
			e.log.Debug("client router not found, skipped", zap.Int64("client_id", c.ID), zap.Int64("router_id", c.RouterID))
			continue
		}
		rep.Processed++

		changed, suspended, err := e.reconcile(ctx, c, settings, now)
		if err != nil {
			rep.Errored++
			rep.Errors = append(rep.Errors, ClientError{ClientID: c.ID, Error: err.Error()})
			e.log.Warn("suspension check failed", zap.Int64("client_id", c.ID), zap.Error(err))
			continue
		}
		if changed && suspended {
			rep.Suspended++
		} else if changed {
			rep.Reactivated++
		}
	}

	rep.Duration = time.Since(rep.Started)
	rep.summarize()
	span.SetAttributes(
		attribute.Int("clients.processed", rep.Processed),
		attribute.Int("clients.suspended", rep.Suspended),
		attribute.Int("clients.reactivated", rep.Reactivated),
		attribute.Int("clients.errored", rep.Errored),
	)
	e.metrics.SuspensionRun(trigger, rep.Suspended, rep.Reactivated, rep.Skipped, rep.Errored)
	e.log.Info("suspension run done",
		zap.String("trigger", trigger),
		zap.Int("processed", rep.Processed),
		zap.Int("suspended", rep.Suspended),
		zap.Int("reactivated", rep.Reactivated),
		zap.Int("skipped", rep.Skipped),
		zap.Int("errored", rep.Errored),
	)
	return rep, nil
}

// Reactivate lifts the suspension of one client if its current verdict
// allows it. It reports whether the client was reactivated.
func (e *Evaluator) Reactivate(ctx context.Context, clientID int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.store.GetClient(ctx, clientID)
	if err != nil {
		return false, err
	}
	if !c.Suspended() || !c.HasRouter() {
		return false, nil
	}
	known, err := e.routerExists(ctx, c.RouterID)
	if err != nil || !known {
		return false, err
	}
	settings, err := e.Settings(ctx)
	if err != nil {
		return false, err
	}
	changed, suspended, err := e.reconcile(ctx, c, settings, e.now())
	if err != nil {
		return false, err
	}
	reactivated := changed && !suspended
	if reactivated {
		e.metrics.SuspensionRun(TriggerPayment, 0, 1, 0, 0)
	}
	return reactivated, nil
}

func (e *Evaluator) routerExists(ctx context.Context, id int64) (bool, error) {
	_, err := e.store.GetRouter(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	}
	return false, fmt.Errorf("get router %d: %w", id, err)
}

// reconcile moves c to the status its verdict calls for. The router is
// told first so a failed enforcement leaves the stored status untouched and
// the next run retries.
func (e *Evaluator) reconcile(ctx context.Context, c model.Client, s model.Settings, now time.Time) (changed, suspended bool, err error) {
	v, err := e.Verdict(ctx, c, s.GraceDays, now)
	if err != nil {
		return false, false, fmt.Errorf("check payment: %w", err)
	}

	switch {
	case v.Status == StatusOverdue && !c.Suspended():
		if err := e.enforcer.Apply(ctx, NewAction(c, s, true)); err != nil {
			return false, false, fmt.Errorf("enforce suspend: %w", err)
		}
		if err := e.store.SetClientStatus(ctx, c.ID, model.ClientSuspended); err != nil {
			return false, false, fmt.Errorf("persist status: %w", err)
		}
		e.log.Info("client suspended",
			zap.Int64("client_id", c.ID),
			zap.String("name", c.Name),
			zap.Int("billing_day", c.BillingDay),
			zap.Int("grace_days", s.GraceDays),
			zap.Stringer("month", model.MonthOf(now)),
		)
		return true, true, nil

	case v.Status != StatusOverdue && c.Suspended():
		if err := e.enforcer.Apply(ctx, NewAction(c, s, false)); err != nil {
			return false, false, fmt.Errorf("enforce reactivate: %w", err)
		}
		if err := e.store.SetClientStatus(ctx, c.ID, model.ClientActive); err != nil {
			return false, false, fmt.Errorf("persist status: %w", err)
		}
		e.log.Info("client reactivated",
			zap.Int64("client_id", c.ID),
			zap.String("name", c.Name),
			zap.String("verdict", string(v.Status)),
		)
		return true, false, nil
	}
	return false, c.Suspended(), nil
}
