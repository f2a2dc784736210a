package fleet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ispctl/internal/metrics"
	"ispctl/internal/model"
)

const (
	DefaultInterval      = 10 * time.Second
	DefaultMaxConcurrent = 64
)

// RouterSource lists the routers a cycle should probe.
type RouterSource interface {
	ListRouters(ctx context.Context) ([]model.Router, error)
}

// Prober checks one router. It must not block past its own timeout.
type Prober interface {
	Probe(ctx context.Context, r model.Router) model.RouterStatus
}

// Options tunes a Poller. Zero values select defaults.
type Options struct {
	MaxConcurrent int
	Logger        *zap.Logger
	Metrics       *metrics.Collectors
	Tracer        trace.Tracer
}

// CycleReport is the aggregate outcome of one poll cycle. Offline routers
// are counted, never returned as an error.
type CycleReport struct {
	Started  time.Time            `json:"started"`
	Duration time.Duration        `json:"duration_ns"`
	Total    int                  `json:"total"`
	Online   int                  `json:"online"`
	Offline  int                  `json:"offline"`
	Results  []model.RouterStatus `json:"results"`
}

// Summary is the router section of the dashboard.
type Summary struct {
	Total       int                  `json:"total"`
	Online      int                  `json:"online"`
	Offline     int                  `json:"offline"`
	Unknown     int                  `json:"unknown"`
	OfflineList []model.RouterStatus `json:"offline_list"`
	Initialized bool                 `json:"initialized"`
}

type entry struct {
	status model.RouterStatus
	epoch  uint64
}

// Poller owns the router status map and runs periodic concurrent probes.
type Poller struct {
	src     RouterSource
	prober  Prober
	limit   int
	log     *zap.Logger
	metrics *metrics.Collectors
	tracer  trace.Tracer

	mu          sync.RWMutex
	entries     map[int64]*entry
	epoch       uint64
	initialized bool
	cancel      context.CancelFunc
	done        chan struct{}

	inFlight atomic.Bool
}

// New returns an idle Poller.
func New(src RouterSource, prober Prober, opts Options) *Poller {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("ispctl/fleet")
	}
	return &Poller{
		src:     src,
		prober:  prober,
		limit:   opts.MaxConcurrent,
		log:     opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		entries: make(map[int64]*entry),
	}
}

// Start runs a cycle immediately and then every interval, measured from
// cycle start. Ticks that arrive while a cycle is running are dropped.
// Calling Start on a running poller does nothing.
func (p *Poller) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	p.log.Info("poller started", zap.Duration("interval", interval), zap.Int("max_concurrent", p.limit))

	go func() {
		defer close(done)
		defer func() {
			// A canceled parent ends the loop without Stop; release the
			// slot so Running reports false and Start works again.
			p.mu.Lock()
			if p.done == done {
				p.cancel, p.done = nil, nil
			}
			p.mu.Unlock()
			cancel()
		}()
		var cycles sync.WaitGroup
		defer cycles.Wait()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		p.tick(ctx, &cycles)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.tick(ctx, &cycles)
			}
		}
	}()
}

func (p *Poller) tick(ctx context.Context, cycles *sync.WaitGroup) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.metrics.PollSkipped()
		p.log.Debug("poll tick skipped, cycle in flight")
		return
	}
	cycles.Add(1)
	go func() {
		defer cycles.Done()
		defer p.inFlight.Store(false)
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("poll cycle failed", zap.Error(err))
		}
	}()
}

// Stop cancels the ticker and any in-flight cycle, then waits for the loop
// to exit. Results of probes still running are discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.log.Info("poller stopped")
}

// Running reports whether the periodic loop is active.
func (p *Poller) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cancel != nil
}

// Register records an active router as known but not yet probed, so it
// shows as unknown before the first cycle finishes.
func (p *Poller) Register(r model.Router) {
	if !r.Active {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[r.ID]; ok {
		return
	}
	p.entries[r.ID] = &entry{
		status: model.RouterStatus{RouterID: r.ID, Name: r.Name, Address: r.Address, Loading: true},
		epoch:  p.epoch,
	}
}

// PollOnce probes every router the source lists at cycle start. If ctx is
// canceled before the probes finish, their results are not applied.
func (p *Poller) PollOnce(ctx context.Context) (CycleReport, error) {
	ctx, span := p.tracer.Start(ctx, "fleet.poll_cycle")
	defer span.End()

	report := CycleReport{Started: time.Now().UTC()}
	listed, err := p.src.ListRouters(ctx)
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("list routers: %w", err)
	}
	// Inactive routers are not polled; their old entries age out below.
	routers := make([]model.Router, 0, len(listed))
	for _, r := range listed {
		if r.Active {
			routers = append(routers, r)
		}
	}

	p.mu.Lock()
	p.epoch++
	epoch := p.epoch
	for _, r := range routers {
		if _, ok := p.entries[r.ID]; !ok {
			p.entries[r.ID] = &entry{
				status: model.RouterStatus{RouterID: r.ID, Name: r.Name, Address: r.Address, Loading: true},
				epoch:  epoch,
			}
		}
	}
	p.mu.Unlock()

	results := make([]model.RouterStatus, len(routers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for i, r := range routers {
		g.Go(func() error {
			results[i] = p.prober.Probe(gctx, r)
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(report.Started)
	report.Total = len(results)
	for _, st := range results {
		if st.IsOnline() {
			report.Online++
		} else {
			report.Offline++
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RouterID < results[j].RouterID })
	report.Results = results

	span.SetAttributes(
		attribute.Int("routers.total", report.Total),
		attribute.Int("routers.online", report.Online),
		attribute.Int("routers.offline", report.Offline),
	)

	if err := ctx.Err(); err != nil {
		p.log.Debug("poll cycle discarded", zap.Uint64("epoch", epoch), zap.Error(err))
		return report, err
	}

	p.apply(epoch, results)
	p.metrics.ObservePollCycle(report.Duration, report.Online, report.Offline)
	p.log.Debug("poll cycle done",
		zap.Int("total", report.Total),
		zap.Int("online", report.Online),
		zap.Int("offline", report.Offline),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (p *Poller) apply(epoch uint64, results []model.RouterStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, st := range results {
		e, ok := p.entries[st.RouterID]
		if ok && e.epoch > epoch {
			continue
		}
		if ok && e.status.IsOnline() != st.IsOnline() && e.status.Known() {
			p.logTransition(st)
		}
		p.entries[st.RouterID] = &entry{status: st, epoch: epoch}
	}

	// Evict routers the source no longer lists. Routers registered after
	// this cycle started carry a newer epoch and stay.
	for id, e := range p.entries {
		if e.epoch < epoch {
			delete(p.entries, id)
		}
	}
	p.initialized = true
}

func (p *Poller) logTransition(st model.RouterStatus) {
	if st.IsOnline() {
		p.log.Info("router online", zap.Int64("router_id", st.RouterID), zap.String("name", st.Name))
		return
	}
	p.log.Warn("router offline",
		zap.Int64("router_id", st.RouterID),
		zap.String("name", st.Name),
		zap.String("error", st.LastError),
	)
}

// Statuses returns every known status ordered by router id.
func (p *Poller) Statuses() []model.RouterStatus {
	p.mu.RLock()
	out := make([]model.RouterStatus, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.status)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RouterID < out[j].RouterID })
	return out
}

// Status returns one router's status.
func (p *Poller) Status(id int64) (model.RouterStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[id]
	if !ok {
		return model.RouterStatus{}, false
	}
	return e.status, true
}

// Summary counts statuses. Routers never probed are unknown, not offline.
func (p *Poller) Summary() Summary {
	statuses := p.Statuses()

	p.mu.RLock()
	s := Summary{Total: len(statuses), Initialized: p.initialized, OfflineList: []model.RouterStatus{}}
	p.mu.RUnlock()

	for _, st := range statuses {
		switch {
		case st.IsOnline():
			s.Online++
		case st.IsOffline():
			s.Offline++
			s.OfflineList = append(s.OfflineList, st)
		default:
			s.Unknown++
		}
	}
	return s
}
