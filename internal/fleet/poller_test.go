package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ispctl/internal/model"
	"ispctl/internal/probe"
)

type fakeSource struct {
	mu      sync.Mutex
	routers []model.Router
	err     error
}

func (s *fakeSource) ListRouters(ctx context.Context) ([]model.Router, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]model.Router(nil), s.routers...), nil
}

func (s *fakeSource) set(routers ...model.Router) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routers = routers
}

type session struct{}

func (session) Close() error { return nil }

// delayDialer answers each router after a per-address delay. Addresses
// listed in hang never answer.
type delayDialer struct {
	delays map[string]time.Duration
	hang   map[string]bool
	calls  atomic.Int64
}

func (d *delayDialer) Dial(ctx context.Context, r model.Router, addr string) (probe.Session, error) {
	d.calls.Add(1)
	if d.hang[r.Address] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	select {
	case <-time.After(d.delays[r.Address]):
		return session{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func router(id int64, addr string) model.Router {
	return model.Router{ID: id, Name: fmt.Sprintf("r%d", id), Address: addr, Port: 8728, Active: true}
}

func TestPollOnce_SlowAndHungRouters(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.set(router(1, "192.0.2.1"), router(2, "192.0.2.2"), router(3, "192.0.2.3"))
	d := &delayDialer{
		delays: map[string]time.Duration{"192.0.2.1": 100 * time.Millisecond, "192.0.2.3": 50 * time.Millisecond},
		hang:   map[string]bool{"192.0.2.2": true},
	}
	p := New(src, probe.New(d, 150*time.Millisecond), Options{})

	start := time.Now()
	rep, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 140*time.Millisecond || elapsed > time.Second {
		t.Fatalf("elapsed=%s", elapsed)
	}
	if rep.Total != 3 || rep.Online != 2 || rep.Offline != 1 {
		t.Fatalf("report=%+v", rep)
	}

	b, ok := p.Status(2)
	if !ok || !b.IsOffline() || b.LastError == "" {
		t.Fatalf("b=%+v", b)
	}
	if a, _ := p.Status(1); !a.IsOnline() {
		t.Fatalf("a=%+v", a)
	}
}

func TestPollOnce_LatencyApproachesMax(t *testing.T) {
	t.Parallel()

	const n = 40
	src := &fakeSource{}
	d := &delayDialer{delays: map[string]time.Duration{}, hang: map[string]bool{}}
	var routers []model.Router
	for i := 1; i <= n; i++ {
		addr := fmt.Sprintf("192.0.2.%d", i)
		routers = append(routers, router(int64(i), addr))
		if i%4 == 0 {
			d.hang[addr] = true
		} else {
			d.delays[addr] = 50 * time.Millisecond
		}
	}
	src.set(routers...)
	p := New(src, probe.New(d, 200*time.Millisecond), Options{})

	start := time.Now()
	rep, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("elapsed=%s, probes look serialized", elapsed)
	}
	if rep.Total != n || rep.Offline != n/4 || len(rep.Results) != n {
		t.Fatalf("total=%d offline=%d results=%d", rep.Total, rep.Offline, len(rep.Results))
	}
	for _, st := range rep.Results {
		if !st.Known() {
			t.Fatalf("unresolved status: %+v", st)
		}
	}
}

func TestPollOnce_SourceErrorIsFatal(t *testing.T) {
	t.Parallel()

	src := &fakeSource{err: errors.New("store closed")}
	p := New(src, probe.New(&delayDialer{}, time.Second), Options{})
	if _, err := p.PollOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRegister_LoadingUntilProbed(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	r := router(1, "192.0.2.1")
	src.set(r)
	p := New(src, probe.New(&delayDialer{delays: map[string]time.Duration{}}, time.Second), Options{})

	p.Register(r)
	st, ok := p.Status(1)
	if !ok || !st.Loading || st.Known() {
		t.Fatalf("status=%+v", st)
	}
	sum := p.Summary()
	if sum.Unknown != 1 || sum.Offline != 0 || sum.Initialized {
		t.Fatalf("summary=%+v", sum)
	}

	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	st, _ = p.Status(1)
	if st.Loading || !st.IsOnline() {
		t.Fatalf("status=%+v", st)
	}
	if !p.Summary().Initialized {
		t.Fatalf("not initialized")
	}
}

func TestPollOnce_EvictsRemovedRouters(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.set(router(1, "192.0.2.1"), router(2, "192.0.2.2"))
	p := New(src, probe.New(&delayDialer{delays: map[string]time.Duration{}}, time.Second), Options{})

	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	src.set(router(1, "192.0.2.1"))
	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if _, ok := p.Status(2); ok {
		t.Fatalf("router 2 not evicted")
	}
	if got := len(p.Statuses()); got != 1 {
		t.Fatalf("statuses=%d", got)
	}
}

func TestPollOnce_SkipsInactiveRouters(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	inactive := router(2, "192.0.2.2")
	inactive.Active = false
	src.set(router(1, "192.0.2.1"), inactive)
	d := &delayDialer{}
	p := New(src, probe.New(d, time.Second), Options{})

	p.Register(inactive)
	if _, ok := p.Status(2); ok {
		t.Fatalf("inactive router registered")
	}

	rep, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if rep.Total != 1 || rep.Offline != 0 {
		t.Fatalf("report=%+v", rep)
	}
	if got := d.calls.Load(); got != 1 {
		t.Fatalf("dials=%d", got)
	}
	if _, ok := p.Status(2); ok {
		t.Fatalf("inactive router has a status")
	}
	sum := p.Summary()
	if sum.Total != 1 || sum.Online != 1 || sum.Offline != 0 || len(sum.OfflineList) != 0 {
		t.Fatalf("summary=%+v", sum)
	}

	// Deactivating a polled router drops it on the next cycle.
	deactivated := router(1, "192.0.2.1")
	deactivated.Active = false
	src.set(deactivated, inactive)
	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if got := len(p.Statuses()); got != 0 {
		t.Fatalf("statuses=%d", got)
	}
	if got := d.calls.Load(); got != 1 {
		t.Fatalf("dials after deactivation=%d", got)
	}
}

func TestPollOnce_CanceledResultsDiscarded(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.set(router(1, "192.0.2.1"))
	d := &delayDialer{hang: map[string]bool{"192.0.2.1": true}}
	p := New(src, probe.New(d, time.Minute), Options{})
	p.Register(router(1, "192.0.2.1"))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	if _, err := p.PollOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	st, _ := p.Status(1)
	if st.Known() {
		t.Fatalf("canceled cycle leaked a result: %+v", st)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.set(router(1, "192.0.2.1"))
	d := &delayDialer{delays: map[string]time.Duration{}}
	p := New(src, probe.New(d, time.Second), Options{})

	p.Start(context.Background(), time.Hour)
	p.Start(context.Background(), time.Hour)
	if !p.Running() {
		t.Fatalf("not running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if st, ok := p.Status(1); ok && st.IsOnline() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first cycle did not run immediately")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Stop()
	p.Stop()
	if p.Running() {
		t.Fatalf("still running")
	}
	if got := d.calls.Load(); got != 1 {
		t.Fatalf("calls=%d", got)
	}
}

func TestStart_ParentCancelReleasesLoop(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.set(router(1, "192.0.2.1"))
	d := &delayDialer{}
	p := New(src, probe.New(d, time.Second), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx, time.Hour)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for p.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("still running after parent cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Start(context.Background(), time.Hour)
	if !p.Running() {
		t.Fatalf("restart was a no-op")
	}
	p.Stop()
	if p.Running() {
		t.Fatalf("still running after stop")
	}
}

func TestStart_OverlappingTicksSkipped(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.set(router(1, "192.0.2.1"))
	d := &delayDialer{delays: map[string]time.Duration{"192.0.2.1": 120 * time.Millisecond}}
	p := New(src, probe.New(d, time.Second), Options{})

	p.Start(context.Background(), 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	p.Stop()

	// 200ms of 20ms ticks with 120ms cycles allows at most two cycles.
	if got := d.calls.Load(); got < 1 || got > 2 {
		t.Fatalf("calls=%d", got)
	}
}

func TestStop_EffectiveWithinTimeout(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.set(router(1, "192.0.2.1"))
	d := &delayDialer{hang: map[string]bool{"192.0.2.1": true}}
	p := New(src, probe.New(d, 10*time.Second), Options{})

	p.Start(context.Background(), time.Hour)
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	p.Stop()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("stop took %s", elapsed)
	}
	if st, ok := p.Status(1); ok && st.Known() {
		t.Fatalf("result applied after stop: %+v", st)
	}
}
