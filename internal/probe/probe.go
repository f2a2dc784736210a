package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ispctl/internal/model"
)

// DefaultTimeout bounds a single probe when the caller passes zero.
const DefaultTimeout = 5 * time.Second

// ErrUnreachable is wrapped into RouterStatus.LastError causes when a router
// cannot be reached within the probe timeout.
var ErrUnreachable = errors.New("router unreachable")

// Session is an open management session with a router.
type Session interface {
	Close() error
}

// ResourceReader is implemented by sessions that can read device resources.
type ResourceReader interface {
	ReadResource(ctx context.Context) (model.RouterMetrics, error)
}

// Dialer opens a management session. Implementations must honour ctx.
type Dialer interface {
	Dial(ctx context.Context, router model.Router, addr string) (Session, error)
}

// Prober runs bounded health checks over a Dialer.
type Prober struct {
	dialer  Dialer
	timeout time.Duration
	now     func() time.Time
}

// New returns a Prober. A nil dialer uses TCPDialer.
func New(d Dialer, timeout time.Duration) *Prober {
	if d == nil {
		d = &TCPDialer{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{dialer: d, timeout: timeout, now: time.Now}
}

// Timeout returns the per-probe bound.
func (p *Prober) Timeout() time.Duration { return p.timeout }

// Probe checks one router. It never returns an error: failures are encoded
// as an offline status whose LastError describes the cause.
func (p *Prober) Probe(ctx context.Context, r model.Router) model.RouterStatus {
	st := model.RouterStatus{
		RouterID: r.ID,
		Name:     r.Name,
		Address:  r.Address,
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.now()
	err := p.check(ctx, r, &st)
	end := p.now()
	st.LastCheck = end.UTC()
	st.Latency = end.Sub(start)
	if err != nil {
		st.Online = model.Bool(false)
		st.LastError = err.Error()
		return st
	}
	st.Online = model.Bool(true)
	return st
}

func (p *Prober) check(ctx context.Context, r model.Router, st *model.RouterStatus) error {
	port := r.Port
	if port == 0 {
		port = model.DefaultAPIPort
		if r.UseTLS {
			port = model.DefaultAPITLSPort
		}
	}
	addr, ok := Addr(r.Address, port)
	if !ok {
		return fmt.Errorf("%w: invalid address %q", ErrUnreachable, r.Address)
	}

	sess, err := p.dialer.Dial(ctx, r, addr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, ctxErr)
		}
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
	}
	defer sess.Close()

	rr, ok := sess.(ResourceReader)
	if !ok {
		return nil
	}
	m, err := rr.ReadResource(ctx)
	if err != nil {
		// Reachable but the resource read failed; keep it online.
		st.LastError = fmt.Sprintf("read resource: %v", err)
		return nil
	}
	st.Metrics = &m
	return nil
}
