package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ispctl/internal/metrics"
	"ispctl/internal/model"
)

// DefaultReconnectDelay is the fixed wait between observer reconnects.
const DefaultReconnectDelay = 3 * time.Second

// ErrTransportDropped is returned by Conn.Read when the session ends.
var ErrTransportDropped = errors.New("telemetry transport dropped")

// Conn is an open telemetry stream.
type Conn interface {
	Read(ctx context.Context) (model.TelemetrySnapshot, error)
	Close() error
}

// Transport opens telemetry streams.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Observer keeps a telemetry stream open, redialing after a fixed delay
// whenever it drops, until Close.
type Observer struct {
	transport Transport
	delay     time.Duration
	handle    func(model.TelemetrySnapshot)
	log       *zap.Logger
	metrics   *metrics.Collectors

	connects atomic.Int64
	up       atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ObserverOptions tunes an Observer.
type ObserverOptions struct {
	ReconnectDelay time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Collectors
}

// NewObserver returns a closed observer that passes every snapshot it
// reads to handle.
func NewObserver(t Transport, handle func(model.TelemetrySnapshot), opts ObserverOptions) *Observer {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Observer{
		transport: t,
		delay:     opts.ReconnectDelay,
		handle:    handle,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Open starts the reconnect loop. Opening an open observer does nothing.
func (o *Observer) Open(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.run(ctx, o.done)
}

// Close stops the loop, closes the transport and waits for the loop to exit.
func (o *Observer) Close() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Connects returns how many times the transport was dialed successfully.
func (o *Observer) Connects() int64 { return o.connects.Load() }

// Connected reports whether a stream is currently open.
func (o *Observer) Connected() bool { return o.up.Load() }

func (o *Observer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		err := o.session(ctx)
		if ctx.Err() != nil {
			return
		}
		o.log.Warn("telemetry stream lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", o.delay),
		)

		t := time.NewTimer(o.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (o *Observer) session(ctx context.Context) error {
	conn, err := o.transport.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	// Closing the conn unblocks a pending Read when ctx is canceled.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		if stop() {
			_ = conn.Close()
		}
		o.up.Store(false)
	}()

	n := o.connects.Add(1)
	o.up.Store(true)
	o.metrics.ObserverConnected()
	o.log.Info("telemetry stream connected", zap.Int64("connects", n))

	for {
		snap, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, ErrTransportDropped) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrTransportDropped, err)
		}
		if o.handle != nil {
			o.handle(snap)
		}
	}
}
