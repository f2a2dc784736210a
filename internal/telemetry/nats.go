package telemetry

import (
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"ispctl/internal/metrics"
)

// DefaultSubject is the NATS subject the network layer publishes traffic on.
const DefaultSubject = "ispctl.telemetry"

// NATSIngest feeds telemetry published on a NATS subject into a Hub.
type NATSIngest struct {
	hub     *Hub
	log     *zap.Logger
	metrics *metrics.Collectors
	sub     *nats.Subscription
}

// NewNATSIngest returns an ingest that is not yet subscribed.
func NewNATSIngest(h *Hub, log *zap.Logger, m *metrics.Collectors) *NATSIngest {
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSIngest{hub: h, log: log, metrics: m}
}

// Subscribe starts consuming subject on nc.
func (n *NATSIngest) Subscribe(nc *nats.Conn, subject string) error {
	if subject == "" {
		subject = DefaultSubject
	}
	sub, err := nc.Subscribe(subject, n.handle)
	if err != nil {
		return err
	}
	n.sub = sub
	n.log.Info("telemetry ingest subscribed", zap.String("subject", subject))
	return nil
}

// Close stops consuming. The connection stays open.
func (n *NATSIngest) Close() error {
	if n.sub == nil {
		return nil
	}
	return n.sub.Unsubscribe()
}

func (n *NATSIngest) handle(msg *nats.Msg) {
	snap, err := Decode(msg.Data)
	if err != nil {
		n.metrics.TelemetryRejected()
		n.log.Warn("telemetry payload rejected", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	n.hub.Publish(snap)
}
