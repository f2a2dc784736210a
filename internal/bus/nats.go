// Package bus connects ispctl to the NATS message bus shared with the
// network layer.
package bus

import (
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultReconnectWait is the wait between NATS reconnect attempts.
const DefaultReconnectWait = 2 * time.Second

// Connect dials NATS and keeps reconnecting forever on loss.
func Connect(url, name string, log *zap.Logger) (*nats.Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(DefaultReconnectWait),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Warn("nats async error", zap.String("subject", subject), zap.Error(err))
		}),
	}
	return nats.Connect(url, opts...)
}

// Close drains nc so pending messages finish; Drain closes the connection
// when done. A connection that cannot drain is closed at once.
func Close(nc *nats.Conn) {
	if nc == nil || nc.IsClosed() {
		return
	}
	if err := nc.Drain(); err != nil {
		nc.Close()
	}
}
