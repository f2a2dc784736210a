package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"ispctl/internal/model"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 4 << 20
)

// trafficMessage is the websocket frame body.
type trafficMessage struct {
	Queues map[string]model.QueueUsage `json:"queues"`
	System map[string]any              `json:"system"`
}

// WebsocketHandler streams hub snapshots to a websocket client. The current
// snapshot, if any, is sent first so a fresh dashboard is not blank until
// the next publish.
func WebsocketHandler(h *Hub, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer c.CloseNow()

		sub := h.Subscribe()
		defer sub.Close()

		// The client never sends; CloseRead handles control frames and
		// cancels ctx once the peer goes away.
		ctx := c.CloseRead(r.Context())

		if cur, ok := h.Current(); ok {
			if err := writeSnapshot(ctx, c, cur); err != nil {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-sub.C():
				if !ok {
					return
				}
				if err := writeSnapshot(ctx, c, snap); err != nil {
					log.Debug("websocket write failed", zap.Error(err))
					return
				}
			}
		}
	})
}

func writeSnapshot(ctx context.Context, c *websocket.Conn, s model.TelemetrySnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, trafficMessage{Queues: s.Queues, System: s.System})
}

// WebsocketDialer is a Transport reading snapshots from a websocket URL.
type WebsocketDialer struct {
	URL        string
	HTTPClient *http.Client
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	c, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(wsReadLimit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) (model.TelemetrySnapshot, error) {
	var msg trafficMessage
	if err := wsjson.Read(ctx, w.c, &msg); err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return model.TelemetrySnapshot{}, fmt.Errorf("%w: closed by peer: %d %s", ErrTransportDropped, ce.Code, ce.Reason)
		}
		return model.TelemetrySnapshot{}, fmt.Errorf("%w: %v", ErrTransportDropped, err)
	}
	if msg.Queues == nil {
		msg.Queues = map[string]model.QueueUsage{}
	}
	return model.TelemetrySnapshot{Queues: msg.Queues, System: msg.System, ReceivedAt: time.Now().UTC()}, nil
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
