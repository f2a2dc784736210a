package suspension

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"ispctl/internal/model"
)

// DefaultEnforceSubject prefixes per-router enforcement subjects.
const DefaultEnforceSubject = "ispctl.enforce"

const flushTimeout = 5 * time.Second

// Action asks the router-control layer to throttle or restore one client.
type Action struct {
	ClientID    int64  `json:"client_id"`
	ClientName  string `json:"client_name"`
	IPAddress   string `json:"ip_address"`
	RouterID    int64  `json:"router_id"`
	Suspend     bool   `json:"suspend"`
	Method      string `json:"method"`
	MaxLimit    string `json:"max_limit"`
	AddressList string `json:"address_list"`
}

// NewAction builds the command for c under s. A suspended client gets the
// suspension speed; an active one gets its own limits back.
func NewAction(c model.Client, s model.Settings, suspend bool) Action {
	a := Action{
		ClientID:    c.ID,
		ClientName:  c.Name,
		IPAddress:   c.IPAddress,
		RouterID:    c.RouterID,
		Suspend:     suspend,
		Method:      s.SuspensionMethod,
		MaxLimit:    c.MaxLimit(),
		AddressList: s.AddressListName,
	}
	if suspend {
		a.MaxLimit = s.SuspensionSpeed
	}
	return a
}

// Enforcer applies actions on the client's router.
type Enforcer interface {
	Apply(ctx context.Context, a Action) error
}

// NATSEnforcer publishes actions as JSON on "<prefix>.<router_id>" and waits
// for the server to acknowledge the flush.
type NATSEnforcer struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSEnforcer(nc *nats.Conn, prefix string) *NATSEnforcer {
	if prefix == "" {
		prefix = DefaultEnforceSubject
	}
	return &NATSEnforcer{nc: nc, prefix: prefix}
}

// Subject returns the subject used for routerID.
func (e *NATSEnforcer) Subject(routerID int64) string {
	return e.prefix + "." + strconv.FormatInt(routerID, 10)
}

func (e *NATSEnforcer) Apply(ctx context.Context, a Action) error {
	if e.nc == nil || e.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := e.nc.Publish(e.Subject(a.RouterID), data); err != nil {
		return fmt.Errorf("publish enforcement: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	return e.nc.FlushWithContext(ctx)
}

// LogEnforcer only logs actions. It is used when no bus is configured.
type LogEnforcer struct {
	Log *zap.Logger
}

func (e LogEnforcer) Apply(ctx context.Context, a Action) error {
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("enforcement action",
		zap.Int64("client_id", a.ClientID),
		zap.String("ip_address", a.IPAddress),
		zap.Int64("router_id", a.RouterID),
		zap.Bool("suspend", a.Suspend),
		zap.String("method", a.Method),
		zap.String("max_limit", a.MaxLimit),
	)
	return nil
}
