package probe

import (
	"context"
	"crypto/tls"
	"net"

	"ispctl/internal/model"
)

// TCPDialer reports reachability by opening a TCP session to the router's
// management port, wrapped in TLS when the router uses it.
type TCPDialer struct {
	// TLSConfig is cloned per dial. ServerName defaults to the dialled host.
	TLSConfig *tls.Config
}

func (d *TCPDialer) Dial(ctx context.Context, r model.Router, addr string) (Session, error) {
	if !r.UseTLS {
		var nd net.Dialer
		return nd.DialContext(ctx, "tcp", addr)
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			cfg.ServerName = host
		}
	}
	td := tls.Dialer{Config: cfg}
	return td.DialContext(ctx, "tcp", addr)
}
