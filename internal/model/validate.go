package model

import (
	"fmt"
	"net/netip"
	"strings"
)

// Router management API ports.
const (
	DefaultAPIPort    = 8728
	DefaultAPITLSPort = 8729
)

// ApplyDefaults fills router defaults.
func (r *Router) ApplyDefaults() {
	if r.Port == 0 {
		if r.UseTLS {
			r.Port = DefaultAPITLSPort
		} else {
			r.Port = DefaultAPIPort
		}
	}
}

// Validate rejects routers that cannot be probed.
func (r Router) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("%w: router id must be positive", ErrValidation)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: router %d: name is required", ErrValidation, r.ID)
	}
	if strings.TrimSpace(r.Address) == "" {
		return fmt.Errorf("%w: router %d: address is required", ErrValidation, r.ID)
	}
	if r.Port < 0 || r.Port > 65535 {
		return fmt.Errorf("%w: router %d: port %d out of range", ErrValidation, r.ID, r.Port)
	}
	return nil
}

// ApplyDefaults fills client defaults.
func (c *Client) ApplyDefaults() {
	if c.LimitUpload == "" {
		c.LimitUpload = "5M"
	}
	if c.LimitDownload == "" {
		c.LimitDownload = "10M"
	}
	if c.BillingDay == 0 {
		c.BillingDay = 1
	}
	if c.Status == "" {
		c.Status = ClientActive
	}
}

// Validate rejects malformed clients.
func (c Client) Validate() error {
	if c.ID <= 0 {
		return fmt.Errorf("%w: client id must be positive", ErrValidation)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: client %d: name is required", ErrValidation, c.ID)
	}
	if _, err := netip.ParseAddr(c.IPAddress); err != nil {
		return fmt.Errorf("%w: client %d: invalid ip_address %q", ErrValidation, c.ID, c.IPAddress)
	}
	if c.BillingDay < 1 || c.BillingDay > 31 {
		return fmt.Errorf("%w: client %d: billing_day must be between 1 and 31", ErrValidation, c.ID)
	}
	if c.Status != ClientActive && c.Status != ClientSuspended {
		return fmt.Errorf("%w: client %d: status must be active or suspended", ErrValidation, c.ID)
	}
	return nil
}

// MaxLimit renders the queue max-limit for an active client.
func (c Client) MaxLimit() string {
	return c.LimitUpload + "/" + c.LimitDownload
}
