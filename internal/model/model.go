package model

import (
	"errors"
	"time"
)

// ErrValidation marks malformed entity data. Specific errors wrap it.
var ErrValidation = errors.New("validation error")

// Client status values.
const (
	ClientActive    = "active"
	ClientSuspended = "suspended"
)

// Router is a managed network device. The core only reads it.
type Router struct {
	ID           int64  `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Address      string `json:"address" yaml:"address"`
	Username     string `json:"username" yaml:"username"`
	Password     string `json:"password,omitempty" yaml:"password"`
	Port         int    `json:"port" yaml:"port"`
	UseTLS       bool   `json:"use_tls" yaml:"use_tls"`
	Active       bool   `json:"active" yaml:"active"`
	WANInterface string `json:"wan_interface,omitempty" yaml:"wan_interface,omitempty"`
}

// RouterMetrics holds raw values reported by the device. Values are passed
// through unmodified; formatting belongs to the presentation layer.
type RouterMetrics struct {
	CPULoad      int64  `json:"cpu_load"`
	FreeMemory   uint64 `json:"free_memory"`
	TotalMemory  uint64 `json:"total_memory"`
	FreeHDD      uint64 `json:"free_hdd_space"`
	TotalHDD     uint64 `json:"total_hdd_space"`
	Uptime       string `json:"uptime,omitempty"`
	Version      string `json:"version,omitempty"`
	Board        string `json:"board,omitempty"`
	Architecture string `json:"architecture,omitempty"`
}

// MemoryUsage returns used memory as a percentage of total.
func (m RouterMetrics) MemoryUsage() float64 {
	return usedPercent(m.TotalMemory, m.FreeMemory)
}

// HDDUsage returns used disk as a percentage of total.
func (m RouterMetrics) HDDUsage() float64 {
	return usedPercent(m.TotalHDD, m.FreeHDD)
}

func usedPercent(total, free uint64) float64 {
	if total == 0 || free > total {
		return 0
	}
	return float64(total-free) / float64(total) * 100
}

// RouterStatus is the poller's view of one router. Online is nil while the
// router has not been probed yet; observers must read nil as unknown.
type RouterStatus struct {
	RouterID  int64          `json:"router_id"`
	Name      string         `json:"name"`
	Address   string         `json:"address"`
	Online    *bool          `json:"online"`
	Loading   bool           `json:"loading"`
	LastError string         `json:"last_error,omitempty"`
	LastCheck time.Time      `json:"last_check,omitempty"`
	Latency   time.Duration  `json:"latency_ns,omitempty"`
	Metrics   *RouterMetrics `json:"metrics,omitempty"`
}

// Known reports whether a probe has resolved this status.
func (s RouterStatus) Known() bool { return s.Online != nil }

// IsOnline reports a resolved online status.
func (s RouterStatus) IsOnline() bool { return s.Online != nil && *s.Online }

// IsOffline reports a resolved offline status.
func (s RouterStatus) IsOffline() bool { return s.Online != nil && !*s.Online }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Client is a subscriber account.
type Client struct {
	ID            int64     `json:"id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	IPAddress     string    `json:"ip_address" yaml:"ip_address"`
	LimitUpload   string    `json:"limit_upload" yaml:"limit_upload"`
	LimitDownload string    `json:"limit_download" yaml:"limit_download"`
	BillingDay    int       `json:"billing_day" yaml:"billing_day"`
	Status        string    `json:"status" yaml:"status"`
	RouterID      int64     `json:"router_id,omitempty" yaml:"router_id,omitempty"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

// Suspended reports whether the client is currently suspended.
func (c Client) Suspended() bool { return c.Status == ClientSuspended }

// HasRouter reports whether the client is attached to a router.
func (c Client) HasRouter() bool { return c.RouterID != 0 }

// Payment is an immutable ledger entry.
type Payment struct {
	ID         string    `json:"id"`
	ClientID   int64     `json:"client_id"`
	Month      YearMonth `json:"month"`
	Amount     float64   `json:"amount"`
	RecordedAt time.Time `json:"recorded_at"`
}

// MonthCell is the paid/unpaid view of one month for one client.
type MonthCell struct {
	Month     YearMonth `json:"month"`
	Paid      bool      `json:"paid"`
	IsCurrent bool      `json:"is_current"`
}

// QueueUsage holds raw byte counters for one bandwidth queue.
type QueueUsage struct {
	Upload   uint64 `json:"upload"`
	Download uint64 `json:"download"`
}

// TelemetrySnapshot is the latest traffic payload pushed by the network layer.
type TelemetrySnapshot struct {
	Queues     map[string]QueueUsage `json:"queues"`
	System     map[string]any        `json:"system"`
	ReceivedAt time.Time             `json:"-"`
}
