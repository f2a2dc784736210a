package metrics

import (
	"math"
	"sort"
	"time"

	"ispctl/internal/model"
)

// Summary is a latency snapshot over the routers that answered.
type Summary struct {
	Count        int       `json:"count"`
	From         time.Time `json:"from,omitempty"`
	To           time.Time `json:"to,omitempty"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	P95LatencyMs float64   `json:"p95_latency_ms"`
	MinLatencyMs float64   `json:"min_latency_ms"`
	MaxLatencyMs float64   `json:"max_latency_ms"`
}

// Summarize computes latency statistics for online statuses checked at or after since.
func Summarize(items []model.RouterStatus, since time.Time) Summary {
	filtered := make([]model.RouterStatus, 0, len(items))
	for _, s := range items {
		if !s.IsOnline() {
			continue
		}
		if s.LastCheck.After(since) || s.LastCheck.Equal(since) {
			filtered = append(filtered, s)
		}
	}

	if len(filtered) == 0 {
		return Summary{Count: 0}
	}

	values := make([]float64, 0, len(filtered))
	var sum float64
	minMs := math.MaxFloat64
	maxMs := 0.0
	from := filtered[0].LastCheck
	to := filtered[0].LastCheck

	for _, s := range filtered {
		ms := float64(s.Latency) / float64(time.Millisecond)
		values = append(values, ms)
		sum += ms
		if ms < minMs {
			minMs = ms
		}
		if ms > maxMs {
			maxMs = ms
		}
		if s.LastCheck.Before(from) {
			from = s.LastCheck
		}
		if s.LastCheck.After(to) {
			to = s.LastCheck
		}
	}

	sort.Float64s(values)
	return Summary{
		Count:        len(filtered),
		From:         from,
		To:           to,
		AvgLatencyMs: sum / float64(len(filtered)),
		P95LatencyMs: percentile(values, 0.95),
		MinLatencyMs: minMs,
		MaxLatencyMs: maxMs,
	}
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
