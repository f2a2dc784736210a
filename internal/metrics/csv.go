package metrics

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"ispctl/internal/model"
)

// WriteStatusCSV writes router statuses to CSV with a fixed column order.
// Unknown statuses are written with an empty online column.
func WriteStatusCSV(w io.Writer, items []model.RouterStatus) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{
		"router_id",
		"name",
		"address",
		"online",
		"last_check",
		"latency_ms",
		"cpu_load",
		"memory_pct",
		"version",
		"last_error",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, s := range items {
		online := ""
		if s.Known() {
			online = strconv.FormatBool(s.IsOnline())
		}
		lastCheck := ""
		if !s.LastCheck.IsZero() {
			lastCheck = s.LastCheck.UTC().Format(time.RFC3339Nano)
		}
		cpu, mem, version := "", "", ""
		if s.Metrics != nil {
			cpu = strconv.FormatInt(s.Metrics.CPULoad, 10)
			mem = strconv.FormatFloat(s.Metrics.MemoryUsage(), 'f', 1, 64)
			version = s.Metrics.Version
		}
		record := []string{
			strconv.FormatInt(s.RouterID, 10),
			s.Name,
			s.Address,
			online,
			lastCheck,
			strconv.FormatFloat(float64(s.Latency)/float64(time.Millisecond), 'f', 3, 64),
			cpu,
			mem,
			version,
			s.LastError,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
