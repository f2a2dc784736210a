package billing

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"ispctl/internal/model"
)

// WritePaymentsCSV writes payments to CSV with a fixed column order.
func WritePaymentsCSV(w io.Writer, items []model.Payment) error {
	writer := csv.NewWriter(w)

	header := []string{"id", "client_id", "month", "amount", "recorded_at"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, p := range items {
		record := []string{
			p.ID,
			strconv.FormatInt(p.ClientID, 10),
			p.Month.String(),
			strconv.FormatFloat(p.Amount, 'f', 2, 64),
			p.RecordedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteMonthsCSV writes a month window as month,paid,is_current rows.
func WriteMonthsCSV(w io.Writer, cells []model.MonthCell) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"month", "paid", "is_current"}); err != nil {
		return err
	}
	for _, c := range cells {
		if err := writer.Write([]string{c.Month.String(), strconv.FormatBool(c.Paid), strconv.FormatBool(c.IsCurrent)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
