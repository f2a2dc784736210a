package api

import (
	"ispctl/internal/fleet"
	"ispctl/internal/model"
)

// PaymentRequest is sent to record a payment. Month accepts "YYYY-MM",
// "YYYY-M" or a full "YYYY-MM-DD" date.
type PaymentRequest struct {
	ClientID int64   `json:"client_id"`
	Month    string  `json:"month"`
	Amount   float64 `json:"amount"`
}

// PaymentResponse is returned after a payment is recorded.
type PaymentResponse struct {
	Payment     model.Payment `json:"payment"`
	Reactivated bool          `json:"reactivated"`
}

// CheckResponse reports whether a month is paid.
type CheckResponse struct {
	Paid    bool           `json:"paid"`
	Payment *model.Payment `json:"payment"`
}

// MonthsResponse is a paid/unpaid month window for one client.
type MonthsResponse struct {
	ClientID int64             `json:"client_id"`
	From     model.YearMonth   `json:"from"`
	To       model.YearMonth   `json:"to"`
	Months   []model.MonthCell `json:"months"`
}

// RoutersResponse lists router statuses with their summary.
type RoutersResponse struct {
	Summary fleet.Summary        `json:"summary"`
	Routers []model.RouterStatus `json:"routers"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
