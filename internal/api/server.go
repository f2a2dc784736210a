package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"ispctl/internal/billing"
	"ispctl/internal/config"
	"ispctl/internal/dashboard"
	"ispctl/internal/fleet"
	"ispctl/internal/metrics"
	"ispctl/internal/model"
	"ispctl/internal/store"
	"ispctl/internal/suspension"
	"ispctl/internal/telemetry"
)

const maxTelemetryBody = 4 << 20

// Deps are the components the API serves.
type Deps struct {
	Store     *store.Store
	Poller    *fleet.Poller
	Hub       *telemetry.Hub
	Ledger    *billing.Ledger
	Evaluator *suspension.Evaluator
	Dashboard *dashboard.Aggregator
	Metrics   *metrics.Collectors
	Logger    *zap.Logger
}

// Server provides the dashboard HTTP API.
type Server struct {
	cfg  config.Config
	deps Deps
	log  *zap.Logger
	now  func() time.Time
}

// NewServer constructs a server. Every dependency except Metrics and Logger
// is required.
func NewServer(cfg config.Config, d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{cfg: cfg, deps: d, log: log.Named("api"), now: time.Now}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/dashboard/summary", s.handleSummary)
	mux.HandleFunc("GET /api/routers/status", s.handleRouterStatus)
	mux.HandleFunc("POST /api/routers/poll", s.handlePoll)
	mux.HandleFunc("POST /api/payments", s.handleRecordPayment)
	mux.HandleFunc("POST /api/payments/run-suspensions", s.handleRunSuspensions)
	mux.HandleFunc("GET /api/payments/{client_id}", s.handlePayments)
	mux.HandleFunc("GET /api/payments/{client_id}/months", s.handleMonths)
	mux.HandleFunc("GET /api/payments/check/{client_id}/{month}", s.handleCheck)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	mux.HandleFunc("POST /api/telemetry", s.handleTelemetry)
	mux.Handle("GET /ws/traffic", telemetry.WebsocketHandler(s.deps.Hub, s.log))
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
	return mux
}

// ListenAndServe runs the HTTP server until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Dashboard.Summary(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRouterStatus(w http.ResponseWriter, r *http.Request) {
	statuses := s.deps.Poller.Statuses()
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		if err := metrics.WriteStatusCSV(w, statuses); err != nil {
			s.log.Warn("write status csv", zap.Error(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, RoutersResponse{Summary: s.deps.Poller.Summary(), Routers: statuses})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Poller.PollOnce(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ClientID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "client_id is required")
		return
	}
	month, err := model.ParseYearMonth(req.Month)
	if err != nil {
		s.writeError(w, err)
		return
	}

	p, err := s.deps.Ledger.RecordPayment(r.Context(), req.ClientID, month, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// The payment is durable at this point; a failed reactivation is left
	// to the next scheduled run.
	reactivated, err := s.deps.Evaluator.Reactivate(r.Context(), req.ClientID)
	if err != nil {
		s.log.Warn("reactivate after payment",
			zap.Int64("client_id", req.ClientID),
			zap.Error(err),
		)
	}
	writeJSON(w, http.StatusCreated, PaymentResponse{Payment: p, Reactivated: reactivated})
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathClientID(w, r)
	if !ok {
		return
	}
	list, err := s.deps.Ledger.Payments(r.Context(), clientID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []model.Payment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathClientID(w, r)
	if !ok {
		return
	}
	month, err := model.ParseYearMonth(r.PathValue("month"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	p, found, err := s.deps.Ledger.Payment(r.Context(), clientID, month)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := CheckResponse{Paid: found}
	if found {
		resp.Payment = &p
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMonths(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathClientID(w, r)
	if !ok {
		return
	}
	now := s.now()
	start, end, err := s.window(r, now)
	if err != nil {
		s.writeError(w, err)
		return
	}
	cells, err := s.deps.Ledger.MonthsInWindow(r.Context(), clientID, start, end, now)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		if err := billing.WriteMonthsCSV(w, cells); err != nil {
			s.log.Warn("write months csv", zap.Error(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, MonthsResponse{ClientID: clientID, From: start, To: end, Months: cells})
}

// window resolves ?from&to, then ?year, then the configured rolling window.
func (s *Server) window(r *http.Request, now time.Time) (model.YearMonth, model.YearMonth, error) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from != "" || to != "" {
		if from == "" || to == "" {
			return model.YearMonth{}, model.YearMonth{}, fmt.Errorf("%w: from and to must be given together", model.ErrValidation)
		}
		start, err := model.ParseYearMonth(from)
		if err != nil {
			return model.YearMonth{}, model.YearMonth{}, err
		}
		end, err := model.ParseYearMonth(to)
		if err != nil {
			return model.YearMonth{}, model.YearMonth{}, err
		}
		return start, end, nil
	}
	if year := q.Get("year"); year != "" {
		y, err := strconv.Atoi(year)
		if err != nil || y < 1 || y > 9999 {
			return model.YearMonth{}, model.YearMonth{}, fmt.Errorf("%w: invalid year %q", model.ErrValidation, year)
		}
		start, end := billing.CalendarYear(y)
		return start, end, nil
	}
	start, end := billing.RollingWindow(now, s.cfg.Billing.WindowBack, s.cfg.Billing.WindowForward)
	return start, end, nil
}

func (s *Server) handleRunSuspensions(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Evaluator.Run(r.Context(), suspension.TriggerManual)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Evaluator.Settings(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := decodeJSON(r, &values); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(values) == 0 {
		writeJSONError(w, http.StatusBadRequest, "no settings given")
		return
	}

	stored, err := s.deps.Store.Settings(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	merged := make(map[string]string, len(stored)+len(values))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	settings, err := model.SettingsFromMap(merged)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Store.PutSettings(r.Context(), values); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("settings updated", zap.Any("settings", settings))
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTelemetryBody))
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	snap, err := telemetry.Decode(body)
	if err != nil {
		s.deps.Metrics.TelemetryRejected()
		s.writeError(w, err)
		return
	}
	s.deps.Hub.Publish(snap)
	w.WriteHeader(http.StatusAccepted)
}

// writeError maps domain errors to status codes. Not-found is checked first
// since unknown clients are also validation failures.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, billing.ErrDuplicateMonth):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("request failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathClientID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("client_id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid client_id")
		return 0, false
	}
	return id, true
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
