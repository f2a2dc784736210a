package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"ispctl/internal/model"
	"ispctl/internal/store"
)

// ErrDuplicateMonth is returned when a payment already covers the month.
var ErrDuplicateMonth = errors.New("payment already recorded for month")

// MaxWindowMonths bounds MonthsInWindow.
const MaxWindowMonths = 240

// Store is the persistence the ledger needs.
type Store interface {
	GetClient(ctx context.Context, id int64) (model.Client, error)
	InsertPayment(ctx context.Context, p model.Payment) error
	GetPayment(ctx context.Context, clientID int64, month model.YearMonth) (model.Payment, error)
	ListPayments(ctx context.Context, clientID int64) ([]model.Payment, error)
}

// Ledger is the append-only record of client payments, at most one per
// client and month.
type Ledger struct {
	store Store
	now   func() time.Time
	newID func() string
}

// NewLedger returns a Ledger over s.
func NewLedger(s Store) *Ledger {
	return &Ledger{store: s, now: time.Now, newID: uuid.NewString}
}

// RecordPayment appends a payment for clientID covering month.
func (l *Ledger) RecordPayment(ctx context.Context, clientID int64, month model.YearMonth, amount float64) (model.Payment, error) {
	if !month.Valid() {
		return model.Payment{}, fmt.Errorf("%w: invalid month", model.ErrValidation)
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return model.Payment{}, fmt.Errorf("%w: amount must be positive", model.ErrValidation)
	}

	p := model.Payment{
		ID:         l.newID(),
		ClientID:   clientID,
		Month:      month,
		Amount:     amount,
		RecordedAt: l.now().UTC(),
	}
	err := l.store.InsertPayment(ctx, p)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, store.ErrExists):
		return model.Payment{}, fmt.Errorf("client %d month %s: %w", clientID, month, ErrDuplicateMonth)
	case errors.Is(err, store.ErrNotFound):
		return model.Payment{}, unknownClient(clientID)
	default:
		return model.Payment{}, err
	}
}

// Payment returns the payment covering month, if any.
func (l *Ledger) Payment(ctx context.Context, clientID int64, month model.YearMonth) (model.Payment, bool, error) {
	p, err := l.store.GetPayment(ctx, clientID, month)
	if errors.Is(err, store.ErrNotFound) {
		return model.Payment{}, false, nil
	}
	if err != nil {
		return model.Payment{}, false, err
	}
	return p, true, nil
}

// IsPaid reports whether a payment covers month.
func (l *Ledger) IsPaid(ctx context.Context, clientID int64, month model.YearMonth) (bool, error) {
	_, ok, err := l.Payment(ctx, clientID, month)
	return ok, err
}

// Payments returns a client's payments, newest month first.
func (l *Ledger) Payments(ctx context.Context, clientID int64) ([]model.Payment, error) {
	if err := l.requireClient(ctx, clientID); err != nil {
		return nil, err
	}
	list, err := l.store.ListPayments(ctx, clientID)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Month.After(list[j].Month) })
	return list, nil
}

// MonthsInWindow returns one cell per month from start to end inclusive,
// oldest first.
func (l *Ledger) MonthsInWindow(ctx context.Context, clientID int64, start, end model.YearMonth, now time.Time) ([]model.MonthCell, error) {
	if !start.Valid() || !end.Valid() {
		return nil, fmt.Errorf("%w: invalid window month", model.ErrValidation)
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: window start %s is after end %s", model.ErrValidation, start, end)
	}
	if start.MonthsUntil(end)+1 > MaxWindowMonths {
		return nil, fmt.Errorf("%w: window longer than %d months", model.ErrValidation, MaxWindowMonths)
	}
	if err := l.requireClient(ctx, clientID); err != nil {
		return nil, err
	}

	list, err := l.store.ListPayments(ctx, clientID)
	if err != nil {
		return nil, err
	}
	paid := make(map[model.YearMonth]bool, len(list))
	for _, p := range list {
		paid[p.Month] = true
	}

	current := model.MonthOf(now)
	months := model.MonthRange(start, end)
	cells := make([]model.MonthCell, 0, len(months))
	for _, m := range months {
		cells = append(cells, model.MonthCell{Month: m, Paid: paid[m], IsCurrent: m == current})
	}
	return cells, nil
}

func (l *Ledger) requireClient(ctx context.Context, clientID int64) error {
	_, err := l.store.GetClient(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return unknownClient(clientID)
	}
	return err
}

func unknownClient(id int64) error {
	return fmt.Errorf("%w: client %d: %w", model.ErrValidation, id, store.ErrNotFound)
}

// RollingWindow returns the window from back months before now's month to
// forward months after it.
func RollingWindow(now time.Time, back, forward int) (model.YearMonth, model.YearMonth) {
	cur := model.MonthOf(now)
	return cur.AddMonths(-back), cur.AddMonths(forward)
}

// CalendarYear returns January through December of year.
func CalendarYear(year int) (model.YearMonth, model.YearMonth) {
	return model.YearMonth{Year: year, Month: time.January}, model.YearMonth{Year: year, Month: time.December}
}
