package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// YearMonth is a calendar month used as the unit of payment accounting.
// Its canonical text form is the zero-padded "YYYY-MM".
type YearMonth struct {
	Year  int
	Month time.Month
}

// MonthOf returns the calendar month containing t (in t's location).
func MonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// NewYearMonth builds a YearMonth and validates its range.
func NewYearMonth(year int, month time.Month) (YearMonth, error) {
	ym := YearMonth{Year: year, Month: month}
	if !ym.Valid() {
		return YearMonth{}, fmt.Errorf("%w: month %04d-%02d out of range", ErrValidation, year, int(month))
	}
	return ym, nil
}

// ParseYearMonth accepts "YYYY-MM", "YYYY-M" and full dates "YYYY-MM-DD".
func ParseYearMonth(value string) (YearMonth, error) {
	s := strings.TrimSpace(value)
	parts := strings.Split(s, "-")
	if len(parts) < 2 || len(parts) > 3 {
		return YearMonth{}, fmt.Errorf("%w: invalid month key %q", ErrValidation, value)
	}
	if len(parts[0]) != 4 || !digits(parts[0]) {
		return YearMonth{}, fmt.Errorf("%w: invalid year in %q", ErrValidation, value)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return YearMonth{}, fmt.Errorf("%w: invalid year in %q", ErrValidation, value)
	}
	if len(parts[1]) == 0 || len(parts[1]) > 2 || !digits(parts[1]) {
		return YearMonth{}, fmt.Errorf("%w: invalid month in %q", ErrValidation, value)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return YearMonth{}, fmt.Errorf("%w: invalid month in %q", ErrValidation, value)
	}
	if len(parts) == 3 {
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return YearMonth{}, fmt.Errorf("%w: invalid date %q", ErrValidation, value)
		}
	}
	return NewYearMonth(year, time.Month(month))
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MustParseYearMonth is ParseYearMonth for constants and tests.
func MustParseYearMonth(value string) YearMonth {
	ym, err := ParseYearMonth(value)
	if err != nil {
		panic(err)
	}
	return ym
}

// Valid reports whether the year is 1..9999 and the month 1..12.
func (ym YearMonth) Valid() bool {
	return ym.Year >= 1 && ym.Year <= 9999 && ym.Month >= time.January && ym.Month <= time.December
}

// IsZero reports whether ym is the zero value.
func (ym YearMonth) IsZero() bool {
	return ym.Year == 0 && ym.Month == 0
}

// String returns the canonical "YYYY-MM" form.
func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// index counts months since year 0; used for ordering and arithmetic.
func (ym YearMonth) index() int {
	return ym.Year*12 + int(ym.Month) - 1
}

func fromIndex(i int) YearMonth {
	return YearMonth{Year: i / 12, Month: time.Month(i%12 + 1)}
}

// AddMonths returns the month n months after ym (n may be negative).
func (ym YearMonth) AddMonths(n int) YearMonth {
	return fromIndex(ym.index() + n)
}

// MonthsUntil returns the number of months from ym to other.
func (ym YearMonth) MonthsUntil(other YearMonth) int {
	return other.index() - ym.index()
}

// Compare returns -1, 0 or +1.
func (ym YearMonth) Compare(other YearMonth) int {
	a, b := ym.index(), other.index()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (ym YearMonth) Before(other YearMonth) bool { return ym.Compare(other) < 0 }
func (ym YearMonth) After(other YearMonth) bool  { return ym.Compare(other) > 0 }

// Days returns the number of days in the month.
func (ym YearMonth) Days() int {
	return time.Date(ym.Year, ym.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MonthRange returns every month from start to end inclusive, in order.
func MonthRange(start, end YearMonth) []YearMonth {
	n := start.MonthsUntil(end)
	if n < 0 {
		return nil
	}
	out := make([]YearMonth, 0, n+1)
	for i := 0; i <= n; i++ {
		out = append(out, start.AddMonths(i))
	}
	return out
}

func (ym YearMonth) MarshalText() ([]byte, error) {
	if ym.IsZero() {
		return []byte{}, nil
	}
	return []byte(ym.String()), nil
}

func (ym *YearMonth) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*ym = YearMonth{}
		return nil
	}
	parsed, err := ParseYearMonth(string(data))
	if err != nil {
		return err
	}
	*ym = parsed
	return nil
}
