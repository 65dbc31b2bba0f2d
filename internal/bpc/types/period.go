package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period identifies one monthly BPC release.
type Period struct {
	Year  int `db:"year" json:"year"`
	Month int `db:"month" json:"month"`
}

func NewPeriod(year, month int) (Period, error) {
	p := Period{Year: year, Month: month}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// LastCompleted returns the most recently finished calendar month before t.
func LastCompleted(t time.Time) Period {
	return PeriodOf(t).Prev()
}

// ParsePeriod accepts "YYYY-MM", the legacy "YYYY-M" checkpoint format and "YYYYMM".
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	var yearStr, monthStr string

	if before, after, found := strings.Cut(s, "-"); found {
		yearStr, monthStr = before, after
	} else if len(s) == 6 {
		yearStr, monthStr = s[:4], s[4:]
	} else {
		return Period{}, fmt.Errorf("invalid period %q: expected YYYY-MM", s)
	}

	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: bad year: %w", s, err)
	}
	month, err := strconv.Atoi(monthStr)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: bad month: %w", s, err)
	}

	return NewPeriod(year, month)
}

func (p Period) Validate() error {
	if p.Year < 1900 || p.Year > 9999 {
		return fmt.Errorf("invalid period year %d", p.Year)
	}
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("invalid period month %d", p.Month)
	}
	return nil
}

func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// Next rolls December over into January of the following year.
func (p Period) Next() Period {
	if p.Month >= 12 {
		return Period{Year: p.Year + 1, Month: 1}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

func (p Period) Prev() Period {
	if p.Month <= 1 {
		return Period{Year: p.Year - 1, Month: 12}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// Compare returns -1, 0 or +1.
func (p Period) Compare(o Period) int {
	switch {
	case p.Year != o.Year:
		if p.Year < o.Year {
			return -1
		}
		return 1
	case p.Month != o.Month:
		if p.Month < o.Month {
			return -1
		}
		return 1
	}
	return 0
}

func (p Period) Before(o Period) bool { return p.Compare(o) < 0 }
func (p Period) After(o Period) bool  { return p.Compare(o) > 0 }

// String formats the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Code is the YYYYMM form used by the portal download URLs.
func (p Period) Code() string {
	return fmt.Sprintf("%04d%02d", p.Year, p.Month)
}

// Key packs the period into a sortable integer (YYYYMM).
func (p Period) Key() int {
	return p.Year*100 + p.Month
}

func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Range lists every period from start through end inclusive. It returns nil when end is before start.
func Range(start, end Period) []Period {
	var periods []Period
	for p := start; !p.After(end); p = p.Next() {
		periods = append(periods, p)
	}
	return periods
}
