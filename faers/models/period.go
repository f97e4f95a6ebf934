package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	faerserrors "github.com/CMSgov/faers-app/faers/errors"
)

var periodPattern = regexp.MustCompile(`^(\d{4})q([1-4])$`)

// Period identifies one quarterly release, e.g. 2024q1.
type Period struct {
	Year    int
	Quarter int
}

// ParsePeriod accepts labels in the form YYYYqN, ignoring case and surrounding whitespace.
func ParsePeriod(label string) (Period, error) {
	m := periodPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(label)))
	if m == nil {
		return Period{}, &faerserrors.InvalidPeriodError{Period: label}
	}
	year, _ := strconv.Atoi(m[1])
	quarter, _ := strconv.Atoi(m[2])
	return Period{Year: year, Quarter: quarter}, nil
}

func (p Period) String() string {
	return fmt.Sprintf("%04dq%d", p.Year, p.Quarter)
}

// Next returns the following quarter; q4 rolls over to q1 of the next year.
func (p Period) Next() Period {
	if p.Quarter == 4 {
		return Period{Year: p.Year + 1, Quarter: 1}
	}
	return Period{Year: p.Year, Quarter: p.Quarter + 1}
}

// Compare returns -1, 0 or 1 when p is before, equal to or after o.
func (p Period) Compare(o Period) int {
	switch {
	case p.Year < o.Year:
		return -1
	case p.Year > o.Year:
		return 1
	case p.Quarter < o.Quarter:
		return -1
	case p.Quarter > o.Quarter:
		return 1
	}
	return 0
}

// PeriodsBetween lists every period after `from` up to and including `to`.
func PeriodsBetween(from, to Period) []Period {
	var periods []Period
	for p := from.Next(); p.Compare(to) <= 0; p = p.Next() {
		periods = append(periods, p)
	}
	return periods
}
