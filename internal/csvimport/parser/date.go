package parser

import (
	"strings"
	"time"

	"github.com/smallbiznis/finledger/internal/csvimport/domain"
)

const isoDate = "2006-01-02"

var dateLayouts = []string{
	isoDate,
	"2/1/2006",
	"2-1-2006",
	"2.1.2006",
	"2006/1/2",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2/1/2006 15:04",
	"2/1/2006 15:04:05",
}

// ParseDate returns the calendar date in YYYY-MM-DD form exactly as written,
// without shifting datetimes into another zone. Day-first is assumed for
// slash, dash and dot dates.
func ParseDate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", domain.ErrInvalidDate
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return t.Format(isoDate), nil
	}
	return "", domain.ErrInvalidDate
}
