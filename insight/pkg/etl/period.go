package etl

import (
	"strings"
	"time"
)

var indonesianMonths = map[string]string{
	"mei": "May",
	"agu": "Aug",
	"agt": "Aug",
	"okt": "Oct",
	"des": "Dec",
}

// NormalizePeriod converts a sheet name such as "012025", "Jan25" or "Mei25"
// into the "Jan25" form. The second return is false when the name could not
// be parsed, in which case the input is returned unchanged.
func NormalizePeriod(sheet string) (string, bool) {
	s := strings.TrimSpace(sheet)

	if t, err := time.Parse("012006", s); err == nil {
		return t.Format("Jan06"), true
	}

	candidate := s
	if len(s) > 3 {
		if en, ok := indonesianMonths[strings.ToLower(s[:3])]; ok {
			candidate = en + s[3:]
		}
	}
	if t, err := time.Parse("Jan06", candidate); err == nil {
		return t.Format("Jan06"), true
	}
	return sheet, false
}
