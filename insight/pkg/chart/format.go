package chart

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// FormatHover renders a value for hover labels: trillions as T, billions as M,
// millions as Jt, and smaller values with thousands separators.
func FormatHover(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e12:
		return fmt.Sprintf("%.2f T", v/1e12)
	case abs >= 1e9:
		return fmt.Sprintf("%.2f M", v/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.2f Jt", v/1e6)
	default:
		return humanize.Comma(int64(math.Round(v)))
	}
}
