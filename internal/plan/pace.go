package plan

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePace converts a "M:SS" pace string (minutes per kilometer) to seconds
// per kilometer. "4:05" -> 245.
func ParsePace(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("pace %q: want M:SS", s)
	}
	minutes, err := strconv.Atoi(parts[0])
	if err != nil || minutes < 0 {
		return 0, fmt.Errorf("pace %q: bad minutes", s)
	}
	seconds, err := strconv.Atoi(parts[1])
	if err != nil || seconds < 0 || seconds > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("pace %q: bad seconds", s)
	}
	return minutes*60 + seconds, nil
}

// FormatPace converts seconds per kilometer to "M:SS". Non-positive values
// render as "-:--" for display.
func FormatPace(secPerKm int) string {
	if secPerKm <= 0 {
		return "-:--"
	}
	return fmt.Sprintf("%d:%02d", secPerKm/60, secPerKm%60)
}

// SpeedToPace converts a speed in m/s to pace in seconds per kilometer.
// Returns 0 for non-positive speeds; callers keep their last valid pace.
func SpeedToPace(speedMPS float64) float64 {
	if speedMPS <= 0 {
		return 0
	}
	return 1000 / speedMPS
}

// PaceToSpeed converts seconds per kilometer to m/s.
func PaceToSpeed(secPerKm float64) float64 {
	if secPerKm <= 0 {
		return 0
	}
	return 1000 / secPerKm
}
