// Package units provides shared constants and conversion helpers for speed
// units. The simulator and database work in km/h; API consumers may request
// another unit.
package units

// Unit constants
const (
	KMPH = "kmph"
	KPH  = "kph"
	MPS  = "mps"
	MPH  = "mph"
)

// ValidUnits contains all valid unit values.
var ValidUnits = []string{KMPH, KPH, MPS, MPH}

// IsValid checks if the given unit is in the list of valid units.
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for
// error messages.
func GetValidUnitsString() string {
	return "kmph, kph, mps, mph"
}

// ConvertSpeed converts a speed from km/h to the target units. Unknown units
// fall back to km/h.
func ConvertSpeed(speedKMPH float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedKMPH / 3.6
	case MPH:
		return speedKMPH * 0.621371192
	case KMPH, KPH:
		return speedKMPH
	default:
		return speedKMPH
	}
}
