package decision

import (
	"github.com/technosupport/parking-capture/internal/config"
	"github.com/technosupport/parking-capture/internal/quality"
)

// dynamicThreshold computes T, the same-car similarity threshold.
// Short-interval and cross-day frames short-circuit to their own base and
// skip the other multipliers; lowering brightness/sharpness, or moving
// toward worse weather, never raises T, because every multiplier below
// is <= 1.
func dynamicThreshold(t config.Tunables, in Input) float64 {
	if in.CrossDay {
		return clampMin(t.VehicleSimilarityCrossDay, 0.50)
	}
	if in.IntervalSeconds > 0 && in.IntervalSeconds < float64(t.ShortIntervalSeconds) {
		return clampMin(t.VehicleSimilarityShortInterval, 0.50)
	}

	base := t.VehicleSimilaritySameDay

	base *= hourMultiplier(in.CurrentTime.Hour())

	switch {
	case in.CurrentQuality.Brightness < 50:
		base *= 0.85
	case in.CurrentQuality.Brightness < 80:
		base *= 0.90
	}

	if in.CurrentQuality.Sharpness < t.ClarityThreshold {
		base *= 0.90
	}

	switch in.CurrentQuality.Weather {
	case quality.WeatherRainy:
		base *= 0.85
	case quality.WeatherFoggy:
		base *= 0.80
	case quality.WeatherCloudy:
		base *= 0.90
	}

	if isDark(in.CurrentQuality) && isDark(in.PreviousQuality) {
		base *= 0.95
	}
	if isBadWeather(in.CurrentQuality.Weather) && isBadWeather(in.PreviousQuality.Weather) {
		base *= 0.95
	}

	return clampMin(base, 0.50)
}

func hourMultiplier(hour int) float64 {
	switch {
	case hour >= 0 && hour < 6:
		return 0.85
	case hour >= 6 && hour < 18:
		return 1.00
	case hour >= 18 && hour < 20:
		return 0.90
	default:
		return 0.80
	}
}

func isDark(q quality.Report) bool {
	return q.DayNight == quality.Night
}

func isBadWeather(w quality.WeatherKind) bool {
	return w == quality.WeatherRainy || w == quality.WeatherFoggy || w == quality.WeatherCloudy
}

func clampMin(v, floor float64) float64 {
	if v < floor {
		return floor
	}
	return v
}
