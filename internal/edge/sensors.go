package edge

import (
	"math"
	"math/rand/v2"
)

// Sensor names, also used as the topic segment.
const (
	SensorTemperature = "temperature"
	SensorHumidity    = "humidity"
	SensorLight       = "light"
	SensorAirQuality  = "airquality"
)

// Sensors lists every simulated sensor in publish order.
var Sensors = []string{SensorTemperature, SensorHumidity, SensorLight, SensorAirQuality}

// Event types raised by CheckConstraint.
const (
	EventTemperatureHigh   = "temperature_alert_high"
	EventTemperatureLow    = "temperature_alert_low"
	EventHumidityHigh      = "humidity_alert_high"
	EventHumidityLow       = "humidity_alert_low"
	EventLightLow          = "light_low"
	EventAirQualityWarning = "airquality_warning"
)

// Range is an inclusive value range.
type Range struct {
	Min, Max float64
}

// normalRanges are the value ranges drawn from outside any simulation.
// They straddle the constraints, so alerts also occur without a simulation.
var normalRanges = map[string]Range{
	SensorTemperature: {10, 35},
	SensorHumidity:    {30, 90},
	SensorLight:       {50, 500},
	SensorAirQuality:  {500, 1500},
}

// Constraint limits. Air quality has no lower bound and light no upper bound.
const (
	temperatureMin = 15
	temperatureMax = 30
	humidityMin    = 40
	humidityMax    = 80
	lightMin       = 100
	airQualityMax  = 1000
)

// CheckConstraint reports the event type raised by value, if any.
func CheckConstraint(sensor string, value float64) (string, bool) {
	switch sensor {
	case SensorTemperature:
		if value > temperatureMax {
			return EventTemperatureHigh, true
		}
		if value < temperatureMin {
			return EventTemperatureLow, true
		}
	case SensorHumidity:
		if value > humidityMax {
			return EventHumidityHigh, true
		}
		if value < humidityMin {
			return EventHumidityLow, true
		}
	case SensorLight:
		if value < lightMin {
			return EventLightLow, true
		}
	case SensorAirQuality:
		if value > airQualityMax {
			return EventAirQualityWarning, true
		}
	}
	return "", false
}

// draw returns a value uniformly in r, rounded to two decimals.
func draw(rng *rand.Rand, r Range) float64 {
	v := r.Min + rng.Float64()*(r.Max-r.Min)
	return math.Round(v*100) / 100
}
