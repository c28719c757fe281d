package edge

import "strings"

// Mode is a simulation mode set from the control topic.
type Mode string

const (
	ModeNormal   Mode = "normal"
	ModeOverheat Mode = "overheat"
	ModeFrost    Mode = "frost"
	ModeDrought  Mode = "drought"
	ModeLowLight Mode = "lowlight"
	ModePoorAir  Mode = "poorair"
	ModeReset    Mode = "reset"
)

// override forces one sensor into an out-of-range band.
type override struct {
	sensor string
	band   Range
}

var modeOverrides = map[Mode]override{
	ModeOverheat: {SensorTemperature, Range{32, 36}},
	ModeFrost:    {SensorTemperature, Range{2, 8}},
	ModeDrought:  {SensorHumidity, Range{15, 30}},
	ModeLowLight: {SensorLight, Range{30, 80}},
	ModePoorAir:  {SensorAirQuality, Range{1100, 1400}},
}

// ParseMode maps a command type to a Mode. "reset" maps to ModeNormal.
// Unknown types report false.
func ParseMode(s string) (Mode, bool) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeReset, ModeNormal:
		return ModeNormal, true
	}
	if _, ok := modeOverrides[m]; ok {
		return m, true
	}
	return ModeNormal, false
}

// rangeFor returns the band sensor is drawn from under mode m.
func rangeFor(m Mode, sensor string) Range {
	if o, ok := modeOverrides[m]; ok && o.sensor == sensor {
		return o.band
	}
	return normalRanges[sensor]
}
