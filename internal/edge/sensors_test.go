package edge

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestCheckConstraint(t *testing.T) {
	tests := []struct {
		name      string
		sensor    string
		value     float64
		wantEvent string
		wantOK    bool
	}{
		{"temperature high", SensorTemperature, 30.01, EventTemperatureHigh, true},
		{"temperature at max", SensorTemperature, 30, "", false},
		{"temperature low", SensorTemperature, 14.99, EventTemperatureLow, true},
		{"temperature at min", SensorTemperature, 15, "", false},
		{"humidity high", SensorHumidity, 85, EventHumidityHigh, true},
		{"humidity low", SensorHumidity, 39.5, EventHumidityLow, true},
		{"humidity ok", SensorHumidity, 60, "", false},
		{"light low", SensorLight, 99.99, EventLightLow, true},
		{"light very high", SensorLight, 5000, "", false},
		{"air quality warning", SensorAirQuality, 1000.5, EventAirQualityWarning, true},
		{"air quality very low", SensorAirQuality, 0, "", false},
		{"unknown sensor", "pressure", 1e9, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, ok := CheckConstraint(tt.sensor, tt.value)
			if ok != tt.wantOK || event != tt.wantEvent {
				t.Errorf("CheckConstraint(%q, %v) = (%q, %v), want (%q, %v)",
					tt.sensor, tt.value, event, ok, tt.wantEvent, tt.wantOK)
			}
		})
	}
}

func TestDraw_StaysInRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	r := Range{Min: 2, Max: 8}

	for i := 0; i < 1000; i++ {
		v := draw(rng, r)
		if v < r.Min || v > r.Max {
			t.Fatalf("draw() = %v, outside [%v, %v]", v, r.Min, r.Max)
		}
		if scaled := v * 100; math.Abs(scaled-math.Round(scaled)) > 1e-6 {
			t.Fatalf("draw() = %v, want two decimal places", v)
		}
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input  string
		want   Mode
		wantOK bool
	}{
		{"overheat", ModeOverheat, true},
		{" Frost ", ModeFrost, true},
		{"drought", ModeDrought, true},
		{"lowlight", ModeLowLight, true},
		{"poorair", ModePoorAir, true},
		{"reset", ModeNormal, true},
		{"normal", ModeNormal, true},
		{"earthquake", ModeNormal, false},
		{"", ModeNormal, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseMode(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseMode(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRangeFor(t *testing.T) {
	if got := rangeFor(ModeOverheat, SensorTemperature); got != (Range{32, 36}) {
		t.Errorf("rangeFor(overheat, temperature) = %v", got)
	}
	if got := rangeFor(ModeOverheat, SensorHumidity); got != normalRanges[SensorHumidity] {
		t.Errorf("rangeFor(overheat, humidity) = %v, want normal range", got)
	}
	if got := rangeFor(ModeNormal, SensorLight); got != normalRanges[SensorLight] {
		t.Errorf("rangeFor(normal, light) = %v, want normal range", got)
	}
}

// Every override band sits entirely outside the sensor's constraint.
func TestModeOverrides_AlwaysViolate(t *testing.T) {
	for mode, o := range modeOverrides {
		for _, v := range []float64{o.band.Min, o.band.Max} {
			if _, ok := CheckConstraint(o.sensor, v); !ok {
				t.Errorf("mode %s: %s value %v does not violate its constraint", mode, o.sensor, v)
			}
		}
	}
}
