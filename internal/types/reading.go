// Package types holds values shared by sensor, uplink and node packages.
package types

import (
	"fmt"
	"math"

	"github.com/juju/errors"
)

const (
	TemperatureMin float32 = -40
	TemperatureMax float32 = 85
	HumidityMin    float32 = 0
	HumidityMax    float32 = 100
)

// Reading is one sensor sample: temperature in degrees Celsius, relative humidity in percent.
type Reading struct {
	Temperature float32
	Humidity    float32
}

func (r Reading) String() string {
	return fmt.Sprintf("Reading(t=%.1f h=%.1f)", r.Temperature, r.Humidity)
}

// Validate reports values outside of sensor operating range.
// Frame encoding does not require a valid reading.
func (r Reading) Validate() error {
	if !finite(r.Temperature) || r.Temperature < TemperatureMin || r.Temperature > TemperatureMax {
		return errors.NotValidf("temperature=%v range=[%v,%v]", r.Temperature, TemperatureMin, TemperatureMax)
	}
	if !finite(r.Humidity) || r.Humidity < HumidityMin || r.Humidity > HumidityMax {
		return errors.NotValidf("humidity=%v range=[%v,%v]", r.Humidity, HumidityMin, HumidityMax)
	}
	return nil
}

func finite(f float32) bool {
	x := float64(f)
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
