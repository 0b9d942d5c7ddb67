// Package sensor provides temperature/humidity samplers.
package sensor

import (
	"math"
	"math/rand"
	"sync"

	"github.com/temoto/lorasense/helpers"
	"github.com/temoto/lorasense/internal/types"
)

type Sampler interface {
	Sample() (types.Reading, error)
	Close() error
}

// Sim draws uniform values over sensor range with 1/1000 step, rounded to one decimal.
type Sim struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSim(rnd *rand.Rand) *Sim {
	if rnd == nil {
		rnd = helpers.RandUnix()
	}
	return &Sim{rnd: rnd}
}

func (self *Sim) Sample() (types.Reading, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return types.Reading{
		Temperature: self.float1(types.TemperatureMin, types.TemperatureMax),
		Humidity:    self.float1(types.HumidityMin, types.HumidityMax),
	}, nil
}

func (self *Sim) Close() error { return nil }

func (self *Sim) float1(min, max float32) float32 {
	r := self.rnd.Intn(1001)
	v := min + float32(r)/1000*(max-min)
	return firmwareRound1(v)
}

// firmwareRound1 adds half then truncates toward zero, so negative values round up.
func firmwareRound1(v float32) float32 {
	return float32(int32(float32(v*10)+0.5)) / 10
}

func round1(v float32) float32 {
	return float32(math.Round(float64(v)*10) / 10)
}

// Fixed always returns the same reading. Used by the console and tests.
type Fixed types.Reading

func (self Fixed) Sample() (types.Reading, error) { return types.Reading(self), nil }
func (Fixed) Close() error                        { return nil }
