package sensor

import (
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/lorasense/internal/types"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/devices/bmxx80"
	"periph.io/x/periph/host"
)

const DefaultBME280Addr = 0x76

type senser interface {
	Sense(*physic.Env) error
	Halt() error
}

// BME280 reads Bosch environment sensor over I2C.
type BME280 struct {
	mu  sync.Mutex
	dev senser
	bus i2c.BusCloser
}

func OpenBME280(busName string, addr uint16) (*BME280, error) {
	if addr == 0 {
		addr = DefaultBME280Addr
	}
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph/init")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Annotatef(err, "I2C Open bus=%s", busName)
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, errors.Annotatef(err, "bme280 bus=%s addr=%#x", busName, addr)
	}
	return &BME280{dev: dev, bus: bus}, nil
}

func (self *BME280) Sample() (types.Reading, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	var env physic.Env
	if err := self.dev.Sense(&env); err != nil {
		return types.Reading{}, errors.Annotate(err, "bme280 sense")
	}
	return envReading(env), nil
}

func (self *BME280) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	err := self.dev.Halt()
	if self.bus != nil {
		if cerr := self.bus.Close(); err == nil {
			err = cerr
		}
	}
	return errors.Annotate(err, "bme280 close")
}

func envReading(env physic.Env) types.Reading {
	t := float64(env.Temperature-physic.ZeroCelsius) / float64(physic.Kelvin)
	h := float64(env.Humidity) / float64(physic.PercentRH)
	return types.Reading{Temperature: round1(float32(t)), Humidity: round1(float32(h))}
}
