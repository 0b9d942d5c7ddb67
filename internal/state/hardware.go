package state

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/lorasense/helpers"
	"github.com/temoto/lorasense/internal/auth"
	"github.com/temoto/lorasense/internal/indicator"
	"github.com/temoto/lorasense/internal/network"
	"github.com/temoto/lorasense/internal/network/gwbridge"
	"github.com/temoto/lorasense/internal/node"
	"github.com/temoto/lorasense/internal/persist"
	"github.com/temoto/lorasense/internal/sensor"
	"github.com/temoto/lorasense/internal/uplink"
	"github.com/temoto/lorasense/internal/watchdog"
)

type hardware struct {
	Sensor struct {
		once
		Sampler sensor.Sampler
	}
	Network struct {
		once
		Net    network.Network
		closer func() error
	}
	Watchdog struct {
		once
		Guard *watchdog.Guard
	}
	Indicator struct {
		once
		Ind indicator.Indicator
	}
	auth struct {
		once
		a *auth.Authenticator
	}
}

func (g *Global) Sensor() (sensor.Sampler, error) {
	x := &g.Hardware.Sensor // short alias
	_ = x.do(func() error {
		if x.Sampler != nil { // state-new testing mode
			return nil
		}
		cfg := &g.Config.Sensor
		switch g.Config.SensorDriver() {
		case SensorSim:
			x.Sampler = sensor.NewSim(nil)
			return nil

		case SensorBME280:
			dev, err := sensor.OpenBME280(cfg.I2CBus, uint16(cfg.I2CAddr))
			if err != nil {
				return errors.Annotatef(err, "config: sensor.driver=bme280 i2c_bus=%s", cfg.I2CBus)
			}
			x.Sampler = dev
			return nil

		default:
			return errors.NotValidf("config: sensor.driver=%s", cfg.Driver)
		}
	})
	return x.Sampler, x.err
}

// Network connects transport on first call.
func (g *Global) Network(ctx context.Context) (network.Network, error) {
	x := &g.Hardware.Network // short alias
	_ = x.do(func() error {
		if x.Net != nil {
			return nil
		}
		switch g.Config.NetworkDriver() {
		case NetworkSim:
			cfg := &g.Config.Network.Sim
			sim := network.NewSim(g.Log, nil)
			sim.JoinFailures = cfg.JoinFailures
			sim.SendFailures = cfg.SendFailures
			sim.FailRate = cfg.FailRate
			sim.Delay = helpers.IntMillisecondDefault(cfg.DelayMs, 0)
			x.Net = sim
			return nil

		case NetworkGWBridge:
			bc, err := g.Config.Bridge()
			if err != nil {
				return err
			}
			nonces, err := persist.OpenCounter(g.Log, "devnonce", g.Config.Persist.Root)
			if err != nil {
				return errors.Annotate(err, "gwbridge devnonce")
			}
			b := gwbridge.New(g.Log, bc, nonces)
			if err = b.Connect(ctx); err != nil {
				return errors.Annotate(err, "gwbridge connect")
			}
			x.Net = b
			x.closer = b.Close
			return nil

		default:
			return errors.NotValidf("config: network.driver=%s", g.Config.Network.Driver)
		}
	})
	return x.Net, x.err
}

// Watchdog returns armed guard. Unavailable device degrades to no-op, never an error.
func (g *Global) Watchdog() *watchdog.Guard {
	x := &g.Hardware.Watchdog // short alias
	_ = x.do(func() error {
		if x.Guard != nil {
			return nil
		}
		driver := g.Config.WatchdogDriver()
		var dev watchdog.Device
		switch driver {
		case WatchdogSystemd:
			dev = watchdog.Systemd{}
		case WatchdogDev:
			dev = &watchdog.Dev{Path: g.Config.Watchdog.Device}
		case WatchdogSoft:
			dev = watchdog.NewSoft(func(sinceFeed time.Duration) {
				g.Log.Fatalf("watchdog soft expired since_feed=%v", sinceFeed)
			})
		}
		x.Guard = watchdog.NewGuard(g.Log, driver, dev)
		x.Guard.Arm(g.Config.WatchdogTimeout())
		return nil
	})
	return x.Guard
}

func (g *Global) Indicator() indicator.Indicator {
	x := &g.Hardware.Indicator // short alias
	_ = x.do(func() error {
		if x.Ind != nil {
			return nil
		}
		cfg := &g.Config.Indicator
		if !cfg.Enable {
			x.Ind = indicator.Noop{}
			return nil
		}
		chip := cfg.Chip
		if chip == "" {
			chip = DefaultIndicatorChip
		}
		line := uint32(intDefault(cfg.Line, DefaultIndicatorLine))
		ind, err := indicator.OpenGPIO(g.Log, chip, line)
		if err != nil {
			g.Log.Errorf("indicator disabled: %v", err)
			x.Ind = indicator.Noop{}
			return nil
		}
		x.Ind = ind
		return nil
	})
	return x.Ind
}

func (g *Global) Authenticator() (*auth.Authenticator, error) {
	x := &g.Hardware.auth // short alias
	_ = x.do(func() error {
		key, err := g.Config.Key()
		if err != nil {
			return err
		}
		x.a = auth.New(key)
		return nil
	})
	return x.a, x.err
}

func (g *Global) Pipeline() (*uplink.Pipeline, error) {
	a, err := g.Authenticator()
	if err != nil {
		return nil, err
	}
	return uplink.NewPipeline(a), nil
}

// NewNode wires all collaborators from config.
func (g *Global) NewNode(ctx context.Context) (*node.Node, error) {
	nc := g.Config.Node()
	if err := nc.Validate(); err != nil {
		return nil, errors.Annotate(err, "config")
	}
	pipe, err := g.Pipeline()
	if err != nil {
		return nil, err
	}
	s, err := g.Sensor()
	if err != nil {
		return nil, err
	}
	guard := g.Watchdog()
	// transport connect may block, keep watchdog fed
	guard.Feed()
	n, err := g.Network(ctx)
	if err != nil {
		return nil, err
	}
	return node.New(g.Log, g.Alive, nc, s, n, pipe, guard, g.Indicator()), nil
}

// CloseHardware releases whatever was opened, watchdog last.
func (g *Global) CloseHardware() error {
	h := &g.Hardware
	errs := make([]error, 0, 4)
	if h.Network.done() && h.Network.closer != nil {
		errs = append(errs, h.Network.closer())
	}
	if h.Sensor.done() && h.Sensor.Sampler != nil {
		errs = append(errs, h.Sensor.Sampler.Close())
	}
	if h.Indicator.done() && h.Indicator.Ind != nil {
		errs = append(errs, h.Indicator.Ind.Close())
	}
	if h.Watchdog.done() && h.Watchdog.Guard != nil {
		errs = append(errs, h.Watchdog.Guard.Close())
	}
	return helpers.FoldErrors(errs)
}

type once struct {
	sync.Mutex
	called uint32 // atomic bool
	err    error
}

func (o *once) done() bool {
	return atomic.LoadUint32(&o.called) == 1
}

func (o *once) do(f func() error) error {
	if o.done() { // fast path
		return o.err
	}
	o.Lock()
	defer o.Unlock()
	if o.done() {
		return o.err
	}
	o.err = f()
	atomic.StoreUint32(&o.called, 1)
	return o.err
}
