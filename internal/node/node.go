// Package node runs the sensor node: join once at boot, then sample, frame
// and uplink a reading every TxInterval forever.
package node

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/lorasense/internal/frame"
	"github.com/temoto/lorasense/internal/indicator"
	"github.com/temoto/lorasense/internal/network"
	"github.com/temoto/lorasense/internal/retry"
	"github.com/temoto/lorasense/internal/sensor"
	"github.com/temoto/lorasense/internal/types"
	"github.com/temoto/lorasense/internal/uplink"
	"github.com/temoto/lorasense/internal/watchdog"
	"github.com/temoto/lorasense/log2"
)

const (
	DefaultTxInterval        = 600 * time.Second
	DefaultJoinMaxAttempts   = 10
	DefaultJoinRetry         = 60 * time.Second
	DefaultUplinkMaxAttempts = 3
	DefaultUplinkRetry       = 5 * time.Second
	DefaultPort              = 1
)

type Config struct {
	TxInterval time.Duration
	Join       retry.Policy
	Uplink     retry.Policy
	Port       uint8
	Confirmed  bool
}

func DefaultConfig() Config {
	return Config{
		TxInterval: DefaultTxInterval,
		Join:       retry.Policy{MaxAttempts: DefaultJoinMaxAttempts, Delay: DefaultJoinRetry},
		Uplink:     retry.Policy{MaxAttempts: DefaultUplinkMaxAttempts, Delay: DefaultUplinkRetry},
		Port:       DefaultPort,
		Confirmed:  true,
	}
}

func (c Config) Validate() error {
	if err := c.Join.Validate(); err != nil {
		return errors.Annotate(err, "join")
	}
	if err := c.Uplink.Validate(); err != nil {
		return errors.Annotate(err, "uplink")
	}
	if c.TxInterval <= 0 {
		return errors.NotValidf("tx_interval=%v", c.TxInterval)
	}
	return nil
}

type Stat struct {
	Cycles       uint32
	Sent         uint32
	SendFailed   uint32
	Skipped      uint32
	EncodeFailed uint32
	SampleFailed uint32
	JoinAttempts uint32
	Errors       uint32
}

type Node struct {
	log    *log2.Log
	alive  *alive.Alive
	config Config
	sensor sensor.Sampler
	net    network.Network
	pipe   *uplink.Pipeline
	guard  *watchdog.Guard
	ind    indicator.Indicator

	state   State
	joined  bool
	reading types.Reading
	frame   frame.Frame

	statMu sync.Mutex
	stat   Stat

	// Sleep is used for retry delays and TxInterval, default is guard.Sleep
	Sleep        retry.SleepFunc
	XXX_testHook func(State)
}

// New: guard and ind may be nil.
func New(log *log2.Log, a *alive.Alive, c Config, s sensor.Sampler, n network.Network, p *uplink.Pipeline, guard *watchdog.Guard, ind indicator.Indicator) *Node {
	if s == nil || n == nil || p == nil {
		panic("code error node.New requires sensor, network, pipeline")
	}
	if guard == nil {
		guard = watchdog.NewGuard(log, "node", nil)
	}
	if ind == nil {
		ind = indicator.Noop{}
	}
	self := &Node{
		log:    log,
		alive:  a,
		config: c,
		sensor: s,
		net:    n,
		pipe:   p,
		guard:  guard,
		ind:    ind,
		state:  StateUnjoined,
	}
	self.Sleep = guard.Sleep
	return self
}

func (self *Node) State() State       { return State(atomic.LoadUint32((*uint32)(&self.state))) }
func (self *Node) setState(new State) { atomic.StoreUint32((*uint32)(&self.state), uint32(new)) }

// Joined reports link state, false for the rest of the session after join exhaustion.
func (self *Node) Joined() bool { return self.joined }

func (self *Node) Stat() Stat {
	self.statMu.Lock()
	defer self.statMu.Unlock()
	return self.stat
}

// CountError matches log2.ErrorFunc, install with log.SetErrorFunc.
func (self *Node) CountError(error) { self.statInc(func(s *Stat) { s.Errors++ }) }

func (self *Node) statInc(f func(*Stat)) {
	self.statMu.Lock()
	f(&self.stat)
	self.statMu.Unlock()
}

// Loop returns when ctx is done or alive is stopping.
func (self *Node) Loop(ctx context.Context) {
	if self.alive != nil {
		if !self.alive.Add(1) {
			return
		}
		defer self.alive.Done()
	}
	next := self.State()
	for next != StateStop {
		current := self.State()
		ev := self.enter(ctx, current)
		if !self.running(ctx) {
			self.log.Debugf("node loop stopping state=%s", current.String())
			ev = EventStop
		}
		next = Transition(current, ev)
		if next == StateInvalid {
			self.log.Fatalf("node state=%s event=%s next=invalid", current.String(), ev.String())
			return
		}
		self.setState(next)
		if self.XXX_testHook != nil {
			self.XXX_testHook(next)
		}
	}
	self.log.Debugf("node loop end")
}

func (self *Node) running(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return self.alive == nil || self.alive.IsRunning()
}

func (self *Node) enter(ctx context.Context, s State) Event {
	self.log.Debugf("node enter %s", s.String())
	switch s {
	case StateUnjoined:
		return EventBoot

	case StateJoining:
		return self.join(ctx)

	case StateJoined:
		return EventCycle

	case StateIdle:
		self.guard.Feed()
		self.statInc(func(st *Stat) { st.Cycles++ })
		return EventCycle

	case StateSampling:
		r, err := self.sensor.Sample()
		if err != nil {
			self.statInc(func(st *Stat) { st.SampleFailed++ })
			self.log.Errorf("node sample err=%v", err)
			return EventSampleFailed
		}
		self.reading = r
		return EventSampled

	case StateEncoding:
		f, err := self.pipe.Make(self.reading)
		if err != nil {
			self.statInc(func(st *Stat) { st.EncodeFailed++ })
			self.log.Errorf("node skip send, frame build %s err=%v", self.reading.String(), err)
			return EventEncodeFailed
		}
		if !self.joined {
			self.statInc(func(st *Stat) { st.Skipped++ })
			self.log.Debugf("node unjoined, drop frame=%s", f)
			return EventFrameOffline
		}
		self.frame = f
		return EventFrameReady

	case StateSending:
		self.send(ctx)
		return EventSendDone

	case StateSleeping:
		st := self.Stat()
		self.log.Infof("node cycle=%d sent=%d send_failed=%d skipped=%d encode_failed=%d sample_failed=%d sleep=%v",
			st.Cycles, st.Sent, st.SendFailed, st.Skipped, st.EncodeFailed, st.SampleFailed, self.config.TxInterval)
		if err := self.Sleep(ctx, self.config.TxInterval); err != nil {
			return EventStop
		}
		return EventWake

	default:
		self.log.Errorf("code error node enter unhandled state=%s", s.String())
		return EventInvalid
	}
}

func (self *Node) join(ctx context.Context) Event {
	attempts, err := retry.Do(ctx, self.config.Join, self.Sleep, func(ctx context.Context, attempt int) error {
		self.guard.Feed()
		self.statInc(func(st *Stat) { st.JoinAttempts++ })
		err := self.net.Join(ctx)
		if err != nil {
			self.log.Errorf("node join attempt=%d/%d code=%s err=%v", attempt, self.config.Join.MaxAttempts, network.CodeOf(err), err)
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return EventStop
		}
		self.log.Errorf("node join failed, uplink disabled for this session: %v", err)
		return EventJoinExhausted
	}
	self.joined = true
	self.log.Infof("node joined attempts=%d", attempts)
	return EventJoinAccepted
}

func (self *Node) send(ctx context.Context) {
	payload := []byte(self.frame)
	attempts, err := retry.Do(ctx, self.config.Uplink, self.Sleep, func(ctx context.Context, attempt int) error {
		self.guard.Feed()
		err := self.net.Send(ctx, self.config.Port, payload, self.config.Confirmed)
		if err != nil {
			self.log.Errorf("node send attempt=%d/%d code=%s err=%v", attempt, self.config.Uplink.MaxAttempts, network.CodeOf(err), err)
		}
		return err
	})
	self.frame = ""
	if err != nil {
		self.statInc(func(st *Stat) { st.SendFailed++ })
		self.log.Errorf("node uplink dropped: %v", err)
		self.ind.Blink(indicator.BlinkSendFail)
		return
	}
	self.statInc(func(st *Stat) { st.Sent++ })
	self.log.Infof("node sent frame=%s attempts=%d", payload, attempts)
	self.ind.Blink(indicator.BlinkOK)
}
