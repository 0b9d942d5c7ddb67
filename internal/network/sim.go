package network

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/lorasense/helpers"
	"github.com/temoto/lorasense/log2"
)

// Sim is scripted network for development without radio.
// First JoinFailures joins and first SendFailures sends after join fail,
// then each call fails with probability FailRate.
type Sim struct {
	JoinFailures int
	SendFailures int
	FailRate     float64
	Delay        time.Duration

	log *log2.Log
	mu  sync.Mutex
	rnd *rand.Rand

	joined    bool
	joinCalls int
	sendCalls int
	sendTried int // while joined
	sent      [][]byte
}

func NewSim(log *log2.Log, rnd *rand.Rand) *Sim {
	if rnd == nil {
		rnd = helpers.RandUnix()
	}
	return &Sim{log: log, rnd: rnd}
}

func (self *Sim) Join(ctx context.Context) error {
	if err := helpers.SleepContext(ctx, self.Delay); err != nil {
		return JoinError(CodeTimeout, err)
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	self.joinCalls++
	if self.joinCalls <= self.JoinFailures || self.roll() {
		self.log.Debugf("network sim join call=%d fail", self.joinCalls)
		return JoinError(CodeTimeout, errors.New("simulated join-accept timeout"))
	}
	self.joined = true
	self.log.Debugf("network sim join call=%d accepted", self.joinCalls)
	return nil
}

func (self *Sim) Send(ctx context.Context, port uint8, payload []byte, confirmed bool) error {
	if err := helpers.SleepContext(ctx, self.Delay); err != nil {
		return SendError(CodeTimeout, err)
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	self.sendCalls++
	if !self.joined {
		return SendError(CodeNotJoined, nil)
	}
	self.sendTried++
	if self.sendTried <= self.SendFailures || self.roll() {
		code := CodeTransport
		if confirmed {
			code = CodeNoAck
		}
		self.log.Debugf("network sim send call=%d port=%d fail", self.sendCalls, port)
		return SendError(code, errors.New("simulated"))
	}
	self.sent = append(self.sent, append([]byte(nil), payload...))
	self.log.Debugf("network sim send call=%d port=%d confirmed=%t payload=%s", self.sendCalls, port, confirmed, payload)
	return nil
}

type SimStat struct {
	Joined    bool
	JoinCalls int
	SendCalls int
	Sent      [][]byte
}

func (self *Sim) Stat() SimStat {
	self.mu.Lock()
	defer self.mu.Unlock()
	return SimStat{
		Joined:    self.joined,
		JoinCalls: self.joinCalls,
		SendCalls: self.sendCalls,
		Sent:      append([][]byte(nil), self.sent...),
	}
}

func (self *Sim) roll() bool {
	return self.FailRate > 0 && self.rnd.Float64() < self.FailRate
}
