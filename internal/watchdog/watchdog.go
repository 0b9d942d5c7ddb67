// Package watchdog keeps an external liveness timer fed.
// An unfed watchdog resets the device, the only fatal path of the node.
package watchdog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/lorasense/log2"
)

const DefaultTimeout = 15 * time.Second

var ErrUnavailable = errors.New("watchdog unavailable")

type Device interface {
	// Arm starts the timer, returns effective timeout which may differ from requested.
	Arm(timeout time.Duration) (time.Duration, error)
	Feed() error
	Close() error
}

// Guard wraps a Device with best-effort semantics:
// arm failure degrades to no-op, feed errors are only logged.
type Guard struct {
	log     *log2.Log
	dev     Device
	name    string
	timeout time.Duration
	armed   uint32 // atomic bool
	feeds   uint64 // atomic
}

func NewGuard(log *log2.Log, name string, dev Device) *Guard {
	return &Guard{log: log, name: name, dev: dev}
}

func (self *Guard) Arm(timeout time.Duration) {
	if self.dev == nil {
		self.log.Infof("watchdog device=none, liveness guard disabled")
		self.dev = Noop{}
		return
	}
	effective, err := self.dev.Arm(timeout)
	if err != nil {
		self.log.Errorf("watchdog device=%s arm timeout=%v err=%v, continuing without watchdog", self.name, timeout, err)
		_ = self.dev.Close()
		self.dev = Noop{}
		return
	}
	self.timeout = effective
	atomic.StoreUint32(&self.armed, 1)
	self.log.Infof("watchdog device=%s armed timeout=%v", self.name, effective)
}

func (self *Guard) Armed() bool { return atomic.LoadUint32(&self.armed) == 1 }

// Timeout is zero until Arm succeeded.
func (self *Guard) Timeout() time.Duration { return self.timeout }

func (self *Guard) Feeds() uint64 { return atomic.LoadUint64(&self.feeds) }

func (self *Guard) Feed() {
	if !self.Armed() {
		return
	}
	atomic.AddUint64(&self.feeds, 1)
	if err := self.dev.Feed(); err != nil {
		self.log.Errorf("watchdog device=%s feed err=%v", self.name, err)
	}
}

// Sleep waits d, feeding every third of timeout so long idle waits never starve the watchdog.
// Returns ctx error if interrupted.
func (self *Guard) Sleep(ctx context.Context, d time.Duration) error {
	period := d
	if self.Armed() && self.timeout > 0 {
		period = self.timeout / 3
	}
	deadline := time.Now().Add(d)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return nil
		}
		if left > period {
			left = period
		}
		t := time.NewTimer(left)
		select {
		case <-t.C:
			self.Feed()
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

func (self *Guard) Close() error {
	if self.dev == nil {
		return nil
	}
	atomic.StoreUint32(&self.armed, 0)
	return errors.Annotatef(self.dev.Close(), "watchdog device=%s close", self.name)
}

type Noop struct{}

func (Noop) Arm(timeout time.Duration) (time.Duration, error) { return timeout, nil }
func (Noop) Feed() error                                      { return nil }
func (Noop) Close() error                                     { return nil }
