package watchdog

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/temoto/atomic_clock"
)

// Soft is in-process watchdog timer for simulation and tests.
// On starvation it calls OnExpire once with time since last feed.
type Soft struct {
	OnExpire func(sinceFeed time.Duration)

	mu       sync.Mutex
	timer    *time.Timer
	timeout  time.Duration
	lastFeed *atomic_clock.Clock
	expired  uint32
}

func NewSoft(onExpire func(time.Duration)) *Soft {
	return &Soft{OnExpire: onExpire}
}

func (self *Soft) Arm(timeout time.Duration) (time.Duration, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.timer != nil {
		self.timer.Stop()
	}
	self.timeout = timeout
	self.lastFeed = atomic_clock.Now()
	atomic.StoreUint32(&self.expired, 0)
	self.timer = time.AfterFunc(timeout, self.expire)
	return timeout, nil
}

func (self *Soft) Feed() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.timer == nil {
		return ErrUnavailable
	}
	if self.Expired() {
		return nil
	}
	self.lastFeed.SetNow()
	self.timer.Reset(self.timeout)
	return nil
}

func (self *Soft) Expired() bool { return atomic.LoadUint32(&self.expired) == 1 }

func (self *Soft) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.timer != nil {
		self.timer.Stop()
		self.timer = nil
	}
	return nil
}

func (self *Soft) expire() {
	self.mu.Lock()
	last := self.lastFeed
	self.mu.Unlock()
	if !atomic.CompareAndSwapUint32(&self.expired, 0, 1) {
		return
	}
	if self.OnExpire != nil {
		self.OnExpire(atomic_clock.Since(last))
	}
}
