// Package indicator reports cycle outcome with a LED.
package indicator

import (
	"time"

	"github.com/juju/errors"
	gpio "github.com/temoto/gpio-cdev-go"
	"github.com/temoto/lorasense/log2"
)

const (
	BlinkOK        = 1
	BlinkSendFail  = 2
	DefaultOnTime  = 100 * time.Millisecond
	DefaultOffTime = 150 * time.Millisecond
)

type Indicator interface {
	Blink(n int)
	Close() error
}

type Noop struct{}

func (Noop) Blink(int)    {}
func (Noop) Close() error { return nil }

type GPIO struct {
	log     *log2.Log
	chip    gpio.Chiper
	lines   gpio.Lineser
	set     gpio.LineSetFunc
	OnTime  time.Duration
	OffTime time.Duration
	sleep   func(time.Duration)
}

var _ Indicator = &GPIO{}

func OpenGPIO(log *log2.Log, chipPath string, line uint32) (*GPIO, error) {
	chip, err := gpio.Open(chipPath, "lorasense")
	if err != nil {
		return nil, errors.Annotatef(err, "gpio open chip=%s", chipPath)
	}
	self, err := newGPIO(log, chip, line)
	if err != nil {
		chip.Close()
		return nil, err
	}
	return self, nil
}

func newGPIO(log *log2.Log, chip gpio.Chiper, line uint32) (*GPIO, error) {
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, "lorasense-led", line)
	if err != nil {
		return nil, errors.Annotatef(err, "gpio open line=%d", line)
	}
	return &GPIO{
		log:     log,
		chip:    chip,
		lines:   lines,
		set:     lines.SetFunc(line),
		OnTime:  DefaultOnTime,
		OffTime: DefaultOffTime,
		sleep:   time.Sleep,
	}, nil
}

// Blink lights LED n times. Errors are logged, indicator never fails the caller.
func (self *GPIO) Blink(n int) {
	for i := 0; i < n; i++ {
		if i != 0 {
			self.sleep(self.OffTime)
		}
		if err := self.write(1); err != nil {
			self.log.Errorf("indicator blink err=%v", err)
			return
		}
		self.sleep(self.OnTime)
		if err := self.write(0); err != nil {
			self.log.Errorf("indicator blink err=%v", err)
			return
		}
	}
}

func (self *GPIO) write(v byte) error {
	self.set(v)
	return self.lines.Flush()
}

func (self *GPIO) Close() error {
	errs := make([]error, 0, 2)
	if self.lines != nil {
		errs = append(errs, self.lines.Close())
	}
	if self.chip != nil {
		errs = append(errs, self.chip.Close())
	}
	for _, e := range errs {
		if e != nil {
			return errors.Annotate(e, "indicator close")
		}
	}
	return nil
}
