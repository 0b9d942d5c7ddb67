package watchdog

import (
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
)

// Systemd feeds service manager watchdog, configured by unit WatchdogSec=.
// Requested timeout is capped by WATCHDOG_USEC.
type Systemd struct{}

func (Systemd) Arm(timeout time.Duration) (time.Duration, error) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0, errors.Annotate(err, "sd_watchdog_enabled")
	}
	if interval == 0 {
		return 0, errors.Annotate(ErrUnavailable, "WATCHDOG_USEC is not set")
	}
	if interval < timeout {
		timeout = interval
	}
	return timeout, nil
}

func (Systemd) Feed() error {
	ok, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	if err != nil {
		return errors.Annotate(err, "sd_notify")
	}
	if !ok {
		return errors.Annotate(ErrUnavailable, "NOTIFY_SOCKET is not set")
	}
	return nil
}

func (Systemd) Close() error { return nil }
