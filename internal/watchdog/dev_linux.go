//go:build linux
// +build linux

package watchdog

import (
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

const DefaultDevPath = "/dev/watchdog"

// Dev drives kernel watchdog character device.
type Dev struct {
	Path string
	fd   int
	open bool
}

func (self *Dev) Arm(timeout time.Duration) (time.Duration, error) {
	path := self.Path
	if path == "" {
		path = DefaultDevPath
	}
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		if err == unix.ENOENT || err == unix.EACCES || err == unix.EBUSY {
			return 0, errors.Annotatef(ErrUnavailable, "open %s: %v", path, err)
		}
		return 0, errors.Annotatef(err, "open %s", path)
	}
	self.fd, self.open = fd, true
	secs := int((timeout + time.Second - 1) / time.Second)
	if err = unix.IoctlSetPointerInt(fd, unix.WDIOC_SETTIMEOUT, secs); err != nil {
		// driver may not support changing timeout, keep its own
		secs, err = unix.IoctlGetInt(fd, unix.WDIOC_GETTIMEOUT)
		if err != nil {
			_ = self.Close()
			return 0, errors.Annotatef(err, "ioctl %s get timeout", path)
		}
	} else if actual, gerr := unix.IoctlGetInt(fd, unix.WDIOC_GETTIMEOUT); gerr == nil {
		secs = actual
	}
	return time.Duration(secs) * time.Second, nil
}

func (self *Dev) Feed() error {
	if !self.open {
		return errors.Trace(ErrUnavailable)
	}
	_, err := unix.Write(self.fd, []byte{0})
	return errors.Annotate(err, "watchdog write")
}

// Close writes magic 'V' so the kernel disarms instead of resetting.
func (self *Dev) Close() error {
	if !self.open {
		return nil
	}
	self.open = false
	_, werr := unix.Write(self.fd, []byte{'V'})
	cerr := unix.Close(self.fd)
	if werr != nil {
		return errors.Annotate(werr, "watchdog magic close")
	}
	return errors.Annotate(cerr, "watchdog close")
}
