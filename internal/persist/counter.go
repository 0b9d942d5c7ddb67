package persist

import (
	"encoding/binary"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/lorasense/log2"
)

// Counter is monotonic uint32 that survives restarts.
// Value is stored before it is handed out, so a crash never repeats a value.
type Counter struct {
	mu      sync.Mutex
	v       uint32
	Persist Persist
}

const counterSize = 4

func OpenCounter(log *log2.Log, tag, root string) (*Counter, error) {
	c := &Counter{}
	if err := c.Persist.Init(tag, c, root, root != "", log); err != nil {
		return nil, err
	}
	if err := c.Persist.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Counter) Value() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

// Next increments and stores, returns new value.
func (c *Counter) Next() (uint32, error) {
	c.mu.Lock()
	c.v++
	v := c.v
	c.mu.Unlock()
	if err := c.Persist.Store(); err != nil {
		return 0, errors.Annotatef(err, "counter next=%d", v)
	}
	return v, nil
}

func (c *Counter) MarshalBinary() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := make([]byte, counterSize)
	binary.BigEndian.PutUint32(b, c.v)
	return b, nil
}

func (c *Counter) UnmarshalBinary(b []byte) error {
	if len(b) != counterSize {
		return errors.NotValidf("counter length=%d expected=%d", len(b), counterSize)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v = binary.BigEndian.Uint32(b)
	return nil
}
