// Package retry runs an operation with a bounded number of attempts
// and a fixed delay between them.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/lorasense/helpers"
)

type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

func (p Policy) String() string {
	return fmt.Sprintf("attempts=%d delay=%v", p.MaxAttempts, p.Delay)
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.NotValidf("retry max_attempts=%d", p.MaxAttempts)
	}
	if p.Delay < 0 {
		return errors.NotValidf("retry delay=%v", p.Delay)
	}
	return nil
}

// SleepFunc must return early with error when ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Op receives attempt number starting at 1.
type Op func(ctx context.Context, attempt int) error

// Do calls op until success or p.MaxAttempts failures, sleeping p.Delay between attempts.
// There is no delay after the final attempt.
// Returns number of attempts made and nil or last op error annotated with attempt count.
// Context cancellation during delay returns ctx error.
func Do(ctx context.Context, p Policy, sleep SleepFunc, op Op) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if sleep == nil {
		sleep = helpers.SleepContext
	}
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = op(ctx, attempt); err == nil {
			return attempt, nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if serr := sleep(ctx, p.Delay); serr != nil {
			return attempt, errors.Annotatef(serr, "retry interrupted after attempt=%d last=%v", attempt, err)
		}
	}
	return p.MaxAttempts, errors.Annotatef(err, "retry exhausted attempts=%d", p.MaxAttempts)
}
