// Package retry is the single bounded-retry primitive used by shardsync.
// It wraps github.com/juju/retry with a Policy, context cancellation and a
// retryable/fatal classification.
package retry

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	jujuretry "github.com/juju/retry"
)

// Policy bounds a retried action.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	// Delay is the wait between attempts.
	Delay time.Duration
	// Backoff doubles the delay after each failed attempt, capped by MaxDelay.
	Backoff  bool
	MaxDelay time.Duration
	// Clock drives the delays. Defaults to the wall clock.
	Clock clock.Clock
}

// Validate returns an error if the policy cannot drive Do.
func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return errors.NotValidf("retry attempts %d", p.Attempts)
	}
	if p.Delay < 0 {
		return errors.NotValidf("negative retry delay")
	}
	return nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Options customise a single Do call.
type Options struct {
	// IsFatal classifies errors that must not be retried. Errors marked
	// with Permanent are always fatal.
	IsFatal func(error) bool
	// Notify is called after every failed attempt.
	Notify func(err error, attempt int)
}

// Do calls fn until it succeeds, returns a fatal error, the attempts are
// exhausted or ctx is done. The returned error is the last error from fn,
// annotated with the reason retrying stopped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, opts Options) error {
	if err := p.Validate(); err != nil {
		return errors.Trace(err)
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	args := jujuretry.CallArgs{
		Func: func() error {
			return fn(ctx)
		},
		IsFatalError: func(err error) bool {
			if IsPermanent(err) {
				return true
			}
			if ctx.Err() != nil {
				return true
			}
			return opts.IsFatal != nil && opts.IsFatal(err)
		},
		NotifyFunc: opts.Notify,
		Attempts:   p.Attempts,
		Delay:      p.Delay,
		MaxDelay:   p.MaxDelay,
		Clock:      clk,
		Stop:       ctx.Done(),
	}
	if p.Backoff {
		args.BackoffFunc = jujuretry.DoubleDelay
	}
	// juju/retry requires a positive delay
	if args.Delay <= 0 {
		args.Delay = time.Nanosecond
	}

	err := args.Validate()
	if err != nil {
		return errors.Trace(err)
	}
	err = jujuretry.Call(args)
	switch {
	case err == nil:
		return nil
	case jujuretry.IsAttemptsExceeded(err):
		return errors.Annotatef(jujuretry.LastError(err), "giving up after %d attempts", p.Attempts)
	case jujuretry.IsRetryStopped(err):
		last := jujuretry.LastError(err)
		if last == nil {
			last = ctx.Err()
		}
		return errors.Annotate(last, "retry stopped")
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return pe.err
	}
	return err
}
