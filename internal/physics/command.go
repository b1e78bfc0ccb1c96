package physics

import "errors"

// Signature tags every command the engine emits ("SSMS" in ASCII).
// Capture backends attach it out-of-band to synthetic events and use it to
// recognise those events when they come back around.
const Signature uint32 = 0x53534D53

// Command is one integer motion step for the output sink.
type Command struct {
	Axis      Axis
	Delta     int32
	Target    TargetID
	Signature uint32
}

// Sink applies motion commands to their target.
//
// Emit is called from the clock goroutine and must not block for long.
// Commands are fire-and-forget: the engine never retries a failed Emit.
type Sink interface {
	Emit(Command) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(Command) error

func (f SinkFunc) Emit(cmd Command) error { return f(cmd) }

// Discard drops every command.
var Discard Sink = SinkFunc(func(Command) error { return nil })

type teeSink []Sink

func (t teeSink) Emit(cmd Command) error {
	var errs []error
	for _, s := range t {
		if err := s.Emit(cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tee fans every command out to all non-nil sinks in order.
// All sinks see the command even when an earlier one fails; errors are joined.
func Tee(sinks ...Sink) Sink {
	out := make(teeSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
