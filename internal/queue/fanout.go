package queue

import "github.com/birbparty/countly-nest/sdk"

// FanoutQueue pushes each command to every sink in order and stops at the
// first failure. Sinks before the failing one keep the command.
type FanoutQueue []sdk.Queue

// NewFanoutQueue drops nil sinks
func NewFanoutQueue(sinks ...sdk.Queue) FanoutQueue {
	out := make(FanoutQueue, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Push implements sdk.Queue
func (f FanoutQueue) Push(cmd sdk.Command) error {
	for _, sink := range f {
		if err := sink.Push(cmd); err != nil {
			return err
		}
	}
	return nil
}
