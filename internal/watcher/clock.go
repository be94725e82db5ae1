package watcher

import "time"

// Timer is the controllable handle returned by Clock.AfterFunc.
// *time.Timer satisfies it directly.
type Timer interface {
	Reset(d time.Duration) bool
	Stop() bool
}

// Clock abstracts timer creation so the debounce state machine can be
// tested against a virtual clock instead of real delays.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
