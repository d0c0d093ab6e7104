package session

import (
	"sync"
	"time"
)

// Timer is the cancellable conversation countdown. It reports remaining
// time every tick and fires onExpire exactly once at natural expiry.
type Timer struct {
	stop chan struct{}
	once sync.Once
}

func startTimer(total, tick time.Duration, onTick func(remainingSeconds int), onExpire func()) *Timer {
	t := &Timer{stop: make(chan struct{})}
	go t.run(total, tick, onTick, onExpire)
	return t
}

func (t *Timer) run(total, tick time.Duration, onTick func(int), onExpire func()) {
	remaining := int(total / tick)
	if remaining < 1 {
		remaining = 1
	}

	for ; remaining > 0; remaining-- {
		onTick(int(time.Duration(remaining) * tick / time.Second))
		select {
		case <-t.stop:
			return
		case <-time.After(tick):
		}
	}

	onExpire()
}

// Stop cancels the countdown. Idempotent; stopping after expiry is a
// no-op.
func (t *Timer) Stop() {
	t.once.Do(func() { close(t.stop) })
}
