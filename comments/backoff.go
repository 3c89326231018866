package comments

import (
	"sync"
	"time"
)

// geometric reconnect delay. doubles per consecutive failure up to `max`,
// and resets to `base` after each successful open.
type Backoff struct {
	base time.Duration
	max  time.Duration

	mutex sync.Mutex
	delay time.Duration
}

func NewBackoff(base time.Duration, max time.Duration) *Backoff {
	return &Backoff{
		base:  base,
		max:   max,
		delay: base,
	}
}

// the delay the next failure will wait
func (self *Backoff) Delay() time.Duration {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.delay
}

// returns the delay to wait for this failure and grows the delay for the next one
func (self *Backoff) Next() time.Duration {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delay := self.delay
	self.delay = min(2*self.delay, self.max)
	return delay
}

func (self *Backoff) Reset() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.delay = self.base
}
