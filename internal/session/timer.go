package session

import (
	"sync"
	"time"
)

// Default warning thresholds, mirroring the five- and one-minute marks of a
// booked session.
var defaultWarnings = []time.Duration{5 * time.Minute, 1 * time.Minute}

// Countdown enforces the fixed session duration. It decrements once per
// interval, fires each warning exactly once when the remaining time crosses
// its threshold, and invokes expiry exactly once at zero. Stop cancels all
// further events synchronously.
type Countdown struct {
	mu        sync.Mutex
	cbMu      sync.Mutex // held while a warning callback runs
	remaining int        // ticks left
	interval  time.Duration
	warnAt    map[int]bool // tick mark -> already fired
	stopped   bool

	onWarning func(remaining time.Duration)
	onExpire  func()

	stop chan struct{}
	once sync.Once
}

// NewCountdown divides total into interval-sized ticks. warnAt thresholds
// that do not fit into the total are ignored. Passing no thresholds selects
// the five- and one-minute defaults.
func NewCountdown(total, interval time.Duration, warnAt ...time.Duration) *Countdown {
	if len(warnAt) == 0 {
		warnAt = defaultWarnings
	}
	ticks := int(total / interval)
	marks := make(map[int]bool, len(warnAt))
	for _, w := range warnAt {
		mark := int(w / interval)
		if mark > 0 && mark < ticks {
			marks[mark] = false
		}
	}
	return &Countdown{
		remaining: ticks,
		interval:  interval,
		warnAt:    marks,
		stop:      make(chan struct{}),
	}
}

// OnWarning registers the threshold callback. The callback runs with the
// delivery lock held and must not call Stop.
func (c *Countdown) OnWarning(fn func(remaining time.Duration)) { c.onWarning = fn }

func (c *Countdown) OnExpire(fn func()) { c.onExpire = fn }

// Remaining reports the time left on the clock.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.remaining) * c.interval
}

// Start launches the ticking goroutine. Callbacks must be set before Start.
func (c *Countdown) Start() {
	go c.run()
}

func (c *Countdown) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if c.tick() {
				return
			}
		}
	}
}

// tick decrements and fires callbacks; reports whether the countdown is over.
func (c *Countdown) tick() bool {
	c.mu.Lock()
	if c.stopped || c.remaining <= 0 {
		c.mu.Unlock()
		return true
	}
	c.remaining--
	remaining := c.remaining

	var warn, expire bool
	if fired, ok := c.warnAt[remaining]; ok && !fired {
		c.warnAt[remaining] = true
		warn = true
	}
	if remaining == 0 {
		c.stopped = true
		expire = true
	}
	warnFn, expireFn := c.onWarning, c.onExpire
	c.mu.Unlock()

	if warn && warnFn != nil {
		// Stop waits on cbMu, so a warning either completes before Stop
		// returns or sees stopped and never fires.
		c.cbMu.Lock()
		c.mu.Lock()
		stopped := c.stopped
		c.mu.Unlock()
		if !stopped {
			warnFn(time.Duration(remaining) * c.interval)
		}
		c.cbMu.Unlock()
	}
	if expire {
		if expireFn != nil {
			expireFn()
		}
		return true
	}
	return false
}

// Stop cancels the countdown. It waits for an in-flight warning callback to
// return, so no warning fires after Stop returns. An expiry that already
// passed its final-tick check may still complete concurrently with Stop; it
// fires at most once either way. Idempotent.
func (c *Countdown) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cbMu.Lock()
	// Barrier only: any warning in flight has now finished.
	c.cbMu.Unlock()
	c.once.Do(func() { close(c.stop) })
}
