package playback

import "time"

// DefaultTickInterval is the progress clock sampling period
const DefaultTickInterval = 50 * time.Millisecond

// Ticker is a cancellable repeating timer
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory starts a new Ticker firing every d
type TickerFactory func(d time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

// NewRealTicker wraps time.Ticker
func NewRealTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// progressClock drives Session.Tick from its own goroutine until stopped.
// Ticks are counted, never derived from wall time, so a stalled or
// backgrounded process does not jump forward when it resumes.
type progressClock struct {
	ticker Ticker
	stop   chan struct{}
}

func startClock(newTicker TickerFactory, interval time.Duration, tick func(), track func(func())) *progressClock {
	c := &progressClock{
		ticker: newTicker(interval),
		stop:   make(chan struct{}),
	}
	track(func() {
		for {
			select {
			case <-c.stop:
				return
			case <-c.ticker.C():
				tick()
			}
		}
	})
	return c
}

func (c *progressClock) halt() {
	c.ticker.Stop()
	close(c.stop)
}
