package nor

import "time"

// DefaultPollInterval is the sleep between two status reads.
const DefaultPollInterval = time.Millisecond

// StatusReader reads the device status register.
type StatusReader interface {
	ReadStatus() (Status, error)
}

// Poller blocks until the device reports not busy.
//
// With a zero Timeout the wait is unbounded: a device that never clears
// its busy bit blocks the caller forever.
type Poller struct {
	status   StatusReader
	interval time.Duration
	timeout  time.Duration
	sleep    func(time.Duration)
	now      func() time.Time
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithTimeout bounds AwaitReady. Zero keeps the wait unbounded.
func WithTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d >= 0 {
			p.timeout = d
		}
	}
}

// WithSleep replaces time.Sleep, mostly for tests.
func WithSleep(sleep func(time.Duration)) PollerOption {
	return func(p *Poller) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPoller creates a Poller reading status through r every interval.
func NewPoller(r StatusReader, interval time.Duration, opts ...PollerOption) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &Poller{
		status:   r,
		interval: interval,
		sleep:    time.Sleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the poll interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// AwaitReady reads the status at least once and returns after a read
// reports busy cleared. Transport errors abort the wait.
func (p *Poller) AwaitReady() error {
	start := p.now()
	for polls := 1; ; polls++ {
		st, err := p.status.ReadStatus()
		if err != nil {
			return err
		}
		if !st.Busy() {
			return nil
		}
		if p.timeout > 0 {
			if waited := p.now().Sub(start); waited >= p.timeout {
				return &BusyTimeoutError{Waited: waited, Polls: polls}
			}
		}
		p.sleep(p.interval)
	}
}
