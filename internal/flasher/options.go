package flasher

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bigbag/norflash/internal/bridge"
	"github.com/bigbag/norflash/internal/nor"
	"github.com/bigbag/norflash/internal/planner"
)

// DefaultSettleDelay is the wait after switching the target supply on.
const DefaultSettleDelay = 500 * time.Millisecond

// Config holds the session configuration.
type Config struct {
	Logger    logrus.FieldLogger
	Transport bridge.SPIConfig
	Geometry  nor.Geometry
	Commands  nor.CommandSet

	// PollInterval is the sleep between two status reads.
	PollInterval time.Duration

	// BusyTimeout bounds every busy wait. Zero waits forever.
	BusyTimeout time.Duration

	SettleDelay time.Duration

	// ErasePolicy selects the planner behaviour.
	ErasePolicy planner.Policy

	ProgressCallback ProgressCallback

	sleep func(time.Duration)
}

func defaultConfig() Config {
	return Config{
		Logger:       logrus.StandardLogger(),
		Transport:    bridge.DefaultSPIConfig(),
		Geometry:     nor.DefaultGeometry(),
		Commands:     nor.W25Q64FW(),
		PollInterval: nor.DefaultPollInterval,
		SettleDelay:  DefaultSettleDelay,
		ErasePolicy:  planner.Boundary,
		sleep:        time.Sleep,
	}
}

// Option is a functional option for configuring a Session.
type Option func(*Config)

// WithLogger sets the logger for protocol tracing.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Config) {
		if log != nil {
			c.Logger = log
		}
	}
}

// WithTransport sets the SPI configuration applied on open.
func WithTransport(cfg bridge.SPIConfig) Option {
	return func(c *Config) {
		c.Transport = cfg
	}
}

// WithGeometry overrides the chip geometry.
func WithGeometry(g nor.Geometry) Option {
	return func(c *Config) {
		c.Geometry = g
	}
}

// WithCommandSet overrides the opcode table.
func WithCommandSet(cmds nor.CommandSet) Option {
	return func(c *Config) {
		c.Commands = cmds
	}
}

// WithPollInterval sets the busy poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}

// WithBusyTimeout bounds busy waits. The default, zero, never gives up.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.BusyTimeout = d
		}
	}
}

// WithSettleDelay sets the wait after power on.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.SettleDelay = d
		}
	}
}

// WithTrackedErase makes the planner erase every unit at most once per
// session instead of at every boundary it observes.
func WithTrackedErase(tracked bool) Option {
	return func(c *Config) {
		if tracked {
			c.ErasePolicy = planner.Tracked
		} else {
			c.ErasePolicy = planner.Boundary
		}
	}
}

// WithProgressCallback sets the progress callback.
func WithProgressCallback(cb ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = cb
	}
}

// WithSleep replaces time.Sleep for the settle delay and busy polling.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Config) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}
