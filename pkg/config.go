package phifd

import (
	"net"
	"time"
)

// Config holds the tuning parameters consumed by the membership table and
// the event loop (spec §4.7). The builder-style setters mirror the
// original Rust Config::default()/set_* chain, translated to idiomatic Go.
type Config struct {
	PingInterval     time.Duration
	NumMembersToPing int
	WindowSize       int
	Addr             *net.UDPAddr
	TickerDelay      time.Duration
}

// NewConfig returns a Config populated with the documented defaults.
func NewConfig() *Config {
	return &Config{
		PingInterval:     1000 * time.Millisecond,
		NumMembersToPing: 3,
		WindowSize:       10,
		Addr:             &net.UDPAddr{IP: net.IPv4zero, Port: 12345},
		TickerDelay:      0,
	}
}

// WithPingInterval sets the ticker period.
func (c *Config) WithPingInterval(d time.Duration) *Config {
	c.PingInterval = d
	return c
}

// WithNumMembersToPing sets k, the per-tick random sample size.
func (c *Config) WithNumMembersToPing(n int) *Config {
	c.NumMembersToPing = n
	return c
}

// WithWindowSize sets the capacity constant passed to new
// InterArrivalWindows. Must be >= 3 (spec invariant I6); NewFDState rejects
// a configuration that violates it.
func (c *Config) WithWindowSize(sz int) *Config {
	c.WindowSize = sz
	return c
}

// WithAddr sets the local bind address, which also determines this
// process's own MemberID.
func (c *Config) WithAddr(addr *net.UDPAddr) *Config {
	c.Addr = addr
	return c
}

// WithTickerDelay sets the upper bound on per-tick random jitter. Zero
// disables jitter.
func (c *Config) WithTickerDelay(d time.Duration) *Config {
	c.TickerDelay = d
	return c
}
