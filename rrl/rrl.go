// Package rrl implements per-client Response Rate Limiting, which blunts
// reflection and amplification through the nameserver.
package rrl

import (
	"net"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled"`
	ResponsesPerSec float64  `mapstructure:"responses_per_sec" yaml:"responses_per_sec"`
	Burst           int      `mapstructure:"burst" yaml:"burst"`
	SlipRatio       int      `mapstructure:"slip_ratio" yaml:"slip_ratio"` // 1-in-N limited responses are truncated instead of dropped, 0 drops all
	Whitelist       []string `mapstructure:"whitelist" yaml:"whitelist"`   // CIDRs exempt from limiting
}

// DefaultConfig returns the defaults for RRL.
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		ResponsesPerSec: 20,
		Burst:           40,
		SlipRatio:       2,
		Whitelist:       []string{"127.0.0.0/8", "::1/128"},
	}
}

// Action represents the action to take for a query.
type Action int

const (
	// Allow means the query should be processed normally.
	Allow Action = iota
	// Slip means send a truncated response (forces TCP retry).
	Slip
	// Refuse means drop the query without answering.
	Refuse
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Slip:
		return "slip"
	case Refuse:
		return "refuse"
	}
	return "unknown"
}

// idleExpiry is how long a quiet client keeps its bucket.
const idleExpiry = 5 * time.Minute

type clientState struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	slipCount int
}

// Limiter implements per-client rate limiting with a token bucket per source
// address.
type Limiter struct {
	config    Config
	clients   *gocache.Cache
	whitelist []*net.IPNet
	mu        sync.Mutex
}

// New creates a rate limiter. Invalid whitelist entries are ignored.
func New(cfg Config) *Limiter {
	if cfg.ResponsesPerSec <= 0 {
		cfg.ResponsesPerSec = DefaultConfig().ResponsesPerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.ResponsesPerSec)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	l := &Limiter{
		config:  cfg,
		clients: gocache.New(idleExpiry, time.Minute),
	}
	for _, cidr := range cfg.Whitelist {
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			l.whitelist = append(l.whitelist, network)
		}
	}
	return l
}

// Check determines what to do with a query from clientIP.
func (l *Limiter) Check(clientIP net.IP) Action {
	if l == nil || !l.config.Enabled || clientIP == nil {
		return Allow
	}
	for _, network := range l.whitelist {
		if network.Contains(clientIP) {
			return Allow
		}
	}

	state := l.state(clientIP.String())
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.limiter.Allow() {
		return Allow
	}
	if l.config.SlipRatio > 0 {
		state.slipCount++
		if state.slipCount >= l.config.SlipRatio {
			state.slipCount = 0
			return Slip
		}
	}
	return Refuse
}

func (l *Limiter) state(key string) *clientState {
	if v, ok := l.clients.Get(key); ok {
		l.clients.SetDefault(key, v)
		return v.(*clientState)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.clients.Get(key); ok {
		return v.(*clientState)
	}
	state := &clientState{limiter: rate.NewLimiter(rate.Limit(l.config.ResponsesPerSec), l.config.Burst)}
	l.clients.SetDefault(key, state)
	return state
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.config
}

// Stats are current rate limiter statistics.
type Stats struct {
	ActiveClients int `json:"active_clients"`
}

// GetStats returns current statistics.
func (l *Limiter) GetStats() Stats {
	return Stats{ActiveClients: l.clients.ItemCount()}
}

// Stop releases tracked clients.
func (l *Limiter) Stop() {
	l.clients.Flush()
}
