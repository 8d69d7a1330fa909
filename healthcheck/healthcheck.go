// Package healthcheck monitors the reachability of the record backend.
package healthcheck

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config holds health check configuration.
type Config struct {
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`               // How often to check
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`                 // Timeout per check
	HealthyAfter   int           `mapstructure:"healthy_after" yaml:"healthy_after"`     // Passes before marking healthy
	UnhealthyAfter int           `mapstructure:"unhealthy_after" yaml:"unhealthy_after"` // Failures before marking unhealthy
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       10 * time.Second,
		Timeout:        2 * time.Second,
		HealthyAfter:   1,
		UnhealthyAfter: 3,
	}
}

// Pinger is anything that can be probed, typically a storage.Backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status represents the health of a target.
type Status struct {
	ID              string    `json:"id"`
	Healthy         bool      `json:"healthy"`
	ConsecutivePass int       `json:"consecutive_pass"`
	ConsecutiveFail int       `json:"consecutive_fail"`
	LastCheck       time.Time `json:"last_check"`
	LastError       string    `json:"last_error,omitempty"`
	Latency         int64     `json:"latency_ms"`
}

type target struct {
	probe  Pinger
	status Status
}

// Checker periodically probes its targets.
type Checker struct {
	config  Config
	targets map[string]*target
	mu      sync.RWMutex
	stopCh  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	// OnStatusChange is called when a target flips between healthy and
	// unhealthy.
	OnStatusChange func(id string, healthy bool)
}

// NewChecker creates a health checker.
func NewChecker(cfg Config) *Checker {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HealthyAfter <= 0 {
		cfg.HealthyAfter = def.HealthyAfter
	}
	if cfg.UnhealthyAfter <= 0 {
		cfg.UnhealthyAfter = def.UnhealthyAfter
	}
	return &Checker{
		config:  cfg,
		targets: make(map[string]*target),
		stopCh:  make(chan struct{}),
	}
}

// AddTarget adds a target to monitor. Targets start out healthy.
func (c *Checker) AddTarget(id string, probe Pinger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[id] = &target{probe: probe, status: Status{ID: id, Healthy: true}}
}

// RemoveTarget removes a target from monitoring.
func (c *Checker) RemoveTarget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.targets, id)
}

// GetStatus returns a copy of the status of a target.
func (c *Checker) GetStatus(id string) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.targets[id]
	if !ok {
		return Status{}, false
	}
	return t.status, true
}

// GetAllStatus returns the status of every target, sorted by id.
func (c *Checker) GetAllStatus() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, 0, len(c.targets))
	for _, t := range c.targets {
		result = append(result, t.status)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// IsHealthy reports whether a target is healthy. Unknown targets are.
func (c *Checker) IsHealthy(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.targets[id]
	if !ok {
		return true
	}
	return t.status.Healthy
}

// Healthy reports whether all targets are healthy.
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.targets {
		if !t.status.Healthy {
			return false
		}
	}
	return true
}

// Start begins the check loop. The first round runs immediately.
func (c *Checker) Start() {
	c.wg.Add(1)
	go c.checkLoop()
}

// Stop stops the check loop and waits for it to exit.
func (c *Checker) Stop() {
	c.once.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Checker) checkLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	c.CheckAll()
	for {
		select {
		case <-ticker.C:
			c.CheckAll()
		case <-c.stopCh:
			return
		}
	}
}

// CheckAll probes every target once, concurrently.
func (c *Checker) CheckAll() {
	c.mu.RLock()
	ids := make([]string, 0, len(c.targets))
	probes := make([]Pinger, 0, len(c.targets))
	for id, t := range c.targets {
		ids = append(ids, id)
		probes = append(probes, t.probe)
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.check(ids[i], probes[i])
		}()
	}
	wg.Wait()
}

func (c *Checker) check(id string, probe Pinger) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()
	err := probe.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	c.mu.Lock()
	t, ok := c.targets[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	s := &t.status
	s.LastCheck = time.Now()
	s.Latency = latency
	wasHealthy := s.Healthy

	if err != nil {
		s.LastError = err.Error()
		s.ConsecutivePass = 0
		s.ConsecutiveFail++
		if s.ConsecutiveFail >= c.config.UnhealthyAfter {
			s.Healthy = false
		}
	} else {
		s.LastError = ""
		s.ConsecutiveFail = 0
		s.ConsecutivePass++
		if s.ConsecutivePass >= c.config.HealthyAfter {
			s.Healthy = true
		}
	}
	healthy := s.Healthy
	c.mu.Unlock()

	if wasHealthy != healthy {
		log.WithFields(log.Fields{"target": id, "healthy": healthy}).Warnf("health changed: %v", err)
		if c.OnStatusChange != nil {
			c.OnStatusChange(id, healthy)
		}
	}
}

// Handler serves the status of all targets, with 503 when any is unhealthy.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := http.StatusOK
		if !c.Healthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(c.GetAllStatus())
	})
}
