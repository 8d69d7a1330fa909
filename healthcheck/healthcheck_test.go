package healthcheck

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	mu  sync.Mutex
	err error
	n   atomic.Int32
}

func (p *fakeProbe) Ping(context.Context) error {
	p.n.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProbe) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func TestNewCheckerDefaults(t *testing.T) {
	c := NewChecker(Config{})
	assert.Equal(t, DefaultConfig(), c.config)
}

func TestAddRemoveTarget(t *testing.T) {
	c := NewChecker(DefaultConfig())
	c.AddTarget("store", &fakeProbe{})
	s, ok := c.GetStatus("store")
	require.True(t, ok)
	assert.True(t, s.Healthy)

	c.RemoveTarget("store")
	_, ok = c.GetStatus("store")
	assert.False(t, ok)
	assert.True(t, c.IsHealthy("store"))
}

func TestThresholds(t *testing.T) {
	c := NewChecker(Config{HealthyAfter: 2, UnhealthyAfter: 2})
	p := &fakeProbe{}
	c.AddTarget("store", p)

	var changes []bool
	c.OnStatusChange = func(id string, healthy bool) {
		assert.Equal(t, "store", id)
		changes = append(changes, healthy)
	}

	p.set(errors.New("connection refused"))
	c.CheckAll()
	assert.True(t, c.IsHealthy("store"))
	c.CheckAll()
	assert.False(t, c.IsHealthy("store"))
	assert.False(t, c.Healthy())

	s, _ := c.GetStatus("store")
	assert.Equal(t, 2, s.ConsecutiveFail)
	assert.Equal(t, "connection refused", s.LastError)

	p.set(nil)
	c.CheckAll()
	assert.False(t, c.IsHealthy("store"))
	c.CheckAll()
	assert.True(t, c.IsHealthy("store"))

	assert.Equal(t, []bool{false, true}, changes)
}

func TestStartStop(t *testing.T) {
	c := NewChecker(Config{Interval: 10 * time.Millisecond})
	p := &fakeProbe{}
	c.AddTarget("store", p)
	c.Start()

	require.Eventually(t, func() bool { return p.n.Load() >= 3 }, time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()

	n := p.n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, p.n.Load())
}

func TestHandler(t *testing.T) {
	c := NewChecker(Config{UnhealthyAfter: 1})
	p := &fakeProbe{}
	c.AddTarget("store", p)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"store"`)

	p.set(errors.New("down"))
	c.CheckAll()
	rec = httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"last_error":"down"`)
}
