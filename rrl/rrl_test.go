package rrl

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, float64(20), cfg.ResponsesPerSec)
	assert.Equal(t, 40, cfg.Burst)
	assert.Equal(t, 2, cfg.SlipRatio)
}

func TestNew_FillsRateAndBurst(t *testing.T) {
	l := New(Config{Enabled: true, Whitelist: []string{"10.0.0.0/8", "not-a-cidr"}})
	defer l.Stop()
	assert.Equal(t, float64(20), l.Config().ResponsesPerSec)
	assert.Equal(t, 20, l.Config().Burst)
	assert.Len(t, l.whitelist, 1)
}

func TestCheck_Disabled(t *testing.T) {
	l := New(Config{Enabled: false, ResponsesPerSec: 1, Burst: 1})
	defer l.Stop()
	for i := 0; i < 10; i++ {
		assert.Equal(t, Allow, l.Check(net.ParseIP("1.2.3.4")))
	}
}

func TestCheck_NilLimiterAndIP(t *testing.T) {
	var l *Limiter
	assert.Equal(t, Allow, l.Check(net.ParseIP("1.2.3.4")))

	l = New(Config{Enabled: true, ResponsesPerSec: 1, Burst: 1})
	assert.Equal(t, Allow, l.Check(nil))
}

func TestCheck_Whitelist(t *testing.T) {
	l := New(Config{Enabled: true, ResponsesPerSec: 1, Burst: 1, Whitelist: []string{"10.0.0.0/8"}})
	defer l.Stop()
	for i := 0; i < 10; i++ {
		assert.Equal(t, Allow, l.Check(net.ParseIP("10.1.2.3")))
	}
}

func TestCheck_SlipAndRefuse(t *testing.T) {
	l := New(Config{Enabled: true, ResponsesPerSec: 0.001, Burst: 2, SlipRatio: 2})
	defer l.Stop()
	ip := net.ParseIP("192.0.2.1")

	assert.Equal(t, Allow, l.Check(ip))
	assert.Equal(t, Allow, l.Check(ip))
	assert.Equal(t, Refuse, l.Check(ip))
	assert.Equal(t, Slip, l.Check(ip))
	assert.Equal(t, Refuse, l.Check(ip))
	assert.Equal(t, Slip, l.Check(ip))

	// other clients have their own bucket
	assert.Equal(t, Allow, l.Check(net.ParseIP("192.0.2.2")))
	assert.Equal(t, 2, l.GetStats().ActiveClients)
}

func TestCheck_NoSlip(t *testing.T) {
	l := New(Config{Enabled: true, ResponsesPerSec: 0.001, Burst: 1, SlipRatio: 0})
	defer l.Stop()
	ip := net.ParseIP("2001:db8::1")
	require.Equal(t, Allow, l.Check(ip))
	for i := 0; i < 5; i++ {
		assert.Equal(t, Refuse, l.Check(ip))
	}
}

func TestCheck_Concurrent(t *testing.T) {
	l := New(Config{Enabled: true, ResponsesPerSec: 0.001, Burst: 50})
	defer l.Stop()
	ip := net.ParseIP("198.51.100.7")

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if l.Check(ip) == Allow {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "allow", Allow.String())
	assert.Equal(t, "slip", Slip.String())
	assert.Equal(t, "refuse", Refuse.String())
}
