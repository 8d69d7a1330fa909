package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKeys(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		expected []string
	}{
		{
			name:     "single label",
			hostname: "localhost",
			expected: []string{"localhost", "*"},
		},
		{
			name:     "registrable domain",
			hostname: "example.com",
			expected: []string{"example.com", "*.com", "*"},
		},
		{
			name:     "subdomain",
			hostname: "www.example.com",
			expected: []string{"www.example.com", "*.example.com", "*.com", "*"},
		},
		{
			name:     "deep name is capped",
			hostname: "a.b.c.d.e.f.g.h",
			expected: []string{
				"a.b.c.d.e.f.g.h",
				"*.d.e.f.g.h",
				"*.e.f.g.h",
				"*.f.g.h",
				"*.g.h",
				"*.h",
				"*",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, LookupKeys(tt.hostname))
		})
	}
}

func TestLookupKeys_Bounded(t *testing.T) {
	hostname := strings.Repeat("x.", 40) + "example.com"
	keys := LookupKeys(hostname)

	require.LessOrEqual(t, len(keys), MaxLabels+1)
	assert.Equal(t, hostname, keys[0])
	assert.Equal(t, GlobalWildcard, keys[len(keys)-1])

	for _, key := range keys[1:] {
		assert.LessOrEqual(t, len(strings.Split(key, ".")), MaxLabels, "key %q", key)
	}
}

func TestLookupKeys_MostSpecificFirst(t *testing.T) {
	keys := LookupKeys("api.eu.example.co.uk")
	for i := 2; i < len(keys)-1; i++ {
		assert.Greater(t, len(keys[i-1]), len(keys[i]), "keys out of order: %v", keys)
		assert.True(t, strings.HasSuffix(keys[i-1], strings.TrimPrefix(keys[i], "*")))
	}
}
