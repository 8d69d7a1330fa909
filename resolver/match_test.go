package resolver

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scott/kvdns/storage"
)

func candidate(q Question, name string, t storage.RecordType, data storage.Payload) ZoneAnswer {
	return ZoneAnswer{Question: q, Name: name, Type: t, TTL: 60, Data: data, Zone: RegistrableDomain(q.Name)}
}

func TestMatchExactBeatsWildcard(t *testing.T) {
	q := NewQuestion("example.com", storage.TypeA, 1, "")
	got := Match([]Question{q}, []ZoneAnswer{
		candidate(q, ".com", storage.TypeA, addr("10.0.0.9")),
		candidate(q, "example.com", storage.TypeA, addr("10.0.0.1")),
	})
	require.Len(t, got, 1)
	assert.Equal(t, "10.0.0.1", got[0].Data.Value())
}

func TestMatchWildcardSuffix(t *testing.T) {
	q := NewQuestion("foo.example.com", storage.TypeA, 1, "")
	wild := candidate(q, ".example.com", storage.TypeA, addr("10.0.0.2"))
	candidates := []ZoneAnswer{
		candidate(q, ".", storage.TypeA, addr("10.0.0.3")),
		wild,
		candidate(q, ".other.com", storage.TypeA, addr("10.0.0.4")),
	}
	got := Match([]Question{q}, candidates)
	require.Len(t, got, 2)
	// longest suffix first
	assert.Equal(t, "foo.example.com", got[0].Name)
	assert.Equal(t, "10.0.0.2", got[0].Data.Value())
	assert.Equal(t, "10.0.0.3", got[1].Data.Value())

	// candidates are never modified
	assert.Equal(t, ".example.com", candidates[1].Name)
	assert.Equal(t, wild, candidates[1])
}

func TestMatchWildcardDoesNotMatchApex(t *testing.T) {
	q := NewQuestion("example.com", storage.TypeA, 1, "")
	got := Match([]Question{q}, []ZoneAnswer{candidate(q, ".example.com", storage.TypeA, addr("10.0.0.2"))})
	assert.Empty(t, got)
}

func TestMatchANAMECoercion(t *testing.T) {
	qa := NewQuestion("example.com", storage.TypeA, 1, "")
	qaaaa := NewQuestion("example.com", storage.TypeAAAA, 1, "")
	v4 := candidate(qa, "example.com", storage.TypeANAME, addr("192.0.2.1"))

	got := Match([]Question{qa}, []ZoneAnswer{v4})
	require.Len(t, got, 1)
	assert.Equal(t, storage.TypeA, got[0].WireType())

	assert.Empty(t, Match([]Question{qaaaa}, []ZoneAnswer{v4}))

	flattened := v4
	flattened.RealType = storage.TypeA
	assert.Empty(t, Match([]Question{qaaaa}, []ZoneAnswer{flattened}))

	unresolved := candidate(qa, "example.com", storage.TypeANAME, host("lb.example.net"))
	assert.Empty(t, Match([]Question{qa}, []ZoneAnswer{unresolved}))
}

func TestMatchAny(t *testing.T) {
	q := NewQuestion("example.com", storage.TypeANY, 1, "")
	got := Match([]Question{q}, []ZoneAnswer{
		candidate(q, "example.com", storage.TypeMX, host("mail.example.com")),
		candidate(q, "example.com", storage.TypeANAME, addr("192.0.2.1")),
		candidate(q, "example.com", storage.TypeANAME, addr("2001:db8::1")),
		candidate(q, "example.com", storage.TypeANAME, host("lb.example.net")),
	})
	require.Len(t, got, 3)
	assert.Equal(t, storage.TypeMX, got[0].WireType())
	assert.Equal(t, storage.TypeA, got[1].WireType())
	assert.Equal(t, storage.TypeAAAA, got[2].WireType())
}

func TestMatchDedup(t *testing.T) {
	q := NewQuestion("example.com", storage.TypeA, 1, "")
	got := Match([]Question{q, q}, []ZoneAnswer{
		candidate(q, "example.com", storage.TypeA, addr("10.0.0.1")),
		candidate(q, "example.com", storage.TypeA, addr("10.0.0.1")),
		candidate(q, "example.com", storage.TypeA, addr("10.0.0.2")),
	})
	require.Len(t, got, 2)
}

func TestMatchTypeMismatch(t *testing.T) {
	q := NewQuestion("example.com", storage.TypeMX, 1, "")
	got := Match([]Question{q}, []ZoneAnswer{candidate(q, "example.com", storage.TypeTXT, storage.Text{Chunks: []string{"x"}})})
	assert.Empty(t, got)
}

func TestMatchPayloadShaping(t *testing.T) {
	q := NewQuestion("example.com", storage.TypeA, 1, "")
	got := Match([]Question{q}, []ZoneAnswer{
		candidate(q, "example.com", storage.TypeCNAME, storage.Text{Chunks: []string{"target.example.net", "extra"}}),
		candidate(q, "example.com", storage.TypeCNAME, storage.Text{}),
	})
	require.Len(t, got, 1)
	assert.Equal(t, host("target.example.net"), got[0].Data)

	qt := NewQuestion("example.com", storage.TypeTXT, 1, "")
	got = Match([]Question{qt}, []ZoneAnswer{candidate(qt, "example.com", storage.TypeTXT, host("scalar"))})
	require.Len(t, got, 1)
	assert.Equal(t, storage.Text{Chunks: []string{"scalar"}}, got[0].Data)
}

func TestResolveAndMatchChain(t *testing.T) {
	src := newFakeSource()
	src.add(".example.com", storage.TypeCNAME, 60, host("edge.cdn.net"))
	src.add("edge.cdn.net", storage.TypeA, 30, addr("203.0.113.5"))
	r := New(src, Options{})

	// the fake only serves exact names, so wire the wildcard lookup by hand
	src.records["foo.example.com/CNAME"] = src.records[".example.com/CNAME"]

	q := NewQuestion("foo.example.com", storage.TypeA, 1, "")
	candidates := r.ResolveAll(context.Background(), []Question{q})
	got := Match([]Question{q}, candidates)
	require.Len(t, got, 2)
	assert.Equal(t, "foo.example.com", got[0].Name)
	assert.Equal(t, storage.TypeCNAME, got[0].WireType())
	assert.Equal(t, "edge.cdn.net", got[1].Name)
	assert.Equal(t, storage.TypeA, got[1].WireType())
}

func TestMatchSplitsLongTXT(t *testing.T) {
	long := strings.Repeat("a", 300)
	q := NewQuestion("dkim.example.com", storage.TypeTXT, 1, "")
	got := Match([]Question{q}, []ZoneAnswer{
		candidate(q, "dkim.example.com", storage.TypeTXT, storage.Text{Chunks: []string{"v=DKIM1", long}}),
	})
	require.Len(t, got, 1)
	txt := got[0].Data.(storage.Text)
	assert.Equal(t, []string{"v=DKIM1", long[:255], long[255:]}, txt.Chunks)

	got = Match([]Question{q}, []ZoneAnswer{candidate(q, "dkim.example.com", storage.TypeTXT, host(long))})
	require.Len(t, got, 1)
	assert.Len(t, got[0].Data.(storage.Text).Chunks, 2)
}

func TestSplitChunks(t *testing.T) {
	assert.Equal(t, []string{"abc"}, splitChunks([]string{"abc"}))
	assert.Equal(t, []string{strings.Repeat("x", 255)}, splitChunks([]string{strings.Repeat("x", 255)}))
	assert.Equal(t, []string{strings.Repeat("x", 255), strings.Repeat("x", 255), "x"}, splitChunks([]string{strings.Repeat("x", 511)}))
	assert.Empty(t, splitChunks(nil))
}
