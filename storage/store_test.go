package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend is an in-memory Backend counting reads.
type memBackend struct {
	mu    sync.Mutex
	sets  map[string][][]byte
	reads int
	fail  error
}

func newMemBackend() *memBackend {
	return &memBackend{sets: make(map[string][][]byte)}
}

func (m *memBackend) Read(_ context.Context, keys []string, t RecordType) ([][][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.fail != nil {
		return nil, m.fail
	}
	out := make([][][]byte, len(keys))
	for i, k := range keys {
		out[i] = m.sets[rowSetKey(k, t)]
	}
	return out, nil
}

func (m *memBackend) Replace(_ context.Context, key string, t RecordType, rows [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[rowSetKey(key, t)] = rows
	return nil
}

func (m *memBackend) Ping(context.Context) error { return m.fail }
func (m *memBackend) Close() error               { return nil }

func (m *memBackend) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

type countingObserver struct {
	mu                   sync.Mutex
	hits, misses, errors int
}

func (o *countingObserver) ObserveCache(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func (o *countingObserver) ObserveStoreError() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors++
}

func put(t *testing.T, s *Store, w Writer, key string, typ RecordType, rows ...Row) {
	t.Helper()
	raw, err := s.EncodeRows(rows)
	require.NoError(t, err)
	require.NoError(t, w.Replace(context.Background(), key, typ, raw))
}

func newTestStore(t *testing.T) (*Store, *memBackend, *countingObserver) {
	t.Helper()
	b := newMemBackend()
	obs := &countingObserver{}
	s, err := New(Options{Backend: b, Observer: obs})
	require.NoError(t, err)
	return s, b, obs
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestGetRecordsMostSpecificWins(t *testing.T) {
	s, b, _ := newTestStore(t)
	ctx := context.Background()

	put(t, s, b, "*", TypeA, Row{TTL: 1, Data: Chunks{"10.0.0.3"}})
	put(t, s, b, "*.example.com", TypeA, Row{TTL: 2, Data: Chunks{"10.0.0.2"}})
	put(t, s, b, "www.example.com", TypeA, Row{TTL: 3, Data: Chunks{"10.0.0.1"}}, Row{TTL: 3, Data: Chunks{"10.0.0.11"}})

	recs, err := s.GetRecords(ctx, "www.example.com", TypeA)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "www.example.com", recs[0].Name)
	assert.Equal(t, "10.0.0.1", recs[0].Data.Value())
	assert.Equal(t, "10.0.0.11", recs[1].Data.Value())

	recs, err = s.GetRecords(ctx, "mail.example.com", TypeA)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ".example.com", recs[0].Name)
	assert.True(t, recs[0].IsWildcard())

	recs, err = s.GetRecords(ctx, "other.net", TypeA)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ".", recs[0].Name)
}

func TestGetRecordsNotFound(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.GetRecords(context.Background(), "nothing.example.com", TypeMX)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRecordsSkipsBadRows(t *testing.T) {
	s, b, _ := newTestStore(t)
	ctx := context.Background()

	good, err := s.EncodeRows([]Row{{TTL: 60, Data: Chunks{"1.2.3.4"}}})
	require.NoError(t, err)
	bad, err := s.EncodeRows([]Row{{TTL: 60, Data: Chunks{"::1"}}, {TTL: 60}})
	require.NoError(t, err)
	rows := append([][]byte{[]byte("\xc1garbage")}, bad...)
	rows = append(rows, good...)
	require.NoError(t, b.Replace(ctx, "example.com", TypeA, rows))

	recs, err := s.GetRecords(ctx, "example.com", TypeA)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "1.2.3.4", recs[0].Data.Value())
}

func TestGetRecordsAllRowsBad(t *testing.T) {
	s, b, _ := newTestStore(t)
	ctx := context.Background()

	// an undecodable exact set still shadows the wildcard
	require.NoError(t, b.Replace(ctx, "example.com", TypeA, [][]byte{[]byte("junk")}))
	put(t, s, b, "*", TypeA, Row{Data: Chunks{"10.9.9.9"}})

	_, err := s.GetRecords(ctx, "example.com", TypeA)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRecordsCaching(t *testing.T) {
	s, b, obs := newTestStore(t)
	ctx := context.Background()
	put(t, s, b, "example.com", TypeTXT, Row{Data: Chunks{"v=spf1 -all"}})

	for i := 0; i < 3; i++ {
		recs, err := s.GetRecords(ctx, "Example.COM.", TypeTXT)
		require.NoError(t, err)
		require.Len(t, recs, 1)
	}
	assert.Equal(t, 1, b.readCount())
	assert.Equal(t, 2, obs.hits)
	assert.Equal(t, 1, obs.misses)

	s.PurgeCache()
	_, err := s.GetRecords(ctx, "example.com", TypeTXT)
	require.NoError(t, err)
	assert.Equal(t, 2, b.readCount())
}

func TestStoreErrorsAreNotCached(t *testing.T) {
	s, b, obs := newTestStore(t)
	ctx := context.Background()
	put(t, s, b, "example.com", TypeA, Row{Data: Chunks{"1.2.3.4"}})

	b.fail = errors.New("connection refused")
	_, err := s.GetRecords(ctx, "example.com", TypeA)
	assert.ErrorIs(t, err, ErrStore)
	assert.Equal(t, 1, obs.errors)

	b.fail = nil
	recs, err := s.GetRecords(ctx, "example.com", TypeA)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestGetNameservers(t *testing.T) {
	s, b, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetNameservers(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	put(t, s, b, NameserverKey, TypeNS,
		Row{Name: "ns1.example.com", TTL: 3600, Address: "10.0.0.1"},
		Row{Name: "broken"},
		Row{Name: "ns2.example.com", TTL: 3600, Data: Chunks{"2001:db8::53"}},
	)
	s.PurgeCache()

	nss, err := s.GetNameservers(ctx)
	require.NoError(t, err)
	require.Len(t, nss, 2)
	assert.Equal(t, "ns1.example.com", nss[0].Name)
	assert.Equal(t, "2001:db8::53", nss[1].Address.String())
}

func TestGetSOA(t *testing.T) {
	s, b, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSOA(ctx, "example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	put(t, s, b, NameserverKey, TypeNS, Row{Name: "ns1.example.net", TTL: 1800, Address: "10.0.0.1"})
	s.PurgeCache()

	t.Run("synthetic from nameserver row", func(t *testing.T) {
		soa, err := s.GetSOA(ctx, "example.com")
		require.NoError(t, err)
		assert.Equal(t, "example.com", soa.Name)
		assert.Equal(t, "ns1.example.net", soa.Primary)
		assert.Equal(t, "hostmaster.example.com", soa.Admin)
		assert.Equal(t, uint32(1800), soa.TTL)
		assert.Equal(t, uint32(1), soa.Serial)
		assert.Equal(t, uint32(60), soa.Minimum)
	})

	t.Run("stored row", func(t *testing.T) {
		put(t, s, b, "example.org", TypeSOA, Row{
			TTL: 900, Admin: "admin.example.org",
			Serial: 7, Refresh: 100, Retry: 50, Expiration: 1000, Minimum: 30,
		})
		soa, err := s.GetSOA(ctx, "example.org")
		require.NoError(t, err)
		assert.Equal(t, "ns1.example.net", soa.Primary)
		assert.Equal(t, "admin.example.org", soa.Admin)
		assert.Equal(t, uint32(7), soa.Serial)
		assert.Equal(t, uint32(900), soa.TTL)
		assert.Equal(t, uint32(30), soa.Minimum)
	})
}

func TestStoreConcurrentAccess(t *testing.T) {
	b := newMemBackend()
	s, err := New(Options{Backend: b, CacheTTL: time.Minute})
	require.NoError(t, err)
	put(t, s, b, "*.example.com", TypeA, Row{Data: Chunks{"10.0.0.1"}})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				recs, err := s.GetRecords(context.Background(), "a.example.com", TypeA)
				if assert.NoError(t, err) {
					assert.Equal(t, ".example.com", recs[0].Name)
				}
			}
		}()
	}
	wg.Wait()
}
