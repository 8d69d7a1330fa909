// Package storage reads DNS records out of a key-value backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/scott/kvdns/cache"
)

// Options configures a Store.
type Options struct {
	Backend  Backend
	Codec    Codec
	Observer Observer

	CacheSize int
	CacheTTL  time.Duration

	SOA SOADefaults
}

// Store decodes row-sets read from a Backend, with a bounded cache in front
// of it. It is safe for concurrent use.
type Store struct {
	backend  Backend
	codec    Codec
	observer Observer
	cache    *cache.Cache[[][][]byte]
	soa      SOADefaults
}

// New creates a Store.
func New(opts Options) (*Store, error) {
	if opts.Backend == nil {
		return nil, errors.New("storage: backend is required")
	}
	if opts.Codec == nil {
		opts.Codec = msgpackCodec{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.SOA == (SOADefaults{}) {
		opts.SOA = DefaultSOA()
	}
	return &Store{
		backend:  opts.Backend,
		codec:    opts.Codec,
		observer: opts.Observer,
		cache:    cache.New(opts.CacheSize, opts.CacheTTL, cloneRowSets),
		soa:      opts.SOA,
	}, nil
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// Codec returns the row codec.
func (s *Store) Codec() Codec { return s.codec }

// PurgeCache drops every cached row-set.
func (s *Store) PurgeCache() { s.cache.Clear() }

// GetRecords returns the records of type t for host from the most specific
// lookup key holding any rows.
func (s *Store) GetRecords(ctx context.Context, host string, t RecordType) ([]Record, error) {
	host = normalizeName(host)
	keys := cache.LookupKeys(host)
	sets, err := s.lookup(ctx, keys, t)
	if err != nil {
		return nil, err
	}

	for i, rows := range sets {
		if len(rows) == 0 {
			continue
		}
		records := make([]Record, 0, len(rows))
		for _, raw := range rows {
			rec, err := s.decodeRecord(keys[i], t, raw)
			if err != nil {
				log.WithFields(log.Fields{"key": keys[i], "type": t}).Debugf("skipping row: %v", err)
				continue
			}
			records = append(records, rec)
		}
		if len(records) == 0 {
			break
		}
		return records, nil
	}
	return nil, fmt.Errorf("%w: %s %s", ErrNotFound, host, t)
}

// GetNameservers returns the global nameserver list.
func (s *Store) GetNameservers(ctx context.Context) ([]NameserverRecord, error) {
	rows, err := s.nameserverRows(ctx)
	if err != nil {
		return nil, err
	}
	var out []NameserverRecord
	for _, raw := range rows {
		var r Row
		if err := s.codec.Unmarshal(raw, &r); err != nil {
			log.Debugf("skipping nameserver row: %v: %v", ErrDecode, err)
			continue
		}
		ns, err := DecodeNameserver(r)
		if err != nil {
			log.Debugf("skipping nameserver row: %v", err)
			continue
		}
		out = append(out, ns)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no usable nameserver rows", ErrNotFound)
	}
	return out, nil
}

// GetSOA returns the SOA for domain. Without a stored SOA row, the first
// nameserver row supplies a synthetic one. It fails only when the nameserver
// list cannot be read.
func (s *Store) GetSOA(ctx context.Context, domain string) (SOARecord, error) {
	domain = normalizeName(domain)
	nameservers, err := s.GetNameservers(ctx)
	if err != nil {
		return SOARecord{}, err
	}

	var source *Row
	if sets, err := s.lookup(ctx, []string{domain}, TypeSOA); err == nil {
		for _, raw := range sets[0] {
			var r Row
			if err := s.codec.Unmarshal(raw, &r); err != nil {
				log.WithField("domain", domain).Debugf("skipping SOA row: %v", err)
				continue
			}
			source = &r
			break
		}
	}
	if source == nil {
		rows, err := s.nameserverRows(ctx)
		if err != nil {
			return SOARecord{}, err
		}
		var r Row
		if err := s.codec.Unmarshal(rows[0], &r); err != nil {
			// GetNameservers decoded at least one row, so fall back to the
			// defaults alone.
			r = Row{TTL: nameservers[0].TTL}
		}
		r.Name = ""
		source = &r
	}

	soa := DecodeSOA(domain, *source, s.soa)
	soa.Primary = nameservers[0].Name
	return soa, nil
}

func (s *Store) nameserverRows(ctx context.Context) ([][]byte, error) {
	sets, err := s.lookup(ctx, []string{NameserverKey}, TypeNS)
	if err != nil {
		return nil, err
	}
	if len(sets[0]) == 0 {
		return nil, fmt.Errorf("%w: nameserver list is empty", ErrNotFound)
	}
	return sets[0], nil
}

func (s *Store) decodeRecord(key string, t RecordType, raw []byte) (Record, error) {
	var r Row
	if err := s.codec.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return DecodeRecord(key, t, r)
}

// lookup returns the raw row-sets for keys, through the cache. Backend
// failures are not cached.
func (s *Store) lookup(ctx context.Context, keys []string, t RecordType) ([][][]byte, error) {
	ck := strings.Join(keys, ",") + "|" + string(t)
	if sets, ok := s.cache.Get(ck); ok {
		s.observer.ObserveCache(true)
		return sets, nil
	}
	s.observer.ObserveCache(false)

	sets, err := s.backend.Read(ctx, keys, t)
	if err != nil {
		s.observer.ObserveStoreError()
		log.WithFields(log.Fields{"keys": keys, "type": t}).Warnf("store read failed: %v", err)
		if !errors.Is(err, ErrStore) {
			err = fmt.Errorf("%w: %v", ErrStore, err)
		}
		return nil, err
	}
	if len(sets) != len(keys) {
		s.observer.ObserveStoreError()
		return nil, fmt.Errorf("%w: backend returned %d row-sets for %d keys", ErrStore, len(sets), len(keys))
	}
	s.cache.Set(ck, sets)
	return sets, nil
}

// EncodeRows serializes records for a Writer.
func (s *Store) EncodeRows(rows []Row) ([][]byte, error) {
	out := make([][]byte, 0, len(rows))
	for _, r := range rows {
		b, err := s.codec.Marshal(r)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func cloneRowSets(sets [][][]byte) [][][]byte {
	if sets == nil {
		return nil
	}
	out := make([][][]byte, len(sets))
	for i, rows := range sets {
		if rows != nil {
			out[i] = append([][]byte(nil), rows...)
		}
	}
	return out
}
