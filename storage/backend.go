package storage

import "context"

// Backend is a raw key-value store holding one row-set per (key, type).
type Backend interface {
	// Read returns the raw rows stored for each of keys under t, in the
	// order of keys. A missing row-set is an empty entry, not an error.
	Read(ctx context.Context, keys []string, t RecordType) ([][][]byte, error)
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Writer is implemented by backends the importer can load records into.
type Writer interface {
	// Replace atomically swaps the row-set at (key, t) for rows. An empty
	// rows deletes it.
	Replace(ctx context.Context, key string, t RecordType, rows [][]byte) error
}

// Observer receives lookup events, typically a metrics collector.
type Observer interface {
	ObserveCache(hit bool)
	ObserveStoreError()
}

type nopObserver struct{}

func (nopObserver) ObserveCache(bool) {}
func (nopObserver) ObserveStoreError() {}

func rowSetKey(key string, t RecordType) string {
	return key + ":" + string(t)
}
