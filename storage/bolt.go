package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BucketRecords holds one nested bucket per row-set, named <key>:<TYPE>, with
// rows under big-endian sequence keys.
var BucketRecords = []byte("records")

// BoltBackend is a single-node backend on a local bbolt file.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStore, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(BucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create bucket %s: %v", ErrStore, BucketRecords, err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Read(ctx context.Context, keys []string, t RecordType) ([][][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][][]byte, len(keys))
	err := b.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(BucketRecords)
		if root == nil {
			return nil
		}
		for i, k := range keys {
			set := root.Bucket([]byte(rowSetKey(k, t)))
			if set == nil {
				continue
			}
			err := set.ForEach(func(_, v []byte) error {
				// bbolt values are only valid inside the transaction
				out[i] = append(out[i], append([]byte(nil), v...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return out, nil
}

func (b *BoltBackend) Replace(ctx context.Context, key string, t RecordType, rows [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := []byte(rowSetKey(key, t))
	err := b.db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(BucketRecords)
		if err != nil {
			return err
		}
		if root.Bucket(name) != nil {
			if err := root.DeleteBucket(name); err != nil {
				return err
			}
		}
		if len(rows) == 0 {
			return nil
		}
		set, err := root.CreateBucket(name)
		if err != nil {
			return err
		}
		for i, r := range rows {
			var seq [8]byte
			binary.BigEndian.PutUint64(seq[:], uint64(i))
			if err := set.Put(seq[:], r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: replacing %s: %v", ErrStore, name, err)
	}
	return nil
}

func (b *BoltBackend) Ping(context.Context) error {
	return b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(BucketRecords) == nil {
			return fmt.Errorf("%w: bucket %s missing", ErrStore, BucketRecords)
		}
		return nil
	})
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
