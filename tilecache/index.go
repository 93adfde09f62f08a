package tilecache

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/mblock/topoforge"
)

// ErrNotFound is returned when a key has no index entry.
var ErrNotFound = errors.New("tilecache: entry not found")

var (
	bucketTiles   = []byte("tiles")          // hash -> Entry JSON
	bucketByCtime = []byte("tiles_by_ctime") // timestamp+hash -> hash
)

// index persists cache entries in a bbolt database so a restart never
// forgets which URL a tile file belongs to.
type index struct {
	db     *bbolt.DB
	noSync bool
}

func openIndex(path string, noSync bool) (*index, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketTiles, bucketByCtime} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &index{db: db, noSync: noSync}, nil
}

func (ix *index) close() error {
	if ix.db == nil {
		return nil
	}
	return ix.db.Close()
}

func (ix *index) get(key topoforge.Hash) (*Entry, error) {
	var entry Entry
	err := ix.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketTiles).Get([]byte(key.String()))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// put stores an entry and keeps the ctime index in step. An existing entry
// with a different CachedAt has its old index row removed first.
func (ix *index) put(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}

	hashKey := []byte(entry.Key.String())

	return ix.db.Update(func(tx *bbolt.Tx) error {
		tiles := tx.Bucket(bucketTiles)
		byCtime := tx.Bucket(bucketByCtime)

		if old := tiles.Get(hashKey); old != nil {
			var prev Entry
			if err := json.Unmarshal(old, &prev); err == nil && !prev.CachedAt.Equal(entry.CachedAt) {
				if err := byCtime.Delete(makeCtimeKey(prev.CachedAt, prev.Key)); err != nil {
					return fmt.Errorf("deleting old ctime index: %w", err)
				}
			}
		}

		if err := tiles.Put(hashKey, data); err != nil {
			return fmt.Errorf("putting entry: %w", err)
		}
		if err := byCtime.Put(makeCtimeKey(entry.CachedAt, entry.Key), hashKey); err != nil {
			return fmt.Errorf("putting ctime index: %w", err)
		}
		return nil
	})
}

func (ix *index) delete(entry *Entry) error {
	return ix.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketByCtime).Delete(makeCtimeKey(entry.CachedAt, entry.Key)); err != nil {
			return fmt.Errorf("deleting ctime index: %w", err)
		}
		return tx.Bucket(bucketTiles).Delete([]byte(entry.Key.String()))
	})
}

func (ix *index) count() (int, error) {
	var n int
	err := ix.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketTiles).Stats().KeyN
		return nil
	})
	return n, err
}

// cachedBefore returns entries cached before the cutoff, oldest first.
// A limit of 0 means no limit.
func (ix *index) cachedBefore(cutoff time.Time, limit int) ([]Entry, error) {
	var entries []Entry
	cutoffTs := encodeTimestamp(cutoff)

	err := ix.db.View(func(tx *bbolt.Tx) error {
		tiles := tx.Bucket(bucketTiles)
		cursor := tx.Bucket(bucketByCtime).Cursor()

		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			// Keys sort by timestamp, so stop past the cutoff.
			if bytes.Compare(k[:8], cutoffTs) >= 0 {
				break
			}
			if limit > 0 && len(entries) >= limit {
				break
			}

			val := tiles.Get(v)
			if val == nil {
				continue
			}
			var entry Entry
			if err := json.Unmarshal(val, &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// oldest returns up to limit entries ordered by CachedAt ascending.
func (ix *index) oldest(limit int) ([]Entry, error) {
	return ix.cachedBefore(maxTime, limit)
}

func (ix *index) forEach(fn func(Entry) error) error {
	return ix.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTiles).ForEach(func(_, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil // skip invalid rows
			}
			return fn(entry)
		})
	})
}

func (ix *index) reset() error {
	return ix.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketTiles, bucketByCtime} {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("dropping bucket %s: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("recreating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

var maxTime = time.Unix(0, 1<<62)

// encodeTimestamp converts a time.Time to a fixed-width big-endian byte
// slice so time-based index keys sort lexicographically. An offset shifts
// the signed nanosecond range into unsigned space.
func encodeTimestamp(t time.Time) []byte {
	buf := make([]byte, 8)
	ns := t.UnixNano()
	binary.BigEndian.PutUint64(buf, uint64(ns-(-1<<63))) //nolint:gosec // intentional signed->unsigned shift
	return buf
}

// makeCtimeKey creates a key for the tiles_by_ctime index.
// Format: [8-byte timestamp][hash hex]
func makeCtimeKey(cachedAt time.Time, key topoforge.Hash) []byte {
	ts := encodeTimestamp(cachedAt)
	hex := key.String()
	result := make([]byte, 8+len(hex))
	copy(result[:8], ts)
	copy(result[8:], hex)
	return result
}
