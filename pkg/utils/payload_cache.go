package utils

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// PayloadCache keeps the last good copy of fetched documents on disk, keyed
// by source URL.
type PayloadCache struct {
	db    *badger.DB
	cache sync.Map
}

type cachedPayload struct {
	val      []byte
	storedAt time.Time
}

func OpenPayloadCache(path string) (*PayloadCache, error) {
	opts := badger.DefaultOptions(path)
	// Decrease logging verbosity
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &PayloadCache{db: db}, nil
}

func (c *PayloadCache) Close() error {
	return c.db.Close()
}

// Value layout: unix nanos (8 bytes) + payload.
func encodePayload(val []byte, at time.Time) []byte {
	buf := make([]byte, 8+len(val))
	binary.BigEndian.PutUint64(buf, uint64(at.UnixNano()))
	copy(buf[8:], val)
	return buf
}

func decodePayload(raw []byte) cachedPayload {
	if len(raw) < 8 {
		return cachedPayload{}
	}
	at := time.Unix(0, int64(binary.BigEndian.Uint64(raw)))
	val := make([]byte, len(raw)-8)
	copy(val, raw[8:])
	return cachedPayload{val: val, storedAt: at}
}

func (c *PayloadCache) Put(key string, val []byte) error {
	now := time.Now()
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), encodePayload(val, now))
	})
	if err == nil {
		c.cache.Store(key, cachedPayload{val: append([]byte(nil), val...), storedAt: now})
	}
	return err
}

// Get returns the stored payload and when it was written. A missing key
// returns nil, zero time and no error.
func (c *PayloadCache) Get(key string) ([]byte, time.Time, error) {
	if v, ok := c.cache.Load(key); ok {
		p := v.(cachedPayload)
		return p.val, p.storedAt, nil
	}

	var p cachedPayload
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			p = decodePayload(v)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	c.cache.Store(key, p)
	return p.val, p.storedAt, nil
}

func (c *PayloadCache) Delete(key string) error {
	c.cache.Delete(key)
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (c *PayloadCache) ForEach(fn func(key string, val []byte, storedAt time.Time) error) error {
	return c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			k := string(item.KeyCopy(nil))
			err := item.Value(func(v []byte) error {
				p := decodePayload(v)
				return fn(k, p.val, p.storedAt)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
