// Package cache persists feature profiles keyed by the content of the
// waveform they were computed from.
package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/dgraph-io/badger/v3"
	"github.com/himanishpuri/audion/internal/features"
)

// Kind distinguishes profiles of raw samples from unit-energy ones.
type Kind byte

const (
	KindRaw        Kind = 'r'
	KindNormalized Kind = 'n'
)

const (
	keyPrefix  = "profile/v1/"
	DefaultTTL = 30 * 24 * time.Hour
)

// ProfileCache is a badger-backed store of features.Profile values. A nil
// *ProfileCache is a valid, always-missing cache.
type ProfileCache struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens or creates the cache in dir. A zero ttl means DefaultTTL; a
// negative ttl keeps entries forever.
func Open(dir string, ttl time.Duration) (*ProfileCache, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("badger open %s: %w", dir, err)
	}
	return newCache(db, ttl), nil
}

// OpenInMemory returns a cache that lives only as long as the process.
func OpenInMemory() (*ProfileCache, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("badger open in-memory: %w", err)
	}
	return newCache(db, DefaultTTL), nil
}

func newCache(db *badger.DB, ttl time.Duration) *ProfileCache {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &ProfileCache{db: db, ttl: ttl}
}

// Key hashes the sample rate and the exact bits of every sample.
func Key(samples []float64, sampleRate int, kind Kind) []byte {
	buf := make([]byte, 8+8*len(samples))
	binary.BigEndian.PutUint64(buf, uint64(sampleRate))
	for i, s := range samples {
		binary.BigEndian.PutUint64(buf[8+8*i:], math.Float64bits(s))
	}
	h := xxhash.Checksum64(buf)

	key := make([]byte, 0, len(keyPrefix)+1+8)
	key = append(key, keyPrefix...)
	key = append(key, byte(kind))
	return binary.BigEndian.AppendUint64(key, h)
}

func (c *ProfileCache) Get(key []byte) (features.Profile, bool, error) {
	var p features.Profile
	if c == nil {
		return p, false, nil
	}

	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return p, false, nil
	}
	if err != nil {
		return p, false, fmt.Errorf("cache get: %w", err)
	}

	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&p); err != nil {
		return p, false, fmt.Errorf("cache decode: %w", err)
	}
	return p, true, nil
}

func (c *ProfileCache) Put(key []byte, p features.Profile) error {
	if c == nil {
		return nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, buf.Bytes())
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Profile returns the cached profile for samples or computes and stores it.
// Cache failures are reported through onErr and never stop the computation.
func (c *ProfileCache) Profile(
	samples []float64,
	sampleRate int,
	kind Kind,
	compute func() (features.Profile, error),
	onErr func(error),
) (features.Profile, error) {
	if c == nil {
		return compute()
	}
	if onErr == nil {
		onErr = func(error) {}
	}

	key := Key(samples, sampleRate, kind)
	if p, ok, err := c.Get(key); err != nil {
		onErr(err)
	} else if ok {
		return p, nil
	}

	p, err := compute()
	if err != nil {
		return p, err
	}
	if err := c.Put(key, p); err != nil {
		onErr(err)
	}
	return p, nil
}

// Len counts stored profiles.
func (c *ProfileCache) Len() (int, error) {
	if c == nil {
		return 0, nil
	}
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Clear drops every stored profile.
func (c *ProfileCache) Clear() error {
	if c == nil {
		return nil
	}
	return c.db.DropPrefix([]byte(keyPrefix))
}

func (c *ProfileCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
