package estimate

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketEstimates = "estimates"

// Cache keeps scraped estimates in a bbolt file.
type Cache struct {
	db  *bolt.DB
	ttl time.Duration
}

// OpenCache opens (or creates) the cache file.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open estimate cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketEstimates)); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketEstimates, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Cache{db: db, ttl: CacheTTL}, nil
}

// Close closes the cache file.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached estimate for key if it was fetched within the TTL.
func (c *Cache) Get(key string, now time.Time) (Estimate, bool, error) {
	est, ok, err := c.Latest(key)
	if err != nil || !ok {
		return Estimate{}, false, err
	}
	if now.Sub(est.FetchedAt) >= c.ttl {
		return Estimate{}, false, nil
	}
	return est, true, nil
}

// Latest returns the stored estimate for key regardless of age.
func (c *Cache) Latest(key string) (Estimate, bool, error) {
	var est Estimate
	var found bool

	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEstimates))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucketEstimates)
		}

		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &est); err != nil {
			return fmt.Errorf("failed to unmarshal cached estimate: %w", err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return Estimate{}, false, err
	}
	return est, true, nil
}

// Put stores an estimate under key.
func (c *Cache) Put(key string, est Estimate) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEstimates))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucketEstimates)
		}

		data, err := json.Marshal(est)
		if err != nil {
			return fmt.Errorf("failed to marshal estimate: %w", err)
		}
		return b.Put([]byte(key), data)
	})
}
