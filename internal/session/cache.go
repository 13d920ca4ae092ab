package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/storage/memory/v2"
	"github.com/gofiber/storage/redis/v3"
)

// Storage is the key/value contract shared by the gofiber storage drivers.
type Storage interface {
	Get(key string) ([]byte, error)
	Set(key string, val []byte, exp time.Duration) error
	Delete(key string) error
	Close() error
}

// NewMemoryStorage returns a process-local storage.
func NewMemoryStorage() Storage {
	return memory.New(memory.Config{GCInterval: time.Minute})
}

// RedisOptions configures a shared redis storage.
type RedisOptions struct {
	URL         string
	PoolSize    int
	ClusterMode bool
}

// NewRedisStorage returns a storage shared by every adminguard process that
// points at the same redis. The constructor panics when redis is
// unreachable, so callers recover and report an error.
func NewRedisStorage(opts RedisOptions) (s Storage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("connect redis cache: %v", r)
		}
	}()
	return redis.New(redis.Config{
		URL:           opts.URL,
		PoolSize:      opts.PoolSize,
		IsClusterMode: opts.ClusterMode,
	}), nil
}

const (
	cachePrefix = "adminguard:verify:"
	epochKey    = cachePrefix + "epoch"
)

// cacheEntry records a clean verification of one session in one
// environment.
type cacheEntry struct {
	Epoch      string `json:"epoch"`
	AdminID    string `json:"admin_id"`
	Role       string `json:"role"`
	IPAddress  string `json:"ip"`
	UserAgent  string `json:"ua"`
	Verifier   string `json:"verifier"`
	CreatedAt  int64  `json:"created_at"`
	RotationAt int64  `json:"rotation_at"`
	VerifiedAt int64  `json:"verified_at"`
}

// VerifyCache remembers recent clean verifications so that repeated requests
// inside the re-verification interval skip the store. Keys are hashes of
// the session token and entries hold only a hash of the verifier; raw
// secrets never reach the cache. Purge rotates an
// epoch stored alongside the entries, which invalidates every entry without
// flushing a shared redis database.
type VerifyCache struct {
	storage Storage
	ttl     time.Duration
}

// NewVerifyCache wraps storage. Entries are garbage collected after ttl;
// freshness itself is judged against the caller's clock.
func NewVerifyCache(storage Storage, ttl time.Duration) *VerifyCache {
	return &VerifyCache{storage: storage, ttl: ttl}
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return cachePrefix + hex.EncodeToString(sum[:])
}

func (c *VerifyCache) epoch() (string, error) {
	b, err := c.storage.Get(epochKey)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *VerifyCache) get(token string) (*cacheEntry, error) {
	b, err := c.storage.Get(cacheKey(token))
	if err != nil || len(b) == 0 {
		return nil, err
	}
	var e cacheEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	epoch, err := c.epoch()
	if err != nil {
		return nil, err
	}
	if e.Epoch != epoch {
		return nil, nil
	}
	return &e, nil
}

func (c *VerifyCache) put(token string, e cacheEntry) error {
	epoch, err := c.epoch()
	if err != nil {
		return err
	}
	e.Epoch = epoch
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.storage.Set(cacheKey(token), b, c.ttl)
}

func (c *VerifyCache) forget(token string) error {
	return c.storage.Delete(cacheKey(token))
}

// Purge invalidates every cached verification.
func (c *VerifyCache) Purge() error {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	return c.storage.Set(epochKey, []byte(hex.EncodeToString(buf)), 0)
}

// Close releases the underlying storage.
func (c *VerifyCache) Close() error {
	return c.storage.Close()
}
