package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/moby/locker"
	"github.com/opencontainers/go-digest"
	bolt "go.etcd.io/bbolt"
)

var (
	entriesBucket = []byte("entries")
	metaBucket    = []byte("meta")
	scopeKey      = []byte("scope")
)

// Artifact content captured by a cached execution.
type Artifact struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

// Outputs of a stage execution, reusable by any execution with the same
// fingerprint.
type Entry struct {
	Artifacts []Artifact `json:"artifacts"`       // Exported artifacts, in export order.
	Stdout    string     `json:"stdout"`          // Captured standard output.
	Stderr    string     `json:"stderr"`          // Captured standard error.
	Layer     []byte     `json:"layer,omitempty"` // Filesystem snapshot, terminal stages only.
}

// Process-wide fingerprint cache.
//
// Entries are guarded by per-fingerprint locks. Runs hold a shared lease on
// the scope for their whole duration, and the scope only changes once every
// lease on the previous scope is released.
type Cache struct {
	locks   *locker.Locker // Per-fingerprint locks held by the engine around lookup and execution.
	lease   sync.RWMutex   // Held shared by runs, exclusively by scope changes and invalidation.
	entries sync.Map       // digest.Digest -> *Entry
	db      *bolt.DB       // Optional persistent backing store.
	scopeMu sync.Mutex     // Guards scope.
	scope   string         // Scope the entries belong to.
}

// Creates an in-memory [Cache].
func New() *Cache {
	return &Cache{locks: locker.New()}
}

// Opens a [Cache] backed by the bbolt database at path, creating it if
// needed.
//
// Entries are read lazily from disk and written through on [Cache.Store].
// The cache must be closed when no longer needed.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrCache, path, err)
	}

	c := &Cache{locks: locker.New(), db: db}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(entriesBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		c.scope = string(meta.Get(scopeKey))
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}

	return c, nil
}

// Closes the backing database, if any.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Leases the cache for a run in scope.
//
// Runs in the same scope share the cache concurrently. A run in another
// scope waits until every current lease is released, then rebinds the cache.
// Reports whether entries were invalidated. The returned function releases
// the lease and must be called exactly once.
func (c *Cache) Acquire(scope string) (func(), bool, error) {
	invalidated := false
	for {
		c.lease.RLock()
		if c.Scope() == scope {
			return c.lease.RUnlock, invalidated, nil
		}
		c.lease.RUnlock()

		changed, err := c.Bind(scope)
		if err != nil {
			return nil, invalidated, err
		}
		invalidated = invalidated || changed
	}
}

// Binds the cache to a scope, waiting for outstanding leases.
//
// If the scope differs from the current one, every entry is invalidated and
// true is returned.
func (c *Cache) Bind(scope string) (bool, error) {
	c.lease.Lock()
	defer c.lease.Unlock()

	c.scopeMu.Lock()
	defer c.scopeMu.Unlock()

	if scope == c.scope {
		return false, nil
	}

	if err := c.clear(); err != nil {
		return false, err
	}
	c.scope = scope

	if c.db != nil {
		err := c.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(metaBucket).Put(scopeKey, []byte(scope))
		})
		if err != nil {
			return true, fmt.Errorf("%w: %w", ErrCache, err)
		}
	}

	return true, nil
}

// Returns the scope the cache is bound to.
func (c *Cache) Scope() string {
	c.scopeMu.Lock()
	defer c.scopeMu.Unlock()
	return c.scope
}

// Drops every entry, in memory and on disk, once outstanding leases are
// released.
func (c *Cache) Invalidate() error {
	c.lease.Lock()
	defer c.lease.Unlock()

	c.scopeMu.Lock()
	defer c.scopeMu.Unlock()
	return c.clear()
}

// Drops every entry. The caller holds scopeMu.
func (c *Cache) clear() error {
	c.entries.Clear()

	if c.db == nil {
		return nil
	}

	err := c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(entriesBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(entriesBucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	return nil
}

// Acquires the lock for a fingerprint.
//
// Held around lookup and execution so that two stages with the same
// fingerprint run once and the second reuses the first's entry.
func (c *Cache) Lock(fp digest.Digest) {
	c.locks.Lock(fp.String())
}

// Releases the lock for a fingerprint.
func (c *Cache) Unlock(fp digest.Digest) {
	c.locks.Unlock(fp.String())
}

// Returns the entry for a fingerprint.
func (c *Cache) Lookup(fp digest.Digest) (*Entry, bool, error) {
	if v, ok := c.entries.Load(fp); ok {
		return v.(*Entry), true, nil
	}

	if c.db == nil {
		return nil, false, nil
	}

	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(entriesBucket).Get([]byte(fp)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrCache, err)
	}
	if data == nil {
		return nil, false, nil
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("%w: decode %s: %w", ErrCache, fp, err)
	}

	c.entries.Store(fp, &e)
	return &e, true, nil
}

// Records the entry for a fingerprint, writing through to disk when the
// cache is persistent.
func (c *Cache) Store(fp digest.Digest, e *Entry) error {
	c.entries.Store(fp, e)

	if c.db == nil {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrCache, fp, err)
	}

	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Put([]byte(fp), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	return nil
}

// Returns the number of entries, counting persisted ones for a disk-backed
// cache.
func (c *Cache) Len() int {
	if c.db != nil {
		n := 0
		c.db.View(func(tx *bolt.Tx) error {
			n = tx.Bucket(entriesBucket).Stats().KeyN
			return nil
		})
		return n
	}

	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
