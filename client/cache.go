package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Snapshot is the cached tail of a room's list.
type Snapshot struct {
	Messages []Message `json:"messages"`
	// Timestamp is the write time in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// WrittenAt returns the snapshot's write time.
func (s Snapshot) WrittenAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Cache keeps one snapshot per entity key.
type Cache interface {
	Load(ctx context.Context, key string) (Snapshot, bool, error)
	Save(ctx context.Context, key string, snap Snapshot) error
}

// NewSnapshot keeps the last limit entries of list that are worth restoring:
// authoritative messages and temporaries flagged PersistLocally.
func NewSnapshot(list []Message, limit int, now time.Time) Snapshot {
	keep := make([]Message, 0, len(list))
	for _, m := range list {
		if m.Temporary && !m.PersistLocally {
			continue
		}
		keep = append(keep, m)
	}
	if limit > 0 && len(keep) > limit {
		keep = keep[len(keep)-limit:]
	}
	return Snapshot{Messages: keep, Timestamp: now.UnixMilli()}
}

// Fresh reports whether snap may still be shown as a placeholder.
func (s Snapshot) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.WrittenAt()) <= maxAge
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]Snapshot
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]Snapshot)}
}

func (c *MemoryCache) Load(_ context.Context, key string) (Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.items[key]
	return snap, ok, nil
}

func (c *MemoryCache) Save(_ context.Context, key string, snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = snap
	return nil
}

// FileCache stores each snapshot as a JSON file under dir.
type FileCache struct {
	dir string
}

func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(c.dir, "chat_"+safe+".json")
}

func (c *FileCache) Load(_ context.Context, key string) (Snapshot, bool, error) {
	data, err := os.ReadFile(c.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode cache %s: %w", key, err)
	}
	return snap, true, nil
}

// Save replaces the snapshot atomically.
func (c *FileCache) Save(_ context.Context, key string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, "chat_*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path(key))
}

// RedisCache shares snapshots through Redis, for clients that run server side.
// Entries expire on their own after ttl.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Load(ctx context.Context, key string) (Snapshot, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("cache get error: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("cache decode error: %w", err)
	}
	return snap, true, nil
}

func (c *RedisCache) Save(ctx context.Context, key string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}
