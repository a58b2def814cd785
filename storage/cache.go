package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// Cache serves board snapshots from Redis and falls back to the store. It is
// also a domain.Publisher: every event for a board evicts that board's entry.
type Cache struct {
	store  domain.Store
	redis  *redis.Client
	ttl    time.Duration
	logger log.FieldLogger
}

// NewCache wraps store. A nil client or zero ttl disables caching.
func NewCache(store domain.Store, client *redis.Client, ttl time.Duration, logger log.FieldLogger) *Cache {
	if store == nil {
		panic("storage.NewCache: store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{store: store, redis: client, ttl: ttl, logger: logger}
}

// generationTTL bounds how long an idle board's generation counter lives.
const generationTTL = 24 * time.Hour

// saveIfCurrent stores the snapshot only while the board's generation still
// matches the one read before loading it. A missing counter reads as "0".
var saveIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Snapshot returns the board state, from Redis when a fresh copy exists.
func (c *Cache) Snapshot(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	if snap, ok := c.load(ctx, boardID); ok {
		return snap, nil
	}
	gen, cacheable := c.generation(ctx, boardID)
	var snap domain.BoardSnapshot
	err := c.store.RunInTx(ctx, func(tx domain.Tx) error {
		var err error
		snap, err = domain.LoadSnapshot(ctx, tx, boardID)
		return err
	})
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	if cacheable {
		c.save(ctx, boardID, gen, snap)
	}
	return snap, nil
}

// Publish implements domain.Publisher by evicting the cached snapshot.
func (c *Cache) Publish(ctx context.Context, boardID string, _ domain.Event) {
	c.Evict(ctx, boardID)
}

// Evict drops the cached snapshot of boardID and bumps its generation so a
// load already in flight cannot write its older copy back.
func (c *Cache) Evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(boardID))
		pipe.Expire(ctx, generationKey(boardID), generationTTL)
		pipe.Del(ctx, snapshotCacheKey(boardID))
		return nil
	})
	if err != nil && c.logger != nil {
		c.logger.WithError(err).WithField("board_id", boardID).Warn("snapshot cache evict failed")
	}
}

// generation reads the board's eviction counter. ok is false when caching is
// off or Redis cannot be read, in which case the loaded snapshot is not saved.
func (c *Cache) generation(ctx context.Context, boardID string) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, generationKey(boardID)).Result()
	switch {
	case err == redis.Nil:
		return "0", true
	case err != nil:
		return "", false
	}
	return gen, true
}

func (c *Cache) load(ctx context.Context, boardID string) (domain.BoardSnapshot, bool) {
	if c.redis == nil {
		return domain.BoardSnapshot{}, false
	}
	key := snapshotCacheKey(boardID)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, key).Err()
		}
		return domain.BoardSnapshot{}, false
	}
	var snap domain.BoardSnapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return domain.BoardSnapshot{}, false
	}
	return snap, true
}

func (c *Cache) save(ctx context.Context, boardID, gen string, snap domain.BoardSnapshot) {
	data, err := sonic.Marshal(snap)
	if err != nil {
		return
	}
	keys := []string{snapshotCacheKey(boardID), generationKey(boardID)}
	err = saveIfCurrent.Run(ctx, c.redis, keys, gen, data, c.ttl.Milliseconds()).Err()
	if err != nil && c.logger != nil {
		c.logger.WithError(err).WithField("board_id", boardID).Debug("snapshot cache save failed")
	}
}

func snapshotCacheKey(boardID string) string {
	return "board-snapshot:" + boardID
}

func generationKey(boardID string) string {
	return "board-snapshot-gen:" + boardID
}
