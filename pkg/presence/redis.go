package presence

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/logger"
	"github.com/mahaj/dhuan/pkg/model"
)

// RedisTracker keeps one hash per scope, field = client id, value = identity
// snapshot JSON. Shared across gateway instances; entries are best-effort
// and a crashed gateway's leftovers are overwritten on the next connect.
type RedisTracker struct {
	rdb *redis.Client
}

func NewRedisTracker(addr string) *RedisTracker {
	return &RedisTracker{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func key(sc string) string { return "scope:" + sc + ":clients" }

func (t *RedisTracker) Track(ctx context.Context, sc string, identity model.Identity) error {
	payload, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	if err := t.rdb.HSet(ctx, key(sc), identity.ClientID, payload).Err(); err != nil {
		return chaterr.Transient(err, "presence track")
	}
	return nil
}

func (t *RedisTracker) Untrack(ctx context.Context, sc string, clientID string) error {
	if err := t.rdb.HDel(ctx, key(sc), clientID).Err(); err != nil {
		return chaterr.Transient(err, "presence untrack")
	}
	return nil
}

func (t *RedisTracker) List(ctx context.Context, sc string) ([]model.Identity, error) {
	vals, err := t.rdb.HGetAll(ctx, key(sc)).Result()
	if err != nil {
		return nil, chaterr.Transient(err, "presence list")
	}
	out := make([]model.Identity, 0, len(vals))
	for clientID, raw := range vals {
		var id model.Identity
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			logger.Warn("presence_entry_corrupt", "scope", sc, "client", clientID)
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (t *RedisTracker) Close() error { return t.rdb.Close() }
