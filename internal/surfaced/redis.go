package surfaced

import (
	"context"
	"fmt"
	"sort"

	radix "github.com/mediocregopher/radix/v3"
)

// RedisStore keeps each identity's record in a Redis set, so appends from
// several sessions merge through SADD.
type RedisStore struct {
	client radix.Client
	prefix string
}

func NewRedisStore(client radix.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "surfaced:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis opens a small pool against addr.
func DialRedis(addr string) (radix.Client, error) {
	pool, err := radix.NewPool("tcp", addr, 4)
	if err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return pool, nil
}

func (r *RedisStore) key(identity string) string {
	return r.prefix + identity
}

func (r *RedisStore) Load(ctx context.Context, identity string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	if err := r.client.Do(radix.Cmd(&ids, "SMEMBERS", r.key(identity))); err != nil {
		return nil, fmt.Errorf("load surfaced set: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *RedisStore) Append(ctx context.Context, identity string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	args := append([]string{r.key(identity)}, ids...)
	if err := r.client.Do(radix.Cmd(nil, "SADD", args...)); err != nil {
		return fmt.Errorf("append surfaced ids: %w", err)
	}
	return nil
}

func (r *RedisStore) Reset(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.client.Do(radix.Cmd(nil, "DEL", r.key(identity))); err != nil {
		return fmt.Errorf("reset surfaced set: %w", err)
	}
	return nil
}
