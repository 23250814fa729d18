// Package cache is a best-effort key/value cache for read models. Every
// failure degrades to a miss; callers never fail because of it.
package cache

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Entity prefixes. A write to an entity type invalidates every key under
// its prefix.
const (
	Projects = "projects"
	Boards   = "boards"
	Tasks    = "tasks"
	Comments = "comments"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeleteByPrefix removes every key starting with prefix and reports how
	// many were removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	// Generation is the current version of prefix, zero until the first Bump.
	Generation(ctx context.Context, prefix string) (int64, error)
	// Bump moves prefix to a new version so fills computed against the old
	// one land under keys no reader asks for.
	Bump(ctx context.Context, prefix string) error
}

// Key joins parts into prefix:part:part form. Parts are query-escaped so a
// separator inside a value cannot shift it into the next part.
func Key(prefix string, parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, prefix)
	for _, p := range parts {
		escaped = append(escaped, url.QueryEscape(p))
	}
	return strings.Join(escaped, ":")
}

// Versioned pins key to a prefix generation.
func Versioned(key string, generation int64) string {
	return key + "@" + strconv.FormatInt(generation, 10)
}

func generationKey(prefix string) string {
	return "gen:" + prefix
}

// Prefix is the invalidation prefix for an entity type.
func Prefix(entity string) string {
	return entity + ":"
}

// GetJSON decodes a cached value. Undecodable entries count as misses.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var out T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, ttl)
}

// Nop is the cache used when no backing store is configured: every read
// misses and every write succeeds.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool)               { return nil, false }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error                     { return nil }
func (Nop) DeleteByPrefix(context.Context, string) (int, error)      { return 0, nil }
func (Nop) Generation(context.Context, string) (int64, error)        { return 0, nil }
func (Nop) Bump(context.Context, string) error                       { return nil }
