// Package cache memoizes read-only query results.
package cache

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Cache stores JSON encodable values by key. A miss is (false, nil).
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Close() error
}

// Key joins the parts of a cache key. Empty parts are kept so positions stay stable.
func Key(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString("hompare:")
	b.WriteString(kind)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(strings.ReplaceAll(p, ":", "%3A"))
	}
	return b.String()
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string, any) (bool, error) { return false, nil }

func (Noop) Set(context.Context, string, any, time.Duration) error { return nil }

func (Noop) Close() error { return nil }

// IntKey formats an id for use in Key.
func IntKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
