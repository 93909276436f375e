// Package cache stores rendered responses for replay until their TTL runs out.
package cache

import (
	"context"
	"net/http"
	"time"
)

// Key identifies a cacheable request.
type Key struct {
	Method string
	Path   string
	Query  string
}

func (k Key) String() string {
	if k.Query == "" {
		return k.Method + " " + k.Path
	}
	return k.Method + " " + k.Path + "?" + k.Query
}

// Entry is a response captured after the handler ran.
type Entry struct {
	Status   int           `json:"status"`
	Headers  http.Header   `json:"headers"`
	Body     []byte        `json:"body"`
	StoredAt time.Time     `json:"storedAt"`
	TTL      time.Duration `json:"ttl"`
}

// Fresh reports whether the entry may still be served at now.
func (e Entry) Fresh(now time.Time) bool {
	return !now.After(e.StoredAt.Add(e.TTL))
}

// Store is implemented by every backend. Lookup never returns an expired entry.
type Store interface {
	Lookup(ctx context.Context, key Key) (Entry, bool, error)
	Store(ctx context.Context, key Key, entry Entry) error
}
