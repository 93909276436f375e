package handlers

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/andesco/aniproxy/pkg/cache"
	"github.com/andesco/aniproxy/pkg/ratelimit"
)

// Identity keys rate limiting. It is the peer address, or the first
// X-Forwarded-For hop when the peer is a trusted proxy (see NewApp).
func Identity(c *fiber.Ctx) string {
	return strings.Clone(c.IP())
}

// Deadline bounds everything downstream, upstream fetches included, by timeout.
func Deadline(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// RateLimit rejects requests over the limiter's ceiling with 429 and Retry-After.
func RateLimit(l *ratelimit.Limiter) fiber.Handler {
	limit := strconv.Itoa(l.Limit())
	return func(c *fiber.Ctx) error {
		d := l.Admit(Identity(c))
		if !d.Allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			c.Set("X-RateLimit-Limit", limit)
			return fiber.ErrTooManyRequests
		}
		return c.Next()
	}
}

// headers that describe this connection or this request rather than the
// cached resource, so they are never replayed.
var uncachedHeaders = map[string]bool{
	fiber.HeaderContentLength:    true,
	fiber.HeaderDate:             true,
	fiber.HeaderServer:           true,
	fiber.HeaderConnection:       true,
	fiber.HeaderTransferEncoding: true,
	fiber.HeaderRetryAfter:       true,
	"X-Cache":                    true,
}

// Cache replays stored GET responses under prefix. Misses run the rest of the
// chain and store the result unless it failed, was a server error, or the
// request deadline passed while it ran.
func Cache(store cache.Store, prefix string, ttl time.Duration, now func() time.Time) fiber.Handler {
	cacheControl := fmt.Sprintf("public, max-age=%d", int(ttl.Seconds()))
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodGet || !underPrefix(c.Path(), prefix) {
			return c.Next()
		}

		ctx := c.UserContext()
		key := cache.Key{
			Method: strings.Clone(c.Method()),
			Path:   strings.Clone(c.Path()),
			Query:  string(c.Request().URI().QueryString()),
		}

		entry, ok, err := store.Lookup(ctx, key)
		if err != nil {
			log.Printf("WARN: Cache lookup for %s failed: %v", key, err)
		}
		if ok {
			replay(c, entry)
			c.Set("X-Cache", "HIT")
			return nil
		}

		if err := c.Next(); err != nil {
			return err
		}
		if ctx.Err() != nil || c.Response().StatusCode() >= fiber.StatusInternalServerError {
			return nil
		}

		c.Set(fiber.HeaderCacheControl, cacheControl)
		c.Set("X-Cache", "MISS")

		entry = capture(c)
		entry.StoredAt = now()
		entry.TTL = ttl
		if err := store.Store(ctx, key, entry); err != nil {
			log.Printf("WARN: Cache store for %s failed: %v", key, err)
		}
		return nil
	}
}

func underPrefix(path, prefix string) bool {
	prefix = strings.TrimRight(prefix, "/")
	return prefix == "" || path == prefix || strings.HasPrefix(path, prefix+"/")
}

func capture(c *fiber.Ctx) cache.Entry {
	headers := make(http.Header)
	c.Response().Header.VisitAll(func(k, v []byte) {
		key := http.CanonicalHeaderKey(string(k))
		if uncachedHeaders[key] || strings.HasPrefix(key, "Access-Control-") {
			return
		}
		headers.Add(key, string(v))
	})
	return cache.Entry{
		Status:  c.Response().StatusCode(),
		Headers: headers,
		Body:    append([]byte(nil), c.Response().Body()...),
	}
}

func replay(c *fiber.Ctx, entry cache.Entry) {
	for key, values := range entry.Headers {
		for i, value := range values {
			if i == 0 {
				c.Response().Header.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
	c.Status(entry.Status)
	c.Response().SetBody(entry.Body)
}
