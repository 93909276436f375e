package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestAdmitDeniesOverCeiling(t *testing.T) {
	c := &clock{now: time.Unix(1700000000, 0)}
	l := NewWithClock(5, time.Minute, c.Now)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Admit("1.2.3.4").Allowed, "request %d", i+1)
		c.Advance(time.Second)
	}

	d := l.Admit("1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, 55*time.Second, d.RetryAfter)
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)

	assert.True(t, l.Admit("5.6.7.8").Allowed, "identities are independent")
}

func TestAdmitResetsAfterWindow(t *testing.T) {
	c := &clock{now: time.Unix(1700000000, 0)}
	l := NewWithClock(2, time.Minute, c.Now)

	assert.True(t, l.Admit("a").Allowed)
	assert.True(t, l.Admit("a").Allowed)
	assert.False(t, l.Admit("a").Allowed)

	c.Advance(time.Minute)
	assert.True(t, l.Admit("a").Allowed)
	assert.True(t, l.Admit("a").Allowed)
	assert.False(t, l.Admit("a").Allowed)
}

func TestAdmitConcurrent(t *testing.T) {
	l := New(100, time.Hour)
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 250; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit("shared").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), allowed.Load())
}

func TestAccessors(t *testing.T) {
	l := New(70, 30*time.Minute)
	assert.Equal(t, 70, l.Limit())
	assert.Equal(t, 30*time.Minute, l.Window())
	assert.Equal(t, "70/30m0s", fmt.Sprintf("%d/%s", l.Limit(), l.Window()))
}
