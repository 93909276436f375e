package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andesco/aniproxy/pkg/config"
)

// slowSite holds every request until release is called.
type slowSite struct {
	*httptest.Server
	arrived chan struct{}
	release func()
}

func newSlowSite(t *testing.T) *slowSite {
	held := make(chan struct{})
	var once sync.Once
	s := &slowSite{
		arrived: make(chan struct{}, 8),
		release: func() { once.Do(func() { close(held) }) },
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.arrived <- struct{}{}
		<-held
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<header>X</header><a href="/y">l</a>`)
	}))
	t.Cleanup(func() {
		s.release()
		s.Close()
	})
	return s
}

func testConfig(upstreamURL string, grace time.Duration) config.Config {
	return config.Config{
		Port:               4000,
		DeploymentEnv:      config.DeploymentNodeJS,
		RateLimitWindow:    time.Minute,
		RateLimitMax:       70,
		CORSAllowedOrigins: "*",
		CachePrefix:        config.BasePath,
		CacheTTL:           time.Minute,
		UpstreamURL:        upstreamURL,
		RewriteBaseURL:     "https://hianime.to",
		HTTPTimeout:        10 * time.Second,
		ShutdownGrace:      grace,
	}
}

func startServe(t *testing.T, ctx context.Context, cfg config.Config) (string, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, "test", ln) }()
	return ln.Addr().String(), done
}

type result struct {
	status int
	body   string
	err    error
}

func getAsync(url string) <-chan result {
	out := make(chan result, 1)
	go func() {
		resp, err := http.Get(url)
		if err != nil {
			out <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		out <- result{status: resp.StatusCode, body: string(body), err: err}
	}()
	return out
}

func waitArrival(t *testing.T, s *slowSite) {
	t.Helper()
	select {
	case <-s.arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached upstream")
	}
}

func TestServeDrainsInFlightRequests(t *testing.T) {
	site := newSlowSite(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, done := startServe(t, ctx, testConfig(site.URL, 5*time.Second))

	inflight := getAsync("http://" + addr + "/proxy/bleach-806?ep=1")
	waitArrival(t, site)
	cancel()

	assert.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return true
		}
		conn.Close()
		return false
	}, 2*time.Second, 10*time.Millisecond, "listener must stop accepting")

	select {
	case err := <-done:
		t.Fatalf("serve returned before the in-flight request finished: %v", err)
	default:
	}

	site.release()

	res := <-inflight
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, res.body, `href="https://hianime.to/y"`)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after draining")
	}
}

func TestServeGraceIsBounded(t *testing.T) {
	site := newSlowSite(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, done := startServe(t, ctx, testConfig(site.URL, 100*time.Millisecond))

	_ = getAsync("http://" + addr + "/proxy/bleach-806?ep=1")
	waitArrival(t, site)

	start := time.Now()
	cancel()

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "graceful shutdown")
		assert.Less(t, time.Since(start), 3*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("serve ignored the grace period")
	}
}

func TestServeStopsIdleServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	addr, done := startServe(t, ctx, testConfig("https://hianime.to", time.Second))

	res := <-getAsync("http://" + addr + "/health")
	require.NoError(t, res.err)
	assert.Equal(t, "daijoubu", res.body)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("https://hianime.to", time.Second)
	cfg.CacheTTL = 0
	_, done := startServe(t, context.Background(), cfg)
	assert.ErrorContains(t, <-done, "invalid configuration")
}

func TestRunServerless(t *testing.T) {
	cfg := testConfig("https://hianime.to", time.Second)
	cfg.DeploymentEnv = config.DeploymentVercel
	assert.NoError(t, run(context.Background(), cfg, "test"))
}
