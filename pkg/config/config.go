package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type DeploymentEnv string

const (
	DeploymentNodeJS           DeploymentEnv = "nodejs"
	DeploymentDocker           DeploymentEnv = "docker"
	DeploymentRender           DeploymentEnv = "render"
	DeploymentVercel           DeploymentEnv = "vercel"
	DeploymentCloudflareWorker DeploymentEnv = "cloudflare-workers"
	DeploymentAWSLambda        DeploymentEnv = "aws-lambda"
)

var serverlessEnvironments = []DeploymentEnv{
	DeploymentVercel,
	DeploymentCloudflareWorker,
	DeploymentAWSLambda,
}

const BasePath = "/api/v2"

type Config struct {
	Port          int
	DeploymentEnv DeploymentEnv
	// Hostname marks a personal deployment. When set, rate limiting is on
	// and keep-alive pings target it.
	Hostname string

	RateLimitWindow time.Duration
	RateLimitMax    int

	// TrustedProxies may set X-Forwarded-For. Everyone else is keyed by peer address.
	TrustedProxies []string

	CORSAllowedOrigins string
	CachePrefix        string
	CacheTTL           time.Duration
	RedisConnURL       string

	UpstreamURL    string
	RewriteBaseURL string
	CatalogURL     string
	HTTPTimeout    time.Duration
	UserAgent      string
	Ruleset        string

	PublicDir     string
	ShutdownGrace time.Duration
}

// Load reads the configuration from the environment. Malformed numbers fall
// back to their defaults; Validate catches values that parse but make no sense.
func Load() Config {
	upstream := getenv("UPSTREAM_URL", "https://hianime.to")
	return Config{
		Port:               getenvInt("ANIWATCH_API_PORT", 4000),
		DeploymentEnv:      DeploymentEnv(strings.ToLower(getenv("ANIWATCH_API_DEPLOYMENT_ENV", string(DeploymentNodeJS)))),
		Hostname:           os.Getenv("ANIWATCH_API_HOSTNAME"),
		RateLimitWindow:    time.Duration(getenvInt("ANIWATCH_API_WINDOW_MS", 30*60*1000)) * time.Millisecond,
		RateLimitMax:       getenvInt("ANIWATCH_API_MAX_REQS", 70),
		TrustedProxies:     getenvList("TRUSTED_PROXIES"),
		CORSAllowedOrigins: getenv("ANIWATCH_API_CORS_ALLOWED_ORIGINS", "*"),
		CachePrefix:        BasePath,
		CacheTTL:           time.Duration(getenvInt("ANIWATCH_API_S_MAXAGE", 60)) * time.Second,
		RedisConnURL:       os.Getenv("ANIWATCH_API_REDIS_CONN_URL"),
		UpstreamURL:        upstream,
		RewriteBaseURL:     getenv("REWRITE_BASE_URL", upstream),
		CatalogURL:         os.Getenv("CATALOG_URL"),
		HTTPTimeout:        time.Duration(getenvInt("HTTP_TIMEOUT", 15)) * time.Second,
		UserAgent:          os.Getenv("USER_AGENT"),
		Ruleset:            os.Getenv("RULESET"),
		PublicDir:          os.Getenv("PUBLIC_DIR"),
		ShutdownGrace:      time.Duration(getenvInt("SHUTDOWN_GRACE", 10)) * time.Second,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.RateLimitWindow <= 0 || c.RateLimitMax <= 0 {
		errs = append(errs, errors.New("rate limit window and max requests must be positive"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("cache ttl must be positive"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("http timeout must be positive"))
	}
	for name, raw := range map[string]string{"upstream": c.UpstreamURL, "rewrite base": c.RewriteBaseURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid %s url '%s'", name, raw))
		}
	}
	if c.CatalogURL != "" {
		if u, err := url.Parse(c.CatalogURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid catalog url '%s'", c.CatalogURL))
		}
	}
	return errors.Join(errs...)
}

// Personal reports whether an operator hostname is configured.
func (c Config) Personal() bool {
	return c.Hostname != ""
}

func (c Config) Serverless() bool {
	for _, env := range serverlessEnvironments {
		if c.DeploymentEnv == env {
			return true
		}
	}
	return false
}

// KeepAlive reports whether the deployment needs self pings to stay awake.
func (c Config) KeepAlive() bool {
	return c.Personal() && c.DeploymentEnv == DeploymentRender
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getenvList(key string) []string {
	var list []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
