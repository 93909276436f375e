package handlers

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/term"

	"github.com/andesco/aniproxy/pkg/cache"
	"github.com/andesco/aniproxy/pkg/config"
	"github.com/andesco/aniproxy/pkg/ratelimit"
	"github.com/andesco/aniproxy/pkg/rewrite"
	"github.com/andesco/aniproxy/pkg/ruleset"
	"github.com/andesco/aniproxy/pkg/upstream"
)

const AppName = "aniproxy"

// Deps are the stores and clients the pipeline is composed from.
// A nil Limiter leaves rate limiting out of the chain.
type Deps struct {
	Fetcher   Fetcher
	Rewriters Rewriters
	Cache     cache.Store
	Limiter   *ratelimit.Limiter
	Now       func() time.Time
	Version   string
}

// NewApp composes the middleware chain once:
// CORS, logging, recover, deadline, rate limit (optional), cache, routes, static, 404.
// X-Forwarded-For is only honoured from cfg.TrustedProxies.
func NewApp(cfg config.Config, deps Deps) *fiber.App {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	app := fiber.New(fiber.Config{
		AppName:               AppName,
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,

		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          cfg.TrustedProxies,
		EnableIPValidation:      true,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSAllowedOrigins,
		AllowMethods: "GET,HEAD,OPTIONS",
		MaxAge:       600,
	}))
	app.Use(logger.New(logger.Config{
		Format:        "${time} ${ip} ${status} - ${latency} ${method} ${path}\n",
		DisableColors: !term.IsTerminal(int(os.Stdout.Fd())),
	}))
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(Deadline(cfg.HTTPTimeout))

	if deps.Limiter != nil {
		app.Use(RateLimit(deps.Limiter))
	}
	app.Use(Cache(deps.Cache, cfg.CachePrefix, cfg.CacheTTL, deps.Now))

	app.Get("/health", Health)
	app.Get("/v", Version(AppName, deps.Version))

	api := app.Group(config.BasePath)
	api.Get("/hianime/*", Catalog(deps.Fetcher, cfg.CatalogURL))
	api.Get("/anicrush", Anicrush)

	app.Get("/proxy/:slug?", ProxyPlayer(deps.Fetcher, deps.Rewriters, cfg.UpstreamURL, cfg.RewriteBaseURL))

	if cfg.PublicDir != "" {
		app.Static("/", cfg.PublicDir)
	}
	app.Use(NotFound)

	return app
}

// Setup builds the dependencies described by cfg and returns the app.
// The returned close function releases the cache backend.
func Setup(cfg config.Config, version string) (*fiber.App, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	rules, err := ruleset.Load(cfg.Ruleset)
	if err != nil {
		return nil, nil, err
	}

	deps := Deps{
		Fetcher:   upstream.New(cfg.HTTPTimeout, cfg.UserAgent, rules),
		Rewriters: rewrite.NewEngine(rules),
		Version:   version,
	}

	closeFn := func() error { return nil }
	if cfg.RedisConnURL != "" {
		store, err := cache.NewRedis(cfg.RedisConnURL)
		if err != nil {
			return nil, nil, err
		}
		deps.Cache = store
		closeFn = store.Close
		log.Printf("INFO: Using redis response cache")
	} else {
		deps.Cache = cache.NewMemory()
	}

	if cfg.Personal() {
		deps.Limiter = ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow)
		log.Printf("INFO: Rate limiting enabled: %d requests per %s", cfg.RateLimitMax, cfg.RateLimitWindow)
	}

	return NewApp(cfg, deps), closeFn, nil
}

// HTTPHandler exposes the app to net/http based serverless runtimes.
func HTTPHandler(app *fiber.App) http.HandlerFunc {
	return adaptor.FiberApp(app)
}
