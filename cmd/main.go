package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"

	"github.com/andesco/aniproxy/handlers"
	"github.com/andesco/aniproxy/pkg/config"
	"github.com/andesco/aniproxy/pkg/keepalive"
	"github.com/andesco/aniproxy/pkg/upstream"
)

var version = "dev"

func main() {
	cfg := config.Load()

	parser := argparse.NewParser("aniproxy", "Stable API and embeddable player in front of hianime")
	port := parser.Int("p", "port", &argparse.Options{
		Required: false,
		Default:  cfg.Port,
		Help:     "Port the webserver will listen on",
	})
	rulesetPath := parser.String("r", "ruleset", &argparse.Options{
		Required: false,
		Default:  cfg.Ruleset,
		Help:     "File, directory or ';' separated list of yaml rulesets",
	})
	publicDir := parser.String("", "public", &argparse.Options{
		Required: false,
		Default:  cfg.PublicDir,
		Help:     "Directory of static files served at /",
	})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(2)
	}
	cfg.Port = *port
	cfg.Ruleset = *rulesetPath
	cfg.PublicDir = *publicDir

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, version); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
}

// run serves until ctx is done, then drains within cfg.ShutdownGrace.
// Serverless deployments return immediately.
func run(ctx context.Context, cfg config.Config, version string) error {
	if cfg.Serverless() {
		log.Printf("WARN: Deployment env %q is serverless; not starting a listener. Embed handlers.HTTPHandler instead.", cfg.DeploymentEnv)
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("error listening on port %d: %w", cfg.Port, err)
	}
	return serve(ctx, cfg, version, ln)
}

func serve(ctx context.Context, cfg config.Config, version string, ln net.Listener) error {
	app, closeCache, err := handlers.Setup(cfg, version)
	if err != nil {
		ln.Close()
		return err
	}
	defer closeCache()

	if cfg.KeepAlive() {
		pinger := upstream.New(cfg.HTTPTimeout, "", nil)
		target := fmt.Sprintf("https://%s/health", cfg.Hostname)
		go keepalive.Run(ctx, target, keepalive.DefaultInterval, func(ctx context.Context, target string) error {
			_, err := pinger.Fetch(ctx, target, http.Header{})
			return err
		})
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("INFO: %s RUNNING at http://%s", handlers.AppName, ln.Addr())
		serveErr <- app.Listener(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("INFO: Shutting down, waiting up to %s for in-flight requests", cfg.ShutdownGrace)
	if err := app.ShutdownWithTimeout(cfg.ShutdownGrace); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
