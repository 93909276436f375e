package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/andesco/aniproxy/pkg/rewrite"
	"github.com/andesco/aniproxy/pkg/upstream"
)

// Fetcher is the upstream client the routes depend on.
type Fetcher interface {
	Fetch(ctx context.Context, target string, header http.Header) (*upstream.Response, error)
}

// Rewriters selects the rewrite pipeline for a fetched page.
type Rewriters interface {
	For(target *url.URL) rewrite.Rewriter
}

// ProxyPlayer serves the upstream watch page for a slug and episode, rewritten
// to be embedded as a bare player.
func ProxyPlayer(fetcher Fetcher, rewriters Rewriters, upstreamURL, rewriteBase string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		slug := c.Params("slug")
		ep := c.Query("ep")
		if slug == "" || ep == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Missing slug or episode")
		}

		target, err := watchURL(upstreamURL, slug, ep)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid slug or episode")
		}

		if os.Getenv("LOG_URLS") == "true" {
			log.Printf("INFO: Proxying player '%s' -> '%s'", c.OriginalURL(), target)
		}

		resp, err := fetcher.Fetch(c.UserContext(), target.String(), nil)
		if err != nil {
			return fmt.Errorf("error fetching player for %s episode %s: %w", slug, ep, err)
		}

		html := rewriters.For(target).Rewrite(string(resp.Body), rewriteBase)

		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(html)
	}
}

// watchURL builds {upstream}/watch/{slug}?ep={ep}.
func watchURL(upstreamURL, slug, ep string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(upstreamURL, "/") + "/watch/" + url.PathEscape(slug))
	if err != nil {
		return nil, err
	}
	u.RawQuery = url.Values{"ep": {ep}}.Encode()
	return u, nil
}
