package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/andesco/aniproxy/pkg/upstream"
)

func Health(c *fiber.Ctx) error {
	return c.SendString("daijoubu")
}

// Version answers the plain text version banner.
func Version(name, version string) fiber.Handler {
	banner := fmt.Sprintf("%s: v%s\n", name, version)
	return func(c *fiber.Ctx) error {
		return c.SendString(banner)
	}
}

// Catalog forwards metadata requests to the episode/anime catalog service and
// replays its status, content type and body. Catalog 4xx answers keep their
// status as a structured error; anything else failing is a 500. catalogURL may
// be empty, in which case the route answers 503.
func Catalog(fetcher Fetcher, catalogURL string) fiber.Handler {
	catalogURL = strings.TrimRight(catalogURL, "/")
	return func(c *fiber.Ctx) error {
		if catalogURL == "" {
			return fiber.NewError(fiber.StatusServiceUnavailable, "Catalog backend not configured")
		}

		target := catalogURL + "/" + strings.TrimPrefix(c.Params("*"), "/")
		if q := c.Request().URI().QueryString(); len(q) > 0 {
			target += "?" + string(q)
		}

		resp, err := fetcher.Fetch(c.UserContext(), target, nil)
		if err != nil {
			var fe *upstream.FetchError
			if errors.As(err, &fe) && fe.Status >= 400 && fe.Status < 500 {
				return fiber.NewError(fe.Status, utils.StatusMessage(fe.Status))
			}
			return fmt.Errorf("error fetching catalog %s: %w", target, err)
		}

		if ct := resp.Header.Get(fiber.HeaderContentType); ct != "" {
			c.Set(fiber.HeaderContentType, ct)
		}
		return c.Status(resp.Status).Send(resp.Body)
	}
}

func Anicrush(c *fiber.Ctx) error {
	return c.SendString("Anicrush could be implemented in future.")
}
