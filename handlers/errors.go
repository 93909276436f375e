package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/andesco/aniproxy/pkg/upstream"
)

// ErrorResponse is the body of every error the API returns.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// ErrorHandler turns any error that reaches the router into a structured
// response. Only messages we wrote ourselves reach the client.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := utils.StatusMessage(code)

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		message = fe.Message
		if code == fiber.StatusNotFound {
			message = utils.StatusMessage(code)
		}
	case errors.Is(err, upstream.ErrUpstreamUnavailable), errors.Is(err, upstream.ErrNetworkFailure):
		log.Printf("ERROR: %s %s: %v", c.Method(), c.Path(), err)
		message = "Failed to reach the remote site"
	default:
		log.Printf("ERROR: %s %s: %v", c.Method(), c.Path(), err)
	}

	return c.Status(code).JSON(ErrorResponse{Status: code, Message: message})
}

// NotFound terminates the chain for unmatched routes.
func NotFound(c *fiber.Ctx) error {
	return fiber.ErrNotFound
}
