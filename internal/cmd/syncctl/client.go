// Package syncctl contains the Cobra commands of the operator CLI.
package syncctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const apiPrefix = "/api/v1/offline"

// APIError is a non-2xx answer from the agent.
type APIError struct {
	Status            int
	Message           string
	RetryAfterSeconds int
}

func (e *APIError) Error() string {
	if e.RetryAfterSeconds > 0 {
		return fmt.Sprintf("agent returned %d: %s (retry after %ds)", e.Status, e.Message, e.RetryAfterSeconds)
	}
	return fmt.Sprintf("agent returned %d: %s", e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Details struct {
		RetryAfterSeconds int `json:"retry_after_seconds"`
	} `json:"details"`
}

// Client talks to the agent HTTP API.
type Client struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func (c Client) do(ctx context.Context, method, path string, out any) error {
	url := strings.TrimRight(c.BaseURL, "/") + apiPrefix + path

	var agent *fiber.Agent
	switch method {
	case fiber.MethodPost:
		agent = fiber.Post(url)
	case fiber.MethodDelete:
		agent = fiber.Delete(url)
	default:
		agent = fiber.Get(url)
	}

	if c.Token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+c.Token)
	}
	timeout := c.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout > 0 {
		agent.Timeout(timeout)
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("request %s %s: %w", method, path, errors.Join(errs...))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response (status %d): %w", status, err)
	}
	if status >= fiber.StatusBadRequest || !env.Success {
		return &APIError{Status: status, Message: env.Message, RetryAfterSeconds: env.Details.RetryAfterSeconds}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
