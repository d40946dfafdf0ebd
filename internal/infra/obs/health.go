package obs

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const readyTimeout = 2 * time.Second

// Check is one dependency the gateway needs before it can serve chat traffic, such as the
// messaging service or the profile directory.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandlers exposes endpoints for liveness and readiness checks.
type HealthHandlers struct {
	Checks []Check
}

// Readiness is the /readyz body. Checks maps each dependency to "ok" or its error.
type Readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h HealthHandlers) Livez(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h HealthHandlers) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()
	body := h.Readiness(ctx)
	code := http.StatusOK
	if body.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, body)
}

// Readiness runs every check concurrently.
func (h HealthHandlers) Readiness(ctx context.Context) Readiness {
	results := make([]string, len(h.Checks))
	var g errgroup.Group
	for i, check := range h.Checks {
		g.Go(func() error {
			results[i] = "ok"
			if err := check.Ping(ctx); err != nil {
				results[i] = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	body := Readiness{Status: "ok"}
	if len(h.Checks) > 0 {
		body.Checks = make(map[string]string, len(h.Checks))
	}
	for i, check := range h.Checks {
		body.Checks[check.Name] = results[i]
		if results[i] != "ok" {
			body.Status = "not ready"
		}
	}
	return body
}
