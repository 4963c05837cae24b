package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/httputil"
)

const healthCheckTimeout = 2 * time.Second

// HealthHandler serves the liveness endpoint load balancers poll.
type HealthHandler struct {
	db  *pgxpool.Pool
	rdb *redis.Client
	log zerolog.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *pgxpool.Pool, rdb *redis.Client, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb, log: logger}
}

// Check handles GET /api/v1/health. Both backing stores must answer within the timeout.
func (h *HealthHandler) Check(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c, healthCheckTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.log.Error().Err(err).Msg("Health check: postgres unreachable")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, "database unavailable")
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		h.log.Error().Err(err).Msg("Health check: redis unreachable")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, "redis unavailable")
	}
	return httputil.Success(c, fiber.Map{"status": "ok"})
}
