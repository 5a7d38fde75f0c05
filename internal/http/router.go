package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"raito/internal/auc"
	"raito/internal/concurrency"
	"raito/internal/config"
	"raito/internal/metrics"
	"raito/internal/ratelimit"
	"raito/internal/store"
)

type Server struct {
	app    *fiber.App
	config *config.Config
	store  *store.Store
	logger *slog.Logger
}

// NewServer builds the HTTP server. rdb is the shared Redis client
// (may be nil); it backs rate limiting, the Authenticated User Cache,
// and health checks.
func NewServer(cfg *config.Config, st *store.Store, logger *slog.Logger, rdb *redis.Client) *Server {
	app := fiber.New()

	// Construct a job queue-backed executor for heavy operations
	exec := NewJobQueueExecutor(cfg, st, logger)

	var governor *concurrency.Governor
	if rdb != nil {
		governor = concurrency.NewFromConfig(cfg, rdb)
	}

	// Inject config, store, and executor into context for handlers
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("store", st)
		c.Locals("executor", exec)
		if governor != nil {
			c.Locals("governor", governor)
		}
		return c.Next()
	})

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		// Ensure a request ID exists
		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		if logger != nil {
			c.Locals("logger", logger)
		}

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Path()

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		if logger != nil {
			attrs := []any{
				"request_id", reqID,
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			}
			if provVal := c.Locals("llm_provider"); provVal != nil {
				attrs = append(attrs, "llm_provider", provVal)
			}
			if modelVal := c.Locals("llm_model"); modelVal != nil {
				attrs = append(attrs, "llm_model", modelVal)
			}
			logger.Info("request", attrs...)
		}

		return err
	})

	// Health endpoints
	app.Get("/healthz", func(c *fiber.Ctx) error {
		// Shallow health: process is up
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		// Deep health: check DB and Redis connectivity, and rod configuration.
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		if err := st.DB.PingContext(ctx); err != nil {
			dbStatus = "error"
		}

		redisStatus := "disabled"
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			} else {
				redisStatus = "ok"
			}
		}

		rodStatus := "disabled"
		if cfg.Rod.Enabled {
			// For now, just report that rod is enabled; a full browser connectivity
			// check would be more expensive and is left as a future enhancement.
			rodStatus = "enabled"
		}

		status := "ok"
		if dbStatus != "ok" || redisStatus == "error" {
			status = "error"
		}

		return c.JSON(fiber.Map{
			"status": status,
			"db":     dbStatus,
			"redis":  redisStatus,
			"rod":    rodStatus,
		})
	})

	// Prometheus-style metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	aucResolver := auc.NewFromConfig(cfg, rdb, st)
	authMw := authMiddleware(cfg, st, aucResolver)
	var rateMw fiber.Handler
	if rdb != nil {
		rateMw = rateLimitMiddleware(cfg, ratelimit.NewFromConfig(cfg, rdb))
	} else {
		rateMw = func(c *fiber.Ctx) error { return c.Next() }
	}
	creditMw := creditCheckMiddleware(cfg, st)

	// v1 and v2 share handlers; the version local flips per-version
	// defaults (v2 skips TLS verification unless told otherwise).
	v1 := app.Group("/v1", apiVersionMiddleware(1), authMw, rateMw, creditMw)
	registerAPIRoutes(v1)

	v2 := app.Group("/v2", apiVersionMiddleware(2), authMw, rateMw, creditMw)
	registerAPIRoutes(v2)

	admin := app.Group("/admin", authMw, adminOnlyMiddleware)
	registerAdminRoutes(admin)

	return &Server{
		app:    app,
		config: cfg,
		store:  st,
		logger: logger,
	}
}

func registerAdminRoutes(group fiber.Router) {
	group.Post("/teams", adminCreateTeamHandler)
	group.Get("/teams/:id", adminGetTeamHandler)
	group.Patch("/teams/:id", adminUpdateTeamLimitsHandler)
	group.Post("/teams/:id/api-keys", adminCreateAPIKeyHandler)
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

func apiVersionMiddleware(version int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("api_version", version)
		return c.Next()
	}
}

func registerAPIRoutes(group fiber.Router) {
	group.Post("/scrape", scrapeHandler)
	group.Get("/scrape/:id", scrapeStatusHandler)
	group.Post("/map", mapHandler)
	group.Post("/crawl", crawlHandler)
	// /crawl/ongoing must precede /crawl/:id or the param route eats it.
	group.Get("/crawl/ongoing", crawlOngoingHandler)
	group.Get("/crawl/:id", crawlStatusHandler)
	group.Get("/crawl/:id/errors", crawlErrorsHandler)
	group.Delete("/crawl/:id", crawlCancelHandler)
	group.Post("/extract", extractHandler)
	group.Get("/extract/:id", extractStatusHandler)
	group.Post("/batch/scrape", batchScrapeHandler)
	group.Get("/batch/scrape/:id", batchScrapeStatusHandler)
	group.Post("/search", searchHandler)
	group.Get("/team/credit-usage", teamCreditUsageHandler)
	group.Get("/team/token-usage", teamTokenUsageHandler)
	group.Get("/team/concurrency-check", teamConcurrencyCheckHandler)
}
