package http

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"raito/internal/auc"
	"raito/internal/config"
	"raito/internal/ratelimit"
	"raito/internal/store"
)

// authMiddleware validates an API key (Authorization: Bearer raito_...)
// and attaches a Principal to the context. There is no session/cookie
// fallback in this deployment; every request is machine-to-machine.
// Resolution goes through the Authenticated User Cache when one is
// configured, falling back to a direct store lookup otherwise.
func authMiddleware(cfg *config.Config, st *store.Store, resolver *auc.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Auth.Enabled {
			return c.Next()
		}

		rawAuth := c.Get("Authorization")
		if rawAuth == "" || !strings.HasPrefix(rawAuth, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Success: false,
				Code:    "UNAUTHENTICATED",
				Error:   "Missing or invalid Authorization header",
			})
		}

		token := strings.TrimSpace(strings.TrimPrefix(rawAuth, "Bearer "))
		if cfg.Auth.PreviewKey != "" && token == cfg.Auth.PreviewKey {
			c.Locals("principal", Principal{Preview: true})
			return c.Next()
		}
		if token == "" || !strings.HasPrefix(token, "raito_") {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Success: false,
				Code:    "UNAUTHENTICATED",
				Error:   "Invalid API key format",
			})
		}

		var (
			apiKey store.APIKey
			err    error
		)
		if resolver != nil {
			apiKey, err = resolver.Resolve(c.Context(), token)
		} else {
			apiKey, err = st.GetAPIKeyByRawKey(c.Context(), token)
		}
		if err != nil {
			if err == sql.ErrNoRows || errors.Is(err, auc.ErrNegativeCache) {
				return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
					Success: false,
					Code:    "UNAUTHENTICATED",
					Error:   "Invalid or revoked API key",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "INTERNAL_ERROR",
				Error:   fmt.Sprintf("API key lookup failed: %v", err),
			})
		}

		c.Locals("apiKey", apiKey)
		c.Locals("principal", principalFromAPIKey(apiKey))
		return c.Next()
	}
}

// rateLimitMiddleware enforces the per-(team, operation) sliding window
// admission policy described by the rate limiter component. It is a
// thin Fiber adapter around ratelimit.Limiter.Admit.
func rateLimitMiddleware(cfg *config.Config, limiter *ratelimit.Limiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Auth.Enabled || limiter == nil {
			return c.Next()
		}

		var teamID string
		if val := c.Locals("principal"); val != nil {
			if p, ok := val.(Principal); ok {
				if p.TeamID != nil {
					teamID = p.TeamID.String()
				} else if p.Preview {
					// Preview traffic buckets per caller IP so the
					// shared credential can't be amplified.
					teamID = "preview:" + c.IP()
				}
			}
		}
		if teamID == "" {
			return c.Next()
		}

		op := ratelimit.OpForPath(c.Path())

		// A per-key limit from the credential record overrides the
		// configured per-operation table.
		override := 0
		if val := c.Locals("apiKey"); val != nil {
			if k, ok := val.(store.APIKey); ok && k.RateLimitPerMinute.Valid {
				override = int(k.RateLimitPerMinute.Int32)
			}
		}

		decision, err := limiter.Admit(c.Context(), teamID, op, override)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "INTERNAL_ERROR",
				Error:   fmt.Sprintf("rate limit check failed: %v", err),
			})
		}

		if !decision.Allowed {
			c.Set("Retry-After", fmt.Sprintf("%d", decision.RetryAfterSeconds))
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Success: false,
				Code:    "RATE_LIMIT_EXCEEDED",
				Error:   "Rate limit exceeded, try again later",
				Details: fiber.Map{
					"retryAfter": decision.RetryAfterSeconds,
					"remaining":  decision.Remaining,
				},
			})
		}

		return c.Next()
	}
}

// creditCheckMiddleware rejects new billable work for a team that has
// exhausted its credit balance. Status lookups (GET) are always
// allowed through since they don't consume credits themselves.
func creditCheckMiddleware(cfg *config.Config, st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Auth.Enabled || c.Method() != fiber.MethodPost {
			return c.Next()
		}

		val := c.Locals("principal")
		p, ok := val.(Principal)
		if !ok || p.TeamID == nil {
			return c.Next()
		}

		team, err := st.GetTeamByID(c.Context(), *p.TeamID)
		if err != nil {
			if err == sql.ErrNoRows {
				return c.Next()
			}
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "INTERNAL_ERROR",
				Error:   fmt.Sprintf("team lookup failed: %v", err),
			})
		}

		if team.CreditsRemaining <= 0 {
			return c.Status(fiber.StatusPaymentRequired).JSON(ErrorResponse{
				Success: false,
				Code:    "INSUFFICIENT_CREDITS",
				Error:   "Team has no remaining credits",
			})
		}

		return c.Next()
	}
}

// adminOnlyMiddleware ensures the current principal holds an admin API key.
func adminOnlyMiddleware(c *fiber.Ctx) error {
	val := c.Locals("principal")
	p, ok := val.(Principal)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "Principal not found in context",
		})
	}

	if !p.IsSystemAdmin {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
			Success: false,
			Code:    "FORBIDDEN",
			Error:   "Admin privileges required",
		})
	}

	return c.Next()
}
