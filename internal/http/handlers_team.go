package http

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"raito/internal/concurrency"
	"raito/internal/store"
)

// teamFromRequest resolves the authenticated principal's team row, or
// writes the appropriate error response and returns ok=false.
func teamFromRequest(c *fiber.Ctx) (store.Team, bool) {
	st := c.Locals("store").(*store.Store)

	val := c.Locals("principal")
	p, ok := val.(Principal)
	if !ok || p.TeamID == nil {
		_ = c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "No team associated with this credential",
		})
		return store.Team{}, false
	}

	team, err := st.GetTeamByID(c.Context(), *p.TeamID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "Team not found",
			})
			return store.Team{}, false
		}
		_ = c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
		return store.Team{}, false
	}

	return team, true
}

// teamCreditUsageHandler implements GET /v1/team/credit-usage.
func teamCreditUsageHandler(c *fiber.Ctx) error {
	team, ok := teamFromRequest(c)
	if !ok {
		return nil
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"remaining_credits": team.CreditsRemaining,
		},
	})
}

// teamTokenUsageHandler implements GET /v1/team/token-usage.
func teamTokenUsageHandler(c *fiber.Ctx) error {
	team, ok := teamFromRequest(c)
	if !ok {
		return nil
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"remaining_tokens": team.TokenBudget,
		},
	})
}

// teamConcurrencyCheckHandler implements GET /v1/team/concurrency-check,
// reporting current in-flight operations against the team's cap.
func teamConcurrencyCheckHandler(c *fiber.Ctx) error {
	team, ok := teamFromRequest(c)
	if !ok {
		return nil
	}

	active := 0
	if val := c.Locals("governor"); val != nil {
		if gov, govOK := val.(*concurrency.Governor); govOK && gov != nil {
			if n, err := gov.Active(c.Context(), team.ID.String()); err == nil {
				active = n
			}
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"concurrency":    active,
			"maxConcurrency": team.ConcurrencyMax,
		},
	})
}
