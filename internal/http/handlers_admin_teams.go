package http

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"raito/internal/store"
)

// AdminTeamItem is the public projection of a store.Team for admin APIs.
type AdminTeamItem struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	CreditsRemaining int64  `json:"creditsRemaining"`
	TokenBudget      int64  `json:"tokenBudget"`
	ConcurrencyMax   int32  `json:"concurrencyMax"`
	AllowZDR         bool   `json:"allowZdr"`
	ForceZDR         bool   `json:"forceZdr"`
}

type AdminTeamResponse struct {
	Success bool           `json:"success"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
	Team    *AdminTeamItem `json:"team,omitempty"`
}

func teamToItem(t store.Team) AdminTeamItem {
	return AdminTeamItem{
		ID:               t.ID.String(),
		Name:             t.Name,
		CreditsRemaining: t.CreditsRemaining,
		TokenBudget:      t.TokenBudget,
		ConcurrencyMax:   t.ConcurrencyMax,
		AllowZDR:         t.AllowZDR,
		ForceZDR:         t.ForceZDR,
	}
}

// AdminCreateTeamRequest provisions a new team (tenant) and its initial
// credit/concurrency/ZDR posture.
type AdminCreateTeamRequest struct {
	Name             string `json:"name"`
	CreditsRemaining int64  `json:"creditsRemaining,omitempty"`
	TokenBudget      int64  `json:"tokenBudget,omitempty"`
	ConcurrencyMax   int32  `json:"concurrencyMax,omitempty"`
	AllowZDR         bool   `json:"allowZdr,omitempty"`
	ForceZDR         bool   `json:"forceZdr,omitempty"`
}

// adminCreateTeamHandler provisions a new team for system admins.
func adminCreateTeamHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	var req AdminCreateTeamRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(AdminTeamResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(AdminTeamResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "name is required",
		})
	}
	if req.ConcurrencyMax <= 0 {
		req.ConcurrencyMax = 2
	}

	team, err := st.CreateTeam(c.Context(), store.Team{
		ID:               uuid.New(),
		Name:             req.Name,
		CreditsRemaining: req.CreditsRemaining,
		TokenBudget:      req.TokenBudget,
		ConcurrencyMax:   req.ConcurrencyMax,
		AllowZDR:         req.AllowZDR,
		ForceZDR:         req.ForceZDR,
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
			return c.Status(fiber.StatusBadRequest).JSON(AdminTeamResponse{
				Success: false,
				Code:    "CONFLICT",
				Error:   "team name already exists",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(AdminTeamResponse{
			Success: false,
			Code:    "TEAM_CREATE_FAILED",
			Error:   err.Error(),
		})
	}

	item := teamToItem(team)
	return c.Status(fiber.StatusOK).JSON(AdminTeamResponse{Success: true, Team: &item})
}

// adminGetTeamHandler returns details for a single team.
func adminGetTeamHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	teamID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(AdminTeamResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid team id",
		})
	}

	team, err := st.GetTeamByID(c.Context(), teamID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(AdminTeamResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "team not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(AdminTeamResponse{
			Success: false,
			Code:    "TEAM_LOOKUP_FAILED",
			Error:   err.Error(),
		})
	}

	item := teamToItem(team)
	return c.Status(fiber.StatusOK).JSON(AdminTeamResponse{Success: true, Team: &item})
}

// AdminCreateAPIKeyRequest issues a new bearer key scoped to a team.
type AdminCreateAPIKeyRequest struct {
	Name               string `json:"name"`
	IsAdmin            bool   `json:"isAdmin,omitempty"`
	RateLimitPerMinute *int32 `json:"rateLimitPerMinute,omitempty"`
}

type AdminCreateAPIKeyResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	Key     string `json:"key,omitempty"`
	KeyID   string `json:"keyId,omitempty"`
}

// adminCreateAPIKeyHandler mints a new API key for the team in the path.
// The raw key is only ever returned here; the store persists a hash.
func adminCreateAPIKeyHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	teamID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(AdminCreateAPIKeyResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid team id",
		})
	}

	var req AdminCreateAPIKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(AdminCreateAPIKeyResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		req.Name = "default"
	}

	if _, err := st.GetTeamByID(c.Context(), teamID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(AdminCreateAPIKeyResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "team not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(AdminCreateAPIKeyResponse{
			Success: false,
			Code:    "TEAM_LOOKUP_FAILED",
			Error:   err.Error(),
		})
	}

	raw, key, err := st.CreateRandomAPIKey(c.Context(), teamID, req.Name, req.IsAdmin)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(AdminCreateAPIKeyResponse{
			Success: false,
			Code:    "API_KEY_CREATE_FAILED",
			Error:   err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(AdminCreateAPIKeyResponse{
		Success: true,
		Key:     raw,
		KeyID:   key.ID.String(),
	})
}

// AdminUpdateTeamLimitsRequest adjusts a team's posture after provisioning,
// e.g. raising concurrency or flipping ZDR enforcement.
type AdminUpdateTeamLimitsRequest struct {
	ConcurrencyMax *int32 `json:"concurrencyMax,omitempty"`
	AllowZDR       *bool  `json:"allowZdr,omitempty"`
	ForceZDR       *bool  `json:"forceZdr,omitempty"`
}

// adminUpdateTeamLimitsHandler updates concurrency/ZDR posture for a team.
func adminUpdateTeamLimitsHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	teamID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(AdminTeamResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid team id",
		})
	}

	var req AdminUpdateTeamLimitsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(AdminTeamResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}

	updates := make([]string, 0, 3)
	args := []interface{}{teamID}
	argN := 2
	if req.ConcurrencyMax != nil {
		if *req.ConcurrencyMax <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(AdminTeamResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "concurrencyMax must be > 0",
			})
		}
		updates = append(updates, "concurrency_max = $"+strconv.Itoa(argN))
		args = append(args, *req.ConcurrencyMax)
		argN++
	}
	if req.AllowZDR != nil {
		updates = append(updates, "allow_zdr = $"+strconv.Itoa(argN))
		args = append(args, *req.AllowZDR)
		argN++
	}
	if req.ForceZDR != nil {
		updates = append(updates, "force_zdr = $"+strconv.Itoa(argN))
		args = append(args, *req.ForceZDR)
		argN++
	}
	if len(updates) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(AdminTeamResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "no fields to update",
		})
	}

	query := "UPDATE teams SET " + strings.Join(updates, ", ") + " WHERE id = $1 " +
		"RETURNING id, name, credits_remaining, token_budget, concurrency_max, allow_zdr, force_zdr, rate_limits, created_at"

	row := st.DB.QueryRowContext(c.Context(), query, args...)
	var t store.Team
	var rateLimits []byte
	if err := row.Scan(&t.ID, &t.Name, &t.CreditsRemaining, &t.TokenBudget, &t.ConcurrencyMax, &t.AllowZDR, &t.ForceZDR, &rateLimits, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(AdminTeamResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "team not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(AdminTeamResponse{
			Success: false,
			Code:    "TEAM_UPDATE_FAILED",
			Error:   err.Error(),
		})
	}
	t.RateLimits = json.RawMessage(rateLimits)

	item := teamToItem(t)
	return c.Status(fiber.StatusOK).JSON(AdminTeamResponse{Success: true, Team: &item})
}
