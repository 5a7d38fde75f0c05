package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"raito/internal/apperr"
	"raito/internal/config"
	"raito/internal/formats"
	"raito/internal/scraper"
	"raito/internal/store"
)

// scrapeHandler implements POST /v1/scrape and /v2/scrape. It owns
// request validation and the early 400s; the scrape itself always runs
// through the job-queue executor so API nodes stay lightweight and the
// worker path (cache lookup, concurrency lease, billing) is the single
// scrape pipeline.
func scrapeHandler(c *fiber.Ctx) error {
	var reqBody ScrapeRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}

	if reqBody.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Missing required field 'url'",
		})
	}

	cfg := c.Locals("config").(*config.Config)

	// v2 skips TLS verification by default; v1 verifies strictly so an
	// expired certificate surfaces as SSL_ERROR.
	if reqBody.SkipTLSVerification == nil {
		if v, ok := c.Locals("api_version").(int); ok && v >= 2 {
			skip := true
			reqBody.SkipTLSVerification = &skip
		}
	}

	timeoutMs := cfg.Scraper.TimeoutMs
	if reqBody.Timeout != nil && *reqBody.Timeout > 0 {
		timeoutMs = *reqBody.Timeout
	}

	if reqBody.WaitFor != nil && *reqBody.WaitFor > timeoutMs/2 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "VALIDATION_ERROR",
			Error:   "Bad Request",
			Details: "waitFor must not exceed half of timeout",
		})
	}

	if err := formats.Validate(reqBody.Formats); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "VALIDATION_ERROR",
			Error:   "Bad Request",
			Details: err.Error(),
		})
	}

	if scraper.IsUnsupportedFileURL(reqBody.URL) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "UNSUPPORTED_FILE_ERROR",
			Error:   "Bad Request",
			Details: "URL points to a file format with no supported extractor",
		})
	}

	isPDFRequest := scraper.IsLikelyPDFURL(reqBody.URL)
	if _, ok := scraper.RewriteDocumentViewURL(reqBody.URL); ok {
		isPDFRequest = true
	}
	if isPDFRequest && time.Duration(timeoutMs)*time.Millisecond < scraper.MinPDFTimeout {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "INSUFFICIENT_PDF_TIME",
			Error:   "Bad Request",
			Details: fmt.Sprintf("timeout must be at least %s for PDF documents", scraper.MinPDFTimeout),
		})
	}

	execVal := c.Locals("executor")
	exec, ok := execVal.(WorkExecutor)
	if !ok || exec == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   "no scrape executor configured",
		})
	}

	baseCtx := context.Background()
	if val := c.Locals("principal"); val != nil {
		if p, ok := val.(Principal); ok {
			if p.TeamID != nil {
				baseCtx = context.WithValue(baseCtx, "team_id", *p.TeamID)
			}
			if p.APIKeyID != nil {
				baseCtx = context.WithValue(baseCtx, "api_key_id", *p.APIKeyID)
			}
		}
	}

	ctx, cancel := context.WithTimeout(baseCtx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	res, err := exec.Scrape(ctx, &reqBody)
	if err != nil {
		status := fiber.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		return c.Status(status).JSON(ErrorResponse{
			Success: false,
			Code:    "SCRAPE_FAILED",
			Error:   err.Error(),
		})
	}
	if res == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "SCRAPE_FAILED",
			Error:   "empty scrape response",
		})
	}

	status := http.StatusOK
	if !res.Success {
		// Job-level failures carry the worker's persisted error code.
		status = apperr.New(res.Code, "").HTTPStatus
		if res.Code == "SCRAPE_TIMEOUT" || res.Code == "JOB_NOT_STARTED" {
			status = http.StatusGatewayTimeout
		}
	}

	return c.Status(status).JSON(res)
}

// scrapeStatusHandler implements GET /v1/scrape/:id, re-reading a
// previously completed scrape's document. Request-scoped zero data
// retention makes a finished scrape unreadable: the row exists only as
// a scrubbed tombstone, so the lookup reports not found.
func scrapeStatusHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid scrape id",
		})
	}

	job, err := st.GetJobByID(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "scrape job not found",
			})
		}
		return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	if job.Type != "scrape" {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "scrape job not found",
		})
	}

	if job.ZDR && job.Status != "pending" && job.Status != "running" {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "scrape job not found",
		})
	}

	// Credentials only see their own team's jobs.
	if val := c.Locals("principal"); val != nil {
		if p, ok := val.(Principal); ok && p.TeamID != nil && job.TeamID.Valid && job.TeamID.UUID != *p.TeamID && !p.IsSystemAdmin {
			return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
				Success: false,
				Code:    "FORBIDDEN",
				Error:   "scrape job belongs to another team",
			})
		}
	}

	switch job.Status {
	case "completed":
		var doc Document
		if job.Output.Valid {
			if err := json.Unmarshal(job.Output.RawMessage, &doc); err != nil {
				return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
					Success: false,
					Code:    "INTERNAL_ERROR",
					Error:   "stored scrape output is unreadable",
				})
			}
		}
		return c.JSON(ScrapeResponse{Success: true, ScrapeID: job.ID.String(), Data: &doc})
	case "failed":
		parsed := apperr.Parse(job.Error.String)
		return c.Status(parsed.HTTPStatus).JSON(ScrapeResponse{
			Success: false,
			Code:    parsed.Code,
			Error:   parsed.Message,
		})
	default:
		return c.JSON(ScrapeResponse{Success: true, ScrapeID: job.ID.String()})
	}
}
