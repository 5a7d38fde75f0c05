package http

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	neturl "net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"raito/internal/config"
	"raito/internal/formats"
	"raito/internal/services"
	"raito/internal/store"
)

func crawlHandler(c *fiber.Ctx) error {
	var reqBody CrawlRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(CrawlResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}

	if reqBody.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(CrawlResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Missing required field 'url'",
		})
	}

	if err := formats.Validate(reqBody.Formats); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(CrawlResponse{
			Success: false,
			Code:    "VALIDATION_ERROR",
			Error:   err.Error(),
		})
	}

	// A maxDepth smaller than the seed's own path depth is rejected up
	// front as a validation error.
	if reqBody.MaxDepth != nil {
		if u, parseErr := neturl.Parse(reqBody.URL); parseErr == nil {
			depth := 0
			for _, seg := range strings.Split(strings.Trim(u.Path, "/"), "/") {
				if seg != "" {
					depth++
				}
			}
			if depth > *reqBody.MaxDepth {
				return c.Status(fiber.StatusBadRequest).JSON(CrawlResponse{
					Success: false,
					Code:    "VALIDATION_ERROR",
					Error:   "maxDepth is smaller than the seed URL's own path depth",
				})
			}
		}
	}

	_ = c.Locals("config").(*config.Config)
	st := c.Locals("store").(*store.Store)

	// Generate a crawl job ID (uuidv7 preferred)
	id := func() uuid.UUID {
		if id, err := uuid.NewV7(); err == nil {
			return id
		}
		return uuid.New()
	}()

	var teamID *uuid.UUID
	if val := c.Locals("principal"); val != nil {
		if p, ok := val.(Principal); ok {
			teamID = p.TeamID
		}
	}
	zdr := reqBody.ZeroDataRetention != nil && *reqBody.ZeroDataRetention

	svc := services.NewCrawlService(st)
	if err := svc.Enqueue(c.Context(), &services.CrawlEnqueueRequest{
		ID:     id,
		URL:    reqBody.URL,
		Body:   reqBody,
		TeamID: teamID,
		ZDR:    zdr,
	}); err != nil {
		return c.Status(http.StatusInternalServerError).JSON(CrawlResponse{
			Success: false,
			Code:    "CRAWL_JOB_CREATE_FAILED",
			Error:   err.Error(),
		})
	}

	protocol := c.Protocol()
	host := c.Hostname()

	return c.Status(http.StatusOK).JSON(CrawlResponse{
		Success: true,
		ID:      id.String(),
		URL:     protocol + "://" + host + "/v1/crawl/" + id.String(),
	})
}

func crawlStatusHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	idParam := c.Params("id")
	jobID, err := uuid.Parse(idParam)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(CrawlResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid crawl id",
		})
	}

	job, docs, err := st.GetCrawlJobAndDocuments(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(CrawlResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "crawl job not found",
			})
		}
		return c.Status(http.StatusInternalServerError).JSON(CrawlResponse{
			Success: false,
			Code:    "CRAWL_JOB_LOOKUP_FAILED",
			Error:   err.Error(),
		})
	}

	resp := CrawlResponse{
		Success: true,
		ID:      job.ID.String(),
		Status:  CrawlStatus(job.Status),
		Total:   len(docs),
	}

	// Map DB documents into API documents only when completed
	if job.Status == "completed" {
		// Decode the original crawl request to determine requested formats.
		var originalReq CrawlRequest
		_ = json.Unmarshal(job.Input, &originalReq)

		docSvc := services.NewJobDocumentService()
		mapped := docSvc.BuildDocuments(docs, services.JobDocumentFormatOptions{
			Formats:        originalReq.Formats,
			IncludeSummary: true,
			IncludeJSON:    true,
		})

		outDocs := make([]Document, 0, len(mapped))
		for _, d := range mapped {
			outDocs = append(outDocs, Document(d))
		}
		resp.Data = outDocs
	}

	if job.Error.Valid {
		resp.Error = job.Error.String
	}

	return c.Status(http.StatusOK).JSON(resp)
}

// crawlErrorsHandler reports which pages within a crawl failed to
// scrape, splitting robots.txt-disallowed URLs out from genuine
// fetch/processing failures.
func crawlErrorsHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(CrawlErrorsResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid crawl id",
		})
	}

	children, err := st.ListCrawlChildren(c.Context(), jobID)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(CrawlErrorsResponse{
			Success: false,
			Code:    "CRAWL_ERRORS_LOOKUP_FAILED",
			Error:   err.Error(),
		})
	}

	errs := make([]CrawlErrorEntry, 0)
	var robotsBlocked []string
	for _, job := range children {
		if job.Status != "failed" {
			continue
		}
		msg := ""
		if job.Error.Valid {
			msg = job.Error.String
		}
		if strings.HasPrefix(msg, "ROBOTS_DISALLOWED") {
			robotsBlocked = append(robotsBlocked, job.URL)
			continue
		}
		errs = append(errs, CrawlErrorEntry{ID: job.ID.String(), URL: job.URL, Error: msg})
	}

	return c.Status(http.StatusOK).JSON(CrawlErrorsResponse{
		Success:       true,
		Errors:        errs,
		RobotsBlocked: robotsBlocked,
	})
}

// crawlOngoingHandler lists crawls for the caller's team that have not
// yet reached a terminal status.
func crawlOngoingHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	var teamID uuid.UUID
	if val := c.Locals("principal"); val != nil {
		if p, ok := val.(Principal); ok && p.TeamID != nil {
			teamID = *p.TeamID
		}
	}

	jobs, err := st.ListOngoingCrawls(c.Context(), teamID)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(CrawlOngoingResponse{
			Success: false,
			Code:    "CRAWL_ONGOING_LOOKUP_FAILED",
			Error:   err.Error(),
		})
	}

	out := make([]CrawlOngoingEntry, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, CrawlOngoingEntry{ID: j.ID.String(), URL: j.URL})
	}

	return c.Status(http.StatusOK).JSON(CrawlOngoingResponse{Success: true, Crawls: out})
}

// crawlCancelHandler cancels a crawl and every unterminated child job
// belonging to it.
func crawlCancelHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(CrawlResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid crawl id",
		})
	}

	if err := st.CancelJob(c.Context(), jobID); err != nil {
		return c.Status(http.StatusInternalServerError).JSON(CrawlResponse{
			Success: false,
			Code:    "CRAWL_CANCEL_FAILED",
			Error:   err.Error(),
		})
	}

	return c.Status(http.StatusOK).JSON(CrawlResponse{
		Success: true,
		ID:      jobID.String(),
		Status:  CrawlStatus("cancelled"),
	})
}
