package jobs

import (
	"context"
	"log/slog"
	"time"

	"raito/internal/config"
	"raito/internal/store"
)

// MapJobExecutor executes a single map job.
type MapJobExecutor interface {
	ExecuteMapJob(ctx context.Context, job store.Job)
}

// CrawlJobExecutor executes a single crawl job.
type CrawlJobExecutor interface {
	ExecuteCrawlJob(ctx context.Context, job store.Job)
}

// ExtractJobExecutor executes a single extract job.
type ExtractJobExecutor interface {
	ExecuteExtractJob(ctx context.Context, job store.Job)
}

// BatchScrapeJobExecutor executes a single batch scrape job.
type BatchScrapeJobExecutor interface {
	ExecuteBatchScrapeJob(ctx context.Context, job store.Job)
}

// ScrapeJobExecutor executes a single scrape job (used by the
// job-queue backed /v1/scrape executor).
type ScrapeJobExecutor interface {
	ExecuteScrapeJob(ctx context.Context, job store.Job)
}

// Executors groups the concrete executors for each job type.
type Executors struct {
	Map         MapJobExecutor
	Crawl       CrawlJobExecutor
	Extract     ExtractJobExecutor
	BatchScrape BatchScrapeJobExecutor
	Scrape      ScrapeJobExecutor
}

// Runner is responsible for polling the jobs table and dispatching
// work to job-type-specific executors. It encapsulates concurrency
// limits, polling intervals, and periodic retention cleanup.
type Runner struct {
	cfg       *config.Config
	store     *store.Store
	executors Executors
	logger    *slog.Logger
}

// NewRunner constructs a Runner with the given configuration, store,
// and job executors. Any missing executor will cause jobs of that
// type to be marked as failed with an UNKNOWN_JOB_TYPE error.
func NewRunner(cfg *config.Config, st *store.Store, execs Executors, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:       cfg,
		store:     st,
		executors: execs,
		logger:    logger,
	}
}

// Start launches the worker loop in the current goroutine. Callers
// typically run this in its own goroutine and keep the process alive.
func (r *Runner) Start(ctx context.Context) {
	pollInterval := time.Duration(r.cfg.Worker.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	maxJobs := r.cfg.Worker.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 4
	}

	leaseTTL := time.Duration(r.cfg.Queue.LeaseTTLSeconds) * time.Second
	if leaseTTL <= 0 {
		leaseTTL = 5 * time.Minute
	}

	sem := make(chan struct{}, maxJobs)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastCleanup time.Time
	cleanupInterval := time.Duration(r.cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Periodically run TTL cleanup for jobs/documents.
		if r.cfg.Retention.Enabled {
			now := time.Now().UTC()
			if lastCleanup.IsZero() || now.Sub(lastCleanup) >= cleanupInterval {
				_ = CleanupExpiredData(ctx, r.cfg, r.store)
				lastCleanup = now
			}
		}

		// Return jobs whose worker disappeared mid-run to the queue.
		if _, err := r.store.RequeueExpiredLeases(ctx, int32(r.cfg.Queue.MaxAttempts)); err != nil {
			r.logger.Error("requeue expired leases failed", "error", err)
		}

		// Determine how many new jobs we can start based on current concurrency.
		capacity := maxJobs - len(sem)
		if capacity <= 0 {
			continue
		}

		jobs, err := r.reserveWeighted(ctx, int32(capacity), leaseTTL)
		if err != nil {
			r.logger.Error("reserve pending jobs failed", "error", err)
			continue
		}

		for _, job := range jobs {
			job := job
			sem <- struct{}{}
			go func() {
				defer func() { <-sem }()
				r.dispatchJob(ctx, job)
			}()
		}
	}
}

// reserveWeighted claims up to capacity jobs across the three priority
// bands in weighted round-robin shares (default 4:2:1), so realtime
// scrapes jump the line without starving long-running crawls or
// background work.
func (r *Runner) reserveWeighted(ctx context.Context, capacity int32, leaseTTL time.Duration) ([]store.Job, error) {
	bands := []struct {
		name   string
		weight int
	}{
		{"realtime", r.cfg.Queue.RealtimeWeight},
		{"crawl", r.cfg.Queue.CrawlWeight},
		{"background", r.cfg.Queue.BackgroundWeight},
	}
	totalWeight := 0
	for _, b := range bands {
		totalWeight += b.weight
	}
	if totalWeight <= 0 {
		return r.store.ReservePendingJobs(ctx, "realtime", capacity, leaseTTL)
	}

	var jobs []store.Job
	remaining := capacity
	for _, b := range bands {
		if remaining <= 0 {
			break
		}
		share := capacity * int32(b.weight) / int32(totalWeight)
		if share < 1 {
			share = 1
		}
		if share > remaining {
			share = remaining
		}
		claimed, err := r.store.ReservePendingJobs(ctx, b.name, share, leaseTTL)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, claimed...)
		remaining -= int32(len(claimed))
	}

	// Bands may be uneven; refill leftover capacity from any band so a
	// quiet realtime queue doesn't leave workers idle.
	if remaining > 0 {
		for _, b := range bands {
			if remaining <= 0 {
				break
			}
			claimed, err := r.store.ReservePendingJobs(ctx, b.name, remaining, leaseTTL)
			if err != nil {
				return jobs, err
			}
			jobs = append(jobs, claimed...)
			remaining -= int32(len(claimed))
		}
	}

	return jobs, nil
}

func (r *Runner) dispatchJob(ctx context.Context, job store.Job) {
	// Delegate to the appropriate executor based on the job type.
	switch job.Type {
	case "crawl":
		if r.executors.Crawl != nil {
			r.executors.Crawl.ExecuteCrawlJob(ctx, job)
			return
		}
	case "scrape":
		if r.executors.Scrape != nil {
			r.executors.Scrape.ExecuteScrapeJob(ctx, job)
			return
		}
	case "map":
		if r.executors.Map != nil {
			r.executors.Map.ExecuteMapJob(ctx, job)
			return
		}
	case "extract":
		if r.executors.Extract != nil {
			r.executors.Extract.ExecuteExtractJob(ctx, job)
			return
		}
	case "batch_scrape":
		if r.executors.BatchScrape != nil {
			r.executors.BatchScrape.ExecuteBatchScrapeJob(ctx, job)
			return
		}
	}

	// Unknown or unconfigured job type; mark as failed.
	msg := "UNKNOWN_JOB_TYPE: " + job.Type
	_ = r.store.UpdateCrawlJobStatus(context.Background(), job.ID, string(StatusFailed), &msg)
}
