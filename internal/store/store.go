package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Store wraps a *sql.DB and exposes hand-written queries against the
// jobs/documents/teams/api_keys schema. There is no code-generation
// layer here; every query is a plain prepared statement.
type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Team represents a billing and concurrency scope. Every credential
// belongs to exactly one team.
type Team struct {
	ID               uuid.UUID
	Name             string
	CreditsRemaining int64
	TokenBudget      int64
	ConcurrencyMax   int32
	AllowZDR         bool
	ForceZDR         bool
	RateLimits       json.RawMessage
	CreatedAt        time.Time
}

// APIKey is a bearer credential scoped to a team.
type APIKey struct {
	ID                 uuid.UUID
	TeamID             uuid.UUID
	HashedKey          string
	Name               string
	RateLimitPerMinute sql.NullInt32
	IsAdmin            bool
	CreatedAt          time.Time
	RevokedAt          sql.NullTime
}

// Job is a unit of scrape/map/crawl/extract/batch_scrape work.
type Job struct {
	ID             uuid.UUID
	Type           string
	URL            string
	Status         string
	PriorityBand   string
	Priority       int32
	Sync           bool
	Input          json.RawMessage
	Output         pqtype.NullRawMessage
	Error          sql.NullString
	TeamID         uuid.NullUUID
	APIKeyID       uuid.NullUUID
	CrawlID        uuid.NullUUID
	ZDR            bool
	DRCleanBy      sql.NullTime
	Attempts       int32
	LeaseExpiresAt sql.NullTime
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Document is a single scraped page persisted against a job.
type Document struct {
	ID          uuid.UUID
	JobID       uuid.UUID
	URL         string
	URLKey      string
	CTTag       string
	Markdown    sql.NullString
	Html        sql.NullString
	RawHtml     sql.NullString
	Engine      sql.NullString
	Metadata    json.RawMessage
	ContentHash sql.NullString
	CreatedAt   time.Time
}

func hashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateRandomAPIKey generates a new raito_-prefixed credential, hashes
// it, and persists it against teamID. The raw key is returned exactly
// once; only its hash is stored.
func (s *Store) CreateRandomAPIKey(ctx context.Context, teamID uuid.UUID, name string, isAdmin bool) (string, APIKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", APIKey{}, err
	}
	raw := "raito_" + hex.EncodeToString(buf)

	key := APIKey{
		ID:        uuid.New(),
		TeamID:    teamID,
		HashedKey: hashAPIKey(raw),
		Name:      name,
		IsAdmin:   isAdmin,
		CreatedAt: time.Now().UTC(),
	}

	const q = `INSERT INTO api_keys (id, team_id, hashed_key, name, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.DB.ExecContext(ctx, q, key.ID, key.TeamID, key.HashedKey, key.Name, key.IsAdmin, key.CreatedAt); err != nil {
		return "", APIKey{}, err
	}

	return raw, key, nil
}

// GetAPIKeyByRawKey hashes raw and looks up the matching, non-revoked
// credential.
func (s *Store) GetAPIKeyByRawKey(ctx context.Context, raw string) (APIKey, error) {
	const q = `SELECT id, team_id, hashed_key, name, rate_limit_per_minute, is_admin, created_at, revoked_at
		FROM api_keys WHERE hashed_key = $1 AND revoked_at IS NULL`

	var k APIKey
	err := s.DB.QueryRowContext(ctx, q, hashAPIKey(raw)).Scan(
		&k.ID, &k.TeamID, &k.HashedKey, &k.Name, &k.RateLimitPerMinute, &k.IsAdmin, &k.CreatedAt, &k.RevokedAt,
	)
	return k, err
}

// GetTeamByID fetches a team's billing/concurrency profile.
func (s *Store) GetTeamByID(ctx context.Context, id uuid.UUID) (Team, error) {
	const q = `SELECT id, name, credits_remaining, token_budget, concurrency_max, allow_zdr, force_zdr, rate_limits, created_at
		FROM teams WHERE id = $1`

	var t Team
	err := s.DB.QueryRowContext(ctx, q, id).Scan(
		&t.ID, &t.Name, &t.CreditsRemaining, &t.TokenBudget, &t.ConcurrencyMax, &t.AllowZDR, &t.ForceZDR, &t.RateLimits, &t.CreatedAt,
	)
	return t, err
}

// GetTeamByName fetches a team by its display name, used by bootstrap
// seeding to find existing teams idempotently.
func (s *Store) GetTeamByName(ctx context.Context, name string) (Team, error) {
	const q = `SELECT id, name, credits_remaining, token_budget, concurrency_max, allow_zdr, force_zdr, rate_limits, created_at
		FROM teams WHERE name = $1`

	var t Team
	err := s.DB.QueryRowContext(ctx, q, name).Scan(
		&t.ID, &t.Name, &t.CreditsRemaining, &t.TokenBudget, &t.ConcurrencyMax, &t.AllowZDR, &t.ForceZDR, &t.RateLimits, &t.CreatedAt,
	)
	return t, err
}

// CreateTeam inserts a new team row.
func (s *Store) CreateTeam(ctx context.Context, t Team) (Team, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.RateLimits == nil {
		t.RateLimits = json.RawMessage(`{}`)
	}
	t.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO teams (id, name, credits_remaining, token_budget, concurrency_max, allow_zdr, force_zdr, rate_limits, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.DB.ExecContext(ctx, q, t.ID, t.Name, t.CreditsRemaining, t.TokenBudget, t.ConcurrencyMax, t.AllowZDR, t.ForceZDR, t.RateLimits, t.CreatedAt)
	return t, err
}

// DebitCredits atomically decrements a team's remaining credits and
// returns the resulting balance.
func (s *Store) DebitCredits(ctx context.Context, teamID uuid.UUID, amount int64) (int64, error) {
	const q = `UPDATE teams SET credits_remaining = credits_remaining - $2 WHERE id = $1 RETURNING credits_remaining`
	var balance int64
	err := s.DB.QueryRowContext(ctx, q, teamID, amount).Scan(&balance)
	return balance, err
}

// DebitTokens atomically decrements a team's token budget, used for
// LLM-backed operations that bill against tokens rather than credits.
func (s *Store) DebitTokens(ctx context.Context, teamID uuid.UUID, amount int64) (int64, error) {
	const q = `UPDATE teams SET token_budget = token_budget - $2 WHERE id = $1 RETURNING token_budget`
	var balance int64
	err := s.DB.QueryRowContext(ctx, q, teamID, amount).Scan(&balance)
	return balance, err
}

// CreateJob inserts a new job row. priorityBand should be one of
// "realtime", "crawl", "background".
func (s *Store) CreateJob(ctx context.Context, id uuid.UUID, jobType, url string, input interface{}, sync bool, priority int32, priorityBand string, teamID, apiKeyID *uuid.UUID, zdr bool) (Job, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return Job{}, err
	}

	j := Job{
		ID:           id,
		Type:         jobType,
		URL:          url,
		Status:       "pending",
		PriorityBand: priorityBand,
		Priority:     priority,
		Sync:         sync,
		Input:        payload,
		ZDR:          zdr,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if teamID != nil {
		j.TeamID = uuid.NullUUID{UUID: *teamID, Valid: true}
	}
	if apiKeyID != nil {
		j.APIKeyID = uuid.NullUUID{UUID: *apiKeyID, Valid: true}
	}
	if zdr {
		j.DRCleanBy = sql.NullTime{Time: j.CreatedAt.Add(7 * 24 * time.Hour), Valid: true}
	}

	const q = `INSERT INTO jobs (id, type, url, status, priority_band, priority, sync, input, team_id, api_key_id, zdr, dr_clean_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = s.DB.ExecContext(ctx, q, j.ID, j.Type, j.URL, j.Status, j.PriorityBand, j.Priority, j.Sync, j.Input, j.TeamID, j.APIKeyID, j.ZDR, j.DRCleanBy, j.CreatedAt, j.UpdatedAt)
	return j, err
}

// CreateCrawlJob wraps CreateJob with crawl-specific defaults: a
// "crawl" priority band and the job's own ID doubling as the crawl ID
// so child page jobs can reference it via CrawlID.
func (s *Store) CreateCrawlJob(ctx context.Context, id uuid.UUID, url string, input interface{}, teamID *uuid.UUID, zdr bool) (Job, error) {
	j, err := s.CreateJob(ctx, id, "crawl", url, input, false, 20, "crawl", teamID, nil, zdr)
	if err != nil {
		return Job{}, err
	}

	const q = `UPDATE jobs SET crawl_id = $1 WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, q, id); err != nil {
		return Job{}, err
	}
	j.CrawlID = uuid.NullUUID{UUID: id, Valid: true}
	return j, nil
}

// RecordCrawlChild persists a terminal child row for a page processed
// inside a crawl, so the per-page error and robots-blocked listings
// outlive the crawl's in-memory state. Child rows are born terminal;
// they are bookkeeping, not queue entries.
func (s *Store) RecordCrawlChild(ctx context.Context, crawlID uuid.UUID, url, status string, errMsg *string, teamID uuid.NullUUID, zdr bool) error {
	var e sql.NullString
	if errMsg != nil {
		e = sql.NullString{String: *errMsg, Valid: true}
	}
	storedURL := url
	if zdr {
		storedURL = ""
	}

	const q = `INSERT INTO jobs (id, type, url, status, priority_band, priority, sync, input, error, team_id, crawl_id, zdr, created_at, updated_at)
		VALUES ($1, 'scrape', $2, $3, 'crawl', 0, FALSE, '{}'::jsonb, $4, $5, $6, $7, now(), now())`
	_, err := s.DB.ExecContext(ctx, q, uuid.New(), storedURL, status, e, teamID, crawlID, zdr)
	return err
}

// UpdateCrawlJobStatus transitions a job to a terminal or in-progress
// status, optionally recording an error message.
func (s *Store) UpdateCrawlJobStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) error {
	const q = `UPDATE jobs SET status = $2, error = $3, updated_at = now() WHERE id = $1`
	var e sql.NullString
	if errMsg != nil {
		e = sql.NullString{String: *errMsg, Valid: true}
	}
	_, err := s.DB.ExecContext(ctx, q, id, status, e)
	return err
}

// SetJobOutput marks a job completed and stores its output payload.
// output is a pre-marshaled JSON payload; callers that already hold an
// encoded document or result object pass it straight through.
func (s *Store) SetJobOutput(ctx context.Context, id uuid.UUID, output json.RawMessage) error {
	const q = `UPDATE jobs SET status = 'completed', output = $2, updated_at = now() WHERE id = $1`
	_, err := s.DB.ExecContext(ctx, q, id, pqtype.NullRawMessage{RawMessage: output, Valid: true})
	return err
}

// AddDocument persists a single scraped page against a job. markdown,
// html, rawHTML, and engine are optional; statusCode is recorded
// alongside the page metadata for quick filtering without a JSON scan.
// urlKey is the index-normalized form of url, and ctTag (usually "")
// partitions the change-tracking comparison namespace.
func (s *Store) AddDocument(ctx context.Context, jobID uuid.UUID, url, urlKey, ctTag string, markdown, html, rawHTML *string, metadata json.RawMessage, statusCode *int32, engine *string) (Document, error) {
	d := Document{
		ID:        uuid.New(),
		JobID:     jobID,
		URL:       url,
		URLKey:    urlKey,
		CTTag:     ctTag,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if markdown != nil && *markdown != "" {
		d.Markdown = sql.NullString{String: *markdown, Valid: true}
	}
	if html != nil && *html != "" {
		d.Html = sql.NullString{String: *html, Valid: true}
	}
	if rawHTML != nil && *rawHTML != "" {
		d.RawHtml = sql.NullString{String: *rawHTML, Valid: true}
	}
	if engine != nil && *engine != "" {
		d.Engine = sql.NullString{String: *engine, Valid: true}
	}
	if len(d.Metadata) > 0 {
		sum := sha256.Sum256(d.Metadata)
		d.ContentHash = sql.NullString{String: hex.EncodeToString(sum[:]), Valid: true}
	}

	const q = `INSERT INTO documents (id, job_id, url, url_key, ct_tag, markdown, html, raw_html, engine, metadata, content_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.DB.ExecContext(ctx, q, d.ID, d.JobID, d.URL, d.URLKey, d.CTTag, d.Markdown, d.Html, d.RawHtml, d.Engine, d.Metadata, d.ContentHash, d.CreatedAt)
	return d, err
}

// GetLatestDocumentByURLKey returns the most recent document stored
// for an index-normalized URL within a change-tracking tag namespace,
// or nil when no prior version exists.
func (s *Store) GetLatestDocumentByURLKey(ctx context.Context, urlKey, ctTag string) (*Document, error) {
	const q = `SELECT id, job_id, url, url_key, ct_tag, markdown, html, raw_html, engine, metadata, content_hash, created_at
		FROM documents WHERE url_key = $1 AND ct_tag = $2 ORDER BY created_at DESC LIMIT 1`

	var d Document
	err := s.DB.QueryRowContext(ctx, q, urlKey, ctTag).Scan(
		&d.ID, &d.JobID, &d.URL, &d.URLKey, &d.CTTag, &d.Markdown, &d.Html, &d.RawHtml, &d.Engine, &d.Metadata, &d.ContentHash, &d.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetCrawlJobAndDocuments fetches a job along with every document
// recorded against it, used by crawl and batch-scrape status endpoints.
func (s *Store) GetCrawlJobAndDocuments(ctx context.Context, id uuid.UUID) (Job, []Document, error) {
	job, err := s.GetJobByID(ctx, id)
	if err != nil {
		return Job{}, nil, err
	}

	const q = `SELECT id, job_id, url, url_key, ct_tag, markdown, html, raw_html, engine, metadata, content_hash, created_at
		FROM documents WHERE job_id = $1 ORDER BY created_at ASC`
	rows, err := s.DB.QueryContext(ctx, q, id)
	if err != nil {
		return Job{}, nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.JobID, &d.URL, &d.URLKey, &d.CTTag, &d.Markdown, &d.Html, &d.RawHtml, &d.Engine, &d.Metadata, &d.ContentHash, &d.CreatedAt); err != nil {
			return Job{}, nil, err
		}
		docs = append(docs, d)
	}

	return job, docs, rows.Err()
}

var jobColumns = `id, type, url, status, priority_band, priority, sync, input, output, error, team_id, api_key_id, crawl_id, zdr, dr_clean_by, attempts, lease_expires_at, created_at, updated_at`

func scanJob(row interface {
	Scan(dest ...interface{}) error
}) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.Type, &j.URL, &j.Status, &j.PriorityBand, &j.Priority, &j.Sync, &j.Input, &j.Output, &j.Error,
		&j.TeamID, &j.APIKeyID, &j.CrawlID, &j.ZDR, &j.DRCleanBy, &j.Attempts, &j.LeaseExpiresAt, &j.CreatedAt, &j.UpdatedAt,
	)
	return j, err
}

func scanJobRows(rows *sql.Rows) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetJobByID fetches a single job row.
func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID) (Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return scanJob(s.DB.QueryRowContext(ctx, q, id))
}

// ListPendingJobs returns up to limit pending jobs ordered by priority
// band weight, then priority, then age. Used by operational tooling;
// the worker dispatch path reserves through ReservePendingJobs so two
// workers never pick up the same job.
func (s *Store) ListPendingJobs(ctx context.Context, limit int32) ([]Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'pending'
		ORDER BY
			CASE priority_band WHEN 'realtime' THEN 0 WHEN 'crawl' THEN 1 ELSE 2 END,
			priority DESC,
			created_at ASC
		LIMIT $1`

	rows, err := s.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobRows(rows)
}

// ReservePendingJobs atomically claims up to limit pending jobs from a
// single priority band, granting each a visibility lease of leaseTTL.
// Claimed jobs move to 'running' with attempts incremented; SKIP
// LOCKED keeps concurrent worker processes from double-reserving.
func (s *Store) ReservePendingJobs(ctx context.Context, band string, limit int32, leaseTTL time.Duration) ([]Job, error) {
	q := `UPDATE jobs SET status = 'running', attempts = attempts + 1,
			lease_expires_at = now() + $3::interval, updated_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending' AND priority_band = $1
			ORDER BY priority DESC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	interval := fmt.Sprintf("%d milliseconds", leaseTTL.Milliseconds())
	rows, err := s.DB.QueryContext(ctx, q, band, limit, interval)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobRows(rows)
}

// RequeueExpiredLeases returns running jobs whose visibility lease has
// lapsed (worker crashed or stalled) to the pending state so another
// worker can pick them up. Jobs that have burned through maxAttempts
// are failed instead of requeued.
func (s *Store) RequeueExpiredLeases(ctx context.Context, maxAttempts int32) (int64, error) {
	const qFail = `UPDATE jobs SET status = 'failed', error = 'JOB_EXPIRED_ERROR: visibility lease expired after max attempts', lease_expires_at = NULL, updated_at = now()
		WHERE status = 'running' AND lease_expires_at IS NOT NULL AND lease_expires_at < now() AND attempts >= $1`
	if _, err := s.DB.ExecContext(ctx, qFail, maxAttempts); err != nil {
		return 0, err
	}

	const q = `UPDATE jobs SET status = 'pending', lease_expires_at = NULL, updated_at = now()
		WHERE status = 'running' AND lease_expires_at IS NOT NULL AND lease_expires_at < now()`
	res, err := s.DB.ExecContext(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RequeueJobForRetry puts a failed-but-retryable job back in its band,
// recording the error that caused the retry. The caller is responsible
// for checking the job's attempts against the retry policy first.
func (s *Store) RequeueJobForRetry(ctx context.Context, id uuid.UUID, errMsg string) error {
	const q = `UPDATE jobs SET status = 'pending', error = $2, lease_expires_at = NULL, updated_at = now() WHERE id = $1`
	_, err := s.DB.ExecContext(ctx, q, id, errMsg)
	return err
}

// JobListFilter narrows ListJobs by job type and/or team.
type JobListFilter struct {
	Type   string
	TeamID *uuid.UUID
	Limit  int32
}

// ListJobs returns jobs matching the given filter, most recent first.
func (s *Store) ListJobs(ctx context.Context, filter JobListFilter) ([]Job, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`)

	var args []interface{}
	argN := 1
	if filter.Type != "" {
		sb.WriteString(fmt.Sprintf(" AND type = $%d", argN))
		args = append(args, filter.Type)
		argN++
	}
	if filter.TeamID != nil {
		sb.WriteString(fmt.Sprintf(" AND team_id = $%d", argN))
		args = append(args, *filter.TeamID)
		argN++
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", argN))
		args = append(args, filter.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobRows(rows)
}

// ListCrawlChildren returns every page job belonging to a crawl, used
// by the crawl errors endpoint.
func (s *Store) ListCrawlChildren(ctx context.Context, crawlID uuid.UUID) ([]Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE crawl_id = $1 ORDER BY created_at ASC`
	rows, err := s.DB.QueryContext(ctx, q, crawlID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobRows(rows)
}

// ListOngoingCrawls returns crawl jobs that have not yet reached a
// terminal status, scoped to a team.
func (s *Store) ListOngoingCrawls(ctx context.Context, teamID uuid.UUID) ([]Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs
		WHERE type = 'crawl' AND team_id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		ORDER BY created_at DESC`
	rows, err := s.DB.QueryContext(ctx, q, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobRows(rows)
}

// CancelJob marks a job (and, for crawls, every unterminated child
// job) as cancelled. It is idempotent against already-terminal jobs.
func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `UPDATE jobs SET status = 'cancelled', updated_at = now() WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`
	if _, err := tx.ExecContext(ctx, q, id); err != nil {
		return err
	}

	const qChildren = `UPDATE jobs SET status = 'cancelled', updated_at = now() WHERE crawl_id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`
	if _, err := tx.ExecContext(ctx, qChildren, id); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteExpiredDocuments removes documents older than cutoff.
func (s *Store) DeleteExpiredDocuments(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM documents WHERE created_at < $1`
	res, err := s.DB.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredJobsByType removes terminal jobs of a given type older
// than cutoff.
func (s *Store) DeleteExpiredJobsByType(ctx context.Context, jobType string, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM jobs WHERE type = $1 AND status IN ('completed', 'failed', 'cancelled') AND created_at < $2`
	res, err := s.DB.ExecContext(ctx, q, jobType, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListZDRDueJobs returns zero-data-retention jobs whose dr_clean_by
// deadline has passed, regardless of status. The scan is bounded to a
// 7-day lookback so the partial index stays cheap to walk; anything
// older has already been swept or scrubbed at write time.
func (s *Store) ListZDRDueJobs(ctx context.Context, now time.Time, limit int32) ([]Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs
		WHERE zdr = TRUE AND dr_clean_by IS NOT NULL AND dr_clean_by <= $1 AND dr_clean_by > $1 - interval '7 days'
		LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobRows(rows)
}

// ScrubJob destroys the retained payload of a job (input/output/error
// and its documents) while leaving a tombstone row behind for audit
// purposes.
func (s *Store) ScrubJob(ctx context.Context, id uuid.UUID) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE job_id = $1`, id); err != nil {
		return err
	}

	const q = `UPDATE jobs SET input = '{}'::jsonb, output = NULL, error = NULL, url = '', dr_clean_by = NULL WHERE id = $1`
	if _, err := tx.ExecContext(ctx, q, id); err != nil {
		return err
	}

	return tx.Commit()
}

// IndexEntry is a Result Index row mapping a fingerprint to the
// document it was produced from.
type IndexEntry struct {
	ID          uuid.UUID
	Fingerprint string
	DocumentID  uuid.UUID
	TeamID      uuid.NullUUID
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// GetIndexEntry looks up a non-expired index entry by fingerprint and
// returns the document it points to. A nil *IndexEntry (with no error)
// means there is no usable cache entry.
func (s *Store) GetIndexEntry(ctx context.Context, fingerprint string) (*IndexEntry, Document, error) {
	const q = `SELECT ie.id, ie.fingerprint, ie.document_id, ie.team_id, ie.created_at, ie.expires_at,
			d.id, d.job_id, d.url, d.url_key, d.ct_tag, d.markdown, d.html, d.raw_html, d.engine, d.metadata, d.content_hash, d.created_at
		FROM index_entries ie
		JOIN documents d ON d.id = ie.document_id
		WHERE ie.fingerprint = $1 AND ie.expires_at > now()`

	var e IndexEntry
	var d Document
	err := s.DB.QueryRowContext(ctx, q, fingerprint).Scan(
		&e.ID, &e.Fingerprint, &e.DocumentID, &e.TeamID, &e.CreatedAt, &e.ExpiresAt,
		&d.ID, &d.JobID, &d.URL, &d.URLKey, &d.CTTag, &d.Markdown, &d.Html, &d.RawHtml, &d.Engine, &d.Metadata, &d.ContentHash, &d.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, Document{}, nil
	}
	if err != nil {
		return nil, Document{}, err
	}
	return &e, d, nil
}

// UpsertIndexEntry records (or refreshes) the cache entry for
// fingerprint, pointing it at documentID.
func (s *Store) UpsertIndexEntry(ctx context.Context, fingerprint string, documentID uuid.UUID, teamID *uuid.UUID, expiresAt time.Time) error {
	var t uuid.NullUUID
	if teamID != nil {
		t = uuid.NullUUID{UUID: *teamID, Valid: true}
	}

	const q = `INSERT INTO index_entries (id, fingerprint, document_id, team_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, now(), $5)
		ON CONFLICT (fingerprint) DO UPDATE SET document_id = $3, team_id = $4, created_at = now(), expires_at = $5`
	_, err := s.DB.ExecContext(ctx, q, uuid.New(), fingerprint, documentID, t, expiresAt)
	return err
}

// DeleteExpiredIndexEntries removes index entries past their freshness
// window, called from the retention cleanup loop.
func (s *Store) DeleteExpiredIndexEntries(ctx context.Context) (int64, error) {
	const q = `DELETE FROM index_entries WHERE expires_at < now()`
	res, err := s.DB.ExecContext(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordBillingBatch persists a flushed batch of usage for audit and
// reporting purposes. It does not itself debit credits; callers debit
// via DebitCredits in the same logical flush before recording here.
func (s *Store) RecordBillingBatch(ctx context.Context, teamID uuid.UUID, creditsUsed, tokensUsed int64, opCount int) error {
	const q = `INSERT INTO billing_batches (id, team_id, credits_used, tokens_used, op_count, flushed_at)
		VALUES ($1, $2, $3, $4, $5, now())`
	_, err := s.DB.ExecContext(ctx, q, uuid.New(), teamID, creditsUsed, tokensUsed, opCount)
	return err
}

// EnsureAdminAPIKey creates an admin credential bound to an
// auto-provisioned "system" team if and only if rawKey does not
// already resolve to an existing credential. It is safe to call on
// every startup.
func (s *Store) EnsureAdminAPIKey(ctx context.Context, rawKey, name string) error {
	if rawKey == "" {
		return nil
	}
	if name == "" {
		name = "bootstrap-admin"
	}

	if _, err := s.GetAPIKeyByRawKey(ctx, rawKey); err == nil {
		return nil
	} else if err != sql.ErrNoRows {
		return err
	}

	team, err := s.GetTeamByName(ctx, "system")
	if err != nil {
		if err != sql.ErrNoRows {
			return err
		}
		team, err = s.CreateTeam(ctx, Team{
			Name:             "system",
			CreditsRemaining: 1 << 40,
			TokenBudget:      1 << 40,
			ConcurrencyMax:   1000,
		})
		if err != nil {
			return err
		}
	}

	key := APIKey{
		ID:        uuid.New(),
		TeamID:    team.ID,
		HashedKey: hashAPIKey(rawKey),
		Name:      name,
		IsAdmin:   true,
		CreatedAt: time.Now().UTC(),
	}

	const q = `INSERT INTO api_keys (id, team_id, hashed_key, name, is_admin, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = s.DB.ExecContext(ctx, q, key.ID, key.TeamID, key.HashedKey, key.Name, key.IsAdmin, key.CreatedAt)
	return err
}
