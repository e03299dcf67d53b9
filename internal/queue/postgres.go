package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres is the production Manager, backed by the job_queue table
// created by the migrate package. Every state transition is a single
// conditional UPDATE ... WHERE status = $current, the "conditional
// update on primary key" pattern spec §5 requires instead of
// multi-document transactions.
type Postgres struct {
	DB *sql.DB
}

// OpenPostgres wraps an already-open *sql.DB, matching the teacher's
// store.New(database *sql.DB) shape so the caller owns pool settings.
func OpenPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db}
}

func scanItem(scan func(dest ...any) error) (Item, error) {
	var (
		it            Item
		companyID     sql.NullString
		submittedBy   sql.NullString
		scrapedData   []byte
		errKind       sql.NullString
		errMsg        sql.NullString
		errAt         sql.NullTime
		resultMessage sql.NullString
		processedAt   sql.NullTime
		completedAt   sql.NullTime
		leaseExpires  sql.NullTime
	)

	if err := scan(
		&it.ID, &it.Type, &it.Status, &it.URL, &it.URLHash, &it.CompanyName,
		&companyID, &it.Source, &submittedBy, &scrapedData,
		&it.RetryCount, &it.MaxRetries,
		&errKind, &errMsg, &errAt, &resultMessage,
		&it.CreatedAt, &it.UpdatedAt, &processedAt, &completedAt, &leaseExpires,
	); err != nil {
		return Item{}, err
	}

	if companyID.Valid {
		id, err := uuid.Parse(companyID.String)
		if err == nil {
			it.CompanyID = &id
		}
	}
	it.SubmittedBy = submittedBy.String
	it.ScrapedData = scrapedData
	it.ResultMessage = resultMessage.String
	if errKind.Valid {
		it.ErrorDetails = &ErrorDetails{
			Kind:      ErrorKind(errKind.String),
			Message:   errMsg.String,
			Timestamp: errAt.Time,
		}
	}
	if processedAt.Valid {
		t := processedAt.Time
		it.ProcessedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		it.CompletedAt = &t
	}
	if leaseExpires.Valid {
		t := leaseExpires.Time
		it.LeaseExpiresAt = &t
	}

	return it, nil
}

const selectColumns = `
	id, type, status, url, url_hash, company_name,
	company_id, source, submitted_by, scraped_data,
	retry_count, max_retries,
	error_kind, error_message, error_at, result_message,
	created_at, updated_at, processed_at, completed_at, lease_expires_at
`

func (p *Postgres) Enqueue(in NewItem) (Item, error) {
	ctx := context.Background()

	var exists bool
	err := p.DB.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM job_queue
			WHERE url_hash = $1 AND status NOT IN ('SUCCESS', 'SKIPPED', 'FAILED')
		)
	`, in.URLHash).Scan(&exists)
	if err != nil {
		return Item{}, fmt.Errorf("enqueue: check duplicate: %w", err)
	}
	if exists {
		return Item{}, ErrDuplicateURL
	}

	maxRetries := in.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	id := uuid.New()
	now := time.Now().UTC()

	row := p.DB.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO job_queue (
			id, type, status, url, url_hash, company_name,
			source, submitted_by, scraped_data, retry_count, max_retries,
			created_at, updated_at
		) VALUES (
			$1, $2, 'PENDING', $3, $4, $5,
			$6, $7, $8, 0, $9,
			$10, $10
		)
		RETURNING %s
	`, selectColumns), id, in.Type, in.URL, in.URLHash, in.CompanyName,
		in.Source, nullIfEmpty(in.SubmittedBy), nullableBytes(in.ScrapedData), maxRetries, now)

	it, err := scanItem(row.Scan)
	if err != nil {
		return Item{}, fmt.Errorf("enqueue: %w", err)
	}
	return it, nil
}

func (p *Postgres) Claim(batchSize int, lease time.Duration) ([]Item, error) {
	ctx := context.Background()
	now := time.Now().UTC()

	// Stale-lease recovery: every claim first reclaims PROCESSING
	// items whose lease has expired, without incrementing retry_count
	// (spec §4.E).
	if _, err := p.DB.ExecContext(ctx, `
		UPDATE job_queue
		SET status = 'PENDING', lease_expires_at = NULL, updated_at = $1
		WHERE status = 'PROCESSING' AND lease_expires_at < $1
	`, now); err != nil {
		return nil, fmt.Errorf("claim: recover stale leases: %w", err)
	}

	rows, err := p.DB.QueryContext(ctx, `
		SELECT id FROM job_queue
		WHERE status = 'PENDING'
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claim: select candidates: %w", err)
	}
	var candidates []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("claim: scan candidate: %w", err)
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("claim: %w", err)
	}
	rows.Close()

	expiry := now.Add(lease)
	claimed := make([]Item, 0, len(candidates))
	for _, id := range candidates {
		row := p.DB.QueryRowContext(ctx, fmt.Sprintf(`
			UPDATE job_queue
			SET status = 'PROCESSING', lease_expires_at = $2, processed_at = $3, updated_at = $3
			WHERE id = $1 AND status = 'PENDING'
			RETURNING %s
		`, selectColumns), id, expiry, now)

		it, err := scanItem(row.Scan)
		if err == sql.ErrNoRows {
			// Another worker claimed it first; skip (spec §4.E).
			continue
		}
		if err != nil {
			return claimed, fmt.Errorf("claim: update %s: %w", id, err)
		}
		claimed = append(claimed, it)
	}

	return claimed, nil
}

func (p *Postgres) Complete(id uuid.UUID, status Status, resultMessage string) error {
	ctx := context.Background()
	now := time.Now().UTC()

	res, err := p.DB.ExecContext(ctx, `
		UPDATE job_queue
		SET status = $2, result_message = $3, completed_at = $4, updated_at = $4, lease_expires_at = NULL
		WHERE id = $1 AND status NOT IN ('SUCCESS', 'SKIPPED', 'FAILED')
	`, id, status, nullIfEmpty(resultMessage), now)
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Either already terminal (no-op, per spec) or missing.
		var exists bool
		_ = p.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM job_queue WHERE id = $1)`, id).Scan(&exists)
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (p *Postgres) Release(id uuid.UUID, kind ErrorKind, message string) error {
	ctx := context.Background()
	now := time.Now().UTC()

	item, err := p.Get(id)
	if err != nil {
		return err
	}
	if item.Status.IsTerminal() {
		return nil
	}

	nextRetry := item.RetryCount + 1
	if nextRetry >= item.MaxRetries {
		_, err = p.DB.ExecContext(ctx, `
			UPDATE job_queue
			SET status = 'FAILED', retry_count = $2, error_kind = $3, error_message = $4, error_at = $5,
				completed_at = $5, updated_at = $5, lease_expires_at = NULL
			WHERE id = $1 AND status NOT IN ('SUCCESS', 'SKIPPED', 'FAILED')
		`, id, nextRetry, kind, message, now)
	} else {
		_, err = p.DB.ExecContext(ctx, `
			UPDATE job_queue
			SET status = 'PENDING', retry_count = $2, error_kind = $3, error_message = $4, error_at = $5,
				updated_at = $5, lease_expires_at = NULL
			WHERE id = $1 AND status NOT IN ('SUCCESS', 'SKIPPED', 'FAILED')
		`, id, nextRetry, kind, message, now)
	}
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}

func (p *Postgres) Stats() (Stats, error) {
	ctx := context.Background()
	rows, err := p.DB.QueryContext(ctx, `
		SELECT status, count(*) FROM job_queue GROUP BY status
	`)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			s.Pending = count
		case StatusProcessing:
			s.Processing = count
		case StatusSuccess:
			s.Success = count
		case StatusFailed:
			s.Failed = count
		case StatusSkipped:
			s.Skipped = count
		}
	}
	return s, rows.Err()
}

func (p *Postgres) Cleanup(olderThan time.Duration) (int64, error) {
	ctx := context.Background()
	cutoff := time.Now().UTC().Add(-olderThan)

	res, err := p.DB.ExecContext(ctx, `
		DELETE FROM job_queue
		WHERE status IN ('SUCCESS', 'SKIPPED', 'FAILED') AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (p *Postgres) Get(id uuid.UUID) (Item, error) {
	ctx := context.Background()
	row := p.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM job_queue WHERE id = $1`, selectColumns), id)
	it, err := scanItem(row.Scan)
	if err == sql.ErrNoRows {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get: %w", err)
	}
	return it, nil
}

func (p *Postgres) SetCompanyID(id uuid.UUID, companyID uuid.UUID) error {
	ctx := context.Background()
	_, err := p.DB.ExecContext(ctx, `
		UPDATE job_queue SET company_id = $2, updated_at = $3 WHERE id = $1
	`, id, companyID, time.Now().UTC())
	return err
}

func (p *Postgres) SetScrapedData(id uuid.UUID, data []byte) error {
	ctx := context.Background()
	_, err := p.DB.ExecContext(ctx, `
		UPDATE job_queue SET scraped_data = $2, updated_at = $3 WHERE id = $1
	`, id, data, time.Now().UTC())
	return err
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return json.RawMessage("{}")
	}
	return b
}
