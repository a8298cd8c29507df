package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/types"
)

// -----------------------------------------------------------------------------
// Posting Methods
// -----------------------------------------------------------------------------

const postingColumns = `id, title, company, location, remote, salary_min, salary_max, salary_currency,
	posted_at, requirements, description, url, source, contact_email, stage, score_attempts,
	needs_attention, discovered_at`

// CreatePosting inserts a newly discovered posting
func (db *DB) CreatePosting(ctx context.Context, p *types.JobPosting) error {
	reqJSON, err := json.Marshal(nonNilStrings(p.Requirements))
	if err != nil {
		return fmt.Errorf("failed to marshal requirements: %w", err)
	}

	var salaryMin, salaryMax *int
	var currency *string
	if p.Salary != nil {
		salaryMin, salaryMax, currency = &p.Salary.Min, &p.Salary.Max, &p.Salary.Currency
	}
	var postedAt *time.Time
	if !p.PostedAt.IsZero() {
		postedAt = &p.PostedAt
	}
	stage := p.Stage
	if stage == "" {
		stage = types.PostingDiscovered
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO postings (id, title, company, location, remote, salary_min, salary_max,
		                       salary_currency, posted_at, requirements, description, url, source,
		                       contact_email, stage, score_attempts, needs_attention, discovered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		p.ID, p.Title, p.Company, p.Location, p.Remote, salaryMin, salaryMax, currency,
		postedAt, reqJSON, p.Description, p.URL, p.Source, p.ContactEmail, string(stage),
		p.ScoreAttempts, p.NeedsAttention, p.DiscoveredAt,
	)
	if err != nil {
		return wrap("create posting "+p.ID, err)
	}
	return nil
}

// GetPosting retrieves a posting by id
func (db *DB) GetPosting(ctx context.Context, id string) (*types.JobPosting, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+postingColumns+` FROM postings WHERE id = $1`, id)
	p, err := scanPosting(row)
	if err != nil {
		return nil, wrap("get posting "+id, err)
	}
	return p, nil
}

// ListPostings lists postings in discovery order
func (db *DB) ListPostings(ctx context.Context, filter store.PostingFilter) ([]types.JobPosting, error) {
	query := `SELECT ` + postingColumns + ` FROM postings WHERE ($1::text = '' OR stage = $1) ORDER BY seq`
	args := []any{string(filter.Stage)}
	if filter.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, filter.Limit)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list postings: %w", err)
	}
	defer rows.Close()

	var postings []types.JobPosting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan posting: %w", err)
		}
		postings = append(postings, *p)
	}
	return postings, rows.Err()
}

// UpdatePostingStatus updates the mutable stage and scoring bookkeeping of a posting
func (db *DB) UpdatePostingStatus(ctx context.Context, id string, stage types.PostingStage, scoreAttempts int, needsAttention bool) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE postings SET stage = $2, score_attempts = $3, needs_attention = $4 WHERE id = $1`,
		id, string(stage), scoreAttempts, needsAttention,
	)
	if err != nil {
		return wrap("update posting "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update posting %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func scanPosting(row pgx.Row) (*types.JobPosting, error) {
	var p types.JobPosting
	var salaryMin, salaryMax *int
	var currency *string
	var postedAt *time.Time
	var reqJSON []byte
	var stage string

	err := row.Scan(&p.ID, &p.Title, &p.Company, &p.Location, &p.Remote, &salaryMin, &salaryMax,
		&currency, &postedAt, &reqJSON, &p.Description, &p.URL, &p.Source, &p.ContactEmail,
		&stage, &p.ScoreAttempts, &p.NeedsAttention, &p.DiscoveredAt)
	if err != nil {
		return nil, err
	}

	p.Stage = types.PostingStage(stage)
	if salaryMin != nil || salaryMax != nil {
		p.Salary = &types.SalaryRange{Min: deref(salaryMin), Max: deref(salaryMax)}
		if currency != nil {
			p.Salary.Currency = *currency
		}
	}
	if postedAt != nil {
		p.PostedAt = *postedAt
	}
	if reqJSON != nil {
		_ = json.Unmarshal(reqJSON, &p.Requirements)
	}
	return &p, nil
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
