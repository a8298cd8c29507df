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
// Application Methods
// -----------------------------------------------------------------------------

const applicationColumns = `id, candidate_id, posting_id, match_score, generation_confidence,
	cv_text, cover_letter_text, notes, needs_attention, submit_attempts, receipt, created_at, updated_at`

// CreateApplication inserts the application and its initial timeline in one transaction
func (db *DB) CreateApplication(ctx context.Context, app *types.Application) error {
	receiptJSON, err := marshalReceipt(app.Receipt)
	if err != nil {
		return err
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx,
		`INSERT INTO applications (candidate_id, posting_id, match_score, generation_confidence,
		                           cv_text, cover_letter_text, notes, needs_attention,
		                           submit_attempts, receipt, stage, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		app.CandidateID, app.PostingID, app.MatchScore, app.GenerationConfidence,
		app.CVText, app.CoverLetterText, app.Notes, app.NeedsAttention,
		app.SubmitAttempts, receiptJSON, string(app.Stage()), app.CreatedAt, app.UpdatedAt,
	).Scan(&app.ID)
	if err != nil {
		return wrap(fmt.Sprintf("create application %s/%s", app.CandidateID, app.PostingID), err)
	}

	if err := insertEvents(ctx, tx, app.ID, 0, app.Timeline); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit application: %w", err)
	}
	return nil
}

// GetApplication retrieves an application with its full timeline
func (db *DB) GetApplication(ctx context.Context, id int64) (*types.Application, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if err != nil {
		return nil, wrap(fmt.Sprintf("get application %d", id), err)
	}
	if err := db.loadTimelines(ctx, []*types.Application{app}); err != nil {
		return nil, err
	}
	return app, nil
}

// GetApplicationByPosting retrieves the application for a (candidate, posting) pair
func (db *DB) GetApplicationByPosting(ctx context.Context, candidateID, postingID string) (*types.Application, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE candidate_id = $1 AND posting_id = $2`,
		candidateID, postingID)
	app, err := scanApplication(row)
	if err != nil {
		return nil, wrap(fmt.Sprintf("get application %s/%s", candidateID, postingID), err)
	}
	if err := db.loadTimelines(ctx, []*types.Application{app}); err != nil {
		return nil, err
	}
	return app, nil
}

// ListApplications lists applications ordered by id
func (db *DB) ListApplications(ctx context.Context, filter store.ApplicationFilter) ([]types.Application, error) {
	stages := make([]string, 0, len(filter.Stages))
	for _, s := range filter.Stages {
		stages = append(stages, string(s))
	}

	query := `SELECT ` + applicationColumns + ` FROM applications
		WHERE ($1::text = '' OR candidate_id = $1)
		  AND (cardinality($2::text[]) = 0 OR stage = ANY($2))
		  AND ($3::boolean IS NULL OR needs_attention = $3)
		ORDER BY id`
	args := []any{filter.CandidateID, stages, filter.NeedsAttention}
	if filter.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, filter.Limit)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	var ptrs []*types.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		ptrs = append(ptrs, app)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}

	if err := db.loadTimelines(ctx, ptrs); err != nil {
		return nil, err
	}
	apps := make([]types.Application, 0, len(ptrs))
	for _, app := range ptrs {
		apps = append(apps, *app)
	}
	return apps, nil
}

// SaveApplication updates mutable columns and appends new timeline events. The row is
// locked for the duration so concurrent writers cannot interleave appends.
func (db *DB) SaveApplication(ctx context.Context, app *types.Application) error {
	receiptJSON, err := marshalReceipt(app.Receipt)
	if err != nil {
		return err
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var stored int
	err = tx.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM application_events WHERE application_id = a.id)
		 FROM applications a WHERE a.id = $1 FOR UPDATE`,
		app.ID,
	).Scan(&stored)
	if err != nil {
		return wrap(fmt.Sprintf("save application %d", app.ID), err)
	}
	if len(app.Timeline) < stored {
		return fmt.Errorf("application %d: timeline shrank from %d to %d events", app.ID, stored, len(app.Timeline))
	}

	_, err = tx.Exec(ctx,
		`UPDATE applications SET match_score = $2, generation_confidence = $3, cv_text = $4,
		        cover_letter_text = $5, notes = $6, needs_attention = $7, submit_attempts = $8,
		        receipt = $9, stage = $10, updated_at = $11
		 WHERE id = $1`,
		app.ID, app.MatchScore, app.GenerationConfidence, app.CVText, app.CoverLetterText,
		app.Notes, app.NeedsAttention, app.SubmitAttempts, receiptJSON, string(app.Stage()), app.UpdatedAt,
	)
	if err != nil {
		return wrap(fmt.Sprintf("save application %d", app.ID), err)
	}

	if err := insertEvents(ctx, tx, app.ID, stored, app.Timeline[stored:]); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit application %d: %w", app.ID, err)
	}
	return nil
}

// CountEventsSince counts applications having an event of kind at or after since
func (db *DB) CountEventsSince(ctx context.Context, candidateID string, kind types.EventKind, since time.Time) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT e.application_id)
		 FROM application_events e JOIN applications a ON a.id = e.application_id
		 WHERE ($1::text = '' OR a.candidate_id = $1) AND e.kind = $2 AND e.at >= $3`,
		candidateID, string(kind), since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s events: %w", kind, err)
	}
	return n, nil
}

func insertEvents(ctx context.Context, tx pgx.Tx, appID int64, offset int, events []types.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, ev := range events {
		batch.Queue(
			`INSERT INTO application_events (application_id, seq, at, kind, actor, detail)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			appID, offset+i, ev.At, string(ev.Kind), ev.Actor, ev.Detail,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrap(fmt.Sprintf("append events for application %d", appID), err)
	}
	return nil
}

// loadTimelines fills the Timeline of every application with one query.
func (db *DB) loadTimelines(ctx context.Context, apps []*types.Application) error {
	if len(apps) == 0 {
		return nil
	}
	ids := make([]int64, len(apps))
	byID := make(map[int64]*types.Application, len(apps))
	for i, app := range apps {
		ids[i] = app.ID
		byID[app.ID] = app
		app.Timeline = nil
	}

	rows, err := db.pool.Query(ctx,
		`SELECT application_id, at, kind, actor, detail FROM application_events
		 WHERE application_id = ANY($1) ORDER BY application_id, seq`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("failed to load timelines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var appID int64
		var ev types.TimelineEvent
		var kind string
		if err := rows.Scan(&appID, &ev.At, &kind, &ev.Actor, &ev.Detail); err != nil {
			return fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Kind = types.EventKind(kind)
		byID[appID].Timeline = append(byID[appID].Timeline, ev)
	}
	return rows.Err()
}

func scanApplication(row pgx.Row) (*types.Application, error) {
	var app types.Application
	var receiptJSON []byte
	err := row.Scan(&app.ID, &app.CandidateID, &app.PostingID, &app.MatchScore,
		&app.GenerationConfidence, &app.CVText, &app.CoverLetterText, &app.Notes,
		&app.NeedsAttention, &app.SubmitAttempts, &receiptJSON, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if receiptJSON != nil {
		var r types.SubmissionReceipt
		if err := json.Unmarshal(receiptJSON, &r); err != nil {
			return nil, fmt.Errorf("failed to decode receipt: %w", err)
		}
		app.Receipt = &r
	}
	return &app, nil
}

func marshalReceipt(r *types.SubmissionReceipt) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return b, nil
}
