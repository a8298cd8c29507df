package db

import (
	"context"
	"fmt"

	"github.com/jonathan/jobhunter/internal/types"
)

// SaveScore records a score. A second write for the same pair fails with store.ErrDuplicate.
func (db *DB) SaveScore(ctx context.Context, s types.Score) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO scores (candidate_id, posting_id, match_score, rationale, scored_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.CandidateID, s.PostingID, s.MatchScore, s.Rationale, s.ScoredAt,
	)
	if err != nil {
		return wrap(fmt.Sprintf("save score %s/%s", s.CandidateID, s.PostingID), err)
	}
	return nil
}

// GetScore retrieves the cached score for a pair
func (db *DB) GetScore(ctx context.Context, candidateID, postingID string) (*types.Score, error) {
	s := types.Score{CandidateID: candidateID, PostingID: postingID}
	err := db.pool.QueryRow(ctx,
		`SELECT match_score, rationale, scored_at FROM scores
		 WHERE candidate_id = $1 AND posting_id = $2`,
		candidateID, postingID,
	).Scan(&s.MatchScore, &s.Rationale, &s.ScoredAt)
	if err != nil {
		return nil, wrap(fmt.Sprintf("get score %s/%s", candidateID, postingID), err)
	}
	return &s, nil
}
