package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonathan/jobhunter/internal/types"
)

// GetProfile loads the candidate profile stored as a JSONB document
func (db *DB) GetProfile(ctx context.Context, id string) (*types.CandidateProfile, error) {
	var data []byte
	err := db.pool.QueryRow(ctx, `SELECT data FROM profiles WHERE id = $1`, id).Scan(&data)
	if err != nil {
		return nil, wrap("get profile "+id, err)
	}

	var p types.CandidateProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", id, err)
	}
	return &p, nil
}

// SaveProfile creates or replaces the candidate profile
func (db *DB) SaveProfile(ctx context.Context, p *types.CandidateProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO profiles (id, data) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = $2, updated_at = NOW()`,
		p.ID, data,
	)
	if err != nil {
		return wrap("save profile "+p.ID, err)
	}
	return nil
}
