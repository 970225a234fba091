package itemstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *Store) CreateModel(ctx context.Context, m Model) error {
	if m.ModelID == "" || m.ProfileID == "" {
		return fmt.Errorf("model id and profile id are required")
	}
	if m.Status == "" {
		m.Status = ModelStatusQueued
	}
	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO models (model_id, profile_id, name, status, artifact_location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ModelID, m.ProfileID, m.Name, string(m.Status), nullString(m.ArtifactLocation), formatTime(m.CreatedAt), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert model: %w", err)
	}
	return nil
}

func (s *Store) GetModel(ctx context.Context, key ModelKey) (*Model, error) {
	var (
		m                    Model
		status               string
		artifact             sql.NullString
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT model_id, profile_id, name, status, artifact_location, created_at, updated_at
		FROM models WHERE profile_id = ? AND model_id = ?
	`, key.ProfileID, key.ModelID).Scan(&m.ModelID, &m.ProfileID, &m.Name, &status, &artifact, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: model %s", ErrNotFound, key.ModelID)
	}
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	m.Status = ModelStatus(status)
	m.ArtifactLocation = artifact.String
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse model created_at: %w", err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse model updated_at: %w", err)
	}
	return &m, nil
}

// UpdateModel applies a partial update and bumps updated_at.
func (s *Store) UpdateModel(ctx context.Context, key ModelKey, upd ModelUpdate) error {
	var p partial
	if upd.Status != nil {
		p.set("status", string(*upd.Status))
	}
	if upd.ArtifactLocation != nil {
		p.set("artifact_location", nullString(*upd.ArtifactLocation))
	}
	if p.empty() {
		return nil
	}
	p.set("updated_at", formatTime(s.now()))

	args := append(p.args, key.ProfileID, key.ModelID)
	res, err := s.db.ExecContext(ctx, `UPDATE models SET `+p.clause()+` WHERE profile_id = ? AND model_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update model: %w", err)
	}
	return expectOne(res, "model "+key.ModelID)
}
