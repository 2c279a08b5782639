package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"omnidesk.app/core/core/db"
	"omnidesk.app/core/internal/model"
)

type settingsStore struct {
	q db.DBTX
}

func newSettingsStore(q db.DBTX) SettingsStore {
	return &settingsStore{q: q}
}

func (s *settingsStore) Get(ctx context.Context, orgID int64) (*model.AISettings, error) {
	var settings model.AISettings
	err := s.q.QueryRow(ctx, `
		SELECT organization_id, autonomous_enabled, auto_respond_enabled,
			confidence_threshold, provider, assignment_strategy,
			redaction_disabled, reference_documents
		FROM ai_settings
		WHERE organization_id = $1`, orgID).Scan(
		&settings.OrganizationID, &settings.AutonomousEnabled, &settings.AutoRespondEnabled,
		&settings.ConfidenceThreshold, &settings.Provider, &settings.AssignmentStrategy,
		&settings.RedactionDisabled, &settings.ReferenceDocuments)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *settingsStore) Upsert(ctx context.Context, settings *model.AISettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO ai_settings (organization_id, autonomous_enabled, auto_respond_enabled,
			confidence_threshold, provider, assignment_strategy, redaction_disabled,
			reference_documents, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (organization_id) DO UPDATE SET
			autonomous_enabled = EXCLUDED.autonomous_enabled,
			auto_respond_enabled = EXCLUDED.auto_respond_enabled,
			confidence_threshold = EXCLUDED.confidence_threshold,
			provider = EXCLUDED.provider,
			assignment_strategy = EXCLUDED.assignment_strategy,
			redaction_disabled = EXCLUDED.redaction_disabled,
			reference_documents = EXCLUDED.reference_documents,
			updated_at = now()`,
		settings.OrganizationID, settings.AutonomousEnabled, settings.AutoRespondEnabled,
		settings.ConfidenceThreshold, settings.Provider, settings.AssignmentStrategy,
		settings.RedactionDisabled, settings.ReferenceDocuments)
	return err
}

// NextAssignmentCursor advances the organization's round-robin position
// atomically. The row is created on first use.
func (s *settingsStore) NextAssignmentCursor(ctx context.Context, orgID int64) (int64, error) {
	var position int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO assignment_cursors (organization_id, position)
		VALUES ($1, 0)
		ON CONFLICT (organization_id) DO UPDATE SET position = assignment_cursors.position + 1
		RETURNING position`, orgID).Scan(&position)
	return position, err
}
