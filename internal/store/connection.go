package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"omnidesk.app/core/core/db"
	"omnidesk.app/core/internal/model"
)

type connectionStore struct {
	q db.DBTX
}

func newConnectionStore(q db.DBTX) ConnectionStore {
	return &connectionStore{q: q}
}

const connectionColumns = `id, organization_id, platform, encrypted_credentials, is_active,
	sync_cursor, metadata, last_synced_at, flagged_at, flag_reason, created_at, updated_at`

func (s *connectionStore) GetByID(ctx context.Context, id int64) (*model.ChannelConnection, error) {
	row := s.q.QueryRow(ctx, `SELECT `+connectionColumns+` FROM channel_connections WHERE id = $1`, id)
	return scanConnection(row)
}

func (s *connectionStore) ListActiveByOrganization(ctx context.Context, orgID int64) ([]model.ChannelConnection, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+connectionColumns+`
		FROM channel_connections
		WHERE organization_id = $1 AND is_active
		ORDER BY id`, orgID)
	if err != nil {
		return nil, err
	}
	return collectConnections(rows)
}

func (s *connectionStore) ListActiveByPlatform(ctx context.Context, platform model.Platform) ([]model.ChannelConnection, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+connectionColumns+`
		FROM channel_connections
		WHERE platform = $1 AND is_active
		ORDER BY id`, platform)
	if err != nil {
		return nil, err
	}
	return collectConnections(rows)
}

func (s *connectionStore) Create(ctx context.Context, conn *model.ChannelConnection) error {
	metadata, err := json.Marshal(conn.Metadata)
	if err != nil {
		return err
	}
	row := s.q.QueryRow(ctx, `
		INSERT INTO channel_connections (id, organization_id, platform,
			encrypted_credentials, is_active, sync_cursor, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at`,
		conn.ID, conn.OrganizationID, conn.Platform, conn.EncryptedCredentials,
		conn.IsActive, conn.SyncCursor, metadata)
	return row.Scan(&conn.CreatedAt, &conn.UpdatedAt)
}

func (s *connectionStore) UpdateCredentials(ctx context.Context, id int64, encrypted []byte) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE channel_connections
		SET encrypted_credentials = $2, flagged_at = NULL, flag_reason = NULL, updated_at = now()
		WHERE id = $1`, id, encrypted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *connectionStore) UpdateCursor(ctx context.Context, id int64, cursor string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE channel_connections
		SET sync_cursor = $2, last_synced_at = now(), updated_at = now()
		WHERE id = $1`, id, cursor)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *connectionStore) Deactivate(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE channel_connections SET is_active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Flag marks a connection whose credentials failed permanently. The
// connection stays active so persisted tickets keep their origin, but
// operators see the flag.
func (s *connectionStore) Flag(ctx context.Context, id int64, reason string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE channel_connections
		SET flagged_at = now(), flag_reason = $2, updated_at = now()
		WHERE id = $1`, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectConnections(rows pgx.Rows) ([]model.ChannelConnection, error) {
	defer rows.Close()

	var conns []model.ChannelConnection
	for rows.Next() {
		c, err := scanConnectionRow(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func scanConnection(row pgx.Row) (*model.ChannelConnection, error) {
	c, err := scanConnectionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func scanConnectionRow(row rowScanner) (*model.ChannelConnection, error) {
	var (
		c        model.ChannelConnection
		metadata []byte
	)
	if err := row.Scan(&c.ID, &c.OrganizationID, &c.Platform, &c.EncryptedCredentials,
		&c.IsActive, &c.SyncCursor, &metadata, &c.LastSyncedAt, &c.FlaggedAt,
		&c.FlagReason, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
