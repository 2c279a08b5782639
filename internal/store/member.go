package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"omnidesk.app/core/core/db"
	"omnidesk.app/core/internal/model"
)

type memberStore struct {
	q db.DBTX
}

func newMemberStore(q db.DBTX) MemberStore {
	return &memberStore{q: q}
}

const memberColumns = `id, organization_id, name, email, is_active, linked_identities, created_at, updated_at`

func (s *memberStore) GetByID(ctx context.Context, id int64) (*model.Member, error) {
	row := s.q.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
	return scanMember(row)
}

func (s *memberStore) GetByEmail(ctx context.Context, orgID int64, email string) (*model.Member, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE organization_id = $1 AND lower(email) = lower($2) AND is_active`,
		orgID, email)
	return scanMember(row)
}

// GetByLinkedIdentity resolves a member from a platform identity hint
// (e.g. a Slack user id the member linked to their account).
func (s *memberStore) GetByLinkedIdentity(ctx context.Context, orgID int64, platform model.Platform, externalID string) (*model.Member, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE organization_id = $1
		  AND linked_identities->>$2 = $3
		  AND is_active`,
		orgID, string(platform), externalID)
	return scanMember(row)
}

func (s *memberStore) ListActive(ctx context.Context, orgID int64) ([]model.Member, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE organization_id = $1 AND is_active
		ORDER BY id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		m, err := scanMemberRow(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (s *memberStore) Create(ctx context.Context, member *model.Member) error {
	identities, err := json.Marshal(member.LinkedIdentities)
	if err != nil {
		return err
	}
	row := s.q.QueryRow(ctx, `
		INSERT INTO members (id, organization_id, name, email, is_active, linked_identities, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at`,
		member.ID, member.OrganizationID, member.Name, member.Email, member.IsActive, identities)
	return row.Scan(&member.CreatedAt, &member.UpdatedAt)
}

func (s *memberStore) Update(ctx context.Context, member *model.Member) error {
	identities, err := json.Marshal(member.LinkedIdentities)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE members
		SET name = $2, email = $3, is_active = $4, linked_identities = $5, updated_at = now()
		WHERE id = $1`,
		member.ID, member.Name, member.Email, member.IsActive, identities)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMember(row pgx.Row) (*model.Member, error) {
	m, err := scanMemberRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func scanMemberRow(row rowScanner) (*model.Member, error) {
	var (
		m          model.Member
		identities []byte
	)
	if err := row.Scan(&m.ID, &m.OrganizationID, &m.Name, &m.Email, &m.IsActive,
		&identities, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if len(identities) > 0 {
		if err := json.Unmarshal(identities, &m.LinkedIdentities); err != nil {
			return nil, err
		}
	}
	return &m, nil
}
