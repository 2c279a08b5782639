package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"omnidesk.app/core/core/db"
	"omnidesk.app/core/internal/model"
)

type organizationStore struct {
	q db.DBTX
}

func newOrganizationStore(q db.DBTX) OrganizationStore {
	return &organizationStore{q: q}
}

const organizationColumns = `id, name, slug, created_at, updated_at, is_deleted`

func (s *organizationStore) GetByID(ctx context.Context, id int64) (*model.Organization, error) {
	row := s.q.QueryRow(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id = $1 AND NOT is_deleted`, id)
	return scanOrganization(row)
}

func (s *organizationStore) GetBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	row := s.q.QueryRow(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE slug = $1 AND NOT is_deleted`, slug)
	return scanOrganization(row)
}

func (s *organizationStore) Create(ctx context.Context, org *model.Organization) error {
	row := s.q.QueryRow(ctx, `
		INSERT INTO organizations (id, name, slug, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING created_at, updated_at`,
		org.ID, org.Name, org.Slug)
	return row.Scan(&org.CreatedAt, &org.UpdatedAt)
}

func (s *organizationStore) Update(ctx context.Context, org *model.Organization) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE organizations SET name = $2, slug = $3, updated_at = now()
		WHERE id = $1 AND NOT is_deleted`,
		org.ID, org.Name, org.Slug)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *organizationStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `UPDATE organizations SET is_deleted = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *organizationStore) List(ctx context.Context) ([]model.Organization, error) {
	rows, err := s.q.Query(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE NOT is_deleted ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		var org model.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt, &org.UpdatedAt, &org.IsDeleted); err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

func scanOrganization(row pgx.Row) (*model.Organization, error) {
	var org model.Organization
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt, &org.UpdatedAt, &org.IsDeleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}
