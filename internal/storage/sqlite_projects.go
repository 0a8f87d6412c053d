package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emberhq/emberwatch/internal/models"
)

type sqliteProjectRepo struct {
	db *sql.DB
}

func (r *sqliteProjectRepo) Create(ctx context.Context, project *models.Project) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO projects (id, name, api_key, created_at) VALUES (?, ?, ?, ?)",
		project.ID, project.Name, project.APIKey, project.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (r *sqliteProjectRepo) GetByID(ctx context.Context, id string) (*models.Project, error) {
	return r.scanProject(r.db.QueryRowContext(ctx,
		"SELECT id, name, api_key, created_at FROM projects WHERE id = ?", id))
}

func (r *sqliteProjectRepo) GetByAPIKey(ctx context.Context, apiKey string) (*models.Project, error) {
	return r.scanProject(r.db.QueryRowContext(ctx,
		"SELECT id, name, api_key, created_at FROM projects WHERE api_key = ?", apiKey))
}

func (r *sqliteProjectRepo) List(ctx context.Context) ([]*models.Project, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, api_key, created_at FROM projects ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.APIKey, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

func (r *sqliteProjectRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects").Scan(&count); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return count, nil
}

func (r *sqliteProjectRepo) scanProject(row *sql.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.Name, &p.APIKey, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return &p, nil
}
