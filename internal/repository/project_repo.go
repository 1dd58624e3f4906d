package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProjectRepository touches only the project fields settlement owns.
type ProjectRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Project, error)
	// OpenForBidding flips the project to open/available and reports whether
	// anything changed.
	OpenForBidding(ctx context.Context, id string) (bool, error)
	Assign(ctx context.Context, id, freelancerID string) error
}

type projectRepo struct {
	db *pgxpool.Pool
}

func NewProjectRepository(db *pgxpool.Pool) ProjectRepository {
	return &projectRepo{db: db}
}

func (r *projectRepo) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	query := `
		SELECT id, client_id, title, COALESCE(project_type, ''), status::text,
		       available_for_bidding, assigned_to, updated_at
		FROM projects
		WHERE id = $1
	`
	var (
		p      domain.Project
		status string
	)
	err := conn(ctx, r.db).QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.ClientID,
		&p.Title,
		&p.ProjectType,
		&status,
		&p.AvailableForBidding,
		&p.AssignedTo,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	p.Status = domain.ProjectStatus(status)
	return &p, nil
}

func (r *projectRepo) OpenForBidding(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE projects
		SET status = 'open', available_for_bidding = TRUE, updated_at = NOW()
		WHERE id = $1 AND NOT (status = 'open' AND available_for_bidding)
	`
	tag, err := conn(ctx, r.db).Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to open project: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *projectRepo) Assign(ctx context.Context, id, freelancerID string) error {
	query := `
		UPDATE projects
		SET assigned_to = $2, status = 'in_progress', available_for_bidding = FALSE, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := conn(ctx, r.db).Exec(ctx, query, id, freelancerID)
	if err != nil {
		return fmt.Errorf("failed to assign project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Profile, error)
}

type profileRepo struct {
	db *pgxpool.Pool
}

func NewProfileRepository(db *pgxpool.Pool) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	query := `
		SELECT id, COALESCE(full_name, ''), phone_number, COALESCE(role, '')
		FROM profiles
		WHERE id = $1
	`
	var p domain.Profile
	err := conn(ctx, r.db).QueryRow(ctx, query, id).Scan(&p.ID, &p.FullName, &p.PhoneNumber, &p.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}
