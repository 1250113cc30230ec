package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/mailtrack-api/internal/models"
)

// SectionRepository reads the organisational structure.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs a SectionRepository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

// List returns every section ordered by name.
func (r *SectionRepository) List(ctx context.Context) ([]models.Section, error) {
	const query = `SELECT id, name, description, created_at FROM sections ORDER BY name ASC`
	sections := make([]models.Section, 0)
	if err := r.db.SelectContext(ctx, &sections, query); err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	return sections, nil
}

// FindByID returns one section.
func (r *SectionRepository) FindByID(ctx context.Context, id string) (*models.Section, error) {
	const query = `SELECT id, name, description, created_at FROM sections WHERE id = $1`
	var section models.Section
	if err := r.db.GetContext(ctx, &section, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find section: %w", err)
	}
	return &section, nil
}

// ListSubsections returns the subsections of a section ordered by name.
func (r *SectionRepository) ListSubsections(ctx context.Context, sectionID string) ([]models.Subsection, error) {
	const query = `SELECT id, section_id, name, created_at FROM subsections WHERE section_id = $1 ORDER BY name ASC`
	subsections := make([]models.Subsection, 0)
	if err := r.db.SelectContext(ctx, &subsections, query, sectionID); err != nil {
		return nil, fmt.Errorf("list subsections: %w", err)
	}
	return subsections, nil
}
