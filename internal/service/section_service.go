package service

import (
	"context"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/pkg/cache"
)

type sectionRepository interface {
	List(ctx context.Context) ([]models.Section, error)
	FindByID(ctx context.Context, id string) (*models.Section, error)
	ListSubsections(ctx context.Context, sectionID string) ([]models.Subsection, error)
}

// SectionService reads the organisation tree through the cache.
type SectionService struct {
	repo  sectionRepository
	cache *CacheService
}

// NewSectionService constructs a SectionService.
func NewSectionService(repo sectionRepository, cache *CacheService) *SectionService {
	return &SectionService{repo: repo, cache: cache}
}

// List returns every section.
func (s *SectionService) List(ctx context.Context) ([]models.Section, error) {
	sections, err := cached(ctx, s.cache, cache.Key("sections"), func() ([]models.Section, error) {
		return s.repo.List(ctx)
	})
	if err != nil {
		return nil, internal(err, "failed to list sections")
	}
	return sections, nil
}

// Subsections returns the subsections of one section.
func (s *SectionService) Subsections(ctx context.Context, sectionID string) ([]models.Subsection, error) {
	if _, err := s.repo.FindByID(ctx, sectionID); err != nil {
		return nil, notFoundOr(err, "section")
	}
	subsections, err := cached(ctx, s.cache, cache.Key("sections", sectionID, "subsections"), func() ([]models.Subsection, error) {
		return s.repo.ListSubsections(ctx, sectionID)
	})
	if err != nil {
		return nil, internal(err, "failed to list subsections")
	}
	return subsections, nil
}
