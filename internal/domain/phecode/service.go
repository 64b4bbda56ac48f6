package phecode

import (
	"context"
	"fmt"
	"strings"
)

// Service fronts a Repository with input validation. A blank code is invalid
// input and produces an error; a code that is merely absent from the catalog
// passes through as an empty result, never an error.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) ICDForPhecode(ctx context.Context, phecode string) ([]string, error) {
	if strings.TrimSpace(phecode) == "" {
		return nil, fmt.Errorf("phecode is required")
	}
	return s.repo.ICDForPhecode(ctx, phecode)
}

func (s *Service) PhecodesForICD10(ctx context.Context, icd10 string) ([]string, error) {
	if strings.TrimSpace(icd10) == "" {
		return nil, fmt.Errorf("icd10 code is required")
	}
	return s.repo.PhecodesForICD10(ctx, icd10)
}

func (s *Service) Definition(ctx context.Context, phecode string) (*Definition, error) {
	if strings.TrimSpace(phecode) == "" {
		return nil, fmt.Errorf("phecode is required")
	}
	return s.repo.Definition(ctx, phecode)
}

func (s *Service) Exclusions(ctx context.Context, phecode string) ([]string, error) {
	if strings.TrimSpace(phecode) == "" {
		return nil, fmt.Errorf("phecode is required")
	}
	return s.repo.Exclusions(ctx, phecode)
}

func (s *Service) AllPhecodes(ctx context.Context) ([]Definition, error) {
	return s.repo.AllDefinitions(ctx)
}

func (s *Service) List(ctx context.Context, query string, limit, offset int) ([]Definition, int, error) {
	return s.repo.List(ctx, strings.TrimSpace(query), limit, offset)
}

func (s *Service) Counts(ctx context.Context) (Counts, error) {
	return s.repo.Counts(ctx)
}
