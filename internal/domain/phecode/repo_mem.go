package phecode

import (
	"context"
	"strings"
)

// memoryRepo adapts a Mapper to the Repository interface. Every call is a
// pure read over the mapper's indexes and never returns an error.
type memoryRepo struct{ m *Mapper }

// NewMemoryRepo wraps an in-memory Mapper as a Repository.
func NewMemoryRepo(m *Mapper) Repository { return &memoryRepo{m: m} }

func (r *memoryRepo) ICDForPhecode(_ context.Context, phecode string) ([]string, error) {
	return r.m.ICDForPhecode(phecode), nil
}

func (r *memoryRepo) PhecodesForICD10(_ context.Context, icd10 string) ([]string, error) {
	return r.m.PhecodesForICD10(icd10), nil
}

func (r *memoryRepo) Definition(_ context.Context, phecode string) (*Definition, error) {
	d, ok := r.m.Info(phecode)
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *memoryRepo) Exclusions(_ context.Context, phecode string) ([]string, error) {
	return r.m.Exclusions(phecode), nil
}

func (r *memoryRepo) AllDefinitions(_ context.Context) ([]Definition, error) {
	return r.m.All(), nil
}

func (r *memoryRepo) List(_ context.Context, query string, limit, offset int) ([]Definition, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	all := r.m.All()
	var filtered []Definition
	if query == "" {
		filtered = all
	} else {
		q := strings.ToLower(query)
		for _, d := range all {
			if matchesQuery(d, q) {
				filtered = append(filtered, d)
			}
		}
	}

	total := len(filtered)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func (r *memoryRepo) Counts(_ context.Context) (Counts, error) {
	return Counts{
		Definitions: r.m.DefinitionCount(),
		Mappings:    r.m.MappingCount(),
	}, nil
}

func matchesQuery(d Definition, q string) bool {
	if strings.HasPrefix(strings.ToLower(d.Phecode), q) {
		return true
	}
	if strings.Contains(strings.ToLower(d.Phenotype), q) {
		return true
	}
	return d.Category != nil && strings.Contains(strings.ToLower(*d.Category), q)
}
