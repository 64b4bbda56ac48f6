package phecode

import "context"

// Repository serves catalog lookups for one loaded catalog. Absence is never
// an error anywhere in the interface: unmapped codes produce empty slices and
// an undefined PheCode a nil Definition. Errors are reserved for the backing
// store itself.
type Repository interface {
	// ICDForPhecode lists the ICD-10 codes mapped to a PheCode, mapping
	// table order.
	ICDForPhecode(ctx context.Context, phecode string) ([]string, error)

	// PhecodesForICD10 lists the PheCode(s) mapped from a dot-formatted
	// ICD-10 code, mapping table order.
	PhecodesForICD10(ctx context.Context, icd10 string) ([]string, error)

	// Definition returns the definition row for a PheCode, nil when absent.
	Definition(ctx context.Context, phecode string) (*Definition, error)

	// Exclusions expands a PheCode's exclusion range, definition table order.
	Exclusions(ctx context.Context, phecode string) ([]string, error)

	// AllDefinitions returns the full definition table in source order.
	AllDefinitions(ctx context.Context) ([]Definition, error)

	// List pages through definitions, optionally filtered by a
	// case-insensitive query (phecode prefix, phenotype or category
	// substring). Returns the page and the total match count.
	List(ctx context.Context, query string, limit, offset int) ([]Definition, int, error)

	// Counts reports the size of both catalog tables.
	Counts(ctx context.Context) (Counts, error)
}
