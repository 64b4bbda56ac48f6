package phecode

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SeedResult reports how many rows each reference table received.
type SeedResult struct {
	Definitions int64
	Mappings    int64
}

// Seed replaces the contents of both reference tables with the given catalog
// rows in one transaction, writing each row's source position into ord so
// that queries can reproduce file order. Duplicate definition keys collapse
// before the write with the same last-wins policy keyed lookups use; mapping
// rows are written verbatim, duplicates included.
func Seed(ctx context.Context, pool *pgxpool.Pool, defs []Definition, mappings []Mapping) (SeedResult, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return SeedResult{}, fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE phecode_definition, icd10_phecode_map`); err != nil {
		return SeedResult{}, fmt.Errorf("truncate reference tables: %w", err)
	}

	defRows := make([][]interface{}, 0, len(defs))
	seen := make(map[string]int, len(defs))
	for i, d := range defs {
		row := []interface{}{
			i, d.Phecode, d.Phenotype, d.ExcludeRange,
			d.Sex, d.Rollup, d.Leaf, d.CategoryNumber, d.Category, d.PhecodeNum,
		}
		if j, ok := seen[d.Phecode]; ok {
			defRows[j] = row
			continue
		}
		seen[d.Phecode] = len(defRows)
		defRows = append(defRows, row)
	}

	nDefs, err := tx.CopyFrom(ctx,
		pgx.Identifier{"phecode_definition"},
		[]string{"ord", "phecode", "phenotype", "phecode_exclude_range", "sex", "rollup", "leaf", "category_number", "category", "phecode_num"},
		pgx.CopyFromRows(defRows))
	if err != nil {
		return SeedResult{}, fmt.Errorf("copy definitions: %w", err)
	}

	mapRows := make([][]interface{}, 0, len(mappings))
	for i, mp := range mappings {
		mapRows = append(mapRows, []interface{}{i, mp.ICD10, mp.Phecode})
	}

	nMaps, err := tx.CopyFrom(ctx,
		pgx.Identifier{"icd10_phecode_map"},
		[]string{"ord", "icd10", "phecode"},
		pgx.CopyFromRows(mapRows))
	if err != nil {
		return SeedResult{}, fmt.Errorf("copy mappings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return SeedResult{}, fmt.Errorf("commit seed: %w", err)
	}
	return SeedResult{Definitions: nDefs, Mappings: nMaps}, nil
}
