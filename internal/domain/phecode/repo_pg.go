package phecode

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/phemap/phemap/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const definitionCols = `phecode, phenotype, phecode_exclude_range, sex, rollup, leaf, category_number, category, phecode_num`

const listFilter = ` WHERE $1 = ''
	    OR phecode ILIKE $1 || '%'
	    OR phenotype ILIKE '%' || $1 || '%'
	    OR category ILIKE '%' || $1 || '%'`

// pgRepo serves catalog lookups from the seeded reference tables. The seeder
// writes each row's source position into the ord column, so every result here
// carries the same ordering as the in-memory mapper.
type pgRepo struct{ pool *pgxpool.Pool }

// NewPGRepo returns a Repository backed by PostgreSQL.
func NewPGRepo(pool *pgxpool.Pool) Repository { return &pgRepo{pool: pool} }

func (r *pgRepo) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *pgRepo) ICDForPhecode(ctx context.Context, phecode string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT icd10 FROM icd10_phecode_map WHERE phecode = $1 ORDER BY ord`, phecode)
	if err != nil {
		return nil, fmt.Errorf("phecode icd10 lookup: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *pgRepo) PhecodesForICD10(ctx context.Context, icd10 string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT phecode FROM icd10_phecode_map WHERE icd10 = $1 ORDER BY ord`, icd10)
	if err != nil {
		return nil, fmt.Errorf("icd10 phecode lookup: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *pgRepo) Definition(ctx context.Context, phecode string) (*Definition, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+definitionCols+` FROM phecode_definition WHERE phecode = $1`, phecode)

	var d Definition
	err := row.Scan(&d.Phecode, &d.Phenotype, &d.ExcludeRange, &d.Sex, &d.Rollup,
		&d.Leaf, &d.CategoryNumber, &d.Category, &d.PhecodeNum)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("phecode definition: %w", err)
	}
	return &d, nil
}

func (r *pgRepo) Exclusions(ctx context.Context, phecode string) ([]string, error) {
	d, err := r.Definition(ctx, phecode)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}
	low, high, ok := parseExcludeRange(d.ExcludeRange)
	if !ok {
		return nil, nil
	}

	// NULL phecode_num never satisfies the bounds, matching the mapper's
	// skip of non-numeric codes.
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT phecode FROM phecode_definition
		 WHERE phecode_num >= $1 AND phecode_num <= $2
		 ORDER BY ord`, low, high)
	if err != nil {
		return nil, fmt.Errorf("phecode exclusions: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *pgRepo) AllDefinitions(ctx context.Context) ([]Definition, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+definitionCols+` FROM phecode_definition ORDER BY ord`)
	if err != nil {
		return nil, fmt.Errorf("all definitions: %w", err)
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

func (r *pgRepo) List(ctx context.Context, query string, limit, offset int) ([]Definition, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM phecode_definition`+listFilter, query).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("phecode list count: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+definitionCols+` FROM phecode_definition`+listFilter+
			` ORDER BY ord LIMIT $2 OFFSET $3`, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("phecode list: %w", err)
	}
	defer rows.Close()

	defs, err := scanDefinitions(rows)
	if err != nil {
		return nil, 0, err
	}
	return defs, total, nil
}

func (r *pgRepo) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM phecode_definition),
		        (SELECT COUNT(*) FROM icd10_phecode_map)`).
		Scan(&c.Definitions, &c.Mappings)
	if err != nil {
		return Counts{}, fmt.Errorf("catalog counts: %w", err)
	}
	return c, nil
}

func scanDefinitions(rows pgx.Rows) ([]Definition, error) {
	var defs []Definition
	for rows.Next() {
		var d Definition
		if err := rows.Scan(&d.Phecode, &d.Phenotype, &d.ExcludeRange, &d.Sex, &d.Rollup,
			&d.Leaf, &d.CategoryNumber, &d.Category, &d.PhecodeNum); err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate definitions: %w", err)
	}
	return defs, nil
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate codes: %w", err)
	}
	return out, nil
}
