package phecode

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Columns each catalog file must provide. Matching is by lower-cased,
// trimmed header name; column order is irrelevant and extra columns (the
// published catalog ships several) are ignored.
var (
	definitionColumns = []string{
		"phecode", "phenotype", "phecode_exclude_range",
		"sex", "rollup", "leaf", "category_number", "category",
	}
	mappingColumns = []string{"icd10", "phecode"}
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LoadError reports a catalog source that could not be read or parsed:
// an unreadable file, a CSV syntax failure, or a missing required column.
// Lookups never produce a LoadError; it is a construction-time failure only.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %s: %v", e.Source, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// LoadDefinitions reads the PheCode definition catalog from path. PhecodeNum
// is derived from the phecode column, never read; rows whose code is not
// numeric get a nil PhecodeNum and are otherwise kept as-is.
func LoadDefinitions(path string) ([]Definition, error) {
	records, colIdx, err := readCatalog(path, definitionColumns)
	if err != nil {
		return nil, err
	}

	defs := make([]Definition, 0, len(records))
	for _, rec := range records {
		code := valAt(rec, colIdx["phecode"])
		d := Definition{
			Phecode:        code,
			Phenotype:      valAt(rec, colIdx["phenotype"]),
			ExcludeRange:   valAt(rec, colIdx["phecode_exclude_range"]),
			Sex:            optStr(rec, colIdx["sex"]),
			Rollup:         optStr(rec, colIdx["rollup"]),
			Leaf:           optStr(rec, colIdx["leaf"]),
			CategoryNumber: optInt(rec, colIdx["category_number"]),
			Category:       optStr(rec, colIdx["category"]),
		}
		if num, err := strconv.ParseFloat(code, 64); err == nil {
			d.PhecodeNum = &num
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// LoadMappings reads the ICD-10 to PheCode mapping catalog from path, keeping
// every row in file order, duplicates included.
func LoadMappings(path string) ([]Mapping, error) {
	records, colIdx, err := readCatalog(path, mappingColumns)
	if err != nil {
		return nil, err
	}

	mappings := make([]Mapping, 0, len(records))
	for _, rec := range records {
		mappings = append(mappings, Mapping{
			ICD10:   valAt(rec, colIdx["icd10"]),
			Phecode: valAt(rec, colIdx["phecode"]),
		})
	}
	return mappings, nil
}

// readCatalog opens a CSV catalog, verifies the required columns are present,
// and returns all data records plus the header index.
func readCatalog(path string, required []string) ([][]string, map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &LoadError{Source: path, Err: err}
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 1<<20)
	if b, err := br.Peek(3); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(3)
	}

	r := csv.NewReader(br)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, nil, &LoadError{Source: path, Err: fmt.Errorf("read header: %w", err)}
	}

	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range required {
		if _, ok := colIdx[col]; !ok {
			return nil, nil, &LoadError{Source: path, Err: fmt.Errorf("missing required column %q", col)}
		}
	}

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, &LoadError{Source: path, Err: err}
	}
	return records, colIdx, nil
}

// valAt returns the trimmed value at idx, or "" when the record is short.
func valAt(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

// optStr returns the value at idx as a pointer, nil when empty.
func optStr(rec []string, idx int) *string {
	v := valAt(rec, idx)
	if v == "" {
		return nil
	}
	return &v
}

// optInt parses the value at idx as an integer, nil when empty or unparseable.
func optInt(rec []string, idx int) *int {
	v := valAt(rec, idx)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}
