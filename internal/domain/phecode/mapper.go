package phecode

import (
	"strconv"
	"strings"
)

// Mapper answers lookups between ICD-10 codes and PheCodes over the two
// catalog tables. Every index is built once at construction and never
// mutated, so a single Mapper is safe to share across concurrent readers
// without locking.
type Mapper struct {
	defs     []Definition
	mappings []Mapping

	info     map[string]int      // phecode -> definition row index, last wins
	icdToPhe map[string][]string // icd10 -> phecodes, mapping row order
	pheToICD map[string][]string // phecode -> icd10 codes, mapping row order
}

// NewMapper builds a Mapper from already-parsed catalog rows. Both slices are
// copied, so callers mutating their inputs afterwards do not reach the mapper.
func NewMapper(defs []Definition, mappings []Mapping) *Mapper {
	m := &Mapper{
		defs:     make([]Definition, len(defs)),
		mappings: make([]Mapping, len(mappings)),
		info:     make(map[string]int, len(defs)),
		icdToPhe: make(map[string][]string),
		pheToICD: make(map[string][]string),
	}
	copy(m.defs, defs)
	copy(m.mappings, mappings)

	// Duplicate phecode keys are tolerated: the last row wins for keyed
	// lookups, while every row stays visible to All and to range scans.
	for i, d := range m.defs {
		m.info[d.Phecode] = i
	}
	for _, mp := range m.mappings {
		m.icdToPhe[mp.ICD10] = append(m.icdToPhe[mp.ICD10], mp.Phecode)
		m.pheToICD[mp.Phecode] = append(m.pheToICD[mp.Phecode], mp.ICD10)
	}
	return m
}

// LoadMapper reads both catalog files and builds a Mapper over them.
func LoadMapper(definitionsPath, mappingsPath string) (*Mapper, error) {
	defs, err := LoadDefinitions(definitionsPath)
	if err != nil {
		return nil, err
	}
	mappings, err := LoadMappings(mappingsPath)
	if err != nil {
		return nil, err
	}
	return NewMapper(defs, mappings), nil
}

// ICDForPhecode returns every ICD-10 code mapped to phecode, in mapping table
// order. An unmapped PheCode yields an empty result; that is an expected
// condition in the catalog, not a fault.
func (m *Mapper) ICDForPhecode(phecode string) []string {
	return copyStrings(m.pheToICD[phecode])
}

// PhecodesForICD10 returns the PheCode(s) mapped from icd10, in mapping table
// order; the relationship is one-to-many for a small share of codes. The code
// must use the dot-separated form ("I21.0"): undotted codes miss. Empty when
// unmapped.
func (m *Mapper) PhecodesForICD10(icd10 string) []string {
	return copyStrings(m.icdToPhe[icd10])
}

// Info returns the definition row for phecode. Absent codes report ok=false,
// never an error.
func (m *Mapper) Info(phecode string) (Definition, bool) {
	i, ok := m.info[phecode]
	if !ok {
		return Definition{}, false
	}
	return m.defs[i], true
}

// Exclusions expands phecode's exclusion range into the set of PheCodes a
// case/control design should drop from its control pool. Bounds are inclusive
// on both ends, so the code itself is part of its own exclusion set whenever
// its number falls inside the range. Results keep definition table row order,
// not numeric order. Absent codes, empty or malformed ranges, and inverted
// bounds all yield an empty result; rows without a numeric code are skipped.
func (m *Mapper) Exclusions(phecode string) []string {
	i, ok := m.info[phecode]
	if !ok {
		return nil
	}
	low, high, ok := parseExcludeRange(m.defs[i].ExcludeRange)
	if !ok {
		return nil
	}

	var out []string
	for _, d := range m.defs {
		if d.PhecodeNum == nil {
			continue
		}
		if n := *d.PhecodeNum; n >= low && n <= high {
			out = append(out, d.Phecode)
		}
	}
	return out
}

// All returns every definition row in catalog order, duplicates included.
// The slice is a copy; mutating it does not affect the mapper.
func (m *Mapper) All() []Definition {
	out := make([]Definition, len(m.defs))
	copy(out, m.defs)
	return out
}

// DefinitionCount returns the number of definition rows.
func (m *Mapper) DefinitionCount() int { return len(m.defs) }

// MappingCount returns the number of mapping rows.
func (m *Mapper) MappingCount() int { return len(m.mappings) }

// parseExcludeRange parses a closed range written "<low>-<high>", e.g.
// "490-498.99". Whitespace around either bound is tolerated. ok is false for
// empty or malformed input; an inverted range parses fine and selects nothing.
func parseExcludeRange(s string) (float64, float64, bool) {
	if strings.TrimSpace(s) == "" {
		return 0, 0, false
	}
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, false
	}
	low, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	high, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	return low, high, true
}

func copyStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
