package phecode

// Definition is one row of the PheCode definition catalog. Phecode is
// numeric-looking but kept as a string so codes like "038.1" keep their
// formatting; PhecodeNum carries the parsed value for range comparisons and
// is nil when the code is not numeric. Optional catalog columns are pointers
// and nil when the source cell is empty.
type Definition struct {
	Phecode        string   `db:"phecode" json:"phecode"`
	Phenotype      string   `db:"phenotype" json:"phenotype"`
	ExcludeRange   string   `db:"phecode_exclude_range" json:"phecode_exclude_range"`
	Sex            *string  `db:"sex" json:"sex,omitempty"`
	Rollup         *string  `db:"rollup" json:"rollup,omitempty"`
	Leaf           *string  `db:"leaf" json:"leaf,omitempty"`
	CategoryNumber *int     `db:"category_number" json:"category_number,omitempty"`
	Category       *string  `db:"category" json:"category,omitempty"`
	PhecodeNum     *float64 `db:"phecode_num" json:"phecode_num,omitempty"`
}

// Mapping is one row of the ICD-10 to PheCode mapping catalog. ICD10 uses the
// dot-separated form ("J45.1"). Phecode is not guaranteed to have a matching
// Definition row: not every mapped PheCode is defined, and not every ICD-10
// code is mapped.
type Mapping struct {
	ICD10   string `db:"icd10" json:"icd10"`
	Phecode string `db:"phecode" json:"phecode"`
}

// Counts summarizes the loaded catalog.
type Counts struct {
	Definitions int `json:"definitions"`
	Mappings    int `json:"mappings"`
}

// Values the sex column may carry.
const (
	SexMale   = "Male"
	SexFemale = "Female"
	SexBoth   = "Both"
)

// ICDListResponse is the payload for a PheCode → ICD-10 lookup.
type ICDListResponse struct {
	Phecode string   `json:"phecode"`
	ICD10   []string `json:"icd10"`
}

// PhecodeListResponse is the payload for an ICD-10 → PheCode lookup.
type PhecodeListResponse struct {
	ICD10    string   `json:"icd10"`
	Phecodes []string `json:"phecodes"`
}

// ExclusionsResponse is the payload for a PheCode exclusion-range expansion.
type ExclusionsResponse struct {
	Phecode    string   `json:"phecode"`
	Exclusions []string `json:"exclusions"`
}
