package ingest

import "strings"

// Closed category sets for column-mapped and synthetic cases. The last
// option of each set is the fallback.
var (
	Employment = []string{"full-time", "part-time", "self-employed", "contractor", "retired"}
	Sectors    = []string{"technology", "healthcare", "finance", "retail", "manufacturing", "education", "government", "other"}
	Purposes   = []string{"home", "auto", "personal", "business", "education", "debt-consolidation"}
	Regions    = []string{"northeast", "southeast", "midwest", "southwest", "west"}
)

var squash = strings.NewReplacer("-", "", "_", "", " ", "")

// Normalize maps value onto one of options. Values match on equality or
// containment either way after stripping separators and case.
func Normalize(value string, options []string) string {
	if len(options) == 0 {
		return value
	}
	fallback := options[len(options)-1]

	v := squash.Replace(strings.ToLower(strings.TrimSpace(value)))
	if v == "" {
		return fallback
	}
	for _, opt := range options {
		o := squash.Replace(strings.ToLower(opt))
		if v == o || strings.Contains(v, o) || strings.Contains(o, v) {
			return opt
		}
	}
	return fallback
}
