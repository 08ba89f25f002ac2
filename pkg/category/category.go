// Package category maps user category labels onto place-type search terms.
package category

import (
	"strings"

	"github.com/rubiojr/shopsense/pkg/model"
)

var defaultTable = map[string][]string{
	"Supermarket": {"supermarket", "grocery_store"},
	"Pharmacy":    {"pharmacy"},
	"Bakery":      {"bakery", "cafe"},
	"Electronics": {"electronics_store"},
	"Household":   {"home_goods_store", "furniture_store"},
	"Stationery":  {"book_store"},
	"Pet Store":   {"pet_store", "veterinary_care"},
}

// Place-type terms that read differently as OSM free-text queries.
var osmTerms = map[string]string{
	"grocery_store":     "grocery",
	"home_goods_store":  "houseware",
	"furniture_store":   "furniture",
	"electronics_store": "electronics",
	"book_store":        "stationery",
	"pet_store":         "pet",
	"veterinary_care":   "veterinary",
}

// Mapper expands category names into place types.
type Mapper struct {
	table map[string][]string
}

// Default returns the built-in mapping.
func Default() *Mapper {
	return New(nil)
}

// New returns a Mapper using the built-in table with overrides applied on top.
func New(overrides map[string][]string) *Mapper {
	t := make(map[string][]string, len(defaultTable)+len(overrides))
	for k, v := range defaultTable {
		t[k] = v
	}
	for k, v := range overrides {
		if len(v) == 0 {
			continue
		}
		t[k] = append([]string(nil), v...)
	}
	return &Mapper{table: t}
}

// Expand returns the place types to search for a category. Unknown
// categories pass through as a literal single term.
func (m *Mapper) Expand(name string) []string {
	if types, ok := m.table[name]; ok {
		return append([]string(nil), types...)
	}
	return []string{name}
}

// Searchable reports whether items of the category trigger a search at all.
func (m *Mapper) Searchable(name string) bool {
	return name != model.OtherCategory
}

// OSMTerm rewrites a place-type term into something a Nominatim free-text
// query understands.
func OSMTerm(term string) string {
	if t, ok := osmTerms[term]; ok {
		return t
	}
	return strings.ReplaceAll(term, "_", " ")
}

// ParseOverrides parses "Name=type1|type2;Other Name=type3".
// Malformed entries are skipped.
func ParseOverrides(s string) map[string][]string {
	out := map[string][]string{}
	for _, entry := range strings.Split(s, ";") {
		name, types, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		var terms []string
		for _, t := range strings.Split(types, "|") {
			if t = strings.TrimSpace(t); t != "" {
				terms = append(terms, t)
			}
		}
		if len(terms) > 0 {
			out[name] = terms
		}
	}
	return out
}
