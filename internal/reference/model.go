package reference

import "sort"

// EnumDirectory describes one enum reference list.
type EnumDirectory struct {
	Name  string     `yaml:"name"`
	Items []EnumItem `yaml:"items"`
}

type EnumItem struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	// optional: display order and validity window
	Order     int    `yaml:"order,omitempty"`
	ValidFrom string `yaml:"valid_from,omitempty"`
	ValidTo   string `yaml:"valid_to,omitempty"`
}

// Well-known directories used by document validation.
const (
	EntityTypes    = "entity_types"
	EntityStatuses = "entity_statuses"
	SyncStatuses   = "sync_statuses"
)

// Catalog maps a directory name to its items.
type Catalog map[string]EnumDirectory

// Has reports whether code is a member of the named directory.
func (c Catalog) Has(name, code string) bool {
	dir, ok := c[name]
	if !ok {
		return false
	}
	for _, it := range dir.Items {
		if it.Code == code {
			return true
		}
	}
	return false
}

// Codes lists the codes of a directory in display order.
func (c Catalog) Codes(name string) []string {
	dir, ok := c[name]
	if !ok {
		return nil
	}
	items := append([]EnumItem(nil), dir.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Code)
	}
	return out
}
