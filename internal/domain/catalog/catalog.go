// Package catalog holds the read-mostly collection of coded terms the workspace
// browses and maps, and loads it from the static dataset files.
package catalog

import (
	"strings"
)

// Catalog is an immutable, ordered set of code entries. Build one with New.
type Catalog struct {
	entries  []CodeEntry
	index    map[string]int
	rejected int
}

func lookupKey(system, code string) string {
	return NormalizeSystem(system) + "\x00" + strings.ToLower(strings.TrimSpace(code))
}

// New validates and coerces raw records: fields are trimmed, systems
// upper-cased, records without a code or system are rejected, and a repeated
// (system, code) pair keeps its first occurrence. Dataset order is preserved.
func New(records []CodeEntry) *Catalog {
	c := &Catalog{
		entries: make([]CodeEntry, 0, len(records)),
		index:   make(map[string]int, len(records)),
	}
	for _, r := range records {
		e := CodeEntry{
			Code:   strings.TrimSpace(r.Code),
			Term:   strings.TrimSpace(r.Term),
			System: NormalizeSystem(r.System),
		}
		if e.Code == "" || e.System == "" {
			c.rejected++
			continue
		}
		k := lookupKey(e.System, e.Code)
		if _, dup := c.index[k]; dup {
			c.rejected++
			continue
		}
		c.index[k] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c
}

// Empty returns a catalog with no entries.
func Empty() *Catalog { return New(nil) }

// Len returns the number of accepted entries.
func (c *Catalog) Len() int { return len(c.entries) }

// Rejected returns how many input records were dropped by New.
func (c *Catalog) Rejected() int { return c.rejected }

// All returns a copy of every entry in dataset order.
func (c *Catalog) All() []CodeEntry {
	out := make([]CodeEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Find resolves an entry by exact, case-insensitive system and code.
func (c *Catalog) Find(system, code string) (CodeEntry, bool) {
	i, ok := c.index[lookupKey(system, code)]
	if !ok {
		return CodeEntry{}, false
	}
	return c.entries[i], true
}

func (c *Catalog) filter(keep func(CodeEntry) bool) []CodeEntry {
	var out []CodeEntry
	for _, e := range c.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Sources returns the NAMASTE entries.
func (c *Catalog) Sources() []CodeEntry {
	return c.filter(func(e CodeEntry) bool { return IsSource(e.System) })
}

// Classifications returns the ICD-11, TM2 and BIO* entries.
func (c *Catalog) Classifications() []CodeEntry {
	return c.filter(func(e CodeEntry) bool { return IsClassification(e.System) })
}

// Pools returns the source and destination pools for a mapping direction.
func (c *Catalog) Pools(d Direction) (src, dst []CodeEntry) {
	if d == ToSource {
		return c.Classifications(), c.Sources()
	}
	return c.Sources(), c.Classifications()
}

// Search returns entries whose code or term contains query (case-insensitive),
// optionally restricted to one system, in dataset order. An empty query
// matches everything.
func (c *Catalog) Search(query, system string) []CodeEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	sys := NormalizeSystem(system)
	return c.filter(func(e CodeEntry) bool {
		if sys != "" && e.System != sys {
			return false
		}
		if q == "" {
			return true
		}
		return strings.Contains(strings.ToLower(e.Code), q) || strings.Contains(strings.ToLower(e.Term), q)
	})
}

// CountBySystem returns the number of entries per system tag.
func (c *Catalog) CountBySystem() map[string]int {
	out := make(map[string]int)
	for _, e := range c.entries {
		out[e.System]++
	}
	return out
}
