// Package catalog holds the immutable park/trail lookup table the scanner
// works from.
package catalog

import (
	"fmt"
	"strings"
)

// Trail is a permitted route inside a park
type Trail struct {
	Name string
	ID   int
}

// Park is a managed area with its permitted trails, in configured order
type Park struct {
	Name   string
	ID     int
	trails []Trail
}

// NewPark creates a Park. The trails slice is copied.
func NewPark(name string, id int, trails ...Trail) Park {
	return Park{
		Name:   name,
		ID:     id,
		trails: append([]Trail(nil), trails...),
	}
}

// Trails returns a copy of the park's trails in configured order
func (p Park) Trails() []Trail {
	return append([]Trail(nil), p.trails...)
}

// Catalog maps park names to parks. It is never mutated after New.
type Catalog struct {
	parks map[string]Park
	order []string
}

// New builds a catalog, rejecting empty names, non-positive ids and
// duplicate park or trail names
func New(parks ...Park) (*Catalog, error) {
	c := &Catalog{
		parks: make(map[string]Park, len(parks)),
		order: make([]string, 0, len(parks)),
	}

	for _, p := range parks {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("park name is required")
		}
		if p.ID <= 0 {
			return nil, fmt.Errorf("park %q: park_id must be positive", p.Name)
		}
		if _, dup := c.parks[p.Name]; dup {
			return nil, fmt.Errorf("park %q is defined twice", p.Name)
		}

		seen := make(map[string]bool, len(p.trails))
		for _, t := range p.trails {
			if strings.TrimSpace(t.Name) == "" {
				return nil, fmt.Errorf("park %q: trail name is required", p.Name)
			}
			if t.ID <= 0 {
				return nil, fmt.Errorf("park %q: trail %q: trail_id must be positive", p.Name, t.Name)
			}
			if seen[t.Name] {
				return nil, fmt.Errorf("park %q: trail %q is defined twice", p.Name, t.Name)
			}
			seen[t.Name] = true
		}

		c.parks[p.Name] = NewPark(p.Name, p.ID, p.trails...)
		c.order = append(c.order, p.Name)
	}

	return c, nil
}

// Default returns the built-in catalog of Eastern Sierra permit areas
func Default() *Catalog {
	c, err := New(
		NewPark("Mt. Whitney", 445860, Trail{Name: "Overnight", ID: 166}),
		NewPark("Sequoia and Kings Canyon", 445857),
		NewPark("Inyo", 233262, Trail{Name: "Kearsarge Pass", ID: 465}),
	)
	if err != nil {
		panic(fmt.Sprintf("invalid default catalog: %v", err))
	}
	return c
}

// Lookup returns the park registered under name
func (c *Catalog) Lookup(name string) (Park, bool) {
	p, ok := c.parks[name]
	return p, ok
}

// Names returns park names in the order they were registered
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// Len returns the number of parks
func (c *Catalog) Len() int {
	return len(c.order)
}
