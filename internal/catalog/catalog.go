// Package catalog holds the read-only list of challenge definitions.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dukerupert/stride/internal/model"
)

//go:embed default_catalog.json
var defaultCatalog []byte

// FilterAll matches every value of a filter axis.
const FilterAll = "All"

// Catalog is an immutable, ordered set of challenge definitions.
type Catalog struct {
	defs  []model.ChallengeDefinition
	index map[string]int
}

// Load reads a catalog from a JSON file. An empty path loads the built-in catalog.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		data = b
	}

	var defs []model.ChallengeDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(defs)
}

// New validates defs and builds a Catalog from a copy of them.
func New(defs []model.ChallengeDefinition) (*Catalog, error) {
	c := &Catalog{
		defs:  make([]model.ChallengeDefinition, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}

	var errs []error
	for i, d := range defs {
		d.ID = strings.TrimSpace(d.ID)
		d.Title = strings.TrimSpace(d.Title)
		if err := validate(d); err != nil {
			errs = append(errs, fmt.Errorf("challenge %d (%q): %w", i, d.ID, err))
			continue
		}
		if _, dup := c.index[d.ID]; dup {
			errs = append(errs, fmt.Errorf("challenge %d: duplicate id %q", i, d.ID))
			continue
		}
		c.index[d.ID] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return c, nil
}

func validate(d model.ChallengeDefinition) error {
	switch {
	case d.ID == "":
		return errors.New("id is required")
	case d.Title == "":
		return errors.New("title is required")
	case d.DurationDays <= 0:
		return errors.New("duration_days must be > 0")
	case d.RewardPoints < 0:
		return errors.New("reward_points must be >= 0")
	case !d.Difficulty.Valid():
		return fmt.Errorf("unknown difficulty %q", d.Difficulty)
	}
	return nil
}

// Get returns the definition with the given id.
func (c *Catalog) Get(id string) (model.ChallengeDefinition, bool) {
	i, ok := c.index[id]
	if !ok {
		return model.ChallengeDefinition{}, false
	}
	return c.defs[i], true
}

// List returns all definitions in catalog order.
func (c *Catalog) List() []model.ChallengeDefinition {
	out := make([]model.ChallengeDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Filter returns definitions matching both difficulty and goal. An empty
// value or FilterAll disables that axis.
func (c *Catalog) Filter(difficulty, goal string) []model.ChallengeDefinition {
	out := []model.ChallengeDefinition{}
	for _, d := range c.defs {
		if !matches(string(d.Difficulty), difficulty) || !matches(d.GoalTag, goal) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func matches(value, filter string) bool {
	if filter == "" || filter == FilterAll {
		return true
	}
	return strings.EqualFold(value, filter)
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	return len(c.defs)
}
