// Package planner builds query plans from the approved template catalog.
// The classifier only ever selects a template and supplies parameter values;
// no statement text is synthesized at runtime.
package planner

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/podoskin/agent-core/pkg/models"
	appsql "github.com/podoskin/agent-core/pkg/sql"
)

// FuzzySlot declares a template parameter that may be filled by fuzzy
// resolution of a free-text name instead of an exact id.
type FuzzySlot struct {
	// Param is the parameter the resolved record id binds to.
	Param string `yaml:"param"`
	// EntityKind selects the candidate universe (patient, podiatrist, service).
	EntityKind string `yaml:"entity_kind"`
	// TermSlot is the entity slot carrying the free-text name.
	TermSlot string `yaml:"term_slot"`
}

// Template is one approved, parameterized single-database statement.
// Scope filters (tenant, soft delete, ownership) are part of the SQL text,
// reviewed at authoring time, never appended at runtime.
type Template struct {
	ID       string                  `yaml:"id"`
	Intent   models.IntentType       `yaml:"intent"`
	Resource string                  `yaml:"resource"`
	Category models.ResourceCategory `yaml:"category"`
	TargetDB models.LogicalDB        `yaml:"target_db"`
	SQL      string                  `yaml:"sql"`
	Params   []appsql.Parameter      `yaml:"params"`
	Shape    models.ResultShape      `yaml:"shape"`
	Mutating bool                    `yaml:"mutating"`
	// Summary is a format string the formatter renders the result into,
	// e.g. "%d patients registered".
	Summary    string      `yaml:"summary"`
	FuzzySlots []FuzzySlot `yaml:"fuzzy_slots"`
}

// Composite decomposes a multi-database intent into an ordered list of
// single-database templates merged in memory on MergeKey.
type Composite struct {
	ID        string            `yaml:"id"`
	Intent    models.IntentType `yaml:"intent"`
	Resource  string            `yaml:"resource"`
	Templates []string          `yaml:"templates"`
	MergeKey  string            `yaml:"merge_key"`
}

// Catalog is the full template set, loaded and validated once at startup.
type Catalog struct {
	Templates  []Template  `yaml:"templates"`
	Composites []Composite `yaml:"composites"`

	byID  map[string]*Template
	byKey map[catalogKey]*Template
	comps map[catalogKey]*Composite
}

type catalogKey struct {
	intent   models.IntentType
	resource string
}

// LoadCatalog reads and validates the template catalog file. Every template
// must be a single statement with placeholders matching its parameter
// definitions exactly; a broken template fails startup, not a user turn.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}

	if err := catalog.validate(); err != nil {
		return nil, fmt.Errorf("invalid template catalog %s: %w", path, err)
	}

	catalog.index()
	return &catalog, nil
}

func (c *Catalog) validate() error {
	if len(c.Templates) == 0 {
		return fmt.Errorf("catalog defines no templates")
	}

	ids := make(map[string]bool, len(c.Templates))
	for i := range c.Templates {
		t := &c.Templates[i]
		if t.ID == "" {
			return fmt.Errorf("template %d has no id", i)
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate template id %q", t.ID)
		}
		ids[t.ID] = true

		switch t.TargetDB {
		case models.DBIdentity, models.DBClinical, models.DBOperations:
		default:
			return fmt.Errorf("template %q names unknown database %q", t.ID, t.TargetDB)
		}
		switch t.Shape {
		case models.ShapeRows, models.ShapeCount, models.ShapeAffected:
		default:
			return fmt.Errorf("template %q has invalid result shape %q", t.ID, t.Shape)
		}
		if t.Mutating != (t.Shape == models.ShapeAffected) {
			return fmt.Errorf("template %q: mutating flag and result shape disagree", t.ID)
		}

		result := appsql.ValidateAndNormalize(t.SQL)
		if result.Error != nil {
			return fmt.Errorf("template %q: %w", t.ID, result.Error)
		}
		t.SQL = result.NormalizedSQL

		if problems := appsql.FindParametersInStringLiterals(t.SQL); len(problems) > 0 {
			return fmt.Errorf("template %q: parameters inside string literals: %v", t.ID, problems)
		}
		if err := appsql.ValidateParameterDefinitions(t.SQL, t.Params); err != nil {
			return fmt.Errorf("template %q: %w", t.ID, err)
		}
		for _, p := range t.Params {
			if !appsql.KnownParamType(p.Type) {
				return fmt.Errorf("template %q: parameter %q has unknown type %q", t.ID, p.Name, p.Type)
			}
		}
		for _, fs := range t.FuzzySlots {
			if !hasParam(t.Params, fs.Param) {
				return fmt.Errorf("template %q: fuzzy slot names undeclared parameter %q", t.ID, fs.Param)
			}
		}
	}

	for _, comp := range c.Composites {
		if comp.ID == "" {
			return fmt.Errorf("composite without id")
		}
		if len(comp.Templates) < 2 {
			return fmt.Errorf("composite %q must reference at least two templates", comp.ID)
		}
		if comp.MergeKey == "" {
			return fmt.Errorf("composite %q declares no merge key", comp.ID)
		}
		seen := make(map[models.LogicalDB]bool)
		for _, id := range comp.Templates {
			if !ids[id] {
				return fmt.Errorf("composite %q references unknown template %q", comp.ID, id)
			}
			for i := range c.Templates {
				if c.Templates[i].ID == id {
					if c.Templates[i].Mutating {
						return fmt.Errorf("composite %q includes mutating template %q", comp.ID, id)
					}
					seen[c.Templates[i].TargetDB] = true
				}
			}
		}
		if len(seen) < 2 {
			return fmt.Errorf("composite %q does not span multiple databases", comp.ID)
		}
	}

	return nil
}

func (c *Catalog) index() {
	c.byID = make(map[string]*Template, len(c.Templates))
	c.byKey = make(map[catalogKey]*Template, len(c.Templates))
	c.comps = make(map[catalogKey]*Composite, len(c.Composites))

	for i := range c.Templates {
		t := &c.Templates[i]
		c.byID[t.ID] = t
		c.byKey[catalogKey{t.Intent, t.Resource}] = t
	}
	for i := range c.Composites {
		comp := &c.Composites[i]
		c.comps[catalogKey{comp.Intent, comp.Resource}] = comp
	}
}

// Lookup returns the template registered for (intent, resource).
func (c *Catalog) Lookup(intent models.IntentType, resource string) (*Template, bool) {
	t, ok := c.byKey[catalogKey{intent, resource}]
	return t, ok
}

// LookupComposite returns the composite registered for (intent, resource).
func (c *Catalog) LookupComposite(intent models.IntentType, resource string) (*Composite, bool) {
	comp, ok := c.comps[catalogKey{intent, resource}]
	return comp, ok
}

// ByID returns a template by its id.
func (c *Catalog) ByID(id string) (*Template, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// Resources lists the distinct resources the catalog covers, for the
// classifier prompt.
func (c *Catalog) Resources() []string {
	seen := make(map[string]bool)
	var out []string
	for i := range c.Templates {
		r := c.Templates[i].Resource
		if r != "" && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

func hasParam(params []appsql.Parameter, name string) bool {
	for _, p := range params {
		if p.Name == name {
			return true
		}
	}
	return false
}
