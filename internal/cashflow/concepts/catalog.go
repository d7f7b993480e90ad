package concepts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

//go:embed concepts.yaml
var defaultSeed []byte

// Catalog is the immutable concept reference table.
type Catalog struct {
	byID      map[int64]Concept
	ordered   []Concept
	byFormula map[Formula]Concept
}

type seedFile struct {
	Concepts []seedConcept `yaml:"concepts"`
}

type seedConcept struct {
	ID          int64  `yaml:"id"`
	Name        string `yaml:"name"`
	Code        string `yaml:"code"`
	Area        string `yaml:"area"`
	Formula     string `yaml:"formula,omitempty"`
	Feeds       string `yaml:"feeds,omitempty"`
	FinalSign   bool   `yaml:"final_sign,omitempty"`
	TaxEligible bool   `yaml:"tax_eligible,omitempty"`
}

// Default returns the catalog embedded in the binary.
func Default() *Catalog {
	cat, err := Parse(defaultSeed)
	if err != nil {
		panic(fmt.Sprintf("concepts: embedded seed invalid: %v", err))
	}
	return cat
}

// Load reads a catalog from a YAML file. An empty path yields the embedded catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("concepts: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML seed data.
func Parse(data []byte) (*Catalog, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("concepts: parse seed: %w", err)
	}
	list := make([]Concept, 0, len(seed.Concepts))
	for _, sc := range seed.Concepts {
		c, err := sc.concept()
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return New(list)
}

func (sc seedConcept) concept() (Concept, error) {
	c := Concept{
		ID:   sc.ID,
		Code: cashflow.SignCode(sc.Code),
		Name: sc.Name,
		Area: cashflow.Area(sc.Area),
	}
	if sc.Formula != "" {
		if sc.Feeds != "" || sc.FinalSign || sc.TaxEligible {
			return Concept{}, fmt.Errorf("concepts: derived concept %d cannot carry editable attributes", sc.ID)
		}
		c.Role = Derived{Formula: Formula(sc.Formula)}
		return c, nil
	}
	c.Role = Editable{FinalSign: sc.FinalSign, TaxEligible: sc.TaxEligible, Feeds: Formula(sc.Feeds)}
	return c, nil
}

// New validates concepts and builds a catalog. Every formula must be bound to
// exactly one derived concept.
func New(list []Concept) (*Catalog, error) {
	cat := &Catalog{
		byID:      make(map[int64]Concept, len(list)),
		byFormula: make(map[Formula]Concept, len(Formulas)),
	}
	for _, c := range list {
		if c.ID <= 0 {
			return nil, fmt.Errorf("concepts: id must be positive (%q)", c.Name)
		}
		if _, dup := cat.byID[c.ID]; dup {
			return nil, fmt.Errorf("concepts: duplicate id %d", c.ID)
		}
		if !c.Area.Valid() {
			return nil, fmt.Errorf("concepts: concept %d has invalid area %q", c.ID, c.Area)
		}
		switch c.Code {
		case cashflow.SignIngress, cashflow.SignEgress, cashflow.SignNeutral, cashflow.SignNone:
		default:
			return nil, fmt.Errorf("concepts: concept %d has invalid code %q", c.ID, c.Code)
		}
		switch r := c.Role.(type) {
		case Derived:
			if !r.Formula.valid() {
				return nil, fmt.Errorf("concepts: concept %d has unknown formula %q", c.ID, r.Formula)
			}
			if prev, dup := cat.byFormula[r.Formula]; dup {
				return nil, fmt.Errorf("concepts: formula %s bound twice (%d, %d)", r.Formula, prev.ID, c.ID)
			}
			cat.byFormula[r.Formula] = c
		case Editable:
			if r.Feeds != "" && !r.Feeds.valid() {
				return nil, fmt.Errorf("concepts: concept %d feeds unknown formula %q", c.ID, r.Feeds)
			}
		default:
			return nil, fmt.Errorf("concepts: concept %d has no role", c.ID)
		}
		cat.byID[c.ID] = c
		cat.ordered = append(cat.ordered, c)
	}
	var missing []error
	for _, f := range Formulas {
		if _, ok := cat.byFormula[f]; !ok {
			missing = append(missing, fmt.Errorf("concepts: formula %s not bound", f))
		}
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}
	sort.Slice(cat.ordered, func(i, j int) bool { return cat.ordered[i].ID < cat.ordered[j].ID })
	return cat, nil
}

// Get looks up a concept by id.
func (c *Catalog) Get(id int64) (Concept, bool) {
	concept, ok := c.byID[id]
	return concept, ok
}

// List returns the concepts visible from area, ordered by id. AreaBoth lists all.
func (c *Catalog) List(area cashflow.Area) []Concept {
	out := make([]Concept, 0, len(c.ordered))
	for _, concept := range c.ordered {
		if concept.Area.Includes(area) {
			out = append(out, concept)
		}
	}
	return out
}

// Derived returns the concept bound to formula.
func (c *Catalog) Derived(f Formula) Concept {
	return c.byFormula[f]
}

// Feeding returns the editable concepts explicitly feeding formula.
func (c *Catalog) Feeding(f Formula) []Concept {
	var out []Concept
	for _, concept := range c.ordered {
		if fed, ok := concept.Feeds(); ok && fed == f {
			out = append(out, concept)
		}
	}
	return out
}

// TaxEligibleIDs returns the closed list of concepts a 4x1000 config may include.
func (c *Catalog) TaxEligibleIDs() []int64 {
	var ids []int64
	for _, concept := range c.ordered {
		if concept.TaxEligible() {
			ids = append(ids, concept.ID)
		}
	}
	return ids
}
