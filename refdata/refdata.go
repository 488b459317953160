// Package refdata loads the static reference tables: classification rules,
// the cross-scheme code map and component fractions. Defaults are embedded;
// a deployment may point at its own YAML file instead.
package refdata

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/medtariff/refprice/classify"
	"github.com/medtariff/refprice/codemap"
	"github.com/medtariff/refprice/fraction"
	"github.com/medtariff/refprice/hierarchy"
	"github.com/medtariff/refprice/models"
)

//go:embed default.yaml
var defaultTables []byte

//go:embed scheme.yaml
var defaultScheme []byte

// Tables groups every reference table.
type Tables struct {
	Classification classify.Config `yaml:"classification"`
	CodeMap        codemap.Tables  `yaml:"code_map"`
	Fractions      fraction.Table  `yaml:"fractions"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("component_type", validateComponentType)
	return v
}

func validateComponentType(fl validator.FieldLevel) bool {
	return models.ComponentType(fl.Field().String()).Valid()
}

// Default returns the embedded tables.
func Default() (*Tables, error) {
	return Parse(defaultTables)
}

// Load reads tables from a YAML file. An empty path loads the defaults.
func Load(path string) (*Tables, error) {
	if path == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference data %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes and validates tables. Unknown keys are rejected so a typo
// cannot silently drop a rule.
func Parse(b []byte) (*Tables, error) {
	var t Tables
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode reference data: %v: %w", err, models.ErrInvalidArgument)
	}
	if err := validate.Struct(&t); err != nil {
		return nil, fmt.Errorf("validate reference data: %v: %w", err, models.ErrInvalidArgument)
	}
	return &t, nil
}

// Scheme returns the embedded classification scheme.
func Scheme() ([]hierarchy.SchemeEntry, error) {
	return ParseScheme(defaultScheme)
}

// LoadScheme reads a scheme file. An empty path loads the embedded scheme.
func LoadScheme(path string) ([]hierarchy.SchemeEntry, error) {
	if path == "" {
		return Scheme()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scheme %s: %w", path, err)
	}
	return ParseScheme(b)
}

func ParseScheme(b []byte) ([]hierarchy.SchemeEntry, error) {
	var entries []hierarchy.SchemeEntry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("decode scheme: %v: %w", err, models.ErrInvalidArgument)
	}
	if err := validate.Var(entries, "min=1,dive"); err != nil {
		return nil, fmt.Errorf("validate scheme: %v: %w", err, models.ErrInvalidArgument)
	}
	return entries, nil
}

// Engine holds the components compiled from Tables against a hierarchy.
type Engine struct {
	Classifier *classify.Classifier
	Mapper     *codemap.Mapper
	Estimator  *fraction.Estimator
}

// Compile checks every table against tree. A table referencing a code the
// tree does not have fails with models.ErrIntegrityViolation.
func (t *Tables) Compile(tree *hierarchy.Tree) (*Engine, error) {
	c, err := classify.New(t.Classification, tree)
	if err != nil {
		return nil, err
	}
	m, err := codemap.NewMapper(t.CodeMap, tree)
	if err != nil {
		return nil, err
	}
	e, err := fraction.NewEstimator(t.Fractions)
	if err != nil {
		return nil, err
	}
	for _, s := range e.Sets() {
		if _, err := tree.ByCode(s.SetCode); err != nil {
			return nil, fmt.Errorf("fraction set %s not in hierarchy: %w", s.SetCode, models.ErrIntegrityViolation)
		}
		for _, code := range s.Components {
			if _, err := tree.ByCode(code); err != nil {
				return nil, fmt.Errorf("fraction set %s component %s not in hierarchy: %w", s.SetCode, code, models.ErrIntegrityViolation)
			}
		}
	}
	return &Engine{Classifier: c, Mapper: m, Estimator: e}, nil
}

// Tree plans entries and numbers the nodes from 1 in plan order. It is the
// in-memory equivalent of importing the scheme into an empty store.
func Tree(entries []hierarchy.SchemeEntry) (*hierarchy.Tree, error) {
	planned, err := hierarchy.Plan(entries)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]uint, len(planned))
	nodes := make([]models.Category, 0, len(planned))
	for i, p := range planned {
		id := uint(i + 1)
		ids[p.Code] = id
		n := models.Category{ID: id, Code: p.Code, Name: p.Name, Depth: p.Depth, Path: p.Path}
		if p.ParentCode != "" {
			parent := ids[p.ParentCode]
			n.ParentID = &parent
		}
		nodes = append(nodes, n)
	}
	return hierarchy.New(nodes)
}

// DefaultTree builds the tree of the embedded scheme.
func DefaultTree() (*hierarchy.Tree, error) {
	entries, err := Scheme()
	if err != nil {
		return nil, err
	}
	return Tree(entries)
}
