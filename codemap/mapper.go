package codemap

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/medtariff/refprice/hierarchy"
	"github.com/medtariff/refprice/models"
)

// DescriptionRule assigns a component type from the free-text description of
// a row whose source publishes no tariff subcode.
type DescriptionRule struct {
	Pattern       string               `yaml:"pattern" validate:"required"`
	ComponentType models.ComponentType `yaml:"component_type" validate:"component_type"`
}

// Tables is the static mapping data. Overrides and the kit revert list are
// authoritative corrections, not heuristics.
type Tables struct {
	SubcodeLeaves          map[string]string               `yaml:"subcode_leaves" validate:"dive,keys,required,endkeys,required"`
	SubcodeTypes           map[string]models.ComponentType `yaml:"subcode_component_types" validate:"dive,keys,required,endkeys,component_type"`
	FamilyTypes            map[string]models.ComponentType `yaml:"family_component_types" validate:"dive,keys,required,endkeys,component_type"`
	DescriptionRules       map[string][]DescriptionRule    `yaml:"description_rules" validate:"dive,keys,required,endkeys,dive"`
	KitRevertSubcodes      []string                        `yaml:"kit_revert_subcodes" validate:"dive,required"`
	ComponentTypeOverrides map[string]models.ComponentType `yaml:"component_type_overrides" validate:"dive,keys,required,endkeys,component_type"`
}

// Mapping is the derived classification metadata of a reference price.
type Mapping struct {
	Subcode       string
	ComponentType models.ComponentType
}

type descriptionRule struct {
	re            *regexp.Regexp
	componentType models.ComponentType
}

// Mapper is immutable after construction and safe for concurrent use.
type Mapper struct {
	tree        *hierarchy.Tree
	leaves      map[string]models.Category
	types       map[string]models.ComponentType
	families    map[string]models.ComponentType
	overrides   map[string]models.ComponentType
	kitRevert   map[string]struct{}
	description map[string][]descriptionRule
}

// NewMapper validates every mapped target code against the tree. A missing
// code is a deployment error: the mapper refuses to start rather than map
// prices onto a node that does not exist.
func NewMapper(t Tables, tree *hierarchy.Tree) (*Mapper, error) {
	m := &Mapper{
		tree:        tree,
		leaves:      make(map[string]models.Category, len(t.SubcodeLeaves)),
		types:       make(map[string]models.ComponentType, len(t.SubcodeTypes)),
		families:    make(map[string]models.ComponentType, len(t.FamilyTypes)),
		overrides:   make(map[string]models.ComponentType, len(t.ComponentTypeOverrides)),
		kitRevert:   make(map[string]struct{}, len(t.KitRevertSubcodes)),
		description: make(map[string][]descriptionRule, len(t.DescriptionRules)),
	}

	var missing []string
	for sub, code := range t.SubcodeLeaves {
		node, err := tree.ByCode(code)
		if err != nil {
			missing = append(missing, sub+"->"+code)
			continue
		}
		m.leaves[canonical(sub)] = node
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("subcode mappings reference unknown hierarchy codes %v: %w", missing, models.ErrIntegrityViolation)
	}

	for sub, ct := range t.SubcodeTypes {
		if !ct.Valid() {
			return nil, fmt.Errorf("subcode %s: component type %q: %w", sub, ct, models.ErrIntegrityViolation)
		}
		m.types[canonical(sub)] = ct
	}
	for fam, ct := range t.FamilyTypes {
		if !ct.Valid() {
			return nil, fmt.Errorf("family %s: component type %q: %w", fam, ct, models.ErrIntegrityViolation)
		}
		m.families[canonical(fam)] = ct
	}
	for sub, ct := range t.ComponentTypeOverrides {
		if !ct.Valid() {
			return nil, fmt.Errorf("override %s: component type %q: %w", sub, ct, models.ErrIntegrityViolation)
		}
		m.overrides[canonical(sub)] = ct
	}
	for _, sub := range t.KitRevertSubcodes {
		m.kitRevert[canonical(sub)] = struct{}{}
	}
	for source, rules := range t.DescriptionRules {
		for _, r := range rules {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("description rule %q for %s: %v: %w", r.Pattern, source, err, models.ErrIntegrityViolation)
			}
			if !r.ComponentType.Valid() {
				return nil, fmt.Errorf("description rule %q for %s: component type %q: %w", r.Pattern, source, r.ComponentType, models.ErrIntegrityViolation)
			}
			m.description[source] = append(m.description[source], descriptionRule{re: re, componentType: r.ComponentType})
		}
	}
	return m, nil
}

func canonical(sub string) string {
	if c, ok := ExtractSubcode(sub); ok {
		return c
	}
	return sub
}

// Map derives the subcode and component type of a raw external code.
// Rows without a subcode fall back to the description rules of their source
// scheme when it has any, and to "other" otherwise.
func (m *Mapper) Map(sourceCode, sourceName, description string) Mapping {
	sub, ok := ExtractSubcode(sourceCode)
	if !ok {
		return Mapping{ComponentType: m.describe(sourceName, description)}
	}
	return Mapping{Subcode: sub, ComponentType: m.ComponentType(sub)}
}

// ComponentType resolves a subcode: enumerated override, then the subcode and
// its dotted parents, then the family table, then "other".
func (m *Mapper) ComponentType(subcode string) models.ComponentType {
	if ct, ok := m.overrides[subcode]; ok {
		return ct
	}
	for s := subcode; s != ""; s = parentSubcode(s) {
		if ct, ok := m.types[s]; ok {
			return ct
		}
	}
	if ct, ok := m.families[Family(subcode)]; ok {
		return ct
	}
	return models.ComponentOther
}

func (m *Mapper) describe(sourceName, description string) models.ComponentType {
	for _, r := range m.description[sourceName] {
		if r.re.MatchString(description) {
			return r.componentType
		}
	}
	return models.ComponentOther
}

// IsKitSubcode reports whether the subcode is on the kit revert list.
func (m *Mapper) IsKitSubcode(subcode string) bool {
	_, ok := m.kitRevert[subcode]
	return ok
}

// Override returns the enumerated component type correction for subcode.
func (m *Mapper) Override(subcode string) (models.ComponentType, bool) {
	ct, ok := m.overrides[subcode]
	return ct, ok
}

// Leaf returns the hierarchy leaf explicitly mapped to subcode. Subcodes
// without a mapping, and kit subcodes, are never narrowed.
func (m *Mapper) Leaf(subcode string) (models.Category, bool) {
	if m.IsKitSubcode(subcode) {
		return models.Category{}, false
	}
	node, ok := m.leaves[subcode]
	return node, ok
}

// KitSubcodes lists the kit revert subcodes in sorted order.
func (m *Mapper) KitSubcodes() []string {
	out := make([]string, 0, len(m.kitRevert))
	for s := range m.kitRevert {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// OverrideSubcodes lists the subcodes with a component type override.
func (m *Mapper) OverrideSubcodes() []string {
	out := make([]string, 0, len(m.overrides))
	for s := range m.overrides {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
