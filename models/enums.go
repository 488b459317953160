package models

import "fmt"

// ComponentType says what kind of device a reference price covers.
type ComponentType string

const (
	ComponentSingle            ComponentType = "single_component"
	ComponentSet               ComponentType = "set"
	ComponentRevisionSet       ComponentType = "revision_set"
	ComponentIndividualModular ComponentType = "individual_modular"
	ComponentFixationDevice    ComponentType = "fixation_device"
	ComponentArthroscopic      ComponentType = "arthroscopic"
	ComponentTemporary         ComponentType = "temporary"
	ComponentOther             ComponentType = "other"
)

// ComponentTypes lists every ComponentType in declaration order.
var ComponentTypes = []ComponentType{
	ComponentSingle,
	ComponentSet,
	ComponentRevisionSet,
	ComponentIndividualModular,
	ComponentFixationDevice,
	ComponentArthroscopic,
	ComponentTemporary,
	ComponentOther,
}

func (c ComponentType) Valid() bool {
	switch c {
	case ComponentSingle, ComponentSet, ComponentRevisionSet, ComponentIndividualModular,
		ComponentFixationDevice, ComponentArthroscopic, ComponentTemporary, ComponentOther:
		return true
	}
	return false
}

// IsKit reports whether the type covers a complete assembled kit.
func (c ComponentType) IsKit() bool {
	switch c {
	case ComponentSet, ComponentRevisionSet:
		return true
	case ComponentSingle, ComponentIndividualModular, ComponentFixationDevice,
		ComponentArthroscopic, ComponentTemporary, ComponentOther:
		return false
	}
	panic(fmt.Sprintf("models: unknown component type %q", string(c)))
}

func ParseComponentType(s string) (ComponentType, error) {
	c := ComponentType(s)
	if !c.Valid() {
		return "", fmt.Errorf("component type %q: %w", s, ErrInvalidArgument)
	}
	return c, nil
}

// PriceScope says whether a price covers a part, a full kit or a procedure.
type PriceScope string

const (
	ScopeComponent PriceScope = "component"
	ScopeSet       PriceScope = "set"
	ScopeProcedure PriceScope = "procedure"
)

func (s PriceScope) Valid() bool {
	switch s {
	case ScopeComponent, ScopeSet, ScopeProcedure:
		return true
	}
	return false
}

func ParsePriceScope(s string) (PriceScope, error) {
	p := PriceScope(s)
	if !p.Valid() {
		return "", fmt.Errorf("price scope %q: %w", s, ErrInvalidArgument)
	}
	return p, nil
}

// MatchType is the tier that produced a price match.
type MatchType string

const (
	MatchProduct          MatchType = "product_match"
	MatchCategoryLeaf     MatchType = "category_leaf"
	MatchCategoryAncestor MatchType = "category_ancestor"
)

// Rank orders match tiers, lower is more confident.
func (m MatchType) Rank() int {
	switch m {
	case MatchProduct:
		return 0
	case MatchCategoryLeaf:
		return 1
	case MatchCategoryAncestor:
		return 2
	}
	panic(fmt.Sprintf("models: unknown match type %q", string(m)))
}

func (m MatchType) Valid() bool {
	switch m {
	case MatchProduct, MatchCategoryLeaf, MatchCategoryAncestor:
		return true
	}
	return false
}

// Confidence buckets a classification for auto-apply vs manual review.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

func (c Confidence) level() int {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceHigh:
		return 3
	case "":
		return 0
	}
	panic(fmt.Sprintf("models: unknown confidence %q", string(c)))
}

// AtLeast reports whether c is as confident as min.
func (c Confidence) AtLeast(min Confidence) bool {
	return c.level() >= min.level()
}

func ParseConfidence(s string) (Confidence, error) {
	switch c := Confidence(s); c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return c, nil
	}
	return "", fmt.Errorf("confidence %q: %w", s, ErrInvalidArgument)
}
