package hierarchy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/medtariff/refprice/models"
)

// SchemeEntry is one code of a classification scheme as published.
type SchemeEntry struct {
	Code string `yaml:"code" validate:"required"`
	Name string `yaml:"name" validate:"required"`
}

// PlannedNode is a node ready for insertion. ParentCode is empty for roots.
type PlannedNode struct {
	Code       string
	Name       string
	ParentCode string
	Depth      int
	Path       string
}

// Plan derives the tree shape of a flat scheme. Each code's parent is the
// longest other code in the scheme that is a proper prefix of it. The result
// is ordered so that parents always precede their children.
func Plan(entries []SchemeEntry) ([]PlannedNode, error) {
	byCode := make(map[string]SchemeEntry, len(entries))
	for _, e := range entries {
		code := strings.TrimSpace(e.Code)
		if code == "" {
			return nil, fmt.Errorf("scheme entry %q has no code: %w", e.Name, models.ErrInvalidArgument)
		}
		if strings.Contains(code, models.PathSeparator) {
			return nil, fmt.Errorf("scheme code %q contains %q: %w", code, models.PathSeparator, models.ErrInvalidArgument)
		}
		if _, dup := byCode[code]; dup {
			return nil, fmt.Errorf("scheme code %s listed twice: %w", code, models.ErrIntegrityViolation)
		}
		e.Code = code
		byCode[code] = e
	}

	codes := make([]string, 0, len(byCode))
	for c := range byCode {
		codes = append(codes, c)
	}
	// Shorter codes first so parents are planned before their children.
	sort.Slice(codes, func(i, j int) bool {
		if len(codes[i]) != len(codes[j]) {
			return len(codes[i]) < len(codes[j])
		}
		return codes[i] < codes[j]
	})

	planned := make(map[string]PlannedNode, len(codes))
	out := make([]PlannedNode, 0, len(codes))
	for _, code := range codes {
		node := PlannedNode{Code: code, Name: byCode[code].Name, Path: code}
		for l := len(code) - 1; l > 0; l-- {
			parent, ok := planned[code[:l]]
			if !ok {
				continue
			}
			node.ParentCode = parent.Code
			node.Depth = parent.Depth + 1
			node.Path = parent.Path + models.PathSeparator + code
			break
		}
		planned[code] = node
		out = append(out, node)
	}
	return out, nil
}

// CategoryWriter persists planned nodes.
type CategoryWriter interface {
	Upsert(ctx context.Context, category *models.Category) error
}

// Import writes a planned scheme parents-first and returns the stored nodes.
// Existing codes keep their structure and only have their name refreshed.
func Import(ctx context.Context, w CategoryWriter, entries []SchemeEntry) ([]models.Category, error) {
	plan, err := Plan(entries)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]uint, len(plan))
	stored := make([]models.Category, 0, len(plan))
	for _, p := range plan {
		c := models.Category{Code: p.Code, Name: p.Name, Depth: p.Depth, Path: p.Path}
		if p.ParentCode != "" {
			parentID := ids[p.ParentCode]
			c.ParentID = &parentID
		}
		if err := w.Upsert(ctx, &c); err != nil {
			return nil, fmt.Errorf("import category %s: %w", p.Code, err)
		}
		if c.Path != p.Path {
			return nil, fmt.Errorf("category %s already stored under path %s, scheme places it at %s: %w",
				p.Code, c.Path, p.Path, models.ErrIntegrityViolation)
		}
		ids[p.Code] = c.ID
		stored = append(stored, c)
	}
	return stored, nil
}
