// Package classify assigns hierarchy leaves to free-text product descriptions
// using ordered keyword rules.
package classify

import (
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/medtariff/refprice/hierarchy"
	"github.com/medtariff/refprice/models"
)

// Rule assigns TargetCode when the text contains any keyword and none of the
// exclude keywords. Matching is on lower-cased substrings, not words, so a
// short keyword can hit inside an unrelated word; ExcludeKeywords suppress
// those hits.
type Rule struct {
	TargetCode      string   `yaml:"target" validate:"required"`
	Keywords        []string `yaml:"keywords" validate:"min=1,dive,required"`
	ExcludeKeywords []string `yaml:"exclude" validate:"dive,required"`
	Priority        int      `yaml:"priority" validate:"gte=0,lte=100"`
}

// Thresholds map a winning rule's priority to a confidence bucket.
type Thresholds struct {
	High   int `yaml:"high" validate:"omitempty,gtfield=Medium"`
	Medium int `yaml:"medium" validate:"omitempty,gt=0"`
}

// DefaultThresholds: priority >= 90 is high, >= 70 medium, anything lower low.
var DefaultThresholds = Thresholds{High: 90, Medium: 70}

// Config is the rule set as loaded from reference data.
type Config struct {
	Thresholds Thresholds `yaml:"thresholds"`
	Rules      []Rule     `yaml:"rules" validate:"dive"`
}

// Bucket returns the confidence for a winning priority.
func (t Thresholds) Bucket(priority int) models.Confidence {
	switch {
	case priority >= t.High:
		return models.ConfidenceHigh
	case priority >= t.Medium:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// Input is the text to classify plus any field values already known.
type Input struct {
	Name         string
	Manufacturer string
}

func (in Input) text() string {
	text := in.Name
	if in.Manufacturer != "" {
		text += " " + in.Manufacturer
	}
	return strings.ToLower(text)
}

// Result is the winning rule's target.
type Result struct {
	Code       string
	Name       string
	CategoryID uint
	Confidence models.Confidence
	Priority   int
	Keyword    string
}

type compiledRule struct {
	Rule
	node models.Category
}

// DefaultMemoSize bounds the number of distinct texts whose winning rule is
// remembered.
const DefaultMemoSize = 4096

// noMatch is memoized for texts no rule accepts.
const noMatch = -1

// Classifier is safe for concurrent use. Its rules are fixed at construction;
// category names are read from the tree on every call so renames show through.
type Classifier struct {
	rules      []compiledRule
	thresholds Thresholds
	tree       *hierarchy.Tree
	memo       *lru.Cache[string, int] // text -> rule index or noMatch
}

// New compiles cfg against tree. Rules are stably sorted by priority,
// descending, so rules sharing a priority keep their declaration order.
// Every target code must exist in the tree.
func New(cfg Config, tree *hierarchy.Tree) (*Classifier, error) {
	return newWithMemo(cfg, tree, DefaultMemoSize)
}

func newWithMemo(cfg Config, tree *hierarchy.Tree, memoSize int) (*Classifier, error) {
	th := cfg.Thresholds
	if th == (Thresholds{}) {
		th = DefaultThresholds
	}
	if th.High <= th.Medium || th.Medium <= 0 {
		return nil, fmt.Errorf("confidence thresholds high=%d medium=%d are not monotonic: %w", th.High, th.Medium, models.ErrInvalidArgument)
	}

	rules := make([]compiledRule, 0, len(cfg.Rules))
	for i, r := range cfg.Rules {
		node, err := tree.ByCode(r.TargetCode)
		if err != nil {
			return nil, fmt.Errorf("classification rule %d targets unknown code %s: %w", i, r.TargetCode, models.ErrIntegrityViolation)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("classification rule %d (%s) has no keywords: %w", i, r.TargetCode, models.ErrInvalidArgument)
		}
		rules = append(rules, compiledRule{
			Rule: Rule{
				TargetCode:      r.TargetCode,
				Keywords:        lower(r.Keywords),
				ExcludeKeywords: lower(r.ExcludeKeywords),
				Priority:        r.Priority,
			},
			node: node,
		})
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	memo, err := lru.New[string, int](memoSize)
	if err != nil {
		return nil, fmt.Errorf("classification memo of size %d: %w", memoSize, models.ErrInvalidArgument)
	}

	return &Classifier{rules: rules, thresholds: th, tree: tree, memo: memo}, nil
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		out = append(out, strings.ToLower(s))
	}
	return out
}

// Classify returns the first matching rule's target, or nil when no rule
// matches. It never guesses.
func (c *Classifier) Classify(in Input) *Result {
	text := in.text()
	idx, ok := c.memo.Get(text)
	if !ok {
		idx = c.match(text)
		c.memo.Add(text, idx)
	}
	if idx == noMatch {
		return nil
	}
	return c.result(idx, text)
}

// match returns the index of the winning rule, or noMatch.
func (c *Classifier) match(text string) int {
	if strings.TrimSpace(text) == "" {
		return noMatch
	}
	for i, r := range c.rules {
		if firstContained(text, r.Keywords) == "" {
			continue
		}
		if firstContained(text, r.ExcludeKeywords) != "" {
			continue
		}
		return i
	}
	return noMatch
}

func (c *Classifier) result(idx int, text string) *Result {
	r := c.rules[idx]
	node := r.node
	if current, err := c.tree.Node(node.ID); err == nil {
		node = current
	}
	return &Result{
		Code:       node.Code,
		Name:       node.Name,
		CategoryID: node.ID,
		Confidence: c.thresholds.Bucket(r.Priority),
		Priority:   r.Priority,
		Keyword:    firstContained(text, r.Keywords),
	}
}

func firstContained(text string, keywords []string) string {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return k
		}
	}
	return ""
}

// Thresholds returns the confidence thresholds in use.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}
