// Package classify maps free-text transaction descriptions to spending categories.
//
// Rules are evaluated linearly in declaration order and the first rule with a keyword
// contained in the description wins. Matching is case-insensitive substring containment
// using Unicode case folding on both sides; a keyword inside an unrelated word still matches.
package classify

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"

	"github.com/ArionMiles/monosync/pkg/api"
)

//go:embed categories.json
var defaultTable []byte

// Rule associates a category with the keywords that select it.
type Rule struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Keywords []string `json:"keywords"`
}

// Table is the serialized form of a rule set.
type Table struct {
	Fallback api.Category `json:"fallback"`
	Rules    []Rule       `json:"rules"`
}

type compiledRule struct {
	category api.Category
	keywords []string
}

// Classifier is an immutable rule engine. It is safe for concurrent use.
type Classifier struct {
	rules    []compiledRule
	fallback api.Category
}

// New validates the table and builds a Classifier from it.
func New(table Table) (*Classifier, error) {
	if table.Fallback.Name == "" {
		return nil, errors.New("fallback category name is required")
	}

	seen := map[string]bool{table.Fallback.Name: true}
	rules := make([]compiledRule, 0, len(table.Rules))
	for i, r := range table.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d: name is required", i)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("rule %d: duplicate category %q", i, r.Name)
		}
		seen[r.Name] = true

		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("rule %q: at least one keyword is required", r.Name)
		}
		keywords := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			folded := fold(strings.TrimSpace(kw))
			if folded == "" {
				// An empty keyword would match every description.
				return nil, fmt.Errorf("rule %q: empty keyword", r.Name)
			}
			keywords = append(keywords, folded)
		}

		rules = append(rules, compiledRule{
			category: api.Category{Name: r.Name, Label: r.Label},
			keywords: keywords,
		})
	}

	return &Classifier{rules: rules, fallback: table.Fallback}, nil
}

// Load parses a JSON rule table.
func Load(data []byte) (*Classifier, error) {
	var table Table
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parsing category table: %w", err)
	}
	return New(table)
}

// LoadFile parses a JSON rule table from disk.
func LoadFile(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading category table: %w", err)
	}
	return Load(data)
}

// Default returns the classifier built from the embedded rule table.
func Default() (*Classifier, error) {
	return Load(defaultTable)
}

// Classify returns exactly one category for the description. It never fails.
func (c *Classifier) Classify(description string) api.Category {
	folded := fold(description)
	for _, r := range c.rules {
		for _, kw := range r.keywords {
			if strings.Contains(folded, kw) {
				return r.category
			}
		}
	}
	return c.fallback
}

// Fallback returns the category used when no rule matches.
func (c *Classifier) Fallback() api.Category {
	return c.fallback
}

// Categories lists the closed category set in evaluation order, fallback last.
func (c *Classifier) Categories() []api.Category {
	out := make([]api.Category, 0, len(c.rules)+1)
	for _, r := range c.rules {
		out = append(out, r.category)
	}
	return append(out, c.fallback)
}

// fold applies Unicode case folding. A Caser keeps state, so one is created per call.
func fold(s string) string {
	return cases.Fold().String(s)
}
