// Package classifier maps task text to a category and the next action.
//
// Rules are evaluated in order and the first match wins. Tasks that match no
// rule fall through to the general category, so classification never fails.
package classifier

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	CategoryBlogpost = "blogpost"
	CategoryResearch = "research"
	CategorySEO      = "seo"
	CategoryNotion   = "notion"
	CategoryCoding   = "coding"
	CategoryGeneral  = "general"

	GeneralAction = "Allgemeine Aufgabe prüfen"
)

// Verdict is the outcome of classifying a task.
type Verdict struct {
	Category string `json:"category"`
	Action   string `json:"action"`
}

// Rule matches when any title keyword occurs in the title or any description
// keyword occurs in the description. Matching is case-insensitive.
type Rule struct {
	Category    string   `yaml:"category"`
	Action      string   `yaml:"action"`
	Title       []string `yaml:"title,omitempty"`
	Description []string `yaml:"description,omitempty"`
}

func (r Rule) matches(title, description string) bool {
	for _, kw := range r.Title {
		if strings.Contains(title, strings.ToLower(kw)) {
			return true
		}
	}
	for _, kw := range r.Description {
		if strings.Contains(description, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// DefaultRules is the built-in rule order.
var DefaultRules = []Rule{
	{Category: CategoryBlogpost, Action: "Blogbeitrag schreiben mit SEO Writer Skill", Title: []string{"blog", "artikel"}, Description: []string{"blog"}},
	{Category: CategoryResearch, Action: "Web-Research durchführen", Title: []string{"research", "recherche"}},
	{Category: CategorySEO, Action: "SEO-Analyse durchführen", Title: []string{"seo", "keyword"}},
	{Category: CategoryNotion, Action: "Notion Import/Export", Title: []string{"notion", "import"}},
	{Category: CategoryCoding, Action: "Code schreiben/anpassen", Title: []string{"code", "script"}},
}

// Classifier evaluates an ordered rule list.
type Classifier struct {
	rules    []Rule
	fallback Verdict
}

// New builds a classifier over rules. With no rules every task is general.
func New(rules ...Rule) *Classifier {
	return &Classifier{
		rules:    append([]Rule(nil), rules...),
		fallback: Verdict{Category: CategoryGeneral, Action: GeneralAction},
	}
}

// Default returns a classifier over DefaultRules.
func Default() *Classifier { return New(DefaultRules...) }

// Classify returns the verdict of the first matching rule.
func (c *Classifier) Classify(title, description string) Verdict {
	t := strings.ToLower(title)
	d := strings.ToLower(description)
	for _, r := range c.rules {
		if r.matches(t, d) {
			return Verdict{Category: r.Category, Action: r.Action}
		}
	}
	return c.fallback
}

// Rules returns a copy of the rule list in evaluation order.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Classify uses the default rules.
func Classify(title, description string) Verdict {
	return defaultClassifier.Classify(title, description)
}

var defaultClassifier = Default()

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads an ordered rule list from YAML:
//
//	rules:
//	  - category: blogpost
//	    action: Blogbeitrag schreiben
//	    title: [blog, artikel]
//	    description: [blog]
func LoadRules(r io.Reader) ([]Rule, error) {
	var f ruleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	for i, rule := range f.Rules {
		if rule.Category == "" || rule.Action == "" {
			return nil, fmt.Errorf("rule %d: category and action are required", i)
		}
		if len(rule.Title) == 0 && len(rule.Description) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no keywords", i, rule.Category)
		}
	}
	return f.Rules, nil
}
