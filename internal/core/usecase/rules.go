package usecase

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// RuleDefinition is one deterministic matcher targeting a taxonomy node
// by label. Either Keywords or Pattern must be set; a bad pattern fails
// compilation, which callers treat as startup-fatal.
type RuleDefinition struct {
	Name     string
	Label    string
	Keywords []string
	Pattern  string
}

type compiledRule struct {
	name     string
	label    string
	keywords []string
	pattern  *regexp.Regexp
}

// RuleSet holds the compiled rule stage matchers.
type RuleSet struct {
	rules []compiledRule
}

func CompileRules(defs []RuleDefinition) (*RuleSet, error) {
	rules := make([]compiledRule, 0, len(defs))
	for i, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}
		label := strings.TrimSpace(def.Label)
		if label == "" {
			return nil, fmt.Errorf("rule %q: target label is empty", name)
		}
		if len(def.Keywords) == 0 && strings.TrimSpace(def.Pattern) == "" {
			return nil, fmt.Errorf("rule %q: needs keywords or a pattern", name)
		}

		rule := compiledRule{name: name, label: label}
		for _, keyword := range def.Keywords {
			keyword = strings.ToLower(strings.TrimSpace(keyword))
			if keyword == "" {
				return nil, fmt.Errorf("rule %q: empty keyword", name)
			}
			rule.keywords = append(rule.keywords, keyword)
		}
		if strings.TrimSpace(def.Pattern) != "" {
			pattern, err := regexp.Compile(def.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %q: compile pattern: %w", name, err)
			}
			rule.pattern = pattern
		}
		rules = append(rules, rule)
	}
	return &RuleSet{rules: rules}, nil
}

func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// RuleMatch names the node a rule matched and the rule that fired.
type RuleMatch struct {
	NodeID   string
	Label    string
	RuleName string
}

// Match runs every rule against the text and returns one match per
// distinct node. Rules whose target label is not in the active node set
// are skipped: a rule can never assign to a node the taxonomy version
// does not know.
func (rs *RuleSet) Match(text string, activeByLabel map[string]string) []RuleMatch {
	if rs == nil || len(rs.rules) == 0 || text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	matchedNodes := make(map[string]RuleMatch)
	for _, rule := range rs.rules {
		nodeID, ok := activeByLabel[strings.ToLower(rule.label)]
		if !ok {
			continue
		}
		if _, done := matchedNodes[nodeID]; done {
			continue
		}
		if rule.matches(lower, text) {
			matchedNodes[nodeID] = RuleMatch{NodeID: nodeID, Label: rule.label, RuleName: rule.name}
		}
	}

	out := make([]RuleMatch, 0, len(matchedNodes))
	for _, match := range matchedNodes {
		out = append(out, match)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

func (r compiledRule) matches(lowerText, rawText string) bool {
	for _, keyword := range r.keywords {
		if strings.Contains(lowerText, keyword) {
			return true
		}
	}
	if r.pattern != nil && r.pattern.MatchString(rawText) {
		return true
	}
	return false
}
