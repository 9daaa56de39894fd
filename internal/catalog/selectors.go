package catalog

import (
	"strings"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

const subtypeToken = "{subtype}"

type selectorKey struct {
	category harvest.Category
	subtype  string
}

// Selectors maps a (category, subtype) pair to the rule that extracts its
// fragment. Defaults are patterns; overrides cover containers the remote
// source names irregularly. The zero value resolves nothing.
type Selectors struct {
	navigation harvest.Rule
	defaults   map[harvest.Category]string
	overrides  map[selectorKey]harvest.Rule
}

// DefaultSelectors returns the built-in table.
func DefaultSelectors() Selectors {
	return Selectors{
		navigation: "#content .filter",
		defaults: map[harvest.Category]string{
			harvest.CategoryStandings: "#all_standings",
			harvest.CategoryStats:     "#all_{subtype}_stats",
			harvest.CategoryAwards:    "#{subtype}",
			harvest.CategoryRookies:   "#all_rookies",
		},
		overrides: map[selectorKey]harvest.Rule{
			{harvest.CategoryStats, "play-by-play"}: "#all_pbp_stats",
			{harvest.CategoryStats, "adj_shooting"}: "#all_adj-shooting",
		},
	}
}

// With returns a copy of s with an extra override.
func (s Selectors) With(category harvest.Category, subtype string, rule harvest.Rule) Selectors {
	out := s.clone()
	out.overrides[selectorKey{category, subtype}] = rule
	return out
}

// WithDefault returns a copy of s with the default pattern of category
// replaced. Patterns may contain the {subtype} token.
func (s Selectors) WithDefault(category harvest.Category, pattern string) Selectors {
	out := s.clone()
	out.defaults[category] = pattern
	return out
}

// WithNavigation returns a copy of s using rule for navigation fragments.
func (s Selectors) WithNavigation(rule harvest.Rule) Selectors {
	out := s.clone()
	out.navigation = rule
	return out
}

// Resolve returns the extraction rule for the pair.
func (s Selectors) Resolve(category harvest.Category, subtype string) harvest.Rule {
	if rule, ok := s.overrides[selectorKey{category, subtype}]; ok {
		return rule
	}
	if category.Dynamic() && subtype == "" {
		return s.navigation
	}
	pattern, ok := s.defaults[category]
	if !ok {
		return ""
	}
	return harvest.Rule(strings.ReplaceAll(pattern, subtypeToken, subtype))
}

func (s Selectors) clone() Selectors {
	out := Selectors{
		navigation: s.navigation,
		defaults:   make(map[harvest.Category]string, len(s.defaults)),
		overrides:  make(map[selectorKey]harvest.Rule, len(s.overrides)+1),
	}
	for k, v := range s.defaults {
		out.defaults[k] = v
	}
	for k, v := range s.overrides {
		out.overrides[k] = v
	}
	return out
}
