package catalog

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

// RefreshTarget re-harvests a subset of categories for a single period
// outside the main range.
type RefreshTarget struct {
	Period     int                `json:"period" mapstructure:"period"`
	Categories []harvest.Category `json:"categories" mapstructure:"categories"`
}

// Plan describes which top-level jobs a run must execute.
type Plan struct {
	FirstPeriod   int                `json:"first_period"`
	LastPeriod    int                `json:"last_period"`
	Categories    []harvest.Category `json:"categories"`
	Refresh       []RefreshTarget    `json:"refresh"`
	AwardSubtypes []string           `json:"award_subtypes"`
}

// DefaultAwardSubtypes lists the award voting tables harvested per season.
func DefaultAwardSubtypes() []string {
	return []string{
		"all_mvp",
		"all_roy",
		"all_dpoy",
		"all_smoy",
		"all_mip",
		"all_leading_all_nba",
		"all_leading_all_defense",
	}
}

// DefaultPlan covers the 1997–2023 seasons and refreshes 2024.
func DefaultPlan() Plan {
	return Plan{
		FirstPeriod: 1997,
		LastPeriod:  2023,
		Categories: []harvest.Category{
			harvest.CategoryStandings,
			harvest.CategoryStats,
			harvest.CategoryAwards,
		},
		Refresh: []RefreshTarget{{
			Period: 2024,
			Categories: []harvest.Category{
				harvest.CategoryStandings,
				harvest.CategoryStats,
				harvest.CategoryRookies,
			},
		}},
		AwardSubtypes: DefaultAwardSubtypes(),
	}
}

// Period bounds keep the catalog small enough to enumerate in memory.
const (
	MaxPeriod = 9999
	MaxSpan   = 200
)

// Validate checks the plan for impossible ranges and missing subtypes.
func (p Plan) Validate() error {
	if len(p.Categories) > 0 {
		if p.FirstPeriod <= 0 {
			return fmt.Errorf("catalog first_period must be > 0")
		}
		if p.LastPeriod > MaxPeriod {
			return fmt.Errorf("catalog last_period must be <= %d", MaxPeriod)
		}
		if p.LastPeriod < p.FirstPeriod {
			return fmt.Errorf("catalog last_period %d is before first_period %d", p.LastPeriod, p.FirstPeriod)
		}
		if p.LastPeriod-p.FirstPeriod >= MaxSpan {
			return fmt.Errorf("catalog range %d-%d spans more than %d periods", p.FirstPeriod, p.LastPeriod, MaxSpan)
		}
	}
	needsAwards := containsCategory(p.Categories, harvest.CategoryAwards)
	for _, c := range p.Categories {
		if _, err := harvest.ParseCategory(string(c)); err != nil {
			return fmt.Errorf("catalog categories: %w", err)
		}
	}
	for _, r := range p.Refresh {
		if r.Period <= 0 || r.Period > MaxPeriod {
			return fmt.Errorf("catalog refresh period must be in 1..%d", MaxPeriod)
		}
		if len(r.Categories) == 0 {
			return fmt.Errorf("catalog refresh %d must list at least one category", r.Period)
		}
		for _, c := range r.Categories {
			if _, err := harvest.ParseCategory(string(c)); err != nil {
				return fmt.Errorf("catalog refresh %d: %w", r.Period, err)
			}
		}
		needsAwards = needsAwards || containsCategory(r.Categories, harvest.CategoryAwards)
	}
	if needsAwards && len(p.AwardSubtypes) == 0 {
		return fmt.Errorf("catalog award_subtypes must be set when awards are harvested")
	}
	for _, subtype := range p.AwardSubtypes {
		if !validSubtype.MatchString(subtype) {
			return fmt.Errorf("catalog award_subtypes: invalid subtype %q", subtype)
		}
	}
	if len(p.Categories) == 0 && len(p.Refresh) == 0 {
		return fmt.Errorf("catalog must enumerate at least one job")
	}
	return nil
}

// Enumerate returns the top-level jobs of the plan: the range first, in
// ascending period order, then each refresh target. Within a period jobs
// follow category order. Duplicates are dropped.
func (p Plan) Enumerate() []harvest.Job {
	var jobs []harvest.Job
	seen := make(map[string]struct{})
	emit := func(period int, categories []harvest.Category) {
		for _, c := range sortedCategories(categories) {
			for _, job := range p.jobsFor(period, c) {
				if _, dup := seen[job.Key()]; dup {
					continue
				}
				seen[job.Key()] = struct{}{}
				jobs = append(jobs, job)
			}
		}
	}
	if len(p.Categories) > 0 && p.FirstPeriod <= p.LastPeriod {
		// Break before incrementing so LastPeriod == MaxInt cannot wrap.
		for period := p.FirstPeriod; ; period++ {
			emit(period, p.Categories)
			if period >= p.LastPeriod {
				break
			}
		}
	}
	for _, r := range p.Refresh {
		emit(r.Period, r.Categories)
	}
	return jobs
}

func (p Plan) jobsFor(period int, category harvest.Category) []harvest.Job {
	if category != harvest.CategoryAwards {
		return []harvest.Job{{Period: period, Category: category}}
	}
	jobs := make([]harvest.Job, 0, len(p.AwardSubtypes))
	for _, subtype := range p.AwardSubtypes {
		jobs = append(jobs, harvest.Job{Period: period, Category: category, Subtype: subtype})
	}
	return jobs
}

func sortedCategories(in []harvest.Category) []harvest.Category {
	out := append([]harvest.Category(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rank() < out[j].Rank()
	})
	return out
}

func containsCategory(list []harvest.Category, c harvest.Category) bool {
	for _, item := range list {
		if item == c {
			return true
		}
	}
	return false
}
