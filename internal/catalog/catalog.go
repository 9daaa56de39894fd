package catalog

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

var validSubtype = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// navigationName is the artifact suffix used for stats navigation fragments.
const navigationName = "Index"

// Source holds the URL grammar of the remote service. Templates are joined to
// BaseURL and may use the {period} and {subtype} tokens.
type Source struct {
	BaseURL    string `mapstructure:"base_url"`
	Standings  string `mapstructure:"standings"`
	StatsIndex string `mapstructure:"stats_index"`
	Stats      string `mapstructure:"stats"`
	Awards     string `mapstructure:"awards"`
	Rookies    string `mapstructure:"rookies"`
}

// DefaultSource points at basketball-reference.com.
func DefaultSource() Source {
	return Source{
		BaseURL:    "https://www.basketball-reference.com",
		Standings:  "/leagues/NBA_{period}_standings.html",
		StatsIndex: "/leagues/NBA_{period}_per_game.html",
		Stats:      "/leagues/NBA_{period}_{subtype}.html",
		Awards:     "/awards/awards_{period}.html",
		Rookies:    "/leagues/NBA_{period}_rookies.html",
	}
}

// Layout names the category-scoped output locations. An empty directory
// stores artifacts at the root of the blob store.
type Layout struct {
	StandingsDir string `mapstructure:"standings_dir"`
	StatsDir     string `mapstructure:"stats_dir"`
	AwardsDir    string `mapstructure:"awards_dir"`
	RookiesDir   string `mapstructure:"rookies_dir"`
}

// DefaultLayout mirrors the historical directory names.
func DefaultLayout() Layout {
	return Layout{
		StandingsDir: "team_standings",
		StatsDir:     "player_stats",
		AwardsDir:    "nba_awards",
	}
}

// Catalog implements harvest.Resolver.
type Catalog struct {
	source    Source
	layout    Layout
	selectors Selectors
}

// New validates the source grammar and builds a Catalog.
func New(source Source, layout Layout, selectors Selectors) (*Catalog, error) {
	base, err := url.Parse(source.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", source.BaseURL)
	}
	templates := map[string]string{
		"standings":   source.Standings,
		"stats_index": source.StatsIndex,
		"stats":       source.Stats,
		"awards":      source.Awards,
		"rookies":     source.Rookies,
	}
	for name, tmpl := range templates {
		if strings.TrimSpace(tmpl) == "" {
			return nil, fmt.Errorf("source template %s must be set", name)
		}
	}
	if !strings.Contains(source.Stats, subtypeToken) {
		return nil, fmt.Errorf("source template stats must contain %s", subtypeToken)
	}
	return &Catalog{source: source, layout: layout, selectors: selectors}, nil
}

// Selectors exposes the rule table used by the catalog.
func (c *Catalog) Selectors() Selectors {
	return c.selectors
}

// URL resolves the source URL of job.
func (c *Catalog) URL(job harvest.Job) (string, error) {
	if err := validate(job); err != nil {
		return "", err
	}
	var tmpl string
	switch job.Category {
	case harvest.CategoryStandings:
		tmpl = c.source.Standings
	case harvest.CategoryStats:
		tmpl = c.source.Stats
		if job.IsNavigation() {
			tmpl = c.source.StatsIndex
		}
	case harvest.CategoryAwards:
		tmpl = c.source.Awards
	case harvest.CategoryRookies:
		tmpl = c.source.Rookies
	}
	return strings.TrimRight(c.source.BaseURL, "/") + expand(tmpl, job), nil
}

// Rule resolves the extraction rule of job.
func (c *Catalog) Rule(job harvest.Job) harvest.Rule {
	return c.selectors.Resolve(job.Category, job.Subtype)
}

// ArtifactName resolves the deterministic artifact path of job.
func (c *Catalog) ArtifactName(job harvest.Job) (string, error) {
	if err := validate(job); err != nil {
		return "", err
	}
	var dir, name string
	switch job.Category {
	case harvest.CategoryStandings:
		dir, name = c.layout.StandingsDir, fmt.Sprintf("NBA_Season_%d_Standings.html", job.Period)
	case harvest.CategoryStats:
		suffix := job.Subtype
		if job.IsNavigation() {
			suffix = navigationName
		}
		dir, name = c.layout.StatsDir, fmt.Sprintf("NBA_Season_%d_%s.html", job.Period, suffix)
	case harvest.CategoryAwards:
		dir, name = c.layout.AwardsDir, fmt.Sprintf("NBA_Awards_%d_%s_voting.html", job.Period, job.Subtype)
	case harvest.CategoryRookies:
		dir, name = c.layout.RookiesDir, fmt.Sprintf("NBA_Season_%d_Rookies.html", job.Period)
	}
	if dir == "" {
		return name, nil
	}
	return path.Join(dir, name), nil
}

func validate(job harvest.Job) error {
	if job.Period <= 0 {
		return fmt.Errorf("job %s: period must be > 0", job)
	}
	if _, err := harvest.ParseCategory(string(job.Category)); err != nil {
		return fmt.Errorf("job %s: %w", job, err)
	}
	if job.Subtype != "" && !validSubtype.MatchString(job.Subtype) {
		return fmt.Errorf("job %s: invalid subtype %q", job, job.Subtype)
	}
	switch job.Category {
	case harvest.CategoryAwards:
		if job.Subtype == "" {
			return fmt.Errorf("job %s: awards require a subtype", job)
		}
	case harvest.CategoryStats:
		if job.Subtype == navigationName {
			return fmt.Errorf("job %s: subtype %q is reserved", job, navigationName)
		}
	}
	return nil
}

func expand(tmpl string, job harvest.Job) string {
	return strings.NewReplacer(
		"{period}", strconv.Itoa(job.Period),
		subtypeToken, job.Subtype,
	).Replace(tmpl)
}
