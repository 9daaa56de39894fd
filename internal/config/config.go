// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/hoops-harvester/internal/catalog"
	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

// Fetch modes select the session opener.
const (
	FetchModeStatic   = "static"
	FetchModeHeadless = "headless"
	FetchModeAuto     = "auto"
)

// Storage backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Source    catalog.Source  `mapstructure:"source"`
	Selectors SelectorsConfig `mapstructure:"selectors"`
	Output    catalog.Layout  `mapstructure:"output"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CatalogConfig describes which seasons and categories a run covers.
type CatalogConfig struct {
	FirstPeriod   int             `mapstructure:"first_period"`
	LastPeriod    int             `mapstructure:"last_period"`
	Categories    []string        `mapstructure:"categories"`
	Refresh       []RefreshConfig `mapstructure:"refresh"`
	AwardSubtypes []string        `mapstructure:"award_subtypes"`
}

// RefreshConfig re-harvests some categories of a single season.
type RefreshConfig struct {
	Period     int      `mapstructure:"period"`
	Categories []string `mapstructure:"categories"`
}

// SelectorsConfig extends the built-in selector table.
type SelectorsConfig struct {
	Navigation string             `mapstructure:"navigation"`
	Defaults   map[string]string  `mapstructure:"defaults"`
	Overrides  []SelectorOverride `mapstructure:"overrides"`
}

// SelectorOverride pins the rule of one (category, subtype) pair.
type SelectorOverride struct {
	Category string `mapstructure:"category"`
	Subtype  string `mapstructure:"subtype"`
	Rule     string `mapstructure:"rule"`
}

// RetryConfig tunes the fetch retry loop.
type RetryConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	DelayFirstAttempt bool          `mapstructure:"delay_first_attempt"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout"`
}

// CrawlerConfig governs dispatcher and worker behavior.
type CrawlerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	FetchMode         string        `mapstructure:"fetch_mode"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// HTTPConfig configures static sessions.
type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	WaitForRule bool          `mapstructure:"wait_for_rule"`
	ExecPath    string        `mapstructure:"exec_path"`
}

// StorageConfig selects where artifacts are written.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls the optional artifact index. An empty DSN disables it.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds the optional artifact notification target. An empty
// topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the HTTP control plane.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	// APIKey, when set, is required on every /v1 request.
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. An empty path searches the
// working directory, $HOME/.harvester and /etc/harvester for harvester.*.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("harvester")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.harvester")
		v.AddConfigPath("/etc/harvester/")
		// Defaults and env vars suffice when no file is found.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	plan := catalog.DefaultPlan()
	v.SetDefault("catalog.first_period", plan.FirstPeriod)
	v.SetDefault("catalog.last_period", plan.LastPeriod)
	v.SetDefault("catalog.categories", categoryNames(plan.Categories))
	refresh := make([]map[string]any, 0, len(plan.Refresh))
	for _, target := range plan.Refresh {
		refresh = append(refresh, map[string]any{
			"period":     target.Period,
			"categories": categoryNames(target.Categories),
		})
	}
	v.SetDefault("catalog.refresh", refresh)
	v.SetDefault("catalog.award_subtypes", plan.AwardSubtypes)

	source := catalog.DefaultSource()
	v.SetDefault("source.base_url", source.BaseURL)
	v.SetDefault("source.standings", source.Standings)
	v.SetDefault("source.stats_index", source.StatsIndex)
	v.SetDefault("source.stats", source.Stats)
	v.SetDefault("source.awards", source.Awards)
	v.SetDefault("source.rookies", source.Rookies)

	layout := catalog.DefaultLayout()
	v.SetDefault("output.standings_dir", layout.StandingsDir)
	v.SetDefault("output.stats_dir", layout.StatsDir)
	v.SetDefault("output.awards_dir", layout.AwardsDir)
	v.SetDefault("output.rookies_dir", layout.RookiesDir)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", 5*time.Second)
	v.SetDefault("retry.delay_first_attempt", false)
	v.SetDefault("retry.attempt_timeout", 60*time.Second)
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.queue_depth", 16)
	v.SetDefault("crawler.job_timeout", 10*time.Minute)
	v.SetDefault("crawler.fetch_mode", FetchModeHeadless)
	v.SetDefault("crawler.user_agent", "hoops-harvester/0.1")
	v.SetDefault("crawler.requests_per_second", 0.5)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout", 45*time.Second)
	v.SetDefault("headless.settle_delay", time.Duration(0))
	v.SetDefault("headless.wait_for_rule", true)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.table", "artifacts")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := c.Plan(); err != nil {
		return err
	}
	if _, err := c.SelectorTable(); err != nil {
		return err
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url must be set")
	}
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("retry.max_retries must be >= 1")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must be >= 0")
	}
	if c.Retry.AttemptTimeout < 0 {
		return fmt.Errorf("retry.attempt_timeout must be >= 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.JobTimeout < 0 {
		return fmt.Errorf("crawler.job_timeout must be >= 0")
	}
	switch c.Crawler.FetchMode {
	case FetchModeStatic, FetchModeHeadless, FetchModeAuto:
	default:
		return fmt.Errorf("crawler.fetch_mode must be one of static, headless, auto")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.Crawler.FetchMode != FetchModeStatic && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless fetching is enabled")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be one of local, gcs, memory")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// Plan converts the catalog section into a validated plan.
func (c Config) Plan() (catalog.Plan, error) {
	categories, err := parseCategories("catalog.categories", c.Catalog.Categories)
	if err != nil {
		return catalog.Plan{}, err
	}
	plan := catalog.Plan{
		FirstPeriod:   c.Catalog.FirstPeriod,
		LastPeriod:    c.Catalog.LastPeriod,
		Categories:    categories,
		AwardSubtypes: c.Catalog.AwardSubtypes,
	}
	for i, target := range c.Catalog.Refresh {
		cats, err := parseCategories(fmt.Sprintf("catalog.refresh[%d].categories", i), target.Categories)
		if err != nil {
			return catalog.Plan{}, err
		}
		plan.Refresh = append(plan.Refresh, catalog.RefreshTarget{Period: target.Period, Categories: cats})
	}
	if err := plan.Validate(); err != nil {
		return catalog.Plan{}, err
	}
	return plan, nil
}

// SelectorTable layers the configured rules over the built-in table.
func (c Config) SelectorTable() (catalog.Selectors, error) {
	selectors := catalog.DefaultSelectors()
	if c.Selectors.Navigation != "" {
		selectors = selectors.WithNavigation(harvest.Rule(c.Selectors.Navigation))
	}
	for name, pattern := range c.Selectors.Defaults {
		category, err := harvest.ParseCategory(name)
		if err != nil {
			return catalog.Selectors{}, fmt.Errorf("selectors.defaults: %w", err)
		}
		if strings.TrimSpace(pattern) == "" {
			return catalog.Selectors{}, fmt.Errorf("selectors.defaults.%s must not be empty", name)
		}
		selectors = selectors.WithDefault(category, pattern)
	}
	for i, o := range c.Selectors.Overrides {
		category, err := harvest.ParseCategory(o.Category)
		if err != nil {
			return catalog.Selectors{}, fmt.Errorf("selectors.overrides[%d]: %w", i, err)
		}
		if strings.TrimSpace(o.Rule) == "" {
			return catalog.Selectors{}, fmt.Errorf("selectors.overrides[%d].rule must not be empty", i)
		}
		selectors = selectors.With(category, o.Subtype, harvest.Rule(o.Rule))
	}
	return selectors, nil
}

func parseCategories(key string, names []string) ([]harvest.Category, error) {
	out := make([]harvest.Category, 0, len(names))
	for _, name := range names {
		category, err := harvest.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, category)
	}
	return out, nil
}

func categoryNames(categories []harvest.Category) []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}
