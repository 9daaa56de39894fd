package harvest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Category groups the remote pages harvested for one period.
type Category string

// Supported categories, listed in dispatch order.
const (
	CategoryStandings Category = "standings"
	CategoryStats     Category = "stats"
	CategoryAwards    Category = "awards"
	CategoryRookies   Category = "rookies"
)

var categoryOrder = []Category{
	CategoryStandings,
	CategoryStats,
	CategoryAwards,
	CategoryRookies,
}

// Categories returns every known category in dispatch order.
func Categories() []Category {
	return append([]Category(nil), categoryOrder...)
}

// ParseCategory validates a configured category name.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range categoryOrder {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", raw)
}

// Rank orders categories for stable enumeration. Unknown categories sort last.
func (c Category) Rank() int {
	for i, known := range categoryOrder {
		if c == known {
			return i
		}
	}
	return len(categoryOrder)
}

// Dynamic reports whether the category's concrete jobs are only known after
// fetching a navigation fragment.
func (c Category) Dynamic() bool {
	return c == CategoryStats
}

// Job identifies one unit of fetch-and-store work. It is a value type and is
// never mutated after creation.
type Job struct {
	Period   int      `json:"period"`
	Category Category `json:"category"`
	Subtype  string   `json:"subtype,omitempty"`
}

// Key returns the stable identity of the job, e.g. "1998/stats/totals".
func (j Job) Key() string {
	parts := []string{strconv.Itoa(j.Period), string(j.Category)}
	if j.Subtype != "" {
		parts = append(parts, j.Subtype)
	}
	return strings.Join(parts, "/")
}

func (j Job) String() string {
	return j.Key()
}

// IsNavigation reports whether the job fetches a navigation fragment whose
// links expand into child jobs.
func (j Job) IsNavigation() bool {
	return j.Category.Dynamic() && j.Subtype == ""
}

// Rule locates the fragment of a document to retain. Rules are CSS selectors
// unless they look like an XPath expression.
type Rule string

// IsXPath reports whether the rule should be evaluated as XPath.
func (r Rule) IsXPath() bool {
	s := strings.TrimSpace(string(r))
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(")
}

func (r Rule) String() string {
	return string(r)
}

// State is a job's position in its lifecycle.
type State string

// Job lifecycle states.
const (
	StatePending     State = "pending"
	StateFetching    State = "fetching"
	StateDiscovering State = "discovering"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Page is the outcome of one successful extraction.
type Page struct {
	URL      string
	Title    string
	Fragment []byte
}

// FetchAttempt records one try of the retry engine. It only lives for the
// duration of a fetch and is reported back to the caller.
type FetchAttempt struct {
	Index    int           `json:"index"`
	Delay    time.Duration `json:"delay"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// FetchResult is returned by a Fetcher once a fragment has been obtained.
type FetchResult struct {
	URL      string
	Title    string
	Fragment []byte
	Attempts []FetchAttempt
}

// Artifact is a persisted fragment together with the job that produced it.
type Artifact struct {
	Job      Job       `json:"job"`
	Name     string    `json:"name"`
	URI      string    `json:"uri"`
	Size     int       `json:"size"`
	Hash     string    `json:"hash,omitempty"`
	StoredAt time.Time `json:"stored_at"`
}

// JobRecord tracks one job through a run.
type JobRecord struct {
	Job       Job       `json:"job"`
	URL       string    `json:"url,omitempty"`
	Rule      Rule      `json:"rule,omitempty"`
	Parent    string    `json:"parent,omitempty"`
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
	Children  int       `json:"children,omitempty"`
	Artifact  *Artifact `json:"artifact,omitempty"`
	Err       error     `json:"-"`
	ErrorText string    `json:"error,omitempty"`
	Started   time.Time `json:"started_at,omitempty"`
	Finished  time.Time `json:"finished_at,omitempty"`
}
