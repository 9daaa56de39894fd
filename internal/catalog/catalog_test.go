package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

func newDefaultCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(DefaultSource(), DefaultLayout(), DefaultSelectors())
	require.NoError(t, err)
	return c
}

func TestCatalogURL(t *testing.T) {
	t.Parallel()

	c := newDefaultCatalog(t)
	tests := []struct {
		job  harvest.Job
		want string
	}{
		{
			harvest.Job{Period: 1998, Category: harvest.CategoryStandings},
			"https://www.basketball-reference.com/leagues/NBA_1998_standings.html",
		},
		{
			harvest.Job{Period: 1998, Category: harvest.CategoryStats},
			"https://www.basketball-reference.com/leagues/NBA_1998_per_game.html",
		},
		{
			harvest.Job{Period: 1998, Category: harvest.CategoryStats, Subtype: "play-by-play"},
			"https://www.basketball-reference.com/leagues/NBA_1998_play-by-play.html",
		},
		{
			harvest.Job{Period: 1998, Category: harvest.CategoryAwards, Subtype: "all_mvp"},
			"https://www.basketball-reference.com/awards/awards_1998.html",
		},
		{
			harvest.Job{Period: 2024, Category: harvest.CategoryRookies},
			"https://www.basketball-reference.com/leagues/NBA_2024_rookies.html",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.job.Key(), func(t *testing.T) {
			t.Parallel()
			got, err := c.URL(tt.job)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCatalogArtifactName(t *testing.T) {
	t.Parallel()

	c := newDefaultCatalog(t)
	tests := []struct {
		job  harvest.Job
		want string
	}{
		{harvest.Job{Period: 1998, Category: harvest.CategoryStandings}, "team_standings/NBA_Season_1998_Standings.html"},
		{harvest.Job{Period: 1998, Category: harvest.CategoryStats}, "player_stats/NBA_Season_1998_Index.html"},
		{harvest.Job{Period: 1998, Category: harvest.CategoryStats, Subtype: "totals"}, "player_stats/NBA_Season_1998_totals.html"},
		{harvest.Job{Period: 1998, Category: harvest.CategoryAwards, Subtype: "all_roy"}, "nba_awards/NBA_Awards_1998_all_roy_voting.html"},
		{harvest.Job{Period: 2024, Category: harvest.CategoryRookies}, "NBA_Season_2024_Rookies.html"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.job.Key(), func(t *testing.T) {
			t.Parallel()
			got, err := c.ArtifactName(tt.job)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCatalogRejectsInvalidJobs(t *testing.T) {
	t.Parallel()

	c := newDefaultCatalog(t)
	bad := []harvest.Job{
		{Period: 0, Category: harvest.CategoryStandings},
		{Period: 1998, Category: harvest.Category("playoffs")},
		{Period: 1998, Category: harvest.CategoryAwards},
		{Period: 1998, Category: harvest.CategoryStats, Subtype: "../etc"},
		{Period: 1998, Category: harvest.CategoryStats, Subtype: "Index"},
	}
	for _, job := range bad {
		_, err := c.ArtifactName(job)
		assert.Error(t, err, job.Key())
		_, err = c.URL(job)
		assert.Error(t, err, job.Key())
	}
}

func TestCatalogNamesAreUniquePerJob(t *testing.T) {
	t.Parallel()

	c := newDefaultCatalog(t)
	jobs := DefaultPlan().Enumerate()
	for _, subtype := range []string{"totals", "per_minute", "advanced", "play-by-play", "adj_shooting"} {
		jobs = append(jobs, harvest.Job{Period: 2000, Category: harvest.CategoryStats, Subtype: subtype})
	}
	seen := make(map[string]string, len(jobs))
	for _, job := range jobs {
		name, err := c.ArtifactName(job)
		require.NoError(t, err)
		if prev, dup := seen[name]; dup {
			t.Fatalf("artifact %s shared by %s and %s", name, prev, job.Key())
		}
		seen[name] = job.Key()
	}
}

func TestNewValidatesSource(t *testing.T) {
	t.Parallel()

	src := DefaultSource()
	src.BaseURL = "not-a-url"
	_, err := New(src, DefaultLayout(), DefaultSelectors())
	require.Error(t, err)

	src = DefaultSource()
	src.Stats = "/leagues/NBA_{period}.html"
	_, err = New(src, DefaultLayout(), DefaultSelectors())
	require.ErrorContains(t, err, "{subtype}")

	src = DefaultSource()
	src.Awards = ""
	_, err = New(src, DefaultLayout(), DefaultSelectors())
	require.ErrorContains(t, err, "awards")
}
