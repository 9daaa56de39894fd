package discovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hoops-harvester/internal/catalog"
	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

const navigation1998 = `<div class="filter">
  <div><a href="/leagues/NBA_1998_per_game.html">Per Game</a></div>
  <div><a href="/leagues/NBA_1998_totals.html">Totals</a></div>
  <div><a href="/leagues/NBA_1998_adj_shooting.html">Adjusted Shooting</a></div>
  <div><a href="/leagues/NBA_1998_play-by-play.html">Play-by-Play</a></div>
  <div><a href="/leagues/NBA_1998_totals.html#totals_stats">Totals again</a></div>
  <div><a href="/leagues/">Leagues</a></div>
  <div><a href="/leagues/NBA_1999_totals.html">Next season</a></div>
  <div><a>No href</a></div>
</div>`

func TestDiscover(t *testing.T) {
	t.Parallel()

	subtypes, err := Discover([]byte(navigation1998), 1998)
	require.NoError(t, err)
	assert.Equal(t, []string{"per_game", "totals", "adj_shooting", "play-by-play"}, subtypes)
}

func TestDiscoverSubtypeRules(t *testing.T) {
	t.Parallel()

	fragment := `<div>
<a href="https://www.basketball-reference.com/leagues/NBA_1998_adj_shooting.html">a</a>
<a href="/leagues/NBA_1998_play-by-play.html">b</a>
<a href="/leagues/NBA_1998_totals.html">c</a>
</div>`
	parent := harvest.Job{Period: 1998, Category: harvest.CategoryStats}
	children, err := Children(parent, []byte(fragment))
	require.NoError(t, err)

	selectors := catalog.DefaultSelectors()
	rules := make(map[string]harvest.Rule, len(children))
	for _, child := range children {
		assert.Equal(t, parent.Period, child.Period)
		assert.Equal(t, parent.Category, child.Category)
		rules[child.Subtype] = selectors.Resolve(child.Category, child.Subtype)
	}
	assert.Equal(t, map[string]harvest.Rule{
		"adj_shooting": "#all_adj-shooting",
		"play-by-play": "#all_pbp_stats",
		"totals":       "#all_totals_stats",
	}, rules)
}

func TestDiscoverUsesLastPeriodOccurrence(t *testing.T) {
	t.Parallel()

	subtypes, err := Discover([]byte(`<a href="/seasons/1998/NBA_1998-advanced.htm?lang=en">x</a>`), 1998)
	require.NoError(t, err)
	assert.Equal(t, []string{"advanced"}, subtypes)
}

func TestDiscoverWithoutLinks(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"empty":         ``,
		"no anchors":    `<div class="filter"><span>Totals</span></div>`,
		"other periods": `<a href="/leagues/NBA_1999_totals.html">x</a>`,
		"nothing after": `<a href="/leagues/1998">x</a>`,
	}
	for name, fragment := range tests {
		fragment := fragment
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Discover([]byte(fragment), 1998)
			require.Error(t, err)
			assert.True(t, errors.Is(err, harvest.ErrDiscovery))
			var de *harvest.DiscoveryError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, 1998, de.Period)
		})
	}
}
