package catalog

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

func rangeWithRefresh() Plan {
	return Plan{
		FirstPeriod: 1997,
		LastPeriod:  1999,
		Categories: []harvest.Category{
			harvest.CategoryAwards,
			harvest.CategoryStandings,
			harvest.CategoryStats,
		},
		Refresh: []RefreshTarget{{
			Period: 2024,
			Categories: []harvest.Category{
				harvest.CategoryRookies,
				harvest.CategoryStats,
				harvest.CategoryStandings,
			},
		}},
		AwardSubtypes: DefaultAwardSubtypes(),
	}
}

func TestEnumerateRangeWithRefreshTarget(t *testing.T) {
	t.Parallel()

	plan := rangeWithRefresh()
	require.NoError(t, plan.Validate())
	jobs := plan.Enumerate()

	count := func(period int, category harvest.Category) int {
		n := 0
		for _, j := range jobs {
			if j.Period == period && j.Category == category {
				n++
			}
		}
		return n
	}

	for _, period := range []int{1997, 1998, 1999, 2024} {
		assert.Equal(t, 1, count(period, harvest.CategoryStandings), "standings %d", period)
		assert.Equal(t, 1, count(period, harvest.CategoryStats), "stats %d", period)
	}
	for _, period := range []int{1997, 1998, 1999} {
		assert.Equal(t, len(DefaultAwardSubtypes()), count(period, harvest.CategoryAwards), "awards %d", period)
		assert.Zero(t, count(period, harvest.CategoryRookies))
	}
	assert.Zero(t, count(2024, harvest.CategoryAwards))
	assert.Equal(t, 1, count(2024, harvest.CategoryRookies))
	assert.Len(t, jobs, 3*(2+len(DefaultAwardSubtypes()))+3)
}

func TestEnumerateStableOrder(t *testing.T) {
	t.Parallel()

	jobs := rangeWithRefresh().Enumerate()
	require.NotEmpty(t, jobs)

	assert.Equal(t, harvest.Job{Period: 1997, Category: harvest.CategoryStandings}, jobs[0])
	assert.Equal(t, harvest.Job{Period: 1997, Category: harvest.CategoryStats}, jobs[1])
	assert.Equal(t, harvest.Job{Period: 1997, Category: harvest.CategoryAwards, Subtype: "all_mvp"}, jobs[2])
	assert.Equal(t, harvest.Job{Period: 2024, Category: harvest.CategoryRookies}, jobs[len(jobs)-1])

	lastPeriod := 0
	lastRank := -1
	for _, j := range jobs {
		if j.Period != lastPeriod {
			assert.Greater(t, j.Period, lastPeriod)
			lastPeriod, lastRank = j.Period, -1
		}
		assert.GreaterOrEqual(t, j.Category.Rank(), lastRank)
		lastRank = j.Category.Rank()
	}

	assert.Equal(t, jobs, rangeWithRefresh().Enumerate(), "enumeration must be deterministic")
}

func TestEnumerateDropsDuplicateRefresh(t *testing.T) {
	t.Parallel()

	plan := Plan{
		FirstPeriod: 2023,
		LastPeriod:  2024,
		Categories:  []harvest.Category{harvest.CategoryStandings},
		Refresh: []RefreshTarget{{
			Period:     2024,
			Categories: []harvest.Category{harvest.CategoryStandings, harvest.CategoryRookies},
		}},
	}
	jobs := plan.Enumerate()
	assert.Equal(t, []harvest.Job{
		{Period: 2023, Category: harvest.CategoryStandings},
		{Period: 2024, Category: harvest.CategoryStandings},
		{Period: 2024, Category: harvest.CategoryRookies},
	}, jobs)
}

func TestEnumerateStopsAtMaxInt(t *testing.T) {
	t.Parallel()

	plan := Plan{
		FirstPeriod: math.MaxInt - 1,
		LastPeriod:  math.MaxInt,
		Categories:  []harvest.Category{harvest.CategoryStandings},
	}
	done := make(chan []harvest.Job, 1)
	go func() { done <- plan.Enumerate() }()

	select {
	case jobs := <-done:
		assert.Len(t, jobs, 2)
	case <-time.After(3 * time.Second):
		t.Fatal("Enumerate did not return for a range ending at MaxInt")
	}
}

func TestPlanValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultPlan().Validate())

	tests := []struct {
		name   string
		mutate func(*Plan)
		want   string
	}{
		{"inverted range", func(p *Plan) { p.FirstPeriod, p.LastPeriod = 2000, 1999 }, "last_period"},
		{"zero first period", func(p *Plan) { p.FirstPeriod = 0 }, "first_period"},
		{"unknown category", func(p *Plan) { p.Categories = append(p.Categories, "playoffs") }, "unknown category"},
		{"missing award subtypes", func(p *Plan) { p.AwardSubtypes = nil }, "award_subtypes"},
		{"empty refresh", func(p *Plan) { p.Refresh = []RefreshTarget{{Period: 2024}} }, "at least one category"},
		{"nothing to do", func(p *Plan) { p.Categories, p.Refresh = nil, nil }, "at least one job"},
		{"period past ceiling", func(p *Plan) { p.FirstPeriod, p.LastPeriod = math.MaxInt-1, math.MaxInt }, "last_period must be <="},
		{"span too wide", func(p *Plan) { p.FirstPeriod, p.LastPeriod = 1, MaxPeriod }, "spans more than"},
		{"refresh past ceiling", func(p *Plan) { p.Refresh = []RefreshTarget{{Period: MaxPeriod + 1, Categories: []harvest.Category{harvest.CategoryRookies}}} }, "refresh period"},
		{"malformed award subtype", func(p *Plan) { p.AwardSubtypes = []string{"all mvp"} }, "invalid subtype"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultPlan()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
