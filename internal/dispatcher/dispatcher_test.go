package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/hoops-harvester/internal/catalog"
	"github.com/JakeFAU/hoops-harvester/internal/clock/system"
	"github.com/JakeFAU/hoops-harvester/internal/fetcher/retry"
	"github.com/JakeFAU/hoops-harvester/internal/harvest"
	"github.com/JakeFAU/hoops-harvester/internal/sink"
	"github.com/JakeFAU/hoops-harvester/internal/storage/memory"
	"github.com/JakeFAU/hoops-harvester/internal/worker"
)

const baseURL = "https://www.basketball-reference.com"

// site serves canned fragments by URL. Unknown URLs answer 404.
type site struct {
	mu      sync.Mutex
	pages   map[string]string
	calls   map[string]int
	extract func(ctx context.Context, url string) (harvest.Page, error)
}

func newSite(periods ...int) *site {
	pages := make(map[string]string)
	for _, p := range periods {
		pages[fmt.Sprintf("%s/leagues/NBA_%d_standings.html", baseURL, p)] = "<tr><td>Bulls</td></tr>"
		pages[fmt.Sprintf("%s/leagues/NBA_%d_per_game.html", baseURL, p)] = fmt.Sprintf(
			`<div><a href="/leagues/NBA_%d_totals.html">Totals</a><a href="/leagues/NBA_%d_adj_shooting.html">Adj</a></div>`, p, p)
		pages[fmt.Sprintf("%s/leagues/NBA_%d_totals.html", baseURL, p)] = "<tr><td>totals</td></tr>"
		pages[fmt.Sprintf("%s/leagues/NBA_%d_adj_shooting.html", baseURL, p)] = "<tr><td>adj</td></tr>"
		pages[fmt.Sprintf("%s/awards/awards_%d.html", baseURL, p)] = "<tr><td>MVP</td></tr>"
		pages[fmt.Sprintf("%s/leagues/NBA_%d_rookies.html", baseURL, p)] = "<tr><td>Rookie</td></tr>"
	}
	return &site{pages: pages, calls: make(map[string]int)}
}

func (s *site) Open(context.Context) (harvest.Session, error) {
	return siteSession{s}, nil
}

func (s *site) callCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

type siteSession struct{ s *site }

func (ss siteSession) Extract(ctx context.Context, url string, _ harvest.Rule) (harvest.Page, error) {
	ss.s.mu.Lock()
	ss.s.calls[url]++
	page, ok := ss.s.pages[url]
	extract := ss.s.extract
	ss.s.mu.Unlock()
	if extract != nil {
		return extract(ctx, url)
	}
	if !ok {
		return harvest.Page{}, &harvest.StatusError{Code: http.StatusNotFound}
	}
	return harvest.Page{URL: url, Fragment: []byte(page)}, nil
}

func (siteSession) Close() error { return nil }

type noPause struct{}

func (noPause) Pause(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newDispatcher(t *testing.T, opener harvest.SessionOpener, workers int, store harvest.RunStore) (*Dispatcher, *memory.BlobStore) {
	t.Helper()
	cat, err := catalog.New(catalog.DefaultSource(), catalog.DefaultLayout(), catalog.DefaultSelectors())
	require.NoError(t, err)
	engine, err := retry.New(opener, retry.Config{MaxRetries: 3, BaseDelay: time.Second}, retry.WithPauser(noPause{}))
	require.NoError(t, err)
	blobs := memory.NewBlobStore()
	clock := system.New()
	s, err := sink.New(cat, blobs, nil, clock, "")
	require.NoError(t, err)
	w, err := worker.New(worker.Deps{Resolver: cat, Fetcher: engine, Sink: s, Clock: clock}, worker.Config{}, zap.NewNop())
	require.NoError(t, err)
	d, err := New(w, store, clock, Config{Workers: workers}, zap.NewNop())
	require.NoError(t, err)
	return d, blobs
}

func smallPlan() []harvest.Job {
	return catalog.Plan{
		FirstPeriod:   1997,
		LastPeriod:    1998,
		Categories:    []harvest.Category{harvest.CategoryStandings, harvest.CategoryStats, harvest.CategoryAwards},
		AwardSubtypes: []string{"all_mvp"},
	}.Enumerate()
}

func assertAllTerminal(t *testing.T, report *Report) {
	t.Helper()
	for _, record := range report.Records {
		switch record.State {
		case harvest.StateSucceeded:
			assert.NotNil(t, record.Artifact, record.Job.Key())
			assert.NoError(t, record.Err, record.Job.Key())
		case harvest.StateFailed:
			assert.Nil(t, record.Artifact, record.Job.Key())
			assert.Error(t, record.Err, record.Job.Key())
		default:
			t.Fatalf("job %s left in state %s", record.Job.Key(), record.State)
		}
	}
}

func TestRunCompletesEveryJob(t *testing.T) {
	t.Parallel()

	src := newSite(1997, 1998)
	delete(src.pages, baseURL+"/awards/awards_1998.html")
	d, blobs := newDispatcher(t, src, 3, nil)

	report := d.Run(context.Background(), "run-1", smallPlan())

	// 3 top-level jobs per period plus 2 discovered stats tables each.
	require.Len(t, report.Records, 10)
	assertAllTerminal(t, report)
	assert.Equal(t, harvest.RunCounters{Jobs: 10, Succeeded: 9, Failed: 1}, report.Counters())
	assert.Len(t, report.Artifacts(), 9)
	assert.Len(t, blobs.Paths(), 9)
	assert.Equal(t, harvest.RunFailed, report.Status())

	err := report.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1998/awards/all_mvp")

	var children int
	for _, record := range report.Records {
		if record.Parent != "" {
			children++
			assert.True(t, strings.HasSuffix(record.Parent, "/stats"))
		}
	}
	assert.Equal(t, 4, children)
	assert.False(t, report.Finished.Before(report.Started))
}

func TestRunAlwaysTimeoutExhaustsEveryJob(t *testing.T) {
	t.Parallel()

	src := newSite()
	src.extract = func(context.Context, string) (harvest.Page, error) {
		return harvest.Page{}, context.DeadlineExceeded
	}
	d, blobs := newDispatcher(t, src, 2, nil)
	jobs := []harvest.Job{
		{Period: 1998, Category: harvest.CategoryStandings},
		{Period: 2024, Category: harvest.CategoryRookies},
	}

	report := d.Run(context.Background(), "run-1", jobs)

	require.Len(t, report.Records, 2)
	for _, record := range report.Records {
		assert.Equal(t, harvest.StateFailed, record.State)
		assert.ErrorIs(t, record.Err, harvest.ErrFetchExhausted)
		assert.Equal(t, 3, record.Attempts)
		assert.Equal(t, 3, src.callCount(record.URL))
	}
	assert.ErrorIs(t, report.Err(), harvest.ErrFetchExhausted)
	assert.Empty(t, blobs.Paths())
}

func TestRunsProduceIdenticalArtifactSets(t *testing.T) {
	t.Parallel()

	first, firstBlobs := newDispatcher(t, newSite(1997, 1998), 4, nil)
	second, secondBlobs := newDispatcher(t, newSite(1997, 1998), 1, nil)

	r1 := first.Run(context.Background(), "run-1", smallPlan())
	r2 := second.Run(context.Background(), "run-2", smallPlan())

	require.NoError(t, r1.Err())
	require.NoError(t, r2.Err())
	assert.Equal(t, firstBlobs.Paths(), secondBlobs.Paths())
	assert.Contains(t, firstBlobs.Paths(), "player_stats/NBA_Season_1998_Index.html")
	assert.Contains(t, firstBlobs.Paths(), "player_stats/NBA_Season_1997_adj_shooting.html")
}

func TestRunCancellationFailsPendingJobs(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	src := newSite()
	src.extract = func(ctx context.Context, _ string) (harvest.Page, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return harvest.Page{}, ctx.Err()
	}
	d, _ := newDispatcher(t, src, 1, nil)
	jobs := []harvest.Job{
		{Period: 1997, Category: harvest.CategoryStandings},
		{Period: 1998, Category: harvest.CategoryStandings},
		{Period: 1999, Category: harvest.CategoryStandings},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	done := make(chan *Report, 1)
	go func() { done <- d.Run(ctx, "run-1", jobs) }()

	var report *Report
	select {
	case report = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	require.Len(t, report.Records, 3)
	assertAllTerminal(t, report)
	for _, record := range report.Records {
		assert.Equal(t, harvest.StateFailed, record.State)
		assert.ErrorIs(t, record.Err, context.Canceled)
	}
	assert.ErrorIs(t, report.Err(), context.Canceled)
}

func TestRunRecordsJobsInStore(t *testing.T) {
	t.Parallel()

	store := memory.NewRunStore()
	require.NoError(t, store.CreateRun(context.Background(), harvest.Run{ID: "run-1"}))
	d, _ := newDispatcher(t, newSite(1998), 2, store)

	report := d.Run(context.Background(), "run-1", []harvest.Job{{Period: 1998, Category: harvest.CategoryStats}})
	require.NoError(t, report.Err())

	records, err := store.ListJobs(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, record := range records {
		assert.Equal(t, harvest.StateSucceeded, record.State, record.Job.Key())
	}
}

func TestRunDeduplicatesJobs(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, newSite(1998), 2, nil)
	job := harvest.Job{Period: 1998, Category: harvest.CategoryStandings}

	report := d.Run(context.Background(), "run-1", []harvest.Job{job, job})

	require.Len(t, report.Records, 1)
	assert.NoError(t, report.Err())
	assert.Equal(t, harvest.RunSucceeded, report.Status())
}

func TestRunWithoutJobs(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, newSite(), 2, nil)
	report := d.Run(context.Background(), "run-1", nil)

	assert.Empty(t, report.Records)
	assert.NoError(t, report.Err())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, system.New(), Config{}, nil)
	require.Error(t, err)
}
