package crawl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/rankpulse/errors"
	qtest "github.com/teranos/rankpulse/internal/testing"
	"github.com/teranos/rankpulse/internal/util"
	"github.com/teranos/rankpulse/provider"
	"github.com/teranos/rankpulse/pulse/fetch"
)

// fakeProvider answers from maps and fails any key listed in fail.
type fakeProvider struct {
	mu          sync.Mutex
	calls       []string
	fail        map[string]bool
	positions   map[string]int
	serp        map[string][]provider.SERPEntry
	competitors map[string][]provider.Competitor
	backlinks   map[string][]provider.Backlink
}

func (f *fakeProvider) record(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if f.fail[key] {
		return errors.Newf("provider error for %s", key)
	}
	return nil
}

func (f *fakeProvider) RankLookup(ctx context.Context, keyword, domain string) (*provider.Ranking, error) {
	if err := f.record(keyword); err != nil {
		return nil, err
	}
	r := &provider.Ranking{Keyword: keyword, Domain: domain, Results: f.serp[keyword]}
	if pos, ok := f.positions[keyword]; ok {
		r.Position = util.Ptr(pos)
		r.URL = "https://" + domain + "/" + strings.ReplaceAll(keyword, " ", "-")
	}
	return r, nil
}

func (f *fakeProvider) CompetitorList(ctx context.Context, domain string) ([]provider.Competitor, error) {
	if err := f.record(domain); err != nil {
		return nil, err
	}
	return f.competitors[domain], nil
}

func (f *fakeProvider) BacklinkPage(ctx context.Context, target string) ([]provider.Backlink, error) {
	if err := f.record(target); err != nil {
		return nil, err
	}
	return f.backlinks[target], nil
}

func (f *fakeProvider) PageProbe(ctx context.Context, pageURL string) (*provider.ProbeResult, error) {
	if err := f.record(pageURL); err != nil {
		return nil, err
	}
	return &provider.ProbeResult{URL: pageURL, StatusCode: 200, Latency: 42 * time.Millisecond}, nil
}

type progressLog struct {
	mu     sync.Mutex
	events []string
}

func (p *progressLog) report(stage string, processed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, fmt.Sprintf("%s %d/%d", stage, processed, total))
}

type fixture struct {
	catalog  *SQLCatalog
	provider *fakeProvider
	handlers map[JobType]Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog := NewSQLCatalog(qtest.CreateTestDB(t))
	_, err := catalog.AddTenant(context.Background(), "acme", "Acme", "acme.com")
	require.NoError(t, err)

	p := &fakeProvider{
		fail:        map[string]bool{},
		positions:   map[string]int{},
		serp:        map[string][]provider.SERPEntry{},
		competitors: map[string][]provider.Competitor{},
		backlinks:   map[string][]provider.Backlink{},
	}
	return &fixture{
		catalog:  catalog,
		provider: p,
		handlers: NewHandlers(Deps{
			Catalog:  catalog,
			Provider: p,
			Pacing:   fetch.Pacing{},
			Logger:   zaptest.NewLogger(t).Sugar(),
		}),
	}
}

func (f *fixture) run(t *testing.T, jt JobType, opts Options) (*Result, *progressLog, error) {
	t.Helper()
	progress := &progressLog{}
	res, err := f.handlers[jt].Run(context.Background(),
		Task{RunID: "run-1", TenantID: "acme", JobType: jt, Options: opts}, progress.report)
	return res, progress, err
}

func TestRankCheckPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, f.catalog.AddKeyword(ctx, "acme", k))
		f.provider.positions[k] = 7
	}
	f.provider.fail["c"] = true

	res, progress, err := f.run(t, RankCheck, Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, res.ItemsTotal)
	assert.Equal(t, 5, res.ItemsProcessed)
	assert.Equal(t, 4, res.ItemsUpdated)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, []string{
		"fetching_rankings 0/5",
		"fetching_rankings 1/5", "fetching_rankings 2/5", "fetching_rankings 3/5",
		"fetching_rankings 4/5", "fetching_rankings 5/5",
		"saving 5/5",
	}, progress.events)

	var rows int
	require.NoError(t, f.catalog.db.QueryRow(`SELECT COUNT(*) FROM rankings WHERE run_id = 'run-1'`).Scan(&rows))
	assert.Equal(t, 4, rows)
}

func TestRankCheckAllFailedIsFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.catalog.AddKeyword(ctx, "acme", "a"))
	require.NoError(t, f.catalog.AddKeyword(ctx, "acme", "b"))
	f.provider.fail["a"] = true
	f.provider.fail["b"] = true

	res, _, err := f.run(t, RankCheck, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 keywords failed")
	assert.Equal(t, 2, res.ErrorCount)
}

func TestRankCheckBatchSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 8; i++ {
		require.NoError(t, f.catalog.AddKeyword(ctx, "acme", fmt.Sprintf("k%d", i)))
	}

	n, err := f.handlers[RankCheck].Estimate(ctx, "acme", Options{BatchSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, _, err := f.run(t, RankCheck, Options{BatchSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ItemsTotal)
	assert.Len(t, f.provider.calls, 3)
}

func TestEmptyTenantCompletes(t *testing.T) {
	f := newFixture(t)
	for _, jt := range AllJobTypes() {
		res, progress, err := f.run(t, jt, Options{})
		require.NoError(t, err, jt)
		assert.Zero(t, res.ItemsTotal, jt)
		assert.Contains(t, res.Message, "no ", jt)
		assert.Empty(t, progress.events, jt)
	}
	assert.Empty(t, f.provider.calls)
}

func TestUnknownTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.handlers[RankCheck].Run(context.Background(),
		Task{RunID: "r", TenantID: "ghost", JobType: RankCheck}, func(string, int, int) {})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCompetitorScanDiscoversDomains(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.catalog.AddCompetitor(ctx, "acme", "rival.com"))
	f.provider.competitors["rival.com"] = []provider.Competitor{
		{Domain: "newcomer.io"}, {Domain: "acme.com"}, {Domain: "rival.com"},
	}

	res, _, err := f.run(t, CompetitorScan, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsUpdated, "only newcomer.io is new; the tenant itself is skipped")
}

func TestPageHealthCheckSavesProbes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.catalog.AddPage(ctx, "acme", "https://acme.com/"))
	require.NoError(t, f.catalog.AddPage(ctx, "acme", "https://acme.com/pricing"))

	res, progress, err := f.run(t, PageHealthCheck, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ItemsUpdated)
	assert.Equal(t, "probing_pages 0/2", progress.events[0])

	var latency int
	require.NoError(t, f.catalog.db.QueryRow(`SELECT MAX(latency_ms) FROM page_checks`).Scan(&latency))
	assert.Equal(t, 42, latency)
}

func TestDeepDiscoveryDepthCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 35; i++ {
		require.NoError(t, f.catalog.AddKeyword(ctx, "acme", fmt.Sprintf("k%02d", i)))
	}

	n, err := f.handlers[DeepDiscovery].Estimate(ctx, "acme", Options{})
	require.NoError(t, err)
	assert.Equal(t, 30, n, "default depth 3")

	n, err = f.handlers[DeepDiscovery].Estimate(ctx, "acme", Options{Depth: 1})
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	f.provider.serp["k00"] = []provider.SERPEntry{
		{Position: 1, URL: "https://www.bigshop.com/shoes", Domain: ""},
		{Position: 2, URL: "https://acme.com/k00", Domain: "acme.com"},
	}
	res, _, err := f.run(t, DeepDiscovery, Options{Depth: 1})
	require.NoError(t, err)
	assert.Equal(t, 10, res.ItemsProcessed)
	assert.Equal(t, 1, res.ItemsUpdated)
}

func TestBacklinkRefresh(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.catalog.AddPage(ctx, "acme", "https://acme.com/blog"))
	f.provider.backlinks["https://acme.com/blog"] = []provider.Backlink{
		{SourceURL: "https://news.site/a"}, {SourceURL: "https://forum.site/b", AnchorText: "great post"},
	}

	res, _, err := f.run(t, BacklinkRefresh, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ItemsUpdated)

	res, _, err = f.run(t, BacklinkRefresh, Options{})
	require.NoError(t, err)
	assert.Zero(t, res.ItemsUpdated, "second refresh finds nothing new")
}

func TestCompetitorBacklinkRefreshTagsCompetitor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.catalog.AddCompetitor(ctx, "acme", "rival.com"))
	f.provider.backlinks["https://rival.com"] = []provider.Backlink{{SourceURL: "https://blog.example/x"}}

	res, _, err := f.run(t, CompetitorBacklinkRefresh, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsUpdated)
	assert.Equal(t, []string{"https://rival.com"}, f.provider.calls)

	var competitor string
	require.NoError(t, f.catalog.db.QueryRow(`SELECT competitor_domain FROM backlinks`).Scan(&competitor))
	assert.Equal(t, "rival.com", competitor)
}

func TestCancelledRunReportsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, f.catalog.AddKeyword(context.Background(), "acme", k))
	}

	calls := 0
	res, err := f.handlers[RankCheck].Run(ctx, Task{RunID: "r", TenantID: "acme", JobType: RankCheck},
		func(stage string, processed, total int) {
			if stage == StageFetchingRankings && processed == 1 {
				calls++
				cancel()
			}
		})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.ItemsProcessed)
	assert.Equal(t, 1, calls)
	assert.Contains(t, res.Message, "stopped")
}
