package crawl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/logger"
	"github.com/teranos/rankpulse/provider"
	"github.com/teranos/rankpulse/pulse/fetch"
)

// Item caps per job type
const (
	CompetitorScanCap            = 20
	PageHealthCap                = 100
	DefaultDiscoveryDepth        = 3
	KeywordsPerDepth             = 10
	BacklinkRefreshCap           = 50
	CompetitorBacklinkRefreshCap = 20
)

// Provider is the remote data source handlers call once per item
type Provider interface {
	RankLookup(ctx context.Context, keyword, domain string) (*provider.Ranking, error)
	CompetitorList(ctx context.Context, domain string) ([]provider.Competitor, error)
	BacklinkPage(ctx context.Context, targetURL string) ([]provider.Backlink, error)
	PageProbe(ctx context.Context, pageURL string) (*provider.ProbeResult, error)
}

// Deps are shared by every handler
type Deps struct {
	Catalog  Catalog
	Provider Provider
	Pacing   fetch.Pacing
	Logger   *zap.SugaredLogger
	Now      func() time.Time
}

// NewHandlers builds one handler per job type
func NewHandlers(deps Deps) map[JobType]Handler {
	if deps.Logger == nil {
		deps.Logger = logger.ComponentLogger("crawl")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	b := &base{
		catalog:  deps.Catalog,
		provider: deps.Provider,
		pacing:   deps.Pacing,
		logger:   logger.AddCrawlSymbol(deps.Logger),
		now:      deps.Now,
	}
	return map[JobType]Handler{
		RankCheck:                 &rankCheck{b},
		CompetitorScan:            &competitorScan{b},
		PageHealthCheck:           &pageHealthCheck{b},
		DeepDiscovery:             &deepDiscovery{b},
		BacklinkRefresh:           &backlinkRefresh{b},
		CompetitorBacklinkRefresh: &competitorBacklinkRefresh{b},
	}
}

type base struct {
	catalog  Catalog
	provider Provider
	pacing   fetch.Pacing
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// capped applies an operator limit under a hard cap
func capped(limit, hardCap int) int {
	if limit > 0 && limit < hardCap {
		return limit
	}
	return hardCap
}

func estimate(n, limit int) int {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}

// fetchItems runs call over items under stage, then reports the saving
// stage. Per-item failures are logged and left in the batch.
func fetchItems[T, R any](ctx context.Context, b *base, task Task, stage string, items []T, call func(context.Context, T) (R, error), report ProgressFunc) *fetch.Batch[R] {
	report(stage, 0, len(items))
	batch := fetch.All(ctx, items, call, b.pacing, func(processed, total int) {
		report(stage, processed, total)
	})
	log := logger.FromContext(ctx, b.logger)
	for i, err := range batch.Errors {
		log.Debugw("Item failed",
			logger.FieldJobType, task.JobType,
			"index", i,
			logger.FieldError, err.Error())
	}
	report(StageSaving, batch.Processed, batch.Total)
	return batch
}

// summarize applies the fatality rule: a non-empty batch where every
// attempted item failed is a failed run.
func summarize[R any](batch *fetch.Batch[R], updated int, noun string) (*Result, error) {
	res := &Result{
		ItemsTotal:     batch.Total,
		ItemsProcessed: batch.Processed,
		ItemsUpdated:   updated,
		ErrorCount:     batch.Failed(),
		Cancelled:      batch.Cancelled,
	}
	res.Message = fmt.Sprintf("%d/%d %s processed, %d updated, %d failed",
		batch.Processed, batch.Total, noun, updated, batch.Failed())
	if batch.Cancelled {
		res.Message += ", stopped"
	}
	if batch.AllFailed() {
		err := errors.Wrapf(batch.FirstError(), "all %d %s failed", batch.Processed, noun)
		res.Message = err.Error()
		return res, err
	}
	return res, nil
}

func empty(noun string) *Result {
	return &Result{Message: "no " + noun + " to process"}
}

// rank-check: position of the tenant domain for each tracked keyword

type rankCheck struct{ *base }

func (h *rankCheck) JobType() JobType { return RankCheck }

func (h *rankCheck) Estimate(ctx context.Context, tenantID string, opts Options) (int, error) {
	n, err := h.catalog.CountKeywords(ctx, tenantID)
	return estimate(n, opts.BatchSize), err
}

func (h *rankCheck) Run(ctx context.Context, task Task, report ProgressFunc) (*Result, error) {
	tenant, err := h.catalog.Tenant(ctx, task.TenantID)
	if err != nil {
		return nil, err
	}
	keywords, err := h.catalog.ListKeywords(ctx, task.TenantID, task.Options.BatchSize)
	if err != nil {
		return nil, err
	}
	if len(keywords) == 0 {
		return empty("keywords"), nil
	}

	batch := fetchItems(ctx, h.base, task, RankCheck.Stage(), keywords,
		func(ctx context.Context, k Keyword) (*provider.Ranking, error) {
			return h.provider.RankLookup(ctx, k.Keyword, tenant.Domain)
		}, report)
	// Fetched results are saved even when the run was stopped
	ctx = context.WithoutCancel(ctx)

	checkedAt := h.now().UTC()
	saved := 0
	for _, item := range batch.Results {
		row := RankingRow{
			TenantID:  task.TenantID,
			KeywordID: keywords[item.Index].ID,
			Position:  item.Value.Position,
			URL:       item.Value.URL,
			RunID:     task.RunID,
			CheckedAt: checkedAt,
		}
		if err := h.catalog.SaveRanking(ctx, row); err != nil {
			return nil, err
		}
		saved++
	}
	return summarize(batch, saved, "keywords")
}

// competitor-scan: competitors of each tracked competitor

type competitorScan struct{ *base }

func (h *competitorScan) JobType() JobType { return CompetitorScan }

func (h *competitorScan) Estimate(ctx context.Context, tenantID string, opts Options) (int, error) {
	n, err := h.catalog.CountCompetitors(ctx, tenantID)
	return estimate(n, capped(opts.Limit, CompetitorScanCap)), err
}

func (h *competitorScan) Run(ctx context.Context, task Task, report ProgressFunc) (*Result, error) {
	tenant, err := h.catalog.Tenant(ctx, task.TenantID)
	if err != nil {
		return nil, err
	}
	competitors, err := h.catalog.ListCompetitors(ctx, task.TenantID, capped(task.Options.Limit, CompetitorScanCap))
	if err != nil {
		return nil, err
	}
	if len(competitors) == 0 {
		return empty("competitors"), nil
	}

	batch := fetchItems(ctx, h.base, task, CompetitorScan.Stage(), competitors,
		func(ctx context.Context, c Competitor) ([]provider.Competitor, error) {
			return h.provider.CompetitorList(ctx, c.Domain)
		}, report)
	ctx = context.WithoutCancel(ctx)

	seenAt := h.now().UTC()
	added := 0
	for _, item := range batch.Results {
		for _, found := range item.Value {
			if NormalizeDomain(found.Domain) == tenant.Domain {
				continue
			}
			created, err := h.catalog.UpsertCompetitor(ctx, task.TenantID, found.Domain, SourceDiscovered, seenAt)
			if err != nil {
				return nil, err
			}
			if created {
				added++
			}
		}
	}
	return summarize(batch, added, "competitors")
}

// page-health-check: status and latency of each tracked page

type pageHealthCheck struct{ *base }

func (h *pageHealthCheck) JobType() JobType { return PageHealthCheck }

func (h *pageHealthCheck) Estimate(ctx context.Context, tenantID string, opts Options) (int, error) {
	n, err := h.catalog.CountPages(ctx, tenantID)
	return estimate(n, capped(opts.Limit, PageHealthCap)), err
}

func (h *pageHealthCheck) Run(ctx context.Context, task Task, report ProgressFunc) (*Result, error) {
	pages, err := h.catalog.ListPages(ctx, task.TenantID, capped(task.Options.Limit, PageHealthCap))
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return empty("pages"), nil
	}

	batch := fetchItems(ctx, h.base, task, PageHealthCheck.Stage(), pages,
		func(ctx context.Context, p Page) (*provider.ProbeResult, error) {
			return h.provider.PageProbe(ctx, p.URL)
		}, report)
	ctx = context.WithoutCancel(ctx)

	checkedAt := h.now().UTC()
	saved := 0
	for _, item := range batch.Results {
		row := PageCheckRow{
			TenantID:   task.TenantID,
			PageID:     pages[item.Index].ID,
			StatusCode: item.Value.StatusCode,
			LatencyMS:  item.Value.Latency.Milliseconds(),
			RunID:      task.RunID,
			CheckedAt:  checkedAt,
		}
		if err := h.catalog.SavePageCheck(ctx, row); err != nil {
			return nil, err
		}
		saved++
	}
	return summarize(batch, saved, "pages")
}

// deep-discovery: new competitors from the result pages of tracked keywords

type deepDiscovery struct{ *base }

func (h *deepDiscovery) JobType() JobType { return DeepDiscovery }

func discoveryLimit(opts Options) int {
	depth := opts.Depth
	if depth <= 0 {
		depth = DefaultDiscoveryDepth
	}
	return depth * KeywordsPerDepth
}

func (h *deepDiscovery) Estimate(ctx context.Context, tenantID string, opts Options) (int, error) {
	n, err := h.catalog.CountKeywords(ctx, tenantID)
	return estimate(n, discoveryLimit(opts)), err
}

func (h *deepDiscovery) Run(ctx context.Context, task Task, report ProgressFunc) (*Result, error) {
	tenant, err := h.catalog.Tenant(ctx, task.TenantID)
	if err != nil {
		return nil, err
	}
	keywords, err := h.catalog.ListKeywords(ctx, task.TenantID, discoveryLimit(task.Options))
	if err != nil {
		return nil, err
	}
	if len(keywords) == 0 {
		return empty("keywords"), nil
	}

	batch := fetchItems(ctx, h.base, task, DeepDiscovery.Stage(), keywords,
		func(ctx context.Context, k Keyword) (*provider.Ranking, error) {
			return h.provider.RankLookup(ctx, k.Keyword, tenant.Domain)
		}, report)
	ctx = context.WithoutCancel(ctx)

	seenAt := h.now().UTC()
	added := 0
	for _, item := range batch.Results {
		for _, entry := range item.Value.Results {
			domain := NormalizeDomain(entry.Domain)
			if domain == "" && entry.URL != "" {
				domain = NormalizeDomain(entry.URL)
			}
			if domain == "" || domain == tenant.Domain {
				continue
			}
			created, err := h.catalog.UpsertCompetitor(ctx, task.TenantID, domain, SourceDiscovered, seenAt)
			if err != nil {
				return nil, err
			}
			if created {
				added++
			}
		}
	}
	return summarize(batch, added, "keywords")
}

// backlink-refresh: inbound links to each tracked page

type backlinkRefresh struct{ *base }

func (h *backlinkRefresh) JobType() JobType { return BacklinkRefresh }

func (h *backlinkRefresh) Estimate(ctx context.Context, tenantID string, opts Options) (int, error) {
	n, err := h.catalog.CountPages(ctx, tenantID)
	return estimate(n, capped(opts.Limit, BacklinkRefreshCap)), err
}

func (h *backlinkRefresh) Run(ctx context.Context, task Task, report ProgressFunc) (*Result, error) {
	pages, err := h.catalog.ListPages(ctx, task.TenantID, capped(task.Options.Limit, BacklinkRefreshCap))
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return empty("pages"), nil
	}

	batch := fetchItems(ctx, h.base, task, BacklinkRefresh.Stage(), pages,
		func(ctx context.Context, p Page) ([]provider.Backlink, error) {
			return h.provider.BacklinkPage(ctx, p.URL)
		}, report)
	ctx = context.WithoutCancel(ctx)

	var rows []BacklinkRow
	for _, item := range batch.Results {
		rows = append(rows, backlinkRows(item.Value, pages[item.Index].URL, "")...)
	}
	added, err := h.catalog.SaveBacklinks(ctx, task.TenantID, rows, h.now().UTC())
	if err != nil {
		return nil, err
	}
	return summarize(batch, added, "pages")
}

// competitor-backlink-refresh: inbound links to each tracked competitor

type competitorBacklinkRefresh struct{ *base }

func (h *competitorBacklinkRefresh) JobType() JobType { return CompetitorBacklinkRefresh }

func (h *competitorBacklinkRefresh) Estimate(ctx context.Context, tenantID string, opts Options) (int, error) {
	n, err := h.catalog.CountCompetitors(ctx, tenantID)
	return estimate(n, capped(opts.Limit, CompetitorBacklinkRefreshCap)), err
}

func (h *competitorBacklinkRefresh) Run(ctx context.Context, task Task, report ProgressFunc) (*Result, error) {
	competitors, err := h.catalog.ListCompetitors(ctx, task.TenantID, capped(task.Options.Limit, CompetitorBacklinkRefreshCap))
	if err != nil {
		return nil, err
	}
	if len(competitors) == 0 {
		return empty("competitors"), nil
	}

	batch := fetchItems(ctx, h.base, task, CompetitorBacklinkRefresh.Stage(), competitors,
		func(ctx context.Context, c Competitor) ([]provider.Backlink, error) {
			return h.provider.BacklinkPage(ctx, "https://"+c.Domain)
		}, report)
	ctx = context.WithoutCancel(ctx)

	var rows []BacklinkRow
	for _, item := range batch.Results {
		c := competitors[item.Index]
		rows = append(rows, backlinkRows(item.Value, "https://"+c.Domain, c.Domain)...)
	}
	added, err := h.catalog.SaveBacklinks(ctx, task.TenantID, rows, h.now().UTC())
	if err != nil {
		return nil, err
	}
	return summarize(batch, added, "competitors")
}

func backlinkRows(links []provider.Backlink, target, competitor string) []BacklinkRow {
	rows := make([]BacklinkRow, 0, len(links))
	for _, l := range links {
		t := l.TargetURL
		if t == "" {
			t = target
		}
		rows = append(rows, BacklinkRow{
			TargetURL:        t,
			SourceURL:        l.SourceURL,
			AnchorText:       l.AnchorText,
			CompetitorDomain: competitor,
		})
	}
	return rows
}
