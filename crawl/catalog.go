package crawl

import (
	"context"
	"time"
)

// Tenant is a tracked site
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

// Keyword is a search term tracked for a tenant
type Keyword struct {
	ID       int64  `json:"id"`
	TenantID string `json:"tenant_id"`
	Keyword  string `json:"keyword"`
}

// Page is a tenant URL watched for health and backlinks
type Page struct {
	ID       int64  `json:"id"`
	TenantID string `json:"tenant_id"`
	URL      string `json:"url"`
}

// Competitor sources
const (
	SourceManual     = "manual"
	SourceDiscovered = "discovered"
)

// Competitor is a rival domain. Discovered competitors are not tracked until
// an operator adds them.
type Competitor struct {
	ID       int64  `json:"id"`
	TenantID string `json:"tenant_id"`
	Domain   string `json:"domain"`
	Source   string `json:"source"`
	Tracked  bool   `json:"tracked"`
}

// RankingRow is one stored position check
type RankingRow struct {
	TenantID  string
	KeywordID int64
	Position  *int
	URL       string
	RunID     string
	CheckedAt time.Time
}

// PageCheckRow is one stored page probe
type PageCheckRow struct {
	TenantID   string
	PageID     int64
	StatusCode int
	LatencyMS  int64
	RunID      string
	CheckedAt  time.Time
}

// BacklinkRow is one stored inbound link
type BacklinkRow struct {
	TargetURL        string
	SourceURL        string
	AnchorText       string
	CompetitorDomain string // empty for the tenant's own pages
}

// Catalog is the tenant data handlers read and write. A limit of 0 means
// no limit.
type Catalog interface {
	Tenant(ctx context.Context, id string) (*Tenant, error)

	CountKeywords(ctx context.Context, tenantID string) (int, error)
	ListKeywords(ctx context.Context, tenantID string, limit int) ([]Keyword, error)
	CountPages(ctx context.Context, tenantID string) (int, error)
	ListPages(ctx context.Context, tenantID string, limit int) ([]Page, error)
	CountCompetitors(ctx context.Context, tenantID string) (int, error)
	ListCompetitors(ctx context.Context, tenantID string, limit int) ([]Competitor, error)

	SaveRanking(ctx context.Context, row RankingRow) error
	UpsertCompetitor(ctx context.Context, tenantID, domain, source string, seenAt time.Time) (created bool, err error)
	SavePageCheck(ctx context.Context, row PageCheckRow) error
	SaveBacklinks(ctx context.Context, tenantID string, links []BacklinkRow, seenAt time.Time) (added int, err error)
}
