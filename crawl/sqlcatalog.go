package crawl

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/rankpulse/db"
	"github.com/teranos/rankpulse/errors"
)

// SQLCatalog is the SQLite-backed Catalog
type SQLCatalog struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLCatalog creates a catalog over conn
func NewSQLCatalog(conn *sql.DB) *SQLCatalog {
	return &SQLCatalog{db: conn, now: time.Now}
}

// AddTenant registers a site. domain is stored lowercase without scheme.
func (c *SQLCatalog) AddTenant(ctx context.Context, id, name, domain string) (*Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequestError("tenant id is required")
	}
	domain = NormalizeDomain(domain)
	if domain == "" {
		return nil, errors.NewInvalidRequestError("tenant domain is required")
	}
	if name == "" {
		name = id
	}
	t := &Tenant{ID: id, Name: name, Domain: domain, CreatedAt: c.now().UTC()}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, domain, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.Domain, db.FormatTime(t.CreatedAt))
	if err != nil {
		return nil, errors.WithDetailf(errors.Wrap(err, "failed to add tenant"), "Tenant ID: %s", id)
	}
	return t, nil
}

// Tenant looks up a tenant by id
func (c *SQLCatalog) Tenant(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	var createdAt string
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, domain, created_at FROM tenants WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Domain, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("tenant %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get tenant %s", id)
	}
	if t.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "created_at of tenant %s", id)
	}
	return &t, nil
}

// ListTenants returns every tenant by id
func (c *SQLCatalog) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, name, domain, created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tenants")
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &t.Domain, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan tenant")
		}
		if t.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// AddKeyword starts tracking keyword. Adding an existing keyword reactivates it.
func (c *SQLCatalog) AddKeyword(ctx context.Context, tenantID, keyword string) error {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return errors.NewInvalidRequestError("keyword is required")
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO keywords (tenant_id, keyword, active, created_at) VALUES (?, ?, 1, ?)
		ON CONFLICT (tenant_id, keyword) DO UPDATE SET active = 1`,
		tenantID, keyword, db.FormatTime(c.now()))
	if err != nil {
		return errors.WithDetailf(errors.Wrap(err, "failed to add keyword"), "Tenant ID: %s", tenantID)
	}
	return nil
}

// AddPage starts watching pageURL
func (c *SQLCatalog) AddPage(ctx context.Context, tenantID, pageURL string) error {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.NewInvalidRequestError("page URL %q must be absolute", pageURL)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO pages (tenant_id, url, active, created_at) VALUES (?, ?, 1, ?)
		ON CONFLICT (tenant_id, url) DO UPDATE SET active = 1`,
		tenantID, u.String(), db.FormatTime(c.now()))
	if err != nil {
		return errors.WithDetailf(errors.Wrap(err, "failed to add page"), "Tenant ID: %s", tenantID)
	}
	return nil
}

// AddCompetitor tracks domain as a manual competitor. A previously
// discovered domain becomes tracked.
func (c *SQLCatalog) AddCompetitor(ctx context.Context, tenantID, domain string) error {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return errors.NewInvalidRequestError("competitor domain is required")
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO competitors (tenant_id, domain, source, tracked, created_at) VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (tenant_id, domain) DO UPDATE SET tracked = 1`,
		tenantID, domain, SourceManual, db.FormatTime(c.now()))
	if err != nil {
		return errors.WithDetailf(errors.Wrap(err, "failed to add competitor"), "Tenant ID: %s", tenantID)
	}
	return nil
}

// CountKeywords counts active keywords
func (c *SQLCatalog) CountKeywords(ctx context.Context, tenantID string) (int, error) {
	return c.count(ctx, `SELECT COUNT(*) FROM keywords WHERE tenant_id = ? AND active = 1`, tenantID)
}

// ListKeywords returns active keywords in insertion order
func (c *SQLCatalog) ListKeywords(ctx context.Context, tenantID string, limit int) ([]Keyword, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, tenant_id, keyword FROM keywords WHERE tenant_id = ? AND active = 1 ORDER BY id LIMIT ?`,
		tenantID, sqlLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list keywords")
	}
	defer rows.Close()

	var out []Keyword
	for rows.Next() {
		var k Keyword
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Keyword); err != nil {
			return nil, errors.Wrap(err, "failed to scan keyword")
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// CountPages counts active pages
func (c *SQLCatalog) CountPages(ctx context.Context, tenantID string) (int, error) {
	return c.count(ctx, `SELECT COUNT(*) FROM pages WHERE tenant_id = ? AND active = 1`, tenantID)
}

// ListPages returns active pages in insertion order
func (c *SQLCatalog) ListPages(ctx context.Context, tenantID string, limit int) ([]Page, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, tenant_id, url FROM pages WHERE tenant_id = ? AND active = 1 ORDER BY id LIMIT ?`,
		tenantID, sqlLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pages")
	}
	defer rows.Close()

	var out []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.TenantID, &p.URL); err != nil {
			return nil, errors.Wrap(err, "failed to scan page")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountCompetitors counts tracked competitors
func (c *SQLCatalog) CountCompetitors(ctx context.Context, tenantID string) (int, error) {
	return c.count(ctx, `SELECT COUNT(*) FROM competitors WHERE tenant_id = ? AND tracked = 1`, tenantID)
}

// ListCompetitors returns tracked competitors in insertion order
func (c *SQLCatalog) ListCompetitors(ctx context.Context, tenantID string, limit int) ([]Competitor, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, tenant_id, domain, source, tracked FROM competitors
		WHERE tenant_id = ? AND tracked = 1 ORDER BY id LIMIT ?`,
		tenantID, sqlLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list competitors")
	}
	defer rows.Close()

	var out []Competitor
	for rows.Next() {
		var comp Competitor
		if err := rows.Scan(&comp.ID, &comp.TenantID, &comp.Domain, &comp.Source, &comp.Tracked); err != nil {
			return nil, errors.Wrap(err, "failed to scan competitor")
		}
		out = append(out, comp)
	}
	return out, rows.Err()
}

// SaveRanking stores one position check
func (c *SQLCatalog) SaveRanking(ctx context.Context, row RankingRow) error {
	var position interface{}
	if row.Position != nil {
		position = *row.Position
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO rankings (tenant_id, keyword_id, position, url, run_id, checked_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.TenantID, row.KeywordID, position, nullString(row.URL), nullString(row.RunID), db.FormatTime(row.CheckedAt))
	if err != nil {
		return errors.WithDetailf(errors.Wrap(err, "failed to save ranking"), "Keyword ID: %d", row.KeywordID)
	}
	return nil
}

// UpsertCompetitor records domain as seen. New domains are inserted
// untracked with the given source; known ones get last_seen_at bumped.
func (c *SQLCatalog) UpsertCompetitor(ctx context.Context, tenantID, domain, source string, seenAt time.Time) (bool, error) {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return false, errors.NewInvalidRequestError("competitor domain is required")
	}
	tracked := source == SourceManual
	seen := db.FormatTime(seenAt)

	res, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO competitors (tenant_id, domain, source, tracked, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tenantID, domain, source, tracked, seen, seen)
	if err != nil {
		return false, errors.WithDetailf(errors.Wrap(err, "failed to upsert competitor"), "Domain: %s", domain)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE competitors SET last_seen_at = ? WHERE tenant_id = ? AND domain = ?`,
		seen, tenantID, domain); err != nil {
		return false, errors.WithDetailf(errors.Wrap(err, "failed to touch competitor"), "Domain: %s", domain)
	}
	return false, nil
}

// SavePageCheck stores one probe result
func (c *SQLCatalog) SavePageCheck(ctx context.Context, row PageCheckRow) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO page_checks (tenant_id, page_id, status_code, latency_ms, run_id, checked_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.TenantID, row.PageID, row.StatusCode, row.LatencyMS, nullString(row.RunID), db.FormatTime(row.CheckedAt))
	if err != nil {
		return errors.WithDetailf(errors.Wrap(err, "failed to save page check"), "Page ID: %d", row.PageID)
	}
	return nil
}

// SaveBacklinks stores links in one transaction and returns how many were
// new. Known links get last_seen_at and anchor text refreshed.
func (c *SQLCatalog) SaveBacklinks(ctx context.Context, tenantID string, links []BacklinkRow, seenAt time.Time) (int, error) {
	if len(links) == 0 {
		return 0, nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin backlink transaction")
	}
	defer tx.Rollback()

	seen := db.FormatTime(seenAt)
	added := 0
	for _, l := range links {
		if l.SourceURL == "" || l.TargetURL == "" {
			continue
		}
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO backlinks
				(tenant_id, target_url, source_url, anchor_text, competitor_domain, first_seen_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tenantID, l.TargetURL, l.SourceURL, l.AnchorText, nullString(l.CompetitorDomain), seen, seen)
		if err != nil {
			return 0, errors.WithDetailf(errors.Wrap(err, "failed to insert backlink"), "Source URL: %s", l.SourceURL)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			added++
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE backlinks SET last_seen_at = ?, anchor_text = ?
			WHERE tenant_id = ? AND target_url = ? AND source_url = ?`,
			seen, l.AnchorText, tenantID, l.TargetURL, l.SourceURL); err != nil {
			return 0, errors.WithDetailf(errors.Wrap(err, "failed to refresh backlink"), "Source URL: %s", l.SourceURL)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit backlinks")
	}
	return added, nil
}

func (c *SQLCatalog) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count")
	}
	return n, nil
}

// sqlLimit maps "no limit" to SQLite's LIMIT -1
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// NormalizeDomain lowercases d and strips scheme, "www.", path and port.
func NormalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil {
			d = u.Host
		}
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, ":"); i >= 0 {
		d = d[:i]
	}
	return strings.TrimPrefix(d, "www.")
}
