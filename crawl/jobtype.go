// Package crawl defines the crawl job types and the handler for each of them.
// Handlers own their work items and drive the provider through pulse/fetch.
package crawl

import (
	"strings"

	"github.com/teranos/rankpulse/errors"
)

// JobType identifies one kind of recurring crawl. The set is closed.
type JobType string

const (
	RankCheck                 JobType = "rank-check"
	CompetitorScan            JobType = "competitor-scan"
	PageHealthCheck           JobType = "page-health-check"
	DeepDiscovery             JobType = "deep-discovery"
	BacklinkRefresh           JobType = "backlink-refresh"
	CompetitorBacklinkRefresh JobType = "competitor-backlink-refresh"
)

var allJobTypes = []JobType{
	RankCheck,
	CompetitorScan,
	PageHealthCheck,
	DeepDiscovery,
	BacklinkRefresh,
	CompetitorBacklinkRefresh,
}

// AllJobTypes returns every job type in display order.
func AllJobTypes() []JobType {
	return append([]JobType(nil), allJobTypes...)
}

// ParseJobType accepts the canonical name, case-insensitively.
func ParseJobType(s string) (JobType, error) {
	candidate := JobType(strings.ToLower(strings.TrimSpace(s)))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", errors.WithHintf(
		errors.NewInvalidRequestError("unknown job type %q", s),
		"valid job types: %s", strings.Join(jobTypeNames(), ", "))
}

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	for _, known := range allJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t JobType) String() string { return string(t) }

// Stage is the label a run of this type shows while it is fetching.
func (t JobType) Stage() string {
	switch t {
	case RankCheck:
		return StageFetchingRankings
	case CompetitorScan:
		return StageScanningCompetitors
	case PageHealthCheck:
		return StageProbingPages
	case DeepDiscovery:
		return StageDiscovering
	case BacklinkRefresh:
		return StageFetchingBacklinks
	case CompetitorBacklinkRefresh:
		return StageFetchingCompetitorBacklinks
	}
	return StageInitializing
}

func jobTypeNames() []string {
	names := make([]string, len(allJobTypes))
	for i, t := range allJobTypes {
		names[i] = string(t)
	}
	return names
}

// Stage labels written to the run record.
const (
	StageInitializing                = "initializing"
	StageFetchingRankings            = "fetching_rankings"
	StageScanningCompetitors         = "scanning_competitors"
	StageProbingPages                = "probing_pages"
	StageDiscovering                 = "discovering"
	StageFetchingBacklinks           = "fetching_backlinks"
	StageFetchingCompetitorBacklinks = "fetching_competitor_backlinks"
	StageSaving                      = "saving"
	StageDone                        = "done"
)
