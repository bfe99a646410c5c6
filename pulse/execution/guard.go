package execution

import (
	"sync"

	"github.com/teranos/rankpulse/crawl"
)

// Guard admits at most one run per definition and per (tenant, job type)
// within this process. Both keys are taken or neither is.
type Guard struct {
	mu          sync.Mutex
	definitions map[string]struct{}
	pairs       map[pairKey]string // value: bound run id, "" until Bind
}

type pairKey struct {
	tenantID string
	jobType  crawl.JobType
}

// NewGuard creates an empty guard
func NewGuard() *Guard {
	return &Guard{
		definitions: make(map[string]struct{}),
		pairs:       make(map[pairKey]string),
	}
}

// TryAcquire takes both keys atomically. definitionID may be empty for
// manual runs, in which case only the pair key is taken.
func (g *Guard) TryAcquire(definitionID, tenantID string, jobType crawl.JobType) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := pairKey{tenantID, jobType}
	if _, held := g.pairs[key]; held {
		return false
	}
	if definitionID != "" {
		if _, held := g.definitions[definitionID]; held {
			return false
		}
		g.definitions[definitionID] = struct{}{}
	}
	g.pairs[key] = ""
	return true
}

// Bind records the run id that holds the pair key
func (g *Guard) Bind(tenantID string, jobType crawl.JobType, runID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := pairKey{tenantID, jobType}
	if _, held := g.pairs[key]; held {
		g.pairs[key] = runID
	}
}

// Holder returns the run id bound to the pair key, if any
func (g *Guard) Holder(tenantID string, jobType crawl.JobType) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	runID, held := g.pairs[pairKey{tenantID, jobType}]
	return runID, held && runID != ""
}

// Release frees both keys. Releasing keys that are not held is a no-op.
func (g *Guard) Release(definitionID, tenantID string, jobType crawl.JobType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if definitionID != "" {
		delete(g.definitions, definitionID)
	}
	delete(g.pairs, pairKey{tenantID, jobType})
}

// Len reports how many (tenant, job type) pairs are held
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pairs)
}
