package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/rankpulse/errors"
)

func TestParseJobType(t *testing.T) {
	for _, jt := range AllJobTypes() {
		got, err := ParseJobType(" " + string(jt) + " ")
		require.NoError(t, err)
		assert.Equal(t, jt, got)
	}

	got, err := ParseJobType("Rank-Check")
	require.NoError(t, err)
	assert.Equal(t, RankCheck, got)

	_, err = ParseJobType("full-crawl")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	require.Len(t, errors.GetAllHints(err), 1)
	assert.Contains(t, errors.GetAllHints(err)[0], "competitor-backlink-refresh")
}

func TestAllJobTypesIsACopy(t *testing.T) {
	types := AllJobTypes()
	require.Len(t, types, 6)
	types[0] = "mutated"
	assert.Equal(t, RankCheck, AllJobTypes()[0])
}

func TestEveryJobTypeHasAFetchStage(t *testing.T) {
	seen := map[string]bool{}
	for _, jt := range AllJobTypes() {
		stage := jt.Stage()
		assert.NotEqual(t, StageInitializing, stage, jt)
		assert.False(t, seen[stage], "stage %s reused", stage)
		seen[stage] = true
	}
	assert.Equal(t, StageInitializing, JobType("nope").Stage())
}

func TestNewHandlersCoversEveryJobType(t *testing.T) {
	handlers := NewHandlers(Deps{})
	for _, jt := range AllJobTypes() {
		h, ok := handlers[jt]
		require.True(t, ok, "no handler for %s", jt)
		assert.Equal(t, jt, h.JobType())
	}
	assert.Len(t, handlers, len(AllJobTypes()))
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, Options{}, opts)

	opts, err = ParseOptions([]byte(`{"batch_size":25,"depth":2}`))
	require.NoError(t, err)
	assert.Equal(t, 25, opts.BatchSize)
	assert.Equal(t, 2, opts.Depth)

	_, err = ParseOptions([]byte(`{"limit":"ten"}`))
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = ParseOptions([]byte(`{"limit":-1}`))
	assert.True(t, errors.IsInvalidRequestError(err))
}
