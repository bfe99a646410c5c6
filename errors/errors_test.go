package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsSentinel(t *testing.T) {
	err := Wrap(ErrNotFound, "run abc")
	err = Wrap(err, "failed to stop run")

	assert.True(t, Is(err, ErrNotFound))
	assert.True(t, IsNotFoundError(err))
	assert.False(t, IsConflictError(err))
	assert.Contains(t, err.Error(), "run abc")
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("run %s", "r-1")
	assert.True(t, IsNotFoundError(err))
	assert.Contains(t, err.Error(), "run r-1")
}

func TestNewInvalidRequestError(t *testing.T) {
	err := NewInvalidRequestError("unknown job type %q", "nope")
	assert.True(t, IsInvalidRequestError(err))
	assert.False(t, IsNotFoundError(err))
	assert.Contains(t, err.Error(), `"nope"`)
}

func TestNewConflictError(t *testing.T) {
	err := NewConflictError("run %s is %s", "r-2", "completed")
	assert.True(t, IsConflictError(err))
	assert.Contains(t, err.Error(), "r-2 is completed")
}

func TestNilErrorsAreNotClassified(t *testing.T) {
	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsInvalidRequestError(nil))
	assert.False(t, IsConflictError(nil))
}

func TestWithDetailCarriesIdentifiers(t *testing.T) {
	err := Wrap(New("boom"), "failed to update progress")
	err = WithDetail(err, fmt.Sprintf("Run ID: %s", "r-3"))
	err = WithDetail(err, "Stage: fetching_rankings")

	details := GetAllDetails(err)
	require.Len(t, details, 2)
	assert.Contains(t, details, "Run ID: r-3")
	assert.Contains(t, details, "Stage: fetching_rankings")
}

func TestWithHint(t *testing.T) {
	err := WithHint(New("unknown time zone"), "use an IANA name such as Europe/Berlin")
	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "use an IANA name such as Europe/Berlin", hints[0])
}
