package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDefaults(t *testing.T) {
	info := Get()
	assert.Equal(t, "dev", info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.String(), "rankpulse dev")
}

func TestShort(t *testing.T) {
	assert.Equal(t, "abcdef1", Info{CommitHash: "abcdef1234567"}.Short())
	assert.Equal(t, "dev", Info{CommitHash: "dev"}.Short())
}
