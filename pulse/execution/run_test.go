package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressPercentage(t *testing.T) {
	tests := []struct {
		p    Progress
		want int
	}{
		{Progress{0, 0}, 0},
		{Progress{3, 0}, 0},
		{Progress{0, 10}, 0},
		{Progress{1, 3}, 33},
		{Progress{2, 3}, 67},
		{Progress{10, 10}, 100},
		{Progress{12, 10}, 100},
		{Progress{-1, 10}, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.p.Percentage(), "%+v", tt.p)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusStopped.Terminal())
}
