package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessingStatus_Terminal(t *testing.T) {
	assert.True(t, ProcessingSuccess.Terminal())
	assert.True(t, ProcessingFailed.Terminal())
	assert.False(t, ProcessingPending.Terminal())
	assert.False(t, ProcessingInProgress.Terminal())
}
