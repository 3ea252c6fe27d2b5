package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(JobStatusSubmitted, JobStatusProcessing))
	assert.True(t, CanTransition(JobStatusSubmitted, JobStatusCompleted))
	assert.True(t, CanTransition(JobStatusProcessing, JobStatusCompleted))
	assert.True(t, CanTransition(JobStatusProcessing, JobStatusFailed))

	assert.False(t, CanTransition(JobStatusCompleted, JobStatusFailed), "completed is terminal")
	assert.False(t, CanTransition(JobStatusFailed, JobStatusProcessing))
	assert.False(t, CanTransition(JobStatusProcessing, JobStatusSubmitted), "no reverts")
	assert.False(t, CanTransition(JobStatus("BOGUS"), JobStatusCompleted))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(JobStatusCompleted))
	assert.True(t, IsTerminal(JobStatusFailed))
	assert.False(t, IsTerminal(JobStatusSubmitted))
	assert.False(t, IsTerminal(JobStatusProcessing))
}
