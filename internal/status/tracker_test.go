package status

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilTrackerIsNoOp(t *testing.T) {
	var tracker *Tracker

	// Must not panic; handler call sites never guard.
	tracker.Update(context.Background(), "op-1", "fetching", "downloading")

	entry, err := tracker.Get(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestNewTrackerWithoutClientIsNil(t *testing.T) {
	assert.Nil(t, NewTracker(nil, 0, slog.Default()))
}
