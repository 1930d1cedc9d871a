package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chr1sbest/autoinvite/internal/message"
)

func status(run, phase, msg string, primary int, at time.Time) message.Event {
	return message.Event{
		Type:  message.EventStatusUpdate,
		RunID: run,
		Phase: phase,
		Time:  at,
		Data: &message.StatusData{
			Message:      msg,
			Type:         message.LevelInfo,
			PrimaryCount: primary,
			CurrentPage:  1,
		},
	}
}

func TestAppendAndList(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer s.Close()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, status("r1", "running", "Automation started", 0, base)))
	require.NoError(t, s.Append(ctx, status("r1", "running", "Invited candidate #1", 1, base.Add(time.Second))))
	require.NoError(t, s.Append(ctx, message.Event{
		Type: message.EventAnomalyDetected, Kind: "verification-challenge", RunID: "r1", Phase: "running", Time: base.Add(2 * time.Second),
	}))
	require.NoError(t, s.Append(ctx, status("r2", "running", "Automation started", 0, base.Add(time.Minute))))

	all, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "Automation started", all[0].Message)
	assert.True(t, all[0].Time.Equal(base))

	r1, err := s.List(ctx, Query{RunID: "r1"})
	require.NoError(t, err)
	require.Len(t, r1, 3)
	assert.Equal(t, 1, r1[1].Primary)
	assert.Equal(t, message.EventAnomalyDetected, r1[2].Type)
	assert.Equal(t, "verification-challenge", r1[2].Kind)

	recent, err := s.List(ctx, Query{RunID: "r1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "Invited candidate #1", recent[0].Message, "limit keeps the most recent, oldest first")

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].RunID)
	assert.Equal(t, 3, runs[1].Events)
}

func TestInMemoryAndClosed(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, status("r", "idle", "Ready", 0, time.Time{})))
	require.NoError(t, s.Close())

	var nilStore *Store
	assert.ErrorIs(t, nilStore.Append(ctx, message.Event{}), ErrClosed)
	_, err = nilStore.List(ctx, Query{})
	assert.ErrorIs(t, err, ErrClosed)
}
