package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkozlov/cryptofolio/internal/domain"
)

func TestSessionRepositoryRoundTrip(t *testing.T) {
	sessions, _ := newTestRepos(t)

	_, err := sessions.GetOrCreate("sess-1", true, 3600)
	require.NoError(t, err)

	next := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	last := time.Now().UTC().Truncate(time.Second)
	state, err := sessions.Get("sess-1")
	require.NoError(t, err)
	state.IsRunning = true
	state.DryRun = false
	state.IntervalSeconds = 120
	state.NextRunAt = &next
	state.LastRunAt = &last
	state.LastPortfolio = []domain.AssetBalance{
		{Symbol: "BTC", Free: 0.01, Total: 0.01, QuoteValue: 650},
	}
	state.LastResult = &domain.RunResult{ID: "run-1", SessionID: "sess-1", TotalValue: 650}
	require.NoError(t, sessions.Save(state))

	loaded, err := sessions.Get("sess-1")
	require.NoError(t, err)
	assert.True(t, loaded.IsRunning)
	assert.False(t, loaded.DryRun)
	assert.Equal(t, 120, loaded.IntervalSeconds)
	require.NotNil(t, loaded.NextRunAt)
	assert.Equal(t, next.Unix(), loaded.NextRunAt.Unix())
	require.Len(t, loaded.LastPortfolio, 1)
	assert.Equal(t, "BTC", loaded.LastPortfolio[0].Symbol)
	require.NotNil(t, loaded.LastResult)
	assert.Equal(t, "run-1", loaded.LastResult.ID)
	assert.InDelta(t, 650.0, loaded.LastResult.TotalValue, 1e-9)
}

func TestSessionRepositoryGetMissing(t *testing.T) {
	sessions, _ := newTestRepos(t)

	_, err := sessions.Get("missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionRepositoryListRunning(t *testing.T) {
	sessions, _ := newTestRepos(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := sessions.GetOrCreate(id, true, 3600)
		require.NoError(t, err)
	}
	state, err := sessions.Get("b")
	require.NoError(t, err)
	state.IsRunning = true
	require.NoError(t, sessions.Save(state))

	ids, err := sessions.ListRunning()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestResultRepositoryHistoryOrder(t *testing.T) {
	_, results := newTestRepos(t)

	base := time.Now().UTC()
	for i, id := range []string{"r1", "r2", "r3"} {
		result := &domain.RunResult{
			ID:         id,
			SessionID:  "sess-1",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 10*time.Second),
			TotalValue: float64(100 * (i + 1)),
		}
		require.NoError(t, results.Save(result))
	}

	history, err := results.ListBySession("sess-1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "r3", history[0].ID)
	assert.Equal(t, "r2", history[1].ID)

	latest, err := results.Latest("sess-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "r3", latest.ID)

	none, err := results.Latest("other")
	require.NoError(t, err)
	assert.Nil(t, none)
}
