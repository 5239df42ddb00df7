package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/tournament-vote-backend/internal/events"
	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func result(code, comp string, finished time.Time) events.Result {
	return events.Result{
		Code:            code,
		SessionID:       "sess-" + code,
		CompetitionID:   comp,
		CompetitionName: "Fruit",
		Winner:          events.ItemView{ID: "A", Name: "Apple"},
		TotalRounds:     2,
		TotalVotes:      6,
		DurationSeconds: 42,
		Players:         2,
		StartedAt:       finished.Add(-42 * time.Second),
		FinishedAt:      finished,
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, result("ABC123", "fruit", at)))

	got, err := s.Get(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Winner.ID)
	assert.Equal(t, 6, got.TotalVotes)
	assert.True(t, got.FinishedAt.Equal(at))
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(context.Background(), "NOPE00")
	assert.ErrorIs(t, err, gameerr.ErrNotFound)
}

func TestSaveRequiresCode(t *testing.T) {
	s := openStore(t)
	err := s.Save(context.Background(), events.Result{CompetitionID: "fruit"})
	assert.ErrorIs(t, err, gameerr.ErrInvalidInput)
}

func TestSaveReplacesSameCode(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := result("ABC123", "fruit", at)
	require.NoError(t, s.Save(ctx, first))
	second := first
	second.TotalVotes = 9
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Get(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, 9, got.TotalVotes)
}

func TestByCompetitionNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, result("OLD000", "fruit", base)))
	require.NoError(t, s.Save(ctx, result("NEW000", "fruit", base.Add(time.Hour))))
	require.NoError(t, s.Save(ctx, result("MID000", "fruit", base.Add(time.Minute))))
	require.NoError(t, s.Save(ctx, result("CAR000", "cars", base)))

	got, err := s.ByCompetition(ctx, "fruit", 0)
	require.NoError(t, err)
	codes := make([]string, 0, len(got))
	for _, r := range got {
		codes = append(codes, r.Code)
	}
	assert.Equal(t, []string{"NEW000", "MID000", "OLD000"}, codes)

	limited, err := s.ByCompetition(ctx, "fruit", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "NEW000", limited[0].Code)

	none, err := s.ByCompetition(ctx, "boats", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
