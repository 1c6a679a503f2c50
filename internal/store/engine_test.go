package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"housecal/internal/model"
	"housecal/internal/schedule"
)

func newEngine(t *testing.T, s *Store, now time.Time) *schedule.Engine {
	t.Helper()
	return schedule.NewEngine(s,
		schedule.WithClock(func() time.Time { return now }),
		schedule.WithLocation(time.UTC))
}

func TestEngineOnSQLiteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	e := newEngine(t, s, time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))

	tpl := choreTemplate("bins", "2024-01-02")
	tpl.Frequency = model.Daily
	_, err := e.CreateTemplate(ctx, tpl)
	require.NoError(t, err)

	first, err := s.ListOccurrences(ctx)
	require.NoError(t, err)
	require.Len(t, first, 91)
	assert.Equal(t, date("2024-05-16"), first[0].Date)
	assert.Equal(t, date("2024-08-14"), first[90].Date)

	res, err := e.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created)

	second, err := s.ListOccurrences(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEngineOnSQLiteStopFuture(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	e := newEngine(t, s, time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC))

	tpl := model.RecurringTemplate{
		ID:        "x",
		Kind:      model.KindEntry,
		Payload:   model.Payload{Title: "Piano", Time: "16:00"},
		StartDate: date("2024-03-01"),
		Frequency: model.Daily,
	}
	end := date("2024-03-10")
	tpl.EndDate = &end
	_, err := e.CreateTemplate(ctx, tpl)
	require.NoError(t, err)
	require.Equal(t, 10, e.View().Entries.Len())

	res, err := e.StopFuture(ctx, model.KindEntry, "x", date("2024-03-05"))
	require.NoError(t, err)
	assert.Equal(t, date("2024-03-04"), res.EndDate)
	assert.EqualValues(t, 6, res.Removed)

	_, err = e.Reconcile(ctx)
	require.NoError(t, err)

	occs, err := s.ListOccurrences(ctx)
	require.NoError(t, err)
	require.Len(t, occs, 4)
	for _, o := range occs {
		assert.True(t, o.Date.Before(date("2024-03-05")), "unexpected %s", o.Date)
	}
	got, err := s.GetTemplate(ctx, model.KindEntry, "x")
	require.NoError(t, err)
	assert.Equal(t, date("2024-03-04"), *got.EndDate)
}

func TestEngineOnSQLiteDeleteAll(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	e := newEngine(t, s, time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC))

	_, err := e.CreateTemplate(ctx, choreTemplate("bins", "2024-02-06"))
	require.NoError(t, err)
	_, err = e.AddOccurrence(ctx, generated("", "2024-03-06"))
	require.NoError(t, err)

	res, err := e.DeleteAll(ctx, model.KindChore, "bins")
	require.NoError(t, err)
	assert.True(t, res.TemplateFound)
	assert.Positive(t, res.Removed)

	_, err = s.GetTemplate(ctx, model.KindChore, "bins")
	assert.ErrorIs(t, err, model.ErrNotFound)
	occs, err := s.ListOccurrences(ctx)
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.False(t, occs[0].Recurring())
}

func TestEngineOnSQLiteCompletion(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	e := newEngine(t, s, time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC))

	_, err := e.CreateTemplate(ctx, choreTemplate("bins", "2024-03-06"))
	require.NoError(t, err)
	id, ok := e.View().Chores.Lookup(date("2024-03-06"), 0)
	require.True(t, ok)

	_, err = e.SetChoreCompleted(ctx, id, true)
	require.NoError(t, err)
	n, err := s.CompletionCount(ctx, "2024-03", "jun")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.SetChoreCompleted(ctx, id, false)
	require.NoError(t, err)
	n, err = s.CompletionCount(ctx, "2024-03", "jun")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngineOnClosedStoreReportsUnavailable(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	e := newEngine(t, s, time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC))
	require.NoError(t, s.Close())

	_, err := e.Reconcile(ctx)
	require.Error(t, err)
	assert.True(t, schedule.IsStorageUnavailable(err))
}
