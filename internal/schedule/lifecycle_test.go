package schedule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"housecal/internal/model"
	"housecal/internal/recur"
)

func entryTemplate(id, start string) model.RecurringTemplate {
	return model.RecurringTemplate{
		ID:        id,
		Kind:      model.KindEntry,
		Payload:   model.Payload{Title: "Swim class", Time: "17:30"},
		StartDate: date(start),
		Frequency: model.Daily,
	}
}

// seededStore holds template x with daily entries on 03-01..03-10.
func seededStore(t *testing.T) (*memStore, model.RecurringTemplate) {
	t.Helper()
	s := newMemStore()
	tpl := entryTemplate("x", "2024-03-01")
	require.NoError(t, s.CreateTemplate(context.Background(), tpl))
	s.seed(model.KindEntry, "x", tpl.Payload, date("2024-03-01"), date("2024-03-10"))
	return s, tpl
}

func dates(occs []model.Occurrence) []string {
	out := make([]string, len(occs))
	for i, o := range occs {
		out[i] = o.Date.String()
	}
	return out
}

func TestStopFutureTruncates(t *testing.T) {
	ctx := context.Background()
	s, _ := seededStore(t)
	l := NewLifecycle(s)

	res, err := l.StopFuture(ctx, model.KindEntry, "x", date("2024-03-05"))
	require.NoError(t, err)
	assert.True(t, res.TemplateFound)
	assert.Equal(t, date("2024-03-04"), res.EndDate)
	assert.EqualValues(t, 6, res.Removed)

	assert.Equal(t,
		[]string{"2024-03-01", "2024-03-02", "2024-03-03", "2024-03-04"},
		dates(s.tagged(model.KindEntry, "x")))

	tpl, err := s.GetTemplate(ctx, model.KindEntry, "x")
	require.NoError(t, err)
	require.NotNil(t, tpl.EndDate)
	assert.Equal(t, date("2024-03-04"), *tpl.EndDate)
	assert.Equal(t, model.StateEnded, tpl.State(date("2024-03-05")))

	// A later pass must not bring anything back.
	m := NewMaterializer(s, recur.DefaultWindow())
	created, err := m.Materialize(ctx, tpl, listAll(t, s), date("2024-03-07"))
	require.NoError(t, err)
	assert.Empty(t, created)
	for _, o := range s.tagged(model.KindEntry, "x") {
		assert.True(t, o.Date.Before(date("2024-03-05")), "resurrected %s", o.Date)
	}
}

func TestStopFutureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := seededStore(t)
	l := NewLifecycle(s)

	_, err := l.StopFuture(ctx, model.KindEntry, "x", date("2024-03-05"))
	require.NoError(t, err)
	res, err := l.StopFuture(ctx, model.KindEntry, "x", date("2024-03-05"))
	require.NoError(t, err)
	assert.Equal(t, date("2024-03-04"), res.EndDate)
	assert.Zero(t, res.Removed)
	assert.Len(t, s.tagged(model.KindEntry, "x"), 4)
}

func TestStopFutureNeverExtendsEnd(t *testing.T) {
	ctx := context.Background()
	s, _ := seededStore(t)
	l := NewLifecycle(s)

	_, err := l.StopFuture(ctx, model.KindEntry, "x", date("2024-03-03"))
	require.NoError(t, err)
	res, err := l.StopFuture(ctx, model.KindEntry, "x", date("2024-03-08"))
	require.NoError(t, err)
	assert.Equal(t, date("2024-03-02"), res.EndDate)
}

func TestStopFutureBeforeStartExhaustsTemplate(t *testing.T) {
	ctx := context.Background()
	s, _ := seededStore(t)
	l := NewLifecycle(s)

	res, err := l.StopFuture(ctx, model.KindEntry, "x", date("2024-02-20"))
	require.NoError(t, err)
	assert.Equal(t, date("2024-02-19"), res.EndDate)
	assert.Empty(t, s.tagged(model.KindEntry, "x"))

	tpl, err := s.GetTemplate(ctx, model.KindEntry, "x")
	require.NoError(t, err)
	assert.Empty(t, recur.Dates(tpl, date("2024-03-05"), recur.DefaultWindow()))
}

func TestStopFutureMissingTemplateStillCleansUp(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	s.seed(model.KindEntry, "gone", model.Payload{Title: "Old", Time: "09:00"}, date("2024-03-01"), date("2024-03-10"))
	l := NewLifecycle(s)

	res, err := l.StopFuture(ctx, model.KindEntry, "gone", date("2024-03-05"))
	require.NoError(t, err)
	assert.False(t, res.TemplateFound)
	assert.EqualValues(t, 6, res.Removed)
	assert.Len(t, s.tagged(model.KindEntry, "gone"), 4)
}

func TestStopFutureRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s, _ := seededStore(t)
	s.fail["DeleteOccurrencesWhere"] = true
	l := NewLifecycle(s)

	_, err := l.StopFuture(ctx, model.KindEntry, "x", date("2024-03-05"))
	require.Error(t, err)
	assert.True(t, IsStorageUnavailable(err))

	tpl, err := s.GetTemplate(ctx, model.KindEntry, "x")
	require.NoError(t, err)
	assert.Nil(t, tpl.EndDate, "end date write must be rolled back")
	assert.Len(t, s.tagged(model.KindEntry, "x"), 10)
}

func TestStopFutureRequiresDate(t *testing.T) {
	s, _ := seededStore(t)
	_, err := NewLifecycle(s).StopFuture(context.Background(), model.KindEntry, "x", model.Date{})
	assert.True(t, IsInvalid(err))
}

func TestDeleteAllRemovesTemplateAndOccurrences(t *testing.T) {
	ctx := context.Background()
	s, _ := seededStore(t)
	s.seed(model.KindEntry, "", model.Payload{Title: "Dentist", Time: "10:00"}, date("2024-03-03"), date("2024-03-03"))
	l := NewLifecycle(s)

	res, err := l.DeleteAll(ctx, model.KindEntry, "x")
	require.NoError(t, err)
	assert.True(t, res.TemplateFound)
	assert.EqualValues(t, 10, res.Removed)

	_, err = s.GetTemplate(ctx, model.KindEntry, "x")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, s.tagged(model.KindEntry, "x"))
	assert.Len(t, listAll(t, s), 1, "manual rows are untouched")
}

func TestDeleteAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	s, _ := seededStore(t)
	s.fail["DeleteTemplate"] = true
	l := NewLifecycle(s)

	_, err := l.DeleteAll(ctx, model.KindEntry, "x")
	require.Error(t, err)
	assert.True(t, IsStorageUnavailable(err))

	_, err = s.GetTemplate(ctx, model.KindEntry, "x")
	require.NoError(t, err)
	assert.Len(t, s.tagged(model.KindEntry, "x"), 10, "occurrence deletes must be rolled back")
}

func TestDeleteAllTwice(t *testing.T) {
	ctx := context.Background()
	s, _ := seededStore(t)
	l := NewLifecycle(s)

	_, err := l.DeleteAll(ctx, model.KindEntry, "x")
	require.NoError(t, err)
	res, err := l.DeleteAll(ctx, model.KindEntry, "x")
	require.NoError(t, err)
	assert.False(t, res.TemplateFound)
	assert.Zero(t, res.Removed)
}

func TestDeleteAllLeavesOtherKindAlone(t *testing.T) {
	ctx := context.Background()
	s, _ := seededStore(t)
	s.seed(model.KindChore, "x", model.Payload{Title: "Sweep"}, date("2024-03-01"), date("2024-03-02"))

	_, err := NewLifecycle(s).DeleteAll(ctx, model.KindEntry, "x")
	require.NoError(t, err)
	assert.Len(t, s.tagged(model.KindChore, "x"), 2)
}
