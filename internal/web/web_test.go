package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"housecal/internal/config"
	"housecal/internal/model"
	"housecal/internal/recur"
	"housecal/internal/schedule"
	"housecal/internal/store"
)

type fakeEvents struct {
	events []model.ExternalEvent
	err    error
}

func (f fakeEvents) Events(_ context.Context, from, to model.Date) ([]model.ExternalEvent, error) {
	var out []model.ExternalEvent
	for _, e := range f.events {
		if !e.Date.Before(from) && !e.Date.After(to) {
			out = append(out, e)
		}
	}
	return out, f.err
}

type testServer struct {
	t      *testing.T
	srv    *Server
	engine *schedule.Engine
}

// newTestServer runs against a real SQLite file with today fixed to
// Saturday 2024-06-15 and a small window.
func newTestServer(t *testing.T, events EventSource) *testServer {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	engine := schedule.NewEngine(st,
		schedule.WithClock(func() time.Time { return now }),
		schedule.WithLocation(time.UTC),
		schedule.WithWindow(recur.Window{Back: 2, Ahead: 2}))
	_, err = engine.Reconcile(context.Background())
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Members = []config.Member{{Key: "jun", Name: "Jun"}, {Key: "ada", Name: "Ada"}}
	return &testServer{t: t, srv: NewServer(cfg, engine, st, events), engine: engine}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	ts.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.srv.cfg.BasicAuth = &config.BasicAuthConfig{Username: "home", Password: "s3cret"}

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", "").Code)

	rec := ts.do(http.MethodGet, "/api/view", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/view", nil)
	req.SetBasicAuth("home", "s3cret")
	rec = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.False(t, secureCompare("abc", "abcd"))
	assert.True(t, secureCompare("abc", "abc"))
}

func TestRecurringChoreLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/recurring-chores",
		`{"title":"Water plants","assigned_to":"jun","frequency":"daily","start_date":"2024-06-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[templateDTO](t, rec)
	assert.NotEmpty(t, created.ID, "id is generated")
	assert.Equal(t, model.StateActive, created.State)

	list := decode[[]occurrenceDTO](t, ts.do(http.MethodGet, "/api/chores", ""))
	require.Len(t, list, 5, "window 06-13..06-17")
	assert.Equal(t, created.ID, list[0].TemplateRef)

	rec = ts.do(http.MethodPost, "/api/recurring-chores/"+created.ID+"/stop-future", `{"from":"2024-06-16"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stop := decode[stopResponse](t, rec)
	assert.True(t, stop.TemplateFound)
	assert.Equal(t, model.MustParseDate("2024-06-15"), stop.EndDate)
	assert.EqualValues(t, 2, stop.Removed)

	list = decode[[]occurrenceDTO](t, ts.do(http.MethodGet, "/api/chores?from=2024-06-15", ""))
	require.Len(t, list, 1)

	rec = ts.do(http.MethodDelete, "/api/recurring-chores/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	del := decode[deleteResponse](t, rec)
	assert.True(t, del.TemplateFound)
	assert.EqualValues(t, 3, del.Removed)

	assert.Empty(t, decode[[]templateDTO](t, ts.do(http.MethodGet, "/api/recurring-chores", "")))
	assert.Empty(t, decode[[]occurrenceDTO](t, ts.do(http.MethodGet, "/api/chores", "")))

	rec = ts.do(http.MethodDelete, "/api/recurring-chores/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code, "deleting twice is not an error")
	assert.False(t, decode[deleteResponse](t, rec).TemplateFound)
}

func TestCreateTemplateErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	body := `{"id":"gym","title":"Gym","time":"07:00","frequency":"weekly","start_date":"2024-06-10"}`
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/recurring-entries", body).Code)
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/api/recurring-entries", body).Code)

	rec := ts.do(http.MethodPost, "/api/recurring-entries",
		`{"title":"Gym","time":"07:00","frequency":"yearly","start_date":"2024-06-10"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/recurring-entries", `{"title":"Gym","colour":"red"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestManualEntriesAndDeleteAt(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, body := range []string{
		`{"date":"2024-06-15","title":"Swim","time":"17:00"}`,
		`{"date":"2024-06-15","title":"Dentist","time":"09:30"}`,
		`{"date":"2024-06-15","title":"Lunch","time":"12:00"}`,
	} {
		rec := ts.do(http.MethodPost, "/api/entries", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	list := decode[[]occurrenceDTO](t, ts.do(http.MethodGet, "/api/entries", ""))
	require.Len(t, list, 3)
	titles := []string{list[0].Payload.Title, list[1].Payload.Title, list[2].Payload.Title}
	assert.Equal(t, []string{"Dentist", "Lunch", "Swim"}, titles)
	assert.Equal(t, []int{0, 1, 2}, []int{list[0].Ordinal, list[1].Ordinal, list[2].Ordinal})

	rec := ts.do(http.MethodDelete, "/api/entries/at/2024-06-15/1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, list[1].ID, decode[map[string]int64](t, rec)["id"])

	list = decode[[]occurrenceDTO](t, ts.do(http.MethodGet, "/api/entries", ""))
	require.Len(t, list, 2)
	assert.Equal(t, "Swim", list[1].Payload.Title)
	assert.Equal(t, 1, list[1].Ordinal, "ordinals shift after a removal")

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/api/entries/at/2024-06-15/5", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodDelete, "/api/entries/at/june/0", "").Code)

	rec = ts.do(http.MethodPut, fmt.Sprintf("/api/entries/%d", list[0].ID), `{"title":"Dentist (moved)"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Dentist (moved)", decode[model.Occurrence](t, rec).Payload.Title)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, fmt.Sprintf("/api/entries/%d", list[0].ID), `{}`).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPut, "/api/entries/9999", `{"title":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/entries", `{"date":"2024-06-15","title":"No time"}`).Code)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, fmt.Sprintf("/api/entries/%d", list[0].ID), "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, fmt.Sprintf("/api/entries/%d", list[0].ID), "").Code)

	rec = ts.do(http.MethodDelete, "/api/entries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]int64](t, rec)["removed"])
}

func TestCompletionsAndStats(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/chore-values", `{"chore":"Dishes","value":1.5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cv := decode[model.ChoreValue](t, rec)
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/api/chore-values", `{"chore":"Dishes","value":2}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/chore-values", `{"chore":"Bins","value":-1}`).Code)

	rec = ts.do(http.MethodPut, fmt.Sprintf("/api/chore-values/%d", cv.ID), `{"chore":"Dishes","value":2}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/api/chores", `{"date":"2024-06-14","title":"Dishes","assigned_to":"jun"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	chore := decode[model.Occurrence](t, rec)

	rec = ts.do(http.MethodPut, fmt.Sprintf("/api/chores/%d", chore.ID), `{"completed":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.Occurrence](t, rec).Completed)

	counts := decode[map[string]map[string]int](t, ts.do(http.MethodGet, "/api/completions", ""))
	assert.Equal(t, 1, counts["2024-06"]["jun"])

	st := decode[statsResponse](t, ts.do(http.MethodGet, "/api/stats", ""))
	assert.Equal(t, "2024-06", st.Month)
	require.Len(t, st.Members, 2)
	assert.Equal(t, "jun", st.Members[0].Member)
	assert.Equal(t, 1, st.Members[0].Completions)
	assert.InDelta(t, 2.0, st.Members[0].Earnings, 1e-9)
	assert.Zero(t, st.Members[1].Completions)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/stats?month=June", "").Code)

	assert.Len(t, decode[[]model.ChoreValue](t, ts.do(http.MethodGet, "/api/chore-values", "")), 1)
	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, fmt.Sprintf("/api/chore-values/%d", cv.ID), "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, fmt.Sprintf("/api/chore-values/%d", cv.ID), "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodDelete, "/api/chore-values/abc", "").Code)
}

func TestViewDefaultsToCurrentWeek(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/api/entries", `{"date":"2024-06-12","title":"Recital","time":"18:00"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	v := decode[viewResponse](t, ts.do(http.MethodGet, "/api/view", ""))
	require.Len(t, v.Days, 7)
	assert.Equal(t, model.MustParseDate("2024-06-10"), v.Days[0].Date, "weeks start on monday")
	assert.Len(t, v.Days[2].Entries, 1)
	assert.True(t, v.Days[5].Today)
	assert.NotNil(t, v.Days[0].Chores)

	v = decode[viewResponse](t, ts.do(http.MethodGet, "/api/view?from=2024-06-12&days=1000", ""))
	assert.Len(t, v.Days, maxViewDays)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/view?from=12/06/2024", "").Code)
}

func TestExternalEvents(t *testing.T) {
	ts := newTestServer(t, fakeEvents{
		events: []model.ExternalEvent{
			{Source: "School", UID: "a", Date: model.MustParseDate("2024-06-15"), Time: "All Day", Title: "Sports day", AllDay: true},
			{Source: "School", UID: "b", Date: model.MustParseDate("2024-07-01"), Time: "08:00", Title: "Term starts"},
		},
		err: errors.New("work: unexpected status 502"),
	})

	resp := decode[externalResponse](t, ts.do(http.MethodGet, "/api/external-events", ""))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "Sports day", resp.Events[0].Title)
	assert.Contains(t, resp.Error, "work")

	resp = decode[externalResponse](t, ts.do(http.MethodGet, "/api/external-events?from=2024-06-30&to=2024-07-02", ""))
	require.Len(t, resp.Events, 1)

	assert.Equal(t, http.StatusBadRequest,
		ts.do(http.MethodGet, "/api/external-events?from=2024-07-02&to=2024-06-30", "").Code)

	none := newTestServer(t, nil)
	resp = decode[externalResponse](t, none.do(http.MethodGet, "/api/external-events", ""))
	assert.NotNil(t, resp.Events)
	assert.Empty(t, resp.Events)
}

func TestConfigAndReconcile(t *testing.T) {
	ts := newTestServer(t, nil)

	cfg := decode[configResponse](t, ts.do(http.MethodGet, "/api/config", ""))
	assert.Equal(t, model.MustParseDate("2024-06-15"), cfg.Today)
	assert.Len(t, cfg.Members, 2)
	assert.Equal(t, 2, cfg.AheadDays)

	rec := ts.do(http.MethodPost, "/api/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.MustParseDate("2024-06-15"), decode[schedule.ReconcileResult](t, rec).Today)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusOf(fmt.Errorf("x: %w", model.ErrInvalidOccurrence)))
	assert.Equal(t, http.StatusNotFound, statusOf(fmt.Errorf("x: %w", model.ErrNotFound)))
	assert.Equal(t, http.StatusConflict, statusOf(fmt.Errorf("x: %w", model.ErrDuplicate)))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(fmt.Errorf("x: %w", model.ErrStorageUnavailable)))
	assert.Equal(t, http.StatusInternalServerError, statusOf(errors.New("boom")))
}
