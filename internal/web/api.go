package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"housecal/internal/model"
	"housecal/internal/schedule"
	"housecal/internal/stats"
)

// maxViewDays caps /api/view so a bad query cannot build a huge response.
const maxViewDays = 120

// viewResponse is the JSON response shape for /api/view.
type viewResponse struct {
	Today   model.Date         `json:"today"`
	BuiltAt time.Time          `json:"built_at"`
	Days    []schedule.DayView `json:"days"`
}

// handleView returns consecutive day cells.
//
// GET /api/view?from=2024-03-04&days=7
//   - from: first day (default: start of the current week)
//   - days: number of cells (default 7)
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	v := s.engine.View()
	from, ok := queryDate(w, r, "from", weekStart(v.Today, s.cfg.FirstWeekday()))
	if !ok {
		return
	}
	days := parseIntDefault(r.URL.Query().Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	days = min(days, maxViewDays)

	writeJSON(w, http.StatusOK, viewResponse{
		Today:   v.Today,
		BuiltAt: v.BuiltAt,
		Days:    v.Days(from, days),
	})
}

func weekStart(d model.Date, first time.Weekday) model.Date {
	back := (int(d.Weekday()) - int(first) + 7) % 7
	return d.AddDays(-back)
}

// occurrenceDTO adds the display position to an occurrence.
type occurrenceDTO struct {
	model.Occurrence
	Ordinal int `json:"ordinal"`
}

func (s *Server) handleListOccurrences(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, ok := queryDate(w, r, "from", model.Date{})
		if !ok {
			return
		}
		to, ok := queryDate(w, r, "to", model.Date{})
		if !ok {
			return
		}

		x := s.engine.View().Index(kind)
		out := make([]occurrenceDTO, 0, x.Len())
		for _, o := range x.All() {
			if !from.IsZero() && o.Date.Before(from) || !to.IsZero() && o.Date.After(to) {
				continue
			}
			_, ord, _ := x.Ordinal(o.ID)
			out = append(out, occurrenceDTO{Occurrence: o, Ordinal: ord})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// occurrenceRequest is the body of POST /api/entries and /api/chores.
type occurrenceRequest struct {
	Date model.Date `json:"date"`
	model.Payload
}

func (s *Server) handleAddOccurrence(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req occurrenceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		o, err := s.engine.AddOccurrence(r.Context(), model.Occurrence{
			Kind:    kind,
			Date:    req.Date,
			Payload: req.Payload,
		})
		if err != nil && !schedule.Committed(err) {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, o)
	}
}

func (s *Server) handleUpdateOccurrence(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var patch model.OccurrencePatch
		if !decodeJSON(w, r, &patch) {
			return
		}
		o, err := s.engine.UpdateOccurrence(r.Context(), kind, id, patch)
		if err != nil && !schedule.Committed(err) {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

func (s *Server) handleDeleteOccurrence(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := s.engine.DeleteOccurrence(r.Context(), kind, id); err != nil && !schedule.Committed(err) {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleDeleteAt deletes by calendar position:
// DELETE /api/chores/at/2024-03-05/0 removes the first chore of that day.
func (s *Server) handleDeleteAt(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, err := model.ParseDate(r.PathValue("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date: "+err.Error())
			return
		}
		ordinal, err := strconv.Atoi(r.PathValue("ordinal"))
		if err != nil || ordinal < 0 {
			writeError(w, http.StatusBadRequest, "invalid ordinal "+strconv.Quote(r.PathValue("ordinal")))
			return
		}
		id, err := s.engine.DeleteAt(r.Context(), kind, date, ordinal)
		if err != nil && !schedule.Committed(err) {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"id": id})
	}
}

func (s *Server) handleClearManual(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.engine.ClearManual(r.Context(), kind)
		if err != nil && !schedule.Committed(err) {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
	}
}

// templateDTO adds the lifecycle state to a template.
type templateDTO struct {
	model.RecurringTemplate
	State model.TemplateState `json:"state"`
}

func (s *Server) handleListTemplates(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		v := s.engine.View()
		list := v.TemplatesOf(kind)
		out := make([]templateDTO, 0, len(list))
		for _, t := range list {
			out = append(out, templateDTO{RecurringTemplate: t, State: t.State(v.Today)})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// templateRequest is the body of POST /api/recurring-entries and
// /api/recurring-chores. A missing id is generated.
type templateRequest struct {
	ID string `json:"id"`
	model.Payload
	Frequency model.Frequency `json:"frequency"`
	StartDate model.Date      `json:"start_date"`
	EndDate   *model.Date     `json:"end_date"`
}

func (s *Server) handleCreateTemplate(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req templateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		if req.EndDate != nil && req.EndDate.IsZero() {
			req.EndDate = nil
		}
		t, err := s.engine.CreateTemplate(r.Context(), model.RecurringTemplate{
			ID:        req.ID,
			Kind:      kind,
			Payload:   req.Payload,
			StartDate: req.StartDate,
			EndDate:   req.EndDate,
			Frequency: req.Frequency,
		})
		if err != nil && !schedule.Committed(err) {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, templateDTO{RecurringTemplate: t, State: t.State(s.engine.Today())})
	}
}

// stopRequest is the optional body of .../stop-future. Without a date the
// template stops from today.
type stopRequest struct {
	From model.Date `json:"from"`
}

type stopResponse struct {
	TemplateFound bool       `json:"template_found"`
	EndDate       model.Date `json:"end_date"`
	Removed       int64      `json:"removed"`
}

func (s *Server) handleStopFuture(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stopRequest
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}
		if req.From.IsZero() {
			req.From = s.engine.Today()
		}
		res, err := s.engine.StopFuture(r.Context(), kind, r.PathValue("id"), req.From)
		if err != nil && !schedule.Committed(err) {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stopResponse{
			TemplateFound: res.TemplateFound,
			EndDate:       res.EndDate,
			Removed:       res.Removed,
		})
	}
}

type deleteResponse struct {
	TemplateFound bool  `json:"template_found"`
	Removed       int64 `json:"removed"`
}

func (s *Server) handleDeleteAll(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.engine.DeleteAll(r.Context(), kind, r.PathValue("id"))
		if err != nil && !schedule.Committed(err) {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deleteResponse{TemplateFound: res.TemplateFound, Removed: res.Removed})
	}
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	counts, err := s.values.CompletionCounts(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

type statsResponse struct {
	Month   string                `json:"month"`
	Members []stats.MemberSummary `json:"members"`
}

// handleStats returns the monthly chart.
//
// GET /api/stats?month=2024-03 (default: the current month)
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	month := r.URL.Query().Get("month")
	if month == "" {
		month = s.engine.Today().MonthKey()
	} else if _, err := time.Parse("2006-01", month); err != nil {
		writeError(w, http.StatusBadRequest, "invalid month "+strconv.Quote(month))
		return
	}

	counts, err := s.values.CompletionCounts(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	values, err := s.values.ChoreValues(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	chores := s.engine.View().Occurrences(model.KindChore)
	writeJSON(w, http.StatusOK, statsResponse{
		Month:   month,
		Members: stats.Summarize(month, s.cfg.MemberKeys(), counts, chores, values),
	})
}

func (s *Server) handleListValues(w http.ResponseWriter, r *http.Request) {
	list, err := s.values.ListChoreValues(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []model.ChoreValue{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateValue(w http.ResponseWriter, r *http.Request) {
	var cv model.ChoreValue
	if !decodeJSON(w, r, &cv) {
		return
	}
	cv.ID = 0
	created, err := s.values.CreateChoreValue(r.Context(), cv)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateValue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var cv model.ChoreValue
	if !decodeJSON(w, r, &cv) {
		return
	}
	cv.ID = id
	if err := s.values.UpdateChoreValue(r.Context(), cv); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cv)
}

func (s *Server) handleDeleteValue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.values.DeleteChoreValue(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type externalResponse struct {
	Events []model.ExternalEvent `json:"events"`
	// Error is set when some feeds failed; events of the others are still
	// listed.
	Error string `json:"error,omitempty"`
}

// handleExternalEvents lists subscribed calendar events.
//
// GET /api/external-events?from=&to= (default: today and the next 6 days)
func (s *Server) handleExternalEvents(w http.ResponseWriter, r *http.Request) {
	today := s.engine.Today()
	from, ok := queryDate(w, r, "from", today)
	if !ok {
		return
	}
	to, ok := queryDate(w, r, "to", from.AddDays(6))
	if !ok {
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}

	resp := externalResponse{Events: []model.ExternalEvent{}}
	if s.events != nil {
		events, err := s.events.Events(r.Context(), from, to)
		if events != nil {
			resp.Events = events
		}
		if err != nil {
			resp.Error = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
