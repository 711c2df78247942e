package scheduling

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleStaff))

	// Calendar drag and resize callbacks.
	g.POST("/citas/reschedule", h.Reschedule)
	g.POST("/citas/resize", h.Resize)
	notPost := []string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete}
	g.Match(notPost, "/citas/reschedule", methodNotAllowed)
	g.Match(notPost, "/citas/resize", methodNotAllowed)
	g.GET("/calendar/events", h.ListEvents)

	g.GET("/citas", h.ListAppointments)
	g.POST("/citas", h.CreateAppointment)
	g.GET("/citas/check-conflict", h.CheckConflict)
	g.GET("/citas/:id", h.GetAppointment)
	g.PUT("/citas/:id", h.UpdateAppointment)
	g.DELETE("/citas/:id", h.DeleteAppointment)
	g.PATCH("/citas/:id/status", h.ChangeStatus)
	g.PATCH("/citas/:id/payment", h.RecordPayment)
	g.GET("/citas/:id/history", h.GetHistory)
	g.GET("/citas/:id/notes", h.ListNotes)
	g.POST("/citas/:id/notes", h.AddNote)
	g.PUT("/notes/:note_id", h.UpdateNote)
	g.DELETE("/notes/:note_id", h.DeleteNote)
	g.GET("/patients/:id/citas", h.ListPatientAppointments)
}

// httpError maps service errors onto HTTP errors for the CRUD endpoints.
func httpError(err error) error {
	var conflict *ConflictError
	switch {
	case IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		return echo.NewHTTPError(http.StatusConflict, conflict.Error())
	case errors.Is(err, ErrDurationTooShort), errors.Is(err, ErrDurationTooLong):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

func methodNotAllowed(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderAllow, http.MethodPost)
	return c.JSON(http.StatusMethodNotAllowed, moveResponse{Success: false, Message: "method not allowed"})
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func validationMessage(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return msg
		}
	}
	return err.Error()
}

// -- Calendar callbacks --

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.RFC3339,
}

// parseDateTime reads an ISO timestamp as a clinic-local wall time. Offsets
// are accepted and ignored.
func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, " ", "+"))
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalid("", "invalid datetime %q", s)
}

// parseWindow turns a start/end timestamp pair into a single-day window.
// An end at the following midnight closes the day at 24:00.
func parseWindow(startStr, endStr string) (Date, TimeOfDay, TimeOfDay, error) {
	st, err := parseDateTime(startStr)
	if err != nil {
		return Date{}, 0, 0, invalid("start", "invalid datetime %q", startStr)
	}
	et, err := parseDateTime(endStr)
	if err != nil {
		return Date{}, 0, 0, invalid("end", "invalid datetime %q", endStr)
	}
	if st.Second() != 0 || et.Second() != 0 || st.Nanosecond() != 0 || et.Nanosecond() != 0 {
		return Date{}, 0, 0, invalid("", "times must be whole minutes")
	}

	date := DateOf(st)
	start := TimeOfDay(st.Hour()*60 + st.Minute())
	endDate := DateOf(et)
	end := TimeOfDay(et.Hour()*60 + et.Minute())

	switch {
	case endDate.Equal(date.Time):
	case endDate.Equal(date.AddDays(1).Time) && end == 0:
		end = EndOfDay
	case endDate.Before(date.Time):
		// Reversed windows are reported as too short.
		return date, start, start, nil
	default:
		return Date{}, 0, 0, invalid("end", "appointment must start and end on the same day")
	}
	return date, start, end, nil
}

type moveRequest struct {
	ID    string `json:"id" validate:"required,uuid"`
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

type moveData struct {
	ID        uuid.UUID `json:"id"`
	Date      Date      `json:"date"`
	StartTime TimeOfDay `json:"start_time"`
	EndTime   TimeOfDay `json:"end_time"`
}

type moveResponse struct {
	Success  bool      `json:"success"`
	Data     *moveData `json:"data,omitempty"`
	Message  string    `json:"message,omitempty"`
	Conflict bool      `json:"conflict,omitempty"`
}

func moveFailure(c echo.Context, err error) error {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, moveResponse{Message: conflict.Error(), Conflict: true})
	case errors.Is(err, ErrDurationTooShort), errors.Is(err, ErrDurationTooLong):
		return c.JSON(http.StatusUnprocessableEntity, moveResponse{Message: err.Error()})
	case IsNotFound(err):
		return c.JSON(http.StatusNotFound, moveResponse{Message: err.Error()})
	case errors.Is(err, ErrValidation):
		return c.JSON(http.StatusBadRequest, moveResponse{Message: err.Error()})
	}
	c.Logger().Errorf("move appointment: %v", err)
	return c.JSON(http.StatusInternalServerError, moveResponse{Message: "internal error"})
}

func (h *Handler) Reschedule(c echo.Context) error {
	return h.handleMove(c, h.svc.Reschedule)
}

func (h *Handler) Resize(c echo.Context) error {
	return h.handleMove(c, h.svc.Resize)
}

type moveFunc func(ctx context.Context, id uuid.UUID, date Date, start, end TimeOfDay) (*Appointment, error)

func (h *Handler) handleMove(c echo.Context, fn moveFunc) error {
	var req moveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, moveResponse{Message: "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, moveResponse{Message: validationMessage(err)})
	}
	id, _ := uuid.Parse(req.ID)
	date, start, end, err := parseWindow(req.Start, req.End)
	if err != nil {
		return moveFailure(c, err)
	}

	a, err := fn(c.Request().Context(), id, date, start, end)
	if err != nil {
		return moveFailure(c, err)
	}
	return c.JSON(http.StatusOK, moveResponse{
		Success: true,
		Data:    &moveData{ID: a.ID, Date: a.Date, StartTime: a.StartTime, EndTime: a.EndTime},
	})
}

// parseRangeDate accepts a bare date or any timestamp layout and keeps the
// date part.
func parseRangeDate(s string) (Date, error) {
	if d, err := ParseDate(s); err == nil {
		return d, nil
	}
	t, err := parseDateTime(s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (h *Handler) ListEvents(c echo.Context) error {
	q := EventQuery{GroupBy: c.QueryParam("group_by"), ColorBy: c.QueryParam("color_by")}
	var err error
	if s := c.QueryParam("start"); s != "" {
		if q.Start, err = parseRangeDate(s); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid start")
		}
	}
	if s := c.QueryParam("end"); s != "" {
		if q.End, err = parseRangeDate(s); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid end")
		}
	}
	feed, err := h.svc.ListEvents(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, feed)
}

// -- Appointment CRUD --

type appointmentRequest struct {
	PatientID string           `json:"patient_id" validate:"required,uuid"`
	Date      string           `json:"date" validate:"required,datestr"`
	StartTime string           `json:"start_time" validate:"required,hhmm"`
	EndTime   string           `json:"end_time" validate:"required,hhmm"`
	Reason    string           `json:"reason" validate:"max=500"`
	Status    string           `json:"status" validate:"omitempty,oneof=pending completed cancelled"`
	Notes     *string          `json:"notes"`
	Price     *decimal.Decimal `json:"price"`
	ServiceID *string          `json:"service_id" validate:"omitempty,uuid"`
	Doctor    *string          `json:"doctor" validate:"omitempty,max=120"`
	Room      *string          `json:"room" validate:"omitempty,max=120"`
	BonoID    *string          `json:"bono_id" validate:"omitempty,uuid"`
}

func optionalUUID(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

func (r *appointmentRequest) toModel() (*Appointment, error) {
	date, err := ParseDate(r.Date)
	if err != nil {
		return nil, invalid("date", "%v", err)
	}
	start, err := ParseTimeOfDay(r.StartTime)
	if err != nil {
		return nil, invalid("start_time", "%v", err)
	}
	end, err := ParseTimeOfDay(r.EndTime)
	if err != nil {
		return nil, invalid("end_time", "%v", err)
	}
	a := &Appointment{
		PatientID: uuid.MustParse(r.PatientID),
		Date:      date,
		StartTime: start,
		EndTime:   end,
		Reason:    strings.TrimSpace(r.Reason),
		Status:    Status(r.Status),
		ServiceID: optionalUUID(r.ServiceID),
		BonoID:    optionalUUID(r.BonoID),
	}
	if r.Notes != nil {
		a.Notes = optional(r.Notes)
	}
	if r.Doctor != nil {
		a.Doctor = optional(r.Doctor)
	}
	if r.Room != nil {
		a.Room = optional(r.Room)
	}
	if r.Price != nil {
		a.Price = *r.Price
	}
	return a, nil
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req appointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	a, err := req.toModel()
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.Create(c.Request().Context(), a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func listFilter(c echo.Context) (ListFilter, error) {
	f := ListFilter{
		Status: Status(c.QueryParam("status")),
		Sort:   strings.ToLower(c.QueryParam("sort")),
		Desc:   strings.EqualFold(c.QueryParam("order"), "desc"),
	}
	if s := c.QueryParam("patient_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	for _, p := range []struct {
		name string
		dst  **Date
	}{{"from", &f.From}, {"to", &f.To}} {
		s := c.QueryParam(p.name)
		if s == "" {
			continue
		}
		d, err := ParseDate(s)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid "+p.name)
		}
		*p.dst = &d
	}
	return f, nil
}

func (h *Handler) ListAppointments(c echo.Context) error {
	f, err := listFilter(c)
	if err != nil {
		return err
	}
	return h.list(c, f)
}

func (h *Handler) ListPatientAppointments(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	f, err := listFilter(c)
	if err != nil {
		return err
	}
	f.PatientID = &id
	return h.list(c, f)
}

func (h *Handler) list(c echo.Context, f ListFilter) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type updateRequest struct {
	Reason    *string          `json:"reason" validate:"omitempty,max=500"`
	Notes     *string          `json:"notes"`
	ServiceID *string          `json:"service_id" validate:"omitempty,uuid"`
	Doctor    *string          `json:"doctor" validate:"omitempty,max=120"`
	Room      *string          `json:"room" validate:"omitempty,max=120"`
	Price     *decimal.Decimal `json:"price"`
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	p := Patch{Reason: req.Reason, Notes: req.Notes, Doctor: req.Doctor, Room: req.Room, Price: req.Price}
	if req.ServiceID != nil {
		sid := uuid.Nil
		if parsed := optionalUUID(req.ServiceID); parsed != nil {
			sid = *parsed
		}
		p.ServiceID = &sid
	}
	a, err := h.svc.Update(c.Request().Context(), id, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending completed cancelled"`
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	a, err := h.svc.ChangeStatus(c.Request().Context(), id, Status(req.Status))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type paymentRequest struct {
	Paid   bool             `json:"paid"`
	Date   *string          `json:"payment_date" validate:"omitempty,datestr"`
	Method *string          `json:"payment_method" validate:"omitempty,max=32"`
	Price  *decimal.Decimal `json:"price"`
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	p := Payment{Paid: req.Paid, Method: req.Method, Price: req.Price}
	if req.Date != nil && *req.Date != "" {
		d, err := ParseDate(*req.Date)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payment_date")
		}
		p.Date = &d
	}
	a, err := h.svc.RecordPayment(c.Request().Context(), id, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*HistoryEntry{}
	}
	return c.JSON(http.StatusOK, items)
}

type conflictResponse struct {
	Conflict bool         `json:"conflict"`
	With     *Appointment `json:"with,omitempty"`
}

func (h *Handler) CheckConflict(c echo.Context) error {
	date, err := ParseDate(c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date")
	}
	start, err := ParseTimeOfDay(c.QueryParam("start"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid start")
	}
	end, err := ParseTimeOfDay(c.QueryParam("end"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid end")
	}
	var exclude *uuid.UUID
	if s := c.QueryParam("exclude_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid exclude_id")
		}
		exclude = &id
	}
	hit, err := h.svc.CheckConflict(c.Request().Context(), date, start, end, exclude)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conflictResponse{Conflict: hit != nil, With: hit})
}

// -- Session notes --

type noteRequest struct {
	Content string `json:"content" validate:"required,max=10000"`
}

func (h *Handler) ListNotes(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListNotes(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*SessionNote{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddNote(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	n, err := h.svc.AddNote(c.Request().Context(), id, req.Content)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) UpdateNote(c echo.Context) error {
	id, err := parseID(c, "note_id")
	if err != nil {
		return err
	}
	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	n, err := h.svc.UpdateNote(c.Request().Context(), id, req.Content)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) DeleteNote(c echo.Context) error {
	id, err := parseID(c, "note_id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteNote(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
