package patient

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	g.GET("/patients", h.ListPatients)
	g.POST("/patients", h.CreatePatient)
	g.GET("/patients/:id", h.GetPatient)
	g.PUT("/patients/:id", h.UpdatePatient)
	g.DELETE("/patients/:id", h.DeletePatient)
}

var sortColumns = map[string]string{
	"name":       "apellidos",
	"last_name":  "apellidos",
	"first_name": "nombre",
	"created":    "created_at",
	"updated":    "updated_at",
}

var defaultSort = pagination.Sort{Column: "apellidos"}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrDuplicateNationalID):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

type patientRequest struct {
	FirstName  string  `json:"first_name" validate:"required,max=120"`
	LastName   string  `json:"last_name" validate:"max=160"`
	NationalID *string `json:"national_id" validate:"omitempty,max=32"`
	Phone      *string `json:"phone" validate:"omitempty,max=32"`
	Email      *string `json:"email" validate:"omitempty,email"`
	Address    *string `json:"address"`
	BirthDate  *string `json:"birth_date" validate:"omitempty,datestr"`
	Consent    bool    `json:"consent"`
	Notes      *string `json:"notes"`
}

func (r *patientRequest) toModel() (*Patient, error) {
	p := &Patient{
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		NationalID: r.NationalID,
		Phone:      r.Phone,
		Email:      r.Email,
		Address:    r.Address,
		Consent:    r.Consent,
		Notes:      r.Notes,
	}
	if r.BirthDate != nil && *r.BirthDate != "" {
		if err := p.BirthDate.Scan(*r.BirthDate); err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid birth_date")
		}
	}
	return p, nil
}

func (h *Handler) bind(c echo.Context) (*Patient, error) {
	var req patientRequest
	if err := c.Bind(&req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return nil, err
	}
	return req.toModel()
}

func (h *Handler) CreatePatient(c echo.Context) error {
	p, err := h.bind(c)
	if err != nil {
		return err
	}
	if err := h.svc.Create(c.Request().Context(), p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	sort := pagination.SortFromContext(c, sortColumns, defaultSort)
	items, total, err := h.svc.Search(c.Request().Context(), c.QueryParam("q"), sort, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.bind(c)
	if err != nil {
		return err
	}
	p.ID = id
	if err := h.svc.Update(c.Request().Context(), p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
