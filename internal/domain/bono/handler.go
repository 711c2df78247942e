package bono

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleStaff))
	g.GET("/patients/:id/bonos", h.ListPatientBonos)
	g.POST("/patients/:id/bonos", h.CreateBono)
	g.GET("/bonos/:id", h.GetBono)
	g.DELETE("/bonos/:id", h.DeleteBono)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "bono not found")
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

type bonoRequest struct {
	Name          string           `json:"name" validate:"required,max=120"`
	TotalSessions int              `json:"total_sessions" validate:"required,gt=0"`
	UsedSessions  int              `json:"used_sessions" validate:"gte=0"`
	Price         *decimal.Decimal `json:"price"`
	PurchasedAt   string           `json:"purchased_at" validate:"omitempty,datestr"`
	ExpiresAt     string           `json:"expires_at" validate:"omitempty,datestr"`
	Notes         *string          `json:"notes"`
}

func (h *Handler) CreateBono(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req bonoRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	b := &Bono{
		PatientID:     patientID,
		Name:          req.Name,
		TotalSessions: req.TotalSessions,
		UsedSessions:  req.UsedSessions,
		Notes:         req.Notes,
	}
	if req.Price != nil {
		b.Price = *req.Price
	}
	if req.PurchasedAt != "" {
		if err := b.PurchasedAt.Scan(req.PurchasedAt); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid purchased_at")
		}
	}
	if req.ExpiresAt != "" {
		if err := b.ExpiresAt.Scan(req.ExpiresAt); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid expires_at")
		}
	}
	if err := h.svc.Create(c.Request().Context(), b); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ListPatientBonos(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListByPatient(c.Request().Context(), patientID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Bono{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetBono(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBono(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
