// Package consultation exposes the doctor-facing consultation endpoints.
package consultation

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/upstac/upstac/internal/domain/testrequest"
	"github.com/upstac/upstac/internal/domain/user"
	"github.com/upstac/upstac/internal/platform/apperr"
	"github.com/upstac/upstac/internal/platform/auth"
)

type Queries interface {
	FindBy(ctx context.Context, status testrequest.RequestStatus) ([]*testrequest.TestRequest, error)
	FindByDoctor(ctx context.Context, doctor *user.User) ([]*testrequest.TestRequest, error)
}

type Updates interface {
	AssignForConsultation(ctx context.Context, id int64, doctor *user.User) (*testrequest.TestRequest, error)
	UpdateConsultation(ctx context.Context, id int64, req testrequest.CreateConsultationRequest, doctor *user.User) (*testrequest.TestRequest, error)
}

type Handler struct {
	queries     Queries
	updates     Updates
	resolveUser echo.MiddlewareFunc
}

// NewHandler builds the handler. resolveUser must place the calling doctor
// in the request context (see user.ResolveUser).
func NewHandler(q Queries, u Updates, resolveUser echo.MiddlewareFunc) *Handler {
	return &Handler{queries: q, updates: u, resolveUser: resolveUser}
}

// RegisterRoutes mounts the endpoints under /consultations on api. The role
// guard runs before the user is resolved or any payload is read; mw (body
// limits and the like) runs after both.
func (h *Handler) RegisterRoutes(api *echo.Group, mw ...echo.MiddlewareFunc) {
	chain := append([]echo.MiddlewareFunc{auth.RequireRole(auth.RoleDoctor), h.resolveUser}, mw...)
	g := api.Group("/consultations", chain...)
	g.GET("/in-queue", h.ListInQueue)
	g.GET("", h.ListMine)
	g.PUT("/assign/:id", h.Assign)
	g.PUT("/update/:id", h.Update)
}

// ListInQueue returns lab-tested requests that no doctor has taken yet.
func (h *Handler) ListInQueue(c echo.Context) error {
	items, err := h.queries.FindBy(c.Request().Context(), testrequest.StatusLabTestCompleted)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

// ListMine returns the requests assigned to the calling doctor.
func (h *Handler) ListMine(c echo.Context) error {
	doctor, err := currentDoctor(c)
	if err != nil {
		return err
	}
	items, err := h.queries.FindByDoctor(c.Request().Context(), doctor)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Assign(c echo.Context) error {
	doctor, err := currentDoctor(c)
	if err != nil {
		return err
	}
	id, err := requestID(c)
	if err != nil {
		return err
	}
	t, err := h.updates.AssignForConsultation(c.Request().Context(), id, doctor)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Update(c echo.Context) error {
	doctor, err := currentDoctor(c)
	if err != nil {
		return err
	}
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var req testrequest.CreateConsultationRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTP(err)
	}
	t, err := h.updates.UpdateConsultation(c.Request().Context(), id, req, doctor)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func currentDoctor(c echo.Context) (*user.User, error) {
	u, ok := user.FromContext(c.Request().Context())
	if !ok {
		return nil, apperr.HTTP(apperr.Unauthenticated("authentication required"))
	}
	return u, nil
}

func requestID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.HTTP(apperr.BusinessRule(testrequest.MsgInvalidIDOrState))
	}
	return id, nil
}
