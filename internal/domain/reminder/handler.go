package reminder

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/pagination"
)

// Handler exposes the reminder lifecycle over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a new Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers reminder routes on the given Echo group. Creating
// and mutating reminders is a clinical action reserved for nurses, caretakers
// and admins; patients may additionally read.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	manage := auth.RequireRole(auth.RoleNurse, auth.RoleCaretaker, auth.RoleAdmin)
	view := auth.RequireRole(auth.RoleNurse, auth.RoleCaretaker, auth.RoleAdmin, auth.RolePatient)

	g.POST("/reminders", h.HandleCreate, manage)
	g.GET("/reminders", h.HandleList, view)
	g.GET("/reminders/:id", h.HandleGet, view)
	g.PUT("/reminders/:id", h.HandleUpdate, manage)
	g.DELETE("/reminders/:id", h.HandleDelete, manage)
	g.POST("/reminders/:id/trigger", h.HandleTrigger, manage)
	g.GET("/reminders/:id/attempts", h.HandleListAttempts, view)
}

// callerID extracts the authenticated user's id from the request context.
func callerID(c echo.Context) (uuid.UUID, error) {
	raw := auth.UserIDFromContext(c.Request().Context())
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authenticated user id is not valid")
	}
	return id, nil
}

// elevated reports whether the caller may act on reminders they did not
// create.
func elevated(c echo.Context) bool {
	return auth.HasRole(auth.RolesFromContext(c.Request().Context()), auth.ElevatedRoles...)
}

// authorize loads the reminder and enforces owner-or-elevated access.
func (h *Handler) authorize(c echo.Context) (*Reminder, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid reminder id")
	}
	caller, err := callerID(c)
	if err != nil {
		return nil, err
	}

	r, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "reminder not found")
		}
		return nil, err
	}
	if r.CreatedBy != caller && !elevated(c) {
		return nil, echo.NewHTTPError(http.StatusForbidden, "not allowed to access this reminder")
	}
	return r, nil
}

func mapServiceError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "reminder not found")
	default:
		return err
	}
}

// HandleCreate handles POST /reminders.
func (h *Handler) HandleCreate(c echo.Context) error {
	caller, err := callerID(c)
	if err != nil {
		return err
	}

	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	r, err := h.service.Create(c.Request().Context(), caller, in)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

// HandleList handles GET /reminders?patient_id=&status=.
func (h *Handler) HandleList(c echo.Context) error {
	caller, err := callerID(c)
	if err != nil {
		return err
	}

	f := ListFilter{Status: c.QueryParam("status")}
	switch f.Status {
	case "", "all", "pending", "sent":
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be one of all, pending, sent")
	}
	if f.Status == "all" {
		f.Status = ""
	}
	if pid := c.QueryParam("patient_id"); pid != "" {
		id, err := uuid.Parse(pid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = id
	}
	// Non-elevated callers only see their own reminders.
	if !elevated(c) {
		f.CreatedBy = caller
	}

	p := pagination.FromContext(c)
	f.Limit, f.Offset = p.Limit, p.Offset

	items, total, err := h.service.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Reminder{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

// HandleGet handles GET /reminders/:id.
func (h *Handler) HandleGet(c echo.Context) error {
	r, err := h.authorize(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

// HandleUpdate handles PUT /reminders/:id.
func (h *Handler) HandleUpdate(c echo.Context) error {
	r, err := h.authorize(c)
	if err != nil {
		return err
	}

	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	updated, err := h.service.Update(c.Request().Context(), r.ID, in)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// HandleDelete handles DELETE /reminders/:id.
func (h *Handler) HandleDelete(c echo.Context) error {
	r, err := h.authorize(c)
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.Request().Context(), r.ID); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleTrigger handles POST /reminders/:id/trigger. It dispatches the
// reminder immediately and returns the advanced schedule state.
func (h *Handler) HandleTrigger(c echo.Context) error {
	r, err := h.authorize(c)
	if err != nil {
		return err
	}

	triggered, err := h.service.TriggerNow(c.Request().Context(), r.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":                triggered.ID,
		"active":            triggered.Active,
		"last_triggered_at": triggered.LastTriggeredAt,
		"next_run_at":       triggered.NextRunAt,
	})
}

// HandleListAttempts handles GET /reminders/:id/attempts.
func (h *Handler) HandleListAttempts(c echo.Context) error {
	r, err := h.authorize(c)
	if err != nil {
		return err
	}

	p := pagination.FromContext(c)
	items, total, err := h.service.ListAttempts(c.Request().Context(), r.ID, p.Limit, p.Offset)
	if err != nil {
		return mapServiceError(err)
	}
	if items == nil {
		items = []*DeliveryAttempt{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}
