package scheduling

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicbook/booking-api/internal/platform/validation"
	"github.com/clinicbook/booking-api/pkg/pagination"
	"github.com/clinicbook/booking-api/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the public calendar and booking endpoints on api and
// the back-office endpoints on admin. bookingMW wraps only the booking
// endpoint.
func (h *Handler) RegisterRoutes(api *echo.Group, admin *echo.Group, bookingMW ...echo.MiddlewareFunc) {
	api.GET("/available-dates", h.AvailableDates)
	api.GET("/available-slots", h.AvailableSlots)
	api.GET("/check-slot", h.CheckSlot)
	api.POST("/appointments", h.Book, bookingMW...)

	admin.GET("/appointments", h.ListAppointments)
	admin.GET("/appointments/:id", h.GetAppointment)
	admin.PUT("/appointments/:id", h.UpdateAppointment)
	admin.DELETE("/appointments/:id", h.DeleteAppointment)
	admin.GET("/patients/:id", h.GetPatient)
	admin.GET("/patients/:id/appointments", h.ListPatientAppointments)
	admin.POST("/patients/:id/resync", h.ResyncPatient)
}

// -- Public --

func (h *Handler) AvailableDates(c echo.Context) error {
	days, err := h.svc.AvailableDates(c.Request().Context())
	if err != nil {
		return err
	}
	return response.OK(c, days)
}

func (h *Handler) AvailableSlots(c echo.Context) error {
	d, err := h.dateQuery(c, "date")
	if err != nil {
		return err
	}
	slots, msg, err := h.svc.OpenSlots(c.Request().Context(), d)
	if err != nil {
		return err
	}
	return response.Message(c, msg, slots)
}

func (h *Handler) CheckSlot(c echo.Context) error {
	d, err := h.dateQuery(c, "date")
	if err != nil {
		return err
	}
	t := strings.TrimSpace(c.QueryParam("time"))
	if !validation.TimeOfDayPattern.MatchString(t) {
		return fieldError("time", "must be a time in HH:MM (24-hour) format")
	}
	available, err := h.svc.IsSlotAvailable(c.Request().Context(), d, t)
	if err != nil {
		return err
	}
	return response.OK(c, map[string]any{
		"date":      d,
		"time":      t,
		"available": available,
	})
}

func (h *Handler) Book(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return response.NewError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
	}
	a, err := h.svc.Book(c.Request().Context(), req)
	if err != nil {
		return apiError(err, "appointment")
	}
	return response.Created(c, "appointment booked", a)
}

// -- Admin --

func (h *Handler) ListAppointments(c echo.Context) error {
	var filter AppointmentFilter
	if s := strings.TrimSpace(c.QueryParam("status")); s != "" {
		st := Status(s)
		if !st.Valid() {
			return fieldError("status", "must be one of: pending confirmed completed cancelled")
		}
		filter.Status = &st
	}
	if c.QueryParam("date") != "" {
		d, err := h.dateQuery(c, "date")
		if err != nil {
			return err
		}
		filter.Date = &d
	}
	if p := c.QueryParam("patientId"); p != "" {
		id, err := uuid.Parse(p)
		if err != nil {
			return fieldError("patientId", "must be a UUID")
		}
		filter.PatientID = &id
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchAppointments(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return apiError(err, "appointment")
	}
	return response.OK(c, a)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return response.NewError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
	}
	a, err := h.svc.UpdateAppointment(c.Request().Context(), id, req)
	if err != nil {
		return apiError(err, "appointment")
	}
	return response.Message(c, "appointment updated", a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAppointment(c.Request().Context(), id); err != nil {
		return apiError(err, "appointment")
	}
	return response.Message(c, "appointment deleted", nil)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return apiError(err, "patient")
	}
	return response.OK(c, p)
}

func (h *Handler) ListPatientAppointments(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.svc.GetPatient(ctx, id); err != nil {
		return apiError(err, "patient")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchAppointments(ctx, AppointmentFilter{PatientID: &id}, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ResyncPatient(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	p, err := h.svc.ResyncPatient(c.Request().Context(), id)
	if err != nil {
		return apiError(err, "patient")
	}
	return response.Message(c, "patient aggregate recomputed", p)
}

// -- helpers --

func idParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, response.NewError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
	}
	return id, nil
}

func (h *Handler) dateQuery(c echo.Context, name string) (Date, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return Date{}, fieldError(name, "is required")
	}
	d, err := h.svc.Calendar().ParseDate(raw)
	if err != nil {
		return Date{}, fieldError(name, "must be a date in YYYY-MM-DD format")
	}
	return d, nil
}

func fieldError(field, msg string) error {
	return apiError(newValidationError(field, msg), "")
}

// apiError maps domain errors to HTTP errors. Anything unrecognized is
// returned as is and rendered as a 500 by the central error handler.
func apiError(err error, resource string) error {
	code := ErrorCode(err)
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return &response.Error{
			Status:  http.StatusBadRequest,
			Code:    code,
			Message: "validation failed",
			Fields:  ve.Fields,
		}
	case errors.Is(err, ErrNotFound):
		msg := "not found"
		if resource != "" {
			msg = resource + " not found"
		}
		return response.NewError(http.StatusNotFound, code, msg)
	case code != "":
		return response.NewError(http.StatusBadRequest, code, err.Error())
	}
	return err
}
