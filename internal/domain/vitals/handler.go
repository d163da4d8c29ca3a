package vitals

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/vitals")
	g.POST("/blood-pressure", h.CreateBloodPressure)
	g.GET("/blood-pressure", h.ListBloodPressure)
	g.GET("/blood-pressure/summary", h.SummarizeBloodPressure)
	g.DELETE("/blood-pressure/:id", h.DeleteBloodPressure)
	g.POST("/weight", h.CreateWeight)
	g.GET("/weight", h.ListWeight)
	g.DELETE("/weight/:id", h.DeleteWeight)
}

func statusFor(err error) error {
	switch {
	case errors.Is(err, ErrInvalidReading):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSampleNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func windowParam(c echo.Context) (Window, error) {
	switch w := Window(c.QueryParam("range")); w {
	case "":
		return WindowRecent, nil
	case WindowRecent, WindowAll:
		return w, nil
	}
	return "", echo.NewHTTPError(http.StatusBadRequest, "range must be recent or all")
}

type bloodPressureRequest struct {
	Systolic  float64    `json:"systolic" validate:"finite,gt=0"`
	Diastolic float64    `json:"diastolic" validate:"finite,gt=0"`
	HeartRate *float64   `json:"heart_rate" validate:"omitempty,finite"`
	Time      *time.Time `json:"time"`
}

type weightRequest struct {
	Kilograms float64    `json:"kilograms" validate:"finite,gt=0"`
	Time      *time.Time `json:"time"`
}

type bloodPressureView struct {
	*BloodPressureReading
	Status      BPStatus `json:"status"`
	StatusLabel string   `json:"status_label"`
}

type weightView struct {
	*WeightReading
	Status      WeightStatus `json:"status"`
	StatusLabel string       `json:"status_label"`
}

func pressureView(r *BloodPressureReading) bloodPressureView {
	st := r.Status()
	return bloodPressureView{BloodPressureReading: r, Status: st, StatusLabel: st.DisplayName()}
}

func massView(r *WeightReading) weightView {
	st := r.Status()
	return weightView{WeightReading: r, Status: st, StatusLabel: st.DisplayName()}
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// -- Blood Pressure Handlers --

func (h *Handler) CreateBloodPressure(c echo.Context) error {
	var req bloodPressureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	r, err := h.svc.RecordBloodPressure(c.Request().Context(), req.Systolic, req.Diastolic, req.HeartRate, timeOrZero(req.Time))
	if err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusCreated, pressureView(r))
}

func (h *Handler) ListBloodPressure(c echo.Context) error {
	w, err := windowParam(c)
	if err != nil {
		return err
	}
	readings, err := h.svc.ListBloodPressure(c.Request().Context(), w)
	if err != nil {
		return statusFor(err)
	}
	out := make([]bloodPressureView, 0, len(readings))
	for _, r := range readings {
		out = append(out, pressureView(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SummarizeBloodPressure(c echo.Context) error {
	w, err := windowParam(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.SummarizeBloodPressure(c.Request().Context(), w)
	if err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) DeleteBloodPressure(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteBloodPressure(c.Request().Context(), id); err != nil {
		return statusFor(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Weight Handlers --

func (h *Handler) CreateWeight(c echo.Context) error {
	var req weightRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	r, err := h.svc.RecordWeight(c.Request().Context(), req.Kilograms, timeOrZero(req.Time))
	if err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusCreated, massView(r))
}

func (h *Handler) ListWeight(c echo.Context) error {
	w, err := windowParam(c)
	if err != nil {
		return err
	}
	readings, err := h.svc.ListWeight(c.Request().Context(), w)
	if err != nil {
		return statusFor(err)
	}
	out := make([]weightView, 0, len(readings))
	for _, r := range readings {
		out = append(out, massView(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) DeleteWeight(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteWeight(c.Request().Context(), id); err != nil {
		return statusFor(err)
	}
	return c.NoContent(http.StatusNoContent)
}
