package labtest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/roysummy-dev/BPRecorder/internal/platform/filestore"
	"github.com/roysummy-dev/BPRecorder/pkg/pagination"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/metrics", h.ListMetrics)
	api.GET("/metrics/:key", h.GetMetric)
	api.GET("/metrics/:key/history", h.MetricHistory)
	api.GET("/metrics/:key/stats", h.MetricStats)
	api.GET("/metrics/:key/chart", h.MetricChart)

	api.GET("/records", h.ListRecords)
	api.GET("/records/latest", h.LatestRecord)
	api.GET("/records/:id", h.GetRecord)
	api.POST("/records", h.CreateRecord)
	api.PUT("/records/:id", h.UpdateRecord)
	api.DELETE("/records/:id", h.DeleteRecord)
	api.GET("/schemes", h.ListSchemes)

	api.POST("/imports/plan", h.PlanImport)
	api.POST("/imports/apply", h.ApplyImport)
	api.POST("/imports/xlsx/plan", h.PlanWorkbookImport)
	api.POST("/imports/xlsx/apply", h.ApplyWorkbookImport)
	api.GET("/export.xlsx", h.ExportWorkbook)
}

// statusFor maps service errors onto HTTP responses.
func statusFor(err error) error {
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDecode),
		errors.Is(err, ErrUnknownMetric),
		errors.Is(err, ErrInvalidValue),
		errors.Is(err, ErrInvalidPolicy):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, filestore.ErrStorageUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func parseDays(c echo.Context) (int, error) {
	raw := c.QueryParam("days")
	if raw == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "days must be a non-negative integer")
	}
	return days, nil
}

func metricParam(c echo.Context) (MetricDefinition, error) {
	def, ok := LookupByKey(MetricKey(c.Param("key")))
	if !ok {
		return MetricDefinition{}, echo.NewHTTPError(http.StatusNotFound, "unknown metric: "+c.Param("key"))
	}
	return def, nil
}

// -- Metric Handlers --

func (h *Handler) ListMetrics(c echo.Context) error {
	var category *Category
	if raw := c.QueryParam("category"); raw != "" {
		cat := Category(raw)
		if !cat.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid category")
		}
		category = &cat
	}
	groups := SearchDefinitions(category, c.QueryParam("q"))
	if groups == nil {
		groups = []CategoryGroup{}
	}
	return c.JSON(http.StatusOK, groups)
}

func (h *Handler) GetMetric(c echo.Context) error {
	def, err := metricParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

func (h *Handler) MetricHistory(c echo.Context) error {
	def, err := metricParam(c)
	if err != nil {
		return err
	}
	days, err := parseDays(c)
	if err != nil {
		return err
	}
	points, err := h.svc.History(def.Key, days)
	if err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusOK, points)
}

func (h *Handler) MetricStats(c echo.Context) error {
	def, err := metricParam(c)
	if err != nil {
		return err
	}
	days, err := parseDays(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.Stats(def.Key, days)
	if err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) MetricChart(c echo.Context) error {
	def, err := metricParam(c)
	if err != nil {
		return err
	}
	days, err := parseDays(c)
	if err != nil {
		return err
	}
	points, err := h.svc.History(def.Key, days)
	if err != nil {
		return statusFor(err)
	}
	var buf bytes.Buffer
	if err := RenderTrendChart(&buf, def, points); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// -- Record Handlers --

type recordRequest struct {
	Date        string                `json:"date" validate:"notblank,day"`
	Event       string                `json:"event"`
	Notes       *string               `json:"notes"`
	Values      map[MetricKey]float64 `json:"values" validate:"required,min=1"`
	Attachments []Attachment          `json:"attachments"`
}

func (r *recordRequest) toRecord(id uuid.UUID, loc *time.Location) (*Record, error) {
	date, err := time.ParseInLocation(DateLayout, r.Date, loc)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid date")
	}
	opts := []RecordOption{WithID(id)}
	if r.Notes != nil {
		opts = append(opts, WithNotes(*r.Notes))
	}
	if len(r.Attachments) > 0 {
		opts = append(opts, WithAttachments(r.Attachments...))
	}
	rec := NewRecord(date, r.Event, nil, opts...)
	for k, v := range r.Values {
		if err := rec.SetValue(k, v); err != nil {
			return nil, statusFor(err)
		}
	}
	return rec, nil
}

func (h *Handler) bindRecord(c echo.Context, id uuid.UUID) (*Record, error) {
	var req recordRequest
	if err := c.Bind(&req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return nil, err
	}
	return req.toRecord(id, h.svc.Location())
}

func (h *Handler) ListRecords(c echo.Context) error {
	pg := pagination.FromContext(c)
	var records []*Record
	if scheme := c.QueryParam("scheme"); scheme != "" {
		records = h.svc.RecordsByScheme(scheme)
	} else {
		days, err := parseDays(c)
		if err != nil {
			return err
		}
		records = h.svc.RecordsWithin(days)
	}
	page, total := pagination.Page(records, pg)
	resp := pagination.NewResponse(page, total, pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Request().URL.Path, total, filterParams(c))
	return c.JSON(http.StatusOK, resp)
}

func filterParams(c echo.Context) map[string][]string {
	extra := map[string][]string{}
	for _, k := range []string{"scheme", "days"} {
		if v := c.QueryParam(k); v != "" {
			extra[k] = []string{v}
		}
	}
	return extra
}

func (h *Handler) LatestRecord(c echo.Context) error {
	r, ok := h.svc.Latest()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no records")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.Get(id)
	if err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) CreateRecord(c echo.Context) error {
	r, err := h.bindRecord(c, uuid.New())
	if err != nil {
		return err
	}
	if err := h.svc.Save(c.Request().Context(), r); err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) UpdateRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.bindRecord(c, id)
	if err != nil {
		return err
	}
	if err := h.svc.Update(c.Request().Context(), r); err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return statusFor(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListSchemes(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.AllSchemes())
}

// -- Import Handlers --

type applyImportRequest struct {
	Payload json.RawMessage `json:"payload" validate:"required"`
	Policy  string          `json:"policy" validate:"required,oneof=replace skip auto"`
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return body, nil
}

func (h *Handler) PlanImport(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	plan, err := h.svc.PlanImport(c.Request().Context(), body)
	if err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusOK, plan)
}

// ApplyImport re-plans the payload against the current collection so a
// stale plan is never applied.
func (h *Handler) ApplyImport(c echo.Context) error {
	var req applyImportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	policy, err := ParseMergePolicy(req.Policy)
	if err != nil {
		return statusFor(err)
	}
	summary, err := h.svc.ImportJSON(c.Request().Context(), req.Payload, policy)
	if err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) planWorkbook(c echo.Context) (*ImportResult, error) {
	body, err := readBody(c)
	if err != nil {
		return nil, err
	}
	rows, err := ReadWorkbook(body)
	if err != nil {
		return nil, statusFor(err)
	}
	plan, err := h.svc.PlanImportFields(c.Request().Context(), rows)
	if err != nil {
		return nil, statusFor(err)
	}
	return plan, nil
}

func (h *Handler) PlanWorkbookImport(c echo.Context) error {
	plan, err := h.planWorkbook(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, plan)
}

func (h *Handler) ApplyWorkbookImport(c echo.Context) error {
	policy, err := ParseMergePolicy(c.QueryParam("policy"))
	if err != nil {
		return statusFor(err)
	}
	plan, err := h.planWorkbook(c)
	if err != nil {
		return err
	}
	summary, err := h.svc.Apply(c.Request().Context(), plan, policy)
	if err != nil {
		return statusFor(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) ExportWorkbook(c echo.Context) error {
	data, err := ExportWorkbook(h.svc.Records())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="blood_tests.xlsx"`)
	return c.Blob(http.StatusOK, xlsxContentType, data)
}
