package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"

	"hompare/internal/apperr"
	"hompare/internal/filter"
	"hompare/internal/models"
)

// Engine is the query surface served over HTTP.
type Engine interface {
	ListMarkets(ctx context.Context) ([]models.CityInfo, error)
	ListAreas(ctx context.Context, q models.LocationQuery) ([]string, error)
	GetSnapshot(ctx context.Context, raw filter.RawFilter) ([]models.SnapshotEntry, error)
	GetSeries(ctx context.Context, raw filter.RawFilter) ([]models.SeriesPoint, error)
	GetSeriesFixedSurface(ctx context.Context, raw filter.RawFilter) ([]models.SnapshotEntry, error)
	CityMarkers(ctx context.Context) (*geojson.FeatureCollection, error)
}

type Handler struct {
	engine Engine
	logger *logrus.Logger
}

func NewHandler(engine Engine, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Handler{engine: engine, logger: logger}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
	Field  string `json:"field,omitempty"`
}

// CitiesResponse lists the distinct city names and every city with its parents.
type CitiesResponse struct {
	Cities  []string          `json:"cities"`
	Markets []models.CityInfo `json:"markets"`
}

func (h *Handler) bindFilter(c *gin.Context) (filter.RawFilter, bool) {
	var raw filter.RawFilter
	if err := c.ShouldBindQuery(&raw); err != nil {
		h.renderError(c, apperr.InvalidParameter("query", err.Error()))
		return raw, false
	}
	return raw, true
}

func (h *Handler) renderError(c *gin.Context, err error) {
	status := apperr.Status(err)
	entry := h.logger.WithError(err).WithFields(logrus.Fields{
		"path":       c.FullPath(),
		"request_id": c.GetString(requestIDKey),
		"status":     status,
	})

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		entry.Error("Unhandled error")
		c.JSON(status, ErrorResponse{Kind: "Internal", Detail: "internal error"})
		return
	}

	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Info("Request rejected")
	}
	c.JSON(status, ErrorResponse{Kind: string(appErr.Kind), Detail: appErr.Detail, Field: appErr.Field})
}

func (h *Handler) GetCities(c *gin.Context) {
	markets, err := h.engine.ListMarkets(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, CitiesResponse{Cities: models.CityNames(markets), Markets: markets})
}

func (h *Handler) GetAreas(c *gin.Context) {
	raw, ok := h.bindFilter(c)
	if !ok {
		return
	}

	areas, err := h.engine.ListAreas(c.Request.Context(), raw.Location())
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"areas": areas})
}

func (h *Handler) GetPriceEntries(c *gin.Context) {
	raw, ok := h.bindFilter(c)
	if !ok {
		return
	}

	entries, err := h.engine.GetSnapshot(c.Request.Context(), raw)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

func (h *Handler) GetHistoricalPpm(c *gin.Context) {
	raw, ok := h.bindFilter(c)
	if !ok {
		return
	}

	series, err := h.engine.GetSeries(c.Request.Context(), raw)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, series)
}

func (h *Handler) GetHistoricalData(c *gin.Context) {
	raw, ok := h.bindFilter(c)
	if !ok {
		return
	}

	rows, err := h.engine.GetSeriesFixedSurface(c.Request.Context(), raw)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetCityMarkers(c *gin.Context) {
	fc, err := h.engine.CityMarkers(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, fc)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
