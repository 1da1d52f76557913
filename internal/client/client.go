// Package client calls the price API over HTTP.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hompare/internal/apperr"
	"hompare/internal/filter"
	"hompare/internal/models"
	"hompare/internal/selection"
)

type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type errorBody struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
	Field  string `json:"field"`
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dest any) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorBody
		if err := json.Unmarshal(body, &e); err != nil || e.Kind == "" {
			return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
		}
		return &apperr.Error{Kind: apperr.Kind(e.Kind), Field: e.Field, Detail: e.Detail}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func rawParams(raw filter.RawFilter) url.Values {
	params := url.Values{}
	set := func(key, value string) {
		if value != "" {
			params.Set(key, value)
		}
	}
	set("action", raw.Action)
	set("country", raw.Country)
	set("province", raw.Province)
	set("city", raw.City)
	set("area", raw.Area)
	set("surface", raw.Surface)
	set("timeframe", raw.Timeframe)
	set("startDate", raw.StartDate)
	set("endDate", raw.EndDate)
	return params
}

func (c *Client) Cities(ctx context.Context) ([]string, error) {
	var body struct {
		Cities []string `json:"cities"`
	}
	if err := c.get(ctx, "/api/getCities", nil, &body); err != nil {
		return nil, err
	}
	return body.Cities, nil
}

// Markets lists every city with its province, country and whether it has areas.
func (c *Client) Markets(ctx context.Context) ([]models.CityInfo, error) {
	var body struct {
		Markets []models.CityInfo `json:"markets"`
	}
	if err := c.get(ctx, "/api/getCities", nil, &body); err != nil {
		return nil, err
	}
	return body.Markets, nil
}

func (c *Client) Areas(ctx context.Context, q models.LocationQuery) ([]string, error) {
	var body struct {
		Areas []string `json:"areas"`
	}
	raw := filter.RawFilter{Country: q.Country, Province: q.Province, City: q.City}
	if err := c.get(ctx, "/api/getAreas", rawParams(raw), &body); err != nil {
		return nil, err
	}
	return body.Areas, nil
}

func (c *Client) Snapshot(ctx context.Context, raw filter.RawFilter) ([]models.SnapshotEntry, error) {
	var entries []models.SnapshotEntry
	if err := c.get(ctx, "/api/getPriceEntries", rawParams(raw), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) Series(ctx context.Context, raw filter.RawFilter) ([]models.SeriesPoint, error) {
	var series []models.SeriesPoint
	if err := c.get(ctx, "/api/getHistoricalPpm", rawParams(raw), &series); err != nil {
		return nil, err
	}
	return series, nil
}

func (c *Client) SeriesFixedSurface(ctx context.Context, raw filter.RawFilter) ([]models.SnapshotEntry, error) {
	var rows []models.SnapshotEntry
	if err := c.get(ctx, "/api/getHistoricalData", rawParams(raw), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FetchSeries lets a selection controller load charts through the API.
func (c *Client) FetchSeries(ctx context.Context, f selection.Filters) ([]models.SeriesPoint, error) {
	return c.Series(ctx, f.Raw())
}

var _ selection.Fetcher = (*Client)(nil)
