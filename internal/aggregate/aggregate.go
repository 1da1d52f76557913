// Package aggregate groups price entries by calendar date.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"hompare/internal/models"
	"hompare/internal/storage"
)

// Accumulate groups entries by calendar date and sums surface and price
// independently per date. Points come back ascending by date.
func Accumulate(entries []models.PriceEntry) []models.AggregatedPoint {
	byDate := make(map[time.Time]*models.AggregatedPoint)
	for _, e := range entries {
		date := models.DateOf(e.EntryDate)
		point, ok := byDate[date]
		if !ok {
			point = &models.AggregatedPoint{Date: date, TotalPrice: decimal.Zero}
			byDate[date] = point
		}
		point.TotalSurface += int64(e.Surface)
		point.TotalPrice = point.TotalPrice.Add(e.Price)
		point.Count++
	}

	points := make([]models.AggregatedPoint, 0, len(byDate))
	for _, p := range byDate {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})
	return points
}

// Finalize divides total price by total surface. Points without surface are dropped.
func Finalize(p models.AggregatedPoint) (models.SeriesPoint, bool) {
	if p.TotalSurface <= 0 {
		return models.SeriesPoint{}, false
	}
	perUnit := p.TotalPrice.Div(decimal.NewFromInt(p.TotalSurface))
	return models.SeriesPoint{Date: p.Date, PricePerUnitArea: perUnit.InexactFloat64()}, true
}

// Series is the surface weighted average price per unit area of every date:
// Σprice / Σsurface, not the mean of per-entry ratios.
func Series(entries []models.PriceEntry) []models.SeriesPoint {
	accumulated := Accumulate(entries)
	series := make([]models.SeriesPoint, 0, len(accumulated))
	for _, p := range accumulated {
		if point, ok := Finalize(p); ok {
			series = append(series, point)
		}
	}
	return series
}

// LatestSnapshot keeps the entries dated at the most recent entry_date, in a single pass.
func LatestSnapshot(entries []models.PriceEntry) []models.SnapshotEntry {
	snapshot := make([]models.SnapshotEntry, 0)
	var latest time.Time
	for _, e := range entries {
		date := models.DateOf(e.EntryDate)
		switch {
		case len(snapshot) == 0 || date.After(latest):
			latest = date
			snapshot = append(snapshot[:0], models.SnapshotOf(e))
		case date.Equal(latest):
			snapshot = append(snapshot, models.SnapshotOf(e))
		}
	}
	return snapshot
}

// Rows returns entries verbatim, ascending by date.
func Rows(entries []models.PriceEntry) []models.SnapshotEntry {
	rows := make([]models.SnapshotEntry, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, models.SnapshotOf(e))
	}
	return rows
}

// Aggregator runs the aggregation modes against a price reader.
type Aggregator struct {
	reader storage.PriceReader
}

func New(reader storage.PriceReader) *Aggregator {
	return &Aggregator{reader: reader}
}

// Series queries every entry of the range and aggregates it per date.
func (a *Aggregator) Series(ctx context.Context, scope models.Scope, f models.QueryFilter) ([]models.SeriesPoint, error) {
	entries, err := a.reader.QueryEntries(ctx, seriesQuery(scope, f))
	if err != nil {
		return nil, fmt.Errorf("query series entries: %w", err)
	}
	return Series(entries), nil
}

// FixedSurface returns the entries of one surface over the range, without aggregation.
func (a *Aggregator) FixedSurface(ctx context.Context, scope models.Scope, f models.QueryFilter) ([]models.SnapshotEntry, error) {
	entries, err := a.reader.QueryEntries(ctx, seriesQuery(scope, f))
	if err != nil {
		return nil, fmt.Errorf("query fixed surface entries: %w", err)
	}
	return Rows(entries), nil
}

// Snapshot pushes max(entry_date) down to the store and returns every entry of that date.
func (a *Aggregator) Snapshot(ctx context.Context, scope models.Scope, f models.QueryFilter) ([]models.SnapshotEntry, error) {
	q := models.EntryQuery{Scope: scope, PriceType: f.PriceType, Surface: f.Surface}
	latest, found, err := a.reader.LatestEntryDate(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query latest entry date: %w", err)
	}
	if !found {
		return []models.SnapshotEntry{}, nil
	}

	on := models.DateOf(latest)
	q.On = &on
	entries, err := a.reader.QueryEntries(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query snapshot entries: %w", err)
	}
	return Rows(entries), nil
}

func seriesQuery(scope models.Scope, f models.QueryFilter) models.EntryQuery {
	rng := f.Range
	return models.EntryQuery{
		Scope:     scope,
		PriceType: f.PriceType,
		Surface:   f.Surface,
		Range:     &rng,
	}
}
