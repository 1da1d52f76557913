package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"hompare/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func entry(surface int, price string, at time.Time) models.PriceEntry {
	return models.PriceEntry{
		AreaID:    1,
		PriceType: models.PriceTypeBuy,
		Surface:   surface,
		Price:     decimal.RequireFromString(price),
		EntryDate: at,
	}
}

// MockReader is a mock implementation of storage.PriceReader
type MockReader struct {
	mock.Mock
}

func (m *MockReader) QueryEntries(ctx context.Context, q models.EntryQuery) ([]models.PriceEntry, error) {
	args := m.Called(ctx, q)
	entries, _ := args.Get(0).([]models.PriceEntry)
	return entries, args.Error(1)
}

func (m *MockReader) LatestEntryDate(ctx context.Context, q models.EntryQuery) (time.Time, bool, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(time.Time), args.Bool(1), args.Error(2)
}

func TestSeries(t *testing.T) {
	tests := []struct {
		name     string
		entries  []models.PriceEntry
		expected []models.SeriesPoint
	}{
		{
			name: "sums surface and price independently",
			entries: []models.PriceEntry{
				entry(50, "500", date(2024, 1, 1)),
				entry(70, "770", date(2024, 1, 1)),
			},
			expected: []models.SeriesPoint{
				{Date: date(2024, 1, 1), PricePerUnitArea: 1270.0 / 120.0},
			},
		},
		{
			name: "one point per date in ascending order",
			entries: []models.PriceEntry{
				entry(100, "2000", date(2024, 2, 1)),
				entry(40, "400", date(2024, 1, 1)),
				entry(60, "900", date(2024, 2, 1)),
			},
			expected: []models.SeriesPoint{
				{Date: date(2024, 1, 1), PricePerUnitArea: 10},
				{Date: date(2024, 2, 1), PricePerUnitArea: 2900.0 / 160.0},
			},
		},
		{
			name: "time of day does not split a date",
			entries: []models.PriceEntry{
				entry(10, "100", time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)),
				entry(10, "300", time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC)),
			},
			expected: []models.SeriesPoint{
				{Date: date(2024, 1, 1), PricePerUnitArea: 20},
			},
		},
		{
			name: "a date without surface is dropped",
			entries: []models.PriceEntry{
				entry(0, "100", date(2024, 1, 1)),
				entry(20, "100", date(2024, 1, 2)),
			},
			expected: []models.SeriesPoint{
				{Date: date(2024, 1, 2), PricePerUnitArea: 5},
			},
		},
		{
			name:     "no entries",
			entries:  nil,
			expected: []models.SeriesPoint{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Series(tt.entries)
			require.Len(t, got, len(tt.expected))
			assert.NotNil(t, got)
			for i := range tt.expected {
				assert.True(t, tt.expected[i].Date.Equal(got[i].Date))
				assert.InDelta(t, tt.expected[i].PricePerUnitArea, got[i].PricePerUnitArea, 1e-9)
			}
		})
	}
}

func TestAccumulate_KeepsExactSums(t *testing.T) {
	points := Accumulate([]models.PriceEntry{
		entry(1, "0.10", date(2024, 1, 1)),
		entry(1, "0.20", date(2024, 1, 1)),
	})
	require.Len(t, points, 1)
	assert.True(t, points[0].TotalPrice.Equal(decimal.RequireFromString("0.30")))
	assert.Equal(t, int64(2), points[0].TotalSurface)
	assert.Equal(t, 2, points[0].Count)
}

func TestLatestSnapshot(t *testing.T) {
	got := LatestSnapshot([]models.PriceEntry{
		entry(50, "500", date(2024, 1, 1)),
		entry(60, "600", date(2024, 3, 1)),
		entry(70, "700", date(2024, 2, 1)),
		entry(80, "800", date(2024, 3, 1)),
	})
	require.Len(t, got, 2)
	assert.Equal(t, 60, got[0].Surface)
	assert.Equal(t, 80, got[1].Surface)
	for _, e := range got {
		assert.True(t, e.EntryDate.Equal(date(2024, 3, 1)))
	}

	assert.NotNil(t, LatestSnapshot(nil))
	assert.Empty(t, LatestSnapshot(nil))
}

func TestAggregator_Snapshot(t *testing.T) {
	ctx := context.Background()
	areaID := int64(7)
	scope := models.Scope{CityID: 1, AreaID: &areaID}
	filter := models.QueryFilter{PriceType: models.PriceTypeRent}

	t.Run("returns every entry of the latest date", func(t *testing.T) {
		reader := &MockReader{}
		latest := date(2024, 3, 1)
		reader.On("LatestEntryDate", ctx, models.EntryQuery{Scope: scope, PriceType: models.PriceTypeRent}).
			Return(latest, true, nil).Once()
		reader.On("QueryEntries", ctx, models.EntryQuery{Scope: scope, PriceType: models.PriceTypeRent, On: &latest}).
			Return([]models.PriceEntry{entry(50, "500", latest), entry(60, "700", latest)}, nil).Once()

		got, err := New(reader).Snapshot(ctx, scope, filter)
		require.NoError(t, err)
		assert.Len(t, got, 2)
		reader.AssertExpectations(t)
	})

	t.Run("empty when nothing matches", func(t *testing.T) {
		reader := &MockReader{}
		reader.On("LatestEntryDate", ctx, mock.Anything).Return(time.Time{}, false, nil).Once()

		got, err := New(reader).Snapshot(ctx, scope, filter)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
		reader.AssertNotCalled(t, "QueryEntries", mock.Anything, mock.Anything)
	})

	t.Run("store failure", func(t *testing.T) {
		reader := &MockReader{}
		boom := errors.New("connection reset")
		reader.On("LatestEntryDate", ctx, mock.Anything).Return(time.Time{}, false, boom).Once()

		_, err := New(reader).Snapshot(ctx, scope, filter)
		assert.ErrorIs(t, err, boom)
	})
}

func TestAggregator_SeriesUsesRange(t *testing.T) {
	ctx := context.Background()
	scope := models.Scope{CityID: 1}
	rng := models.DateRange{Start: date(2024, 1, 1), End: date(2024, 1, 31)}
	filter := models.QueryFilter{PriceType: models.PriceTypeBuy, Range: rng}

	reader := &MockReader{}
	reader.On("QueryEntries", ctx, models.EntryQuery{Scope: scope, PriceType: models.PriceTypeBuy, Range: &rng}).
		Return([]models.PriceEntry{
			entry(50, "500", date(2024, 1, 1)),
			entry(70, "770", date(2024, 1, 1)),
		}, nil).Once()

	got, err := New(reader).Series(ctx, scope, filter)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1270.0/120.0, got[0].PricePerUnitArea, 1e-9)
	reader.AssertExpectations(t)
}
