package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hompare/internal/api"
	"hompare/internal/apperr"
	"hompare/internal/filter"
	"hompare/internal/location"
	"hompare/internal/models"
	"hompare/internal/query"
	"hompare/internal/selection"
	"hompare/internal/storage/memory"
	"hompare/internal/storage/storagetest"
)

func setupServer(t *testing.T) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store := memory.NewStore()
	storagetest.Seed(t, store)
	now := func() time.Time { return time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC) }
	svc := query.NewService(store, location.NewResolver(location.ModeCityAnchored), filter.NewValidator(now), logger)

	server := httptest.NewServer(api.NewRouter(svc, logger, nil))
	t.Cleanup(server.Close)
	return New(server.URL + "/")
}

func TestClient_Browse(t *testing.T) {
	c := setupServer(t)
	ctx := context.Background()

	cities, err := c.Cities(ctx)
	require.NoError(t, err)
	assert.Contains(t, cities, "Athens")

	areas, err := c.Areas(ctx, models.LocationQuery{City: "Athens"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Kolonaki", "Plaka"}, areas)

	snapshot, err := c.Snapshot(ctx, filter.RawFilter{Action: "Buy", City: "Thessaloniki"})
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, 90, snapshot[0].Surface)

	rows, err := c.SeriesFixedSurface(ctx, filter.RawFilter{Action: "Buy", City: "Athens", Area: "Kolonaki", Surface: "100", Timeframe: "ever"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-02-01", rows[0].EntryDate.Format(models.DateLayout))
}

func TestClient_SharedCityName(t *testing.T) {
	c := setupServer(t)
	ctx := context.Background()

	cities, err := c.Cities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Athens", "Springfield", "Thessaloniki"}, cities)

	markets, err := c.Markets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 4)
	assert.True(t, markets[0].HasAreas)

	var illinois models.CityInfo
	for _, m := range markets {
		if m.Province == "Illinois" {
			illinois = m
		}
	}
	require.Equal(t, "Springfield", illinois.Name)

	ctrl := selection.NewController(c, nil)
	ctrl.Dispatch(selection.ChooseAction{Action: "Rent"})
	ctrl.Dispatch(selection.ChooseMarket(illinois))
	ctrl.Dispatch(selection.ChooseTimeframe{Timeframe: "ever"})
	require.True(t, ctrl.Refresh(ctx))
	ctrl.Wait()

	s := ctrl.State()
	require.NoError(t, s.Err)
	require.Len(t, s.Series, 1)
	assert.InDelta(t, 10.0, s.Series[0].PricePerUnitArea, 1e-9)
}

func TestClient_Errors(t *testing.T) {
	c := setupServer(t)

	_, err := c.Series(context.Background(), filter.RawFilter{Action: "Buy", City: "Sparta", Timeframe: "ever"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindLocationNotFound))

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "city", appErr.Field)
}

func TestClient_DrivesController(t *testing.T) {
	c := setupServer(t)
	ctrl := selection.NewController(c, nil)

	ctrl.Dispatch(selection.ChooseAction{Action: "Buy"})
	ctrl.Dispatch(selection.ChooseCity{Name: "Athens", HasAreas: true})
	ctrl.Dispatch(selection.ChooseArea{Name: "Kolonaki"})
	ctrl.Dispatch(selection.ChooseTimeframe{Timeframe: "ever"})
	require.True(t, ctrl.Refresh(context.Background()))
	ctrl.Wait()

	s := ctrl.State()
	require.NoError(t, s.Err)
	assert.Equal(t, selection.ResultsLoaded, s.Phase())
	require.Len(t, s.Series, 2)
	assert.InDelta(t, 1270.0/120.0, s.Series[0].PricePerUnitArea, 1e-9)
}
