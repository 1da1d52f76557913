package location

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hompare/internal/apperr"
	"hompare/internal/models"
	"hompare/internal/storage/memory"
	"hompare/internal/storage/storagetest"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{input: "", want: ModeCityAnchored},
		{input: "city", want: ModeCityAnchored},
		{input: " Hierarchy ", want: ModeHierarchy},
		{input: "province", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	store := memory.NewStore()
	f := storagetest.Seed(t, store)
	ctx := context.Background()

	sess, err := store.Acquire(ctx)
	require.NoError(t, err)
	defer sess.Release()

	tests := []struct {
		name      string
		mode      Mode
		query     models.LocationQuery
		wantCity  int64
		wantArea  *int64
		wantKind  apperr.Kind
		wantField string
	}{
		{
			name:     "city and area",
			mode:     ModeCityAnchored,
			query:    models.LocationQuery{City: "Athens", Area: "Kolonaki"},
			wantCity: f.Athens,
			wantArea: &f.Kolonaki,
		},
		{
			name:     "city anchored ignores parents",
			mode:     ModeCityAnchored,
			query:    models.LocationQuery{Country: "Atlantis", Province: "Nowhere", City: "Athens"},
			wantCity: f.Athens,
		},
		{
			name:      "unknown city",
			mode:      ModeCityAnchored,
			query:     models.LocationQuery{City: "Sparta"},
			wantKind:  apperr.KindLocationNotFound,
			wantField: "city",
		},
		{
			name:      "unknown area",
			mode:      ModeCityAnchored,
			query:     models.LocationQuery{City: "Athens", Area: "Glyfada"},
			wantKind:  apperr.KindLocationNotFound,
			wantField: "area",
		},
		{
			name:      "area of another city",
			mode:      ModeCityAnchored,
			query:     models.LocationQuery{City: "Thessaloniki", Area: "Kolonaki"},
			wantKind:  apperr.KindLocationNotFound,
			wantField: "area",
		},
		{
			name:      "duplicate city name",
			mode:      ModeCityAnchored,
			query:     models.LocationQuery{City: "Springfield"},
			wantKind:  apperr.KindAmbiguousLocation,
			wantField: "city",
		},
		{
			name:     "city anchored uses the province of a shared name",
			mode:     ModeCityAnchored,
			query:    models.LocationQuery{Country: "USA", Province: "Illinois", City: "Springfield"},
			wantCity: f.SpringfieldIL,
		},
		{
			name:      "city anchored shared name with unknown province",
			mode:      ModeCityAnchored,
			query:     models.LocationQuery{Province: "Ohio", City: "Springfield"},
			wantKind:  apperr.KindLocationNotFound,
			wantField: "province",
		},
		{
			name:      "city anchored shared name with country only",
			mode:      ModeCityAnchored,
			query:     models.LocationQuery{Country: "USA", City: "Springfield"},
			wantKind:  apperr.KindAmbiguousLocation,
			wantField: "city",
		},
		{
			name:     "province disambiguates",
			mode:     ModeHierarchy,
			query:    models.LocationQuery{Province: "Missouri", City: "Springfield"},
			wantCity: f.SpringfieldMO,
		},
		{
			name:      "country alone does not disambiguate",
			mode:      ModeHierarchy,
			query:     models.LocationQuery{Country: "USA", City: "Springfield"},
			wantKind:  apperr.KindAmbiguousLocation,
			wantField: "city",
		},
		{
			name:      "unknown country stops resolution",
			mode:      ModeHierarchy,
			query:     models.LocationQuery{Country: "Atlantis", City: "Athens"},
			wantKind:  apperr.KindLocationNotFound,
			wantField: "country",
		},
		{
			name:      "province outside the country",
			mode:      ModeHierarchy,
			query:     models.LocationQuery{Country: "USA", Province: "Attica", City: "Athens"},
			wantKind:  apperr.KindLocationNotFound,
			wantField: "province",
		},
		{
			name:      "city outside the province",
			mode:      ModeHierarchy,
			query:     models.LocationQuery{Province: "Illinois", City: "Athens"},
			wantKind:  apperr.KindLocationNotFound,
			wantField: "city",
		},
		{
			name:     "full hierarchy",
			mode:     ModeHierarchy,
			query:    models.LocationQuery{Country: "Greece", Province: "Attica", City: "Athens", Area: "Plaka"},
			wantCity: f.Athens,
			wantArea: &f.Plaka,
		},
		{
			name:      "city is required",
			mode:      ModeHierarchy,
			query:     models.LocationQuery{Country: "Greece"},
			wantKind:  apperr.KindMissingParameter,
			wantField: "city",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := NewResolver(tt.mode).Resolve(ctx, sess, tt.query)
			if tt.wantKind != "" {
				var appErr *apperr.Error
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, tt.wantKind, appErr.Kind)
				assert.Equal(t, tt.wantField, appErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCity, resolved.City.ID)
			scope := resolved.Scope()
			assert.Equal(t, tt.wantCity, scope.CityID)
			if tt.wantArea == nil {
				assert.Nil(t, scope.AreaID)
			} else {
				require.NotNil(t, scope.AreaID)
				assert.Equal(t, *tt.wantArea, *scope.AreaID)
			}
		})
	}
}

type failingReader struct {
	memorySession
}

type memorySession interface {
	ListMarkets(ctx context.Context) ([]models.Market, error)
	ListCities(ctx context.Context) ([]models.City, error)
	FindCountries(ctx context.Context, name string) ([]models.Country, error)
	FindProvinces(ctx context.Context, name string, countryID *int64) ([]models.Province, error)
	FindAreas(ctx context.Context, cityID int64, name string) ([]models.Area, error)
	ListAreas(ctx context.Context, cityID int64) ([]models.Area, error)
}

func (failingReader) FindCities(context.Context, string, *int64, *int64) ([]models.City, error) {
	return nil, errors.New("connection refused")
}

func TestResolver_StoreFailure(t *testing.T) {
	store := memory.NewStore()
	sess, err := store.Acquire(context.Background())
	require.NoError(t, err)
	defer sess.Release()

	_, err = NewResolver(ModeCityAnchored).Resolve(context.Background(), failingReader{sess}, models.LocationQuery{City: "Athens"})
	assert.True(t, apperr.Is(err, apperr.KindStoreUnavailable))
	assert.True(t, apperr.Retryable(err))
}
