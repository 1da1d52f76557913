package models

import "github.com/paulmach/orb"

// Level names one step of the location hierarchy.
type Level string

const (
	LevelCountry  Level = "country"
	LevelProvince Level = "province"
	LevelCity     Level = "city"
	LevelArea     Level = "area"
)

type Country struct {
	ID   int64  `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"not null;uniqueIndex"`
}

type Province struct {
	ID        int64  `json:"id" gorm:"primaryKey"`
	Name      string `json:"name" gorm:"not null;uniqueIndex:idx_provinces_country_name,priority:2"`
	CountryID int64  `json:"country_id" gorm:"not null;uniqueIndex:idx_provinces_country_name,priority:1"`
}

// City is a market. HasAreas tells whether listings are recorded per sub-area;
// city-only markets keep a single WholeCity area instead.
type City struct {
	ID         int64    `json:"id" gorm:"primaryKey"`
	Name       string   `json:"name" gorm:"not null;index;uniqueIndex:idx_cities_province_name,priority:2"`
	ProvinceID *int64   `json:"province_id" gorm:"uniqueIndex:idx_cities_province_name,priority:1"`
	HasAreas   bool     `json:"has_areas" gorm:"not null;default:false"`
	CenterLat  *float64 `json:"center_lat"`
	CenterLng  *float64 `json:"center_lng"`
}

// Center returns the configured map center of the city, if any.
func (c City) Center() (orb.Point, bool) {
	if c.CenterLat == nil || c.CenterLng == nil {
		return orb.Point{}, false
	}
	return orb.Point{*c.CenterLng, *c.CenterLat}, true
}

// Market is a city with the names of its province and country. Both are empty for
// top-level cities.
type Market struct {
	City     City
	Province string
	Country  string
}

// CityInfo is the public listing of one city. Province and Country tell apart
// cities that share a name.
type CityInfo struct {
	Name     string `json:"name"`
	Province string `json:"province,omitempty"`
	Country  string `json:"country,omitempty"`
	HasAreas bool   `json:"has_areas"`
}

// Info projects a market onto its public listing.
func (m Market) Info() CityInfo {
	return CityInfo{Name: m.City.Name, Province: m.Province, Country: m.Country, HasAreas: m.City.HasAreas}
}

// Query returns the location query that selects exactly this city.
func (c CityInfo) Query() LocationQuery {
	return LocationQuery{Country: c.Country, Province: c.Province, City: c.Name}
}

// CityNames returns the distinct names of infos, keeping their order.
func CityNames(infos []CityInfo) []string {
	names := make([]string, 0, len(infos))
	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		if seen[info.Name] {
			continue
		}
		seen[info.Name] = true
		names = append(names, info.Name)
	}
	return names
}

type Area struct {
	ID        int64  `json:"id" gorm:"primaryKey"`
	Name      string `json:"name" gorm:"not null;uniqueIndex:idx_areas_city_name,priority:2"`
	CityID    int64  `json:"city_id" gorm:"not null;index;uniqueIndex:idx_areas_city_name,priority:1"`
	WholeCity bool   `json:"whole_city" gorm:"not null;default:false"`
}

// LocationQuery carries the user supplied location names. Only City is mandatory.
type LocationQuery struct {
	Country  string `json:"country,omitempty"`
	Province string `json:"province,omitempty"`
	City     string `json:"city"`
	Area     string `json:"area,omitempty"`
}

// Scope restricts a fact query to one area, or to every area of a city when AreaID is nil.
type Scope struct {
	CityID int64
	AreaID *int64
}
