package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// HierarchySeed describes the location hierarchy loaded at import time.
// Cities listed at the top level belong to no province.
type HierarchySeed struct {
	Countries []CountrySeed `json:"countries"`
	Cities    []CitySeed    `json:"cities"`
}

type CountrySeed struct {
	Name      string         `json:"name"`
	Provinces []ProvinceSeed `json:"provinces"`
}

type ProvinceSeed struct {
	Name   string     `json:"name"`
	Cities []CitySeed `json:"cities"`
}

type CitySeed struct {
	Name     string `json:"name"`
	HasAreas bool   `json:"has_areas"`
	// Center is [lat, lng]
	Center []float64 `json:"center,omitempty"`
	Areas  []string  `json:"areas,omitempty"`
}

func (c CitySeed) HasCenter() bool {
	return len(c.Center) == 2
}

// LoadSeed reads and validates a hierarchy seed file.
func LoadSeed(path string) (*HierarchySeed, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	return ParseSeed(f)
}

func ParseSeed(r io.Reader) (*HierarchySeed, error) {
	var seed HierarchySeed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

func (s *HierarchySeed) Validate() error {
	for _, country := range s.Countries {
		if strings.TrimSpace(country.Name) == "" {
			return fmt.Errorf("country with empty name")
		}
		for _, province := range country.Provinces {
			if strings.TrimSpace(province.Name) == "" {
				return fmt.Errorf("province with empty name in %s", country.Name)
			}
			if err := validateCities(province.Cities, province.Name); err != nil {
				return err
			}
		}
	}
	return validateCities(s.Cities, "top level")
}

func validateCities(cities []CitySeed, parent string) error {
	seen := make(map[string]bool, len(cities))
	for _, city := range cities {
		if strings.TrimSpace(city.Name) == "" {
			return fmt.Errorf("city with empty name in %s", parent)
		}
		if seen[city.Name] {
			return fmt.Errorf("duplicate city %s in %s", city.Name, parent)
		}
		seen[city.Name] = true

		if len(city.Center) != 0 && len(city.Center) != 2 {
			return fmt.Errorf("city %s: center must be [lat, lng]", city.Name)
		}
		if city.HasCenter() && (city.Center[0] < -90 || city.Center[0] > 90 || city.Center[1] < -180 || city.Center[1] > 180) {
			return fmt.Errorf("city %s: center out of range", city.Name)
		}
		if !city.HasAreas && len(city.Areas) > 0 {
			return fmt.Errorf("city %s lists areas but has_areas is false", city.Name)
		}
		if city.HasAreas && len(city.Areas) == 0 {
			return fmt.Errorf("city %s has_areas but lists no areas", city.Name)
		}
		for _, area := range city.Areas {
			if strings.TrimSpace(area) == "" {
				return fmt.Errorf("city %s: area with empty name", city.Name)
			}
		}
	}
	return nil
}
