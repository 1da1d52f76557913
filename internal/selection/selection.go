// Package selection models the progressive narrowing of a price query on the client:
// action, then city, then area, then timeframe. The reducer is pure; Controller adds
// locking and asynchronous fetches on top of it.
package selection

import (
	"strings"

	"hompare/internal/filter"
	"hompare/internal/models"
)

// Filters is the full filter set of a chart. It is comparable so two sets can be
// checked field by field with ==.
type Filters struct {
	Action    string
	Country   string
	Province  string
	City      string
	Area      string
	Timeframe string
	Start     string
	End       string
}

// Raw converts the filters into request parameters.
func (f Filters) Raw() filter.RawFilter {
	raw := filter.RawFilter{
		Action:    f.Action,
		Country:   f.Country,
		Province:  f.Province,
		City:      f.City,
		Area:      f.Area,
		Timeframe: f.Timeframe,
	}
	if f.custom() {
		raw.StartDate = f.Start
		raw.EndDate = f.End
	}
	return raw
}

func (f Filters) custom() bool {
	return strings.EqualFold(f.Timeframe, string(models.TimeframeCustom))
}

type Phase int

const (
	NoActionChosen Phase = iota
	ActionChosen
	CityChosen
	AreaChosen
	TimeframeChosen
	ResultsLoaded
)

func (p Phase) String() string {
	switch p {
	case NoActionChosen:
		return "NoActionChosen"
	case ActionChosen:
		return "ActionChosen"
	case CityChosen:
		return "CityChosen"
	case AreaChosen:
		return "AreaChosen"
	case TimeframeChosen:
		return "TimeframeChosen"
	case ResultsLoaded:
		return "ResultsLoaded"
	default:
		return "Unknown"
	}
}

// State is the selection of one chart. The zero value is the initial state.
type State struct {
	Filters      Filters
	CityHasAreas bool

	// Loaded holds the filters the current Series was fetched with.
	Loaded *Filters
	Series []models.SeriesPoint

	// InFlight holds the filters of the fetch whose result will be accepted.
	InFlight *Filters
	Err      error
}

// Phase derives the step the user is at from the filters that are set.
func (s State) Phase() Phase {
	f := s.Filters
	switch {
	case f.Action == "":
		return NoActionChosen
	case f.City == "":
		return ActionChosen
	case s.CityHasAreas && f.Area == "":
		return CityChosen
	case f.Timeframe == "":
		if s.CityHasAreas {
			return AreaChosen
		}
		return CityChosen
	case s.Loaded != nil:
		return ResultsLoaded
	default:
		return TimeframeChosen
	}
}

// Complete reports whether every required filter is set.
func (s State) Complete() bool {
	f := s.Filters
	if f.Action == "" || f.City == "" || f.Timeframe == "" {
		return false
	}
	if s.CityHasAreas && f.Area == "" {
		return false
	}
	if f.custom() && (f.Start == "" || f.End == "") {
		return false
	}
	return true
}

// CanRefresh reports whether a fetch is allowed: the filters are complete and differ
// from the ones the loaded results were fetched with. A refresh while the same filters
// are already being fetched does not start a second fetch.
func (s State) CanRefresh() bool {
	if !s.Complete() {
		return false
	}
	return s.Loaded == nil || *s.Loaded != s.Filters
}

// Fetching reports whether a fetch is outstanding.
func (s State) Fetching() bool {
	return s.InFlight != nil
}

type Event interface {
	apply(State) State
}

type ChooseAction struct {
	Action string
}

// ChooseCity picks a city. Province and Country are only needed when the name is shared.
type ChooseCity struct {
	Name     string
	Province string
	Country  string
	HasAreas bool
}

// ChooseMarket picks the city of a listing returned by the API.
func ChooseMarket(info models.CityInfo) ChooseCity {
	return ChooseCity{Name: info.Name, Province: info.Province, Country: info.Country, HasAreas: info.HasAreas}
}

type ChooseArea struct {
	Name string
}

type ChooseTimeframe struct {
	Timeframe string
}

type SetCustomRange struct {
	Start string
	End   string
}

type RequestRefresh struct{}

type FetchSucceeded struct {
	Filters Filters
	Series  []models.SeriesPoint
}

type FetchFailed struct {
	Filters Filters
	Err     error
}

// Reduce returns the state after ev. Events that are not legal in s leave it unchanged.
func Reduce(s State, ev Event) State {
	if ev == nil {
		return s
	}
	return ev.apply(s)
}

func (e ChooseAction) apply(s State) State {
	if e.Action == "" || e.Action == s.Filters.Action {
		return s
	}
	return State{Filters: Filters{Action: e.Action}}
}

func (e ChooseCity) apply(s State) State {
	f := s.Filters
	if f.Action == "" || e.Name == "" {
		return s
	}
	if e.Name == f.City && e.Province == f.Province && e.Country == f.Country {
		return s
	}
	return State{
		Filters:      Filters{Action: f.Action, Country: e.Country, Province: e.Province, City: e.Name},
		CityHasAreas: e.HasAreas,
	}
}

func (e ChooseArea) apply(s State) State {
	if s.Filters.City == "" || !s.CityHasAreas || e.Name == "" || e.Name == s.Filters.Area {
		return s
	}
	f := s.Filters
	return State{
		Filters:      Filters{Action: f.Action, Country: f.Country, Province: f.Province, City: f.City, Area: e.Name},
		CityHasAreas: true,
	}
}

func (e ChooseTimeframe) apply(s State) State {
	if s.Filters.City == "" || (s.CityHasAreas && s.Filters.Area == "") {
		return s
	}
	if e.Timeframe == "" || e.Timeframe == s.Filters.Timeframe {
		return s
	}
	s.Filters.Timeframe = e.Timeframe
	if !s.Filters.custom() {
		s.Filters.Start, s.Filters.End = "", ""
	}
	return s
}

func (e SetCustomRange) apply(s State) State {
	if !s.Filters.custom() {
		return s
	}
	s.Filters.Start = e.Start
	s.Filters.End = e.End
	return s
}

func (RequestRefresh) apply(s State) State {
	if !s.CanRefresh() {
		return s
	}
	if s.InFlight != nil && *s.InFlight == s.Filters {
		return s
	}
	snapshot := s.Filters
	s.InFlight = &snapshot
	s.Err = nil
	return s
}

func (e FetchSucceeded) apply(s State) State {
	if s.InFlight == nil || *s.InFlight != e.Filters {
		return s
	}
	s.InFlight = nil
	if s.Filters != e.Filters {
		return s
	}
	loaded := e.Filters
	s.Loaded = &loaded
	s.Series = e.Series
	if s.Series == nil {
		s.Series = []models.SeriesPoint{}
	}
	s.Err = nil
	return s
}

func (e FetchFailed) apply(s State) State {
	if s.InFlight == nil || *s.InFlight != e.Filters {
		return s
	}
	s.InFlight = nil
	s.Err = e.Err
	return s
}
