// Package filter turns raw request parameters into a validated query filter.
package filter

import (
	"strconv"
	"strings"
	"time"

	"hompare/internal/apperr"
	"hompare/internal/models"
)

// RawFilter carries request parameters exactly as received.
type RawFilter struct {
	Action    string `form:"action" json:"action"`
	Country   string `form:"country" json:"country"`
	Province  string `form:"province" json:"province"`
	City      string `form:"city" json:"city"`
	Area      string `form:"area" json:"area"`
	Surface   string `form:"surface" json:"surface"`
	Timeframe string `form:"timeframe" json:"timeframe"`
	StartDate string `form:"startDate" json:"startDate"`
	EndDate   string `form:"endDate" json:"endDate"`
}

// Location returns the location names of the filter.
func (r RawFilter) Location() models.LocationQuery {
	return models.LocationQuery{
		Country:  strings.TrimSpace(r.Country),
		Province: strings.TrimSpace(r.Province),
		City:     strings.TrimSpace(r.City),
		Area:     strings.TrimSpace(r.Area),
	}
}

type Validator struct {
	now func() time.Time
}

// NewValidator creates a validator. now defaults to time.Now.
func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

// ValidateLocation checks the parameters shared by every price query: action, city and
// an optional surface.
func (v *Validator) ValidateLocation(raw RawFilter) (models.QueryFilter, error) {
	var f models.QueryFilter

	action := strings.TrimSpace(raw.Action)
	if action == "" {
		return f, apperr.MissingParameter("action")
	}
	priceType, ok := models.ParsePriceType(action)
	if !ok {
		return f, apperr.InvalidParameter("action", `action must be "Buy" or "Rent"`)
	}
	f.PriceType = priceType

	f.Location = raw.Location()
	if f.Location.City == "" {
		return f, apperr.MissingParameter("city")
	}

	surface, err := parseSurface(raw.Surface)
	if err != nil {
		return f, err
	}
	f.Surface = surface
	return f, nil
}

// Validate checks a series request: the location parameters plus a date range.
func (v *Validator) Validate(raw RawFilter) (models.QueryFilter, error) {
	f, err := v.ValidateLocation(raw)
	if err != nil {
		return f, err
	}
	timeframe, rng, err := v.DateRange(raw.Timeframe, raw.StartDate, raw.EndDate)
	if err != nil {
		return f, err
	}
	f.Timeframe = timeframe
	f.Range = rng
	return f, nil
}

// ValidateFixedSurface is Validate with a mandatory surface.
func (v *Validator) ValidateFixedSurface(raw RawFilter) (models.QueryFilter, error) {
	f, err := v.Validate(raw)
	if err != nil {
		return f, err
	}
	if f.Surface == nil {
		return f, apperr.MissingParameter("surface")
	}
	return f, nil
}

// DateRange expands a timeframe keyword, or an explicit pair of dates, into an
// inclusive calendar range ending today for keywords.
func (v *Validator) DateRange(timeframe, start, end string) (models.Timeframe, models.DateRange, error) {
	keyword := models.Timeframe(strings.ToLower(strings.TrimSpace(timeframe)))
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)

	if keyword == "" {
		if start == "" && end == "" {
			return "", models.DateRange{}, apperr.MissingParameter("timeframe")
		}
		keyword = models.TimeframeCustom
	}

	today := models.DateOf(v.now())
	var from time.Time
	switch keyword {
	case models.TimeframeLastWeek:
		from = today.AddDate(0, 0, -7)
	case models.TimeframeLastMonth:
		from = subMonths(today, 1)
	case models.TimeframeLast6Months:
		from = subMonths(today, 6)
	case models.TimeframeLastYear:
		from = subMonths(today, 12)
	case models.TimeframeEver:
		from = models.EverStart
	case models.TimeframeCustom:
		rng, err := customRange(start, end)
		return keyword, rng, err
	default:
		return "", models.DateRange{}, apperr.InvalidTimeframe(timeframe)
	}
	return keyword, models.DateRange{Start: from, End: today}, nil
}

// subMonths steps back n calendar months, clamping the day to the last day of the
// target month instead of rolling over into the next one.
func subMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()-time.Month(n), 1, 0, 0, 0, 0, t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, t.Location())
}

func customRange(start, end string) (models.DateRange, error) {
	if start == "" {
		return models.DateRange{}, apperr.MissingParameter("startDate")
	}
	if end == "" {
		return models.DateRange{}, apperr.MissingParameter("endDate")
	}
	from, err := parseDate("startDate", start)
	if err != nil {
		return models.DateRange{}, err
	}
	to, err := parseDate("endDate", end)
	if err != nil {
		return models.DateRange{}, err
	}
	if from.After(to) {
		return models.DateRange{}, apperr.InvalidRange(
			"startDate " + from.Format(models.DateLayout) + " is after endDate " + to.Format(models.DateLayout))
	}
	return models.DateRange{Start: from, End: to}, nil
}

func parseDate(field, value string) (time.Time, error) {
	if t, err := time.Parse(models.DateLayout, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return models.DateOf(t.UTC()), nil
	}
	return time.Time{}, apperr.InvalidParameter(field, "expected a YYYY-MM-DD date")
}

func parseSurface(value string) (*int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return nil, apperr.InvalidParameter("surface", "surface must be a positive integer")
	}
	return &n, nil
}

// CheckArea enforces that markets modeled with sub-areas are queried per area.
func CheckArea(city models.City, area string) error {
	if city.HasAreas && strings.TrimSpace(area) == "" {
		return apperr.MissingParameter("area")
	}
	return nil
}
