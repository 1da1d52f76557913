package models

import "time"

// Timeframe is a named shorthand for a date range.
type Timeframe string

const (
	TimeframeLastWeek    Timeframe = "last week"
	TimeframeLastMonth   Timeframe = "last month"
	TimeframeLast6Months Timeframe = "last 6 months"
	TimeframeLastYear    Timeframe = "last year"
	TimeframeEver        Timeframe = "ever"
	TimeframeCustom      Timeframe = "custom"
)

// EverStart is the open lower bound used by the "ever" timeframe.
var EverStart = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r DateRange) Contains(t time.Time) bool {
	d := DateOf(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// QueryFilter is the validated form of a request. It is never persisted.
type QueryFilter struct {
	PriceType PriceType
	Location  LocationQuery
	Surface   *int
	Timeframe Timeframe
	Range     DateRange
}

// EntryQuery is what the fact store is asked for once names are resolved.
// Range and On are mutually exclusive; both nil means every date.
type EntryQuery struct {
	Scope     Scope
	PriceType PriceType
	Surface   *int
	Range     *DateRange
	On        *time.Time
}

// Matches reports whether the entry satisfies everything but the scope.
func (q EntryQuery) Matches(e PriceEntry) bool {
	if e.PriceType != q.PriceType {
		return false
	}
	if q.Surface != nil && e.Surface != *q.Surface {
		return false
	}
	if q.Range != nil && !q.Range.Contains(e.EntryDate) {
		return false
	}
	if q.On != nil && !DateOf(e.EntryDate).Equal(DateOf(*q.On)) {
		return false
	}
	return true
}
