package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of every calendar date.
const DateLayout = "2006-01-02"

// PriceType codes are persisted in price_entries.price_type and must not change.
type PriceType int

const (
	PriceTypeRent PriceType = 1
	PriceTypeBuy  PriceType = 2
)

// ParsePriceType accepts exactly "Rent" or "Buy".
func ParsePriceType(s string) (PriceType, bool) {
	switch s {
	case "Rent":
		return PriceTypeRent, true
	case "Buy":
		return PriceTypeBuy, true
	default:
		return 0, false
	}
}

func (p PriceType) String() string {
	switch p {
	case PriceTypeRent:
		return "Rent"
	case PriceTypeBuy:
		return "Buy"
	default:
		return fmt.Sprintf("PriceType(%d)", int(p))
	}
}

// PriceEntry is one observed listing. Several entries may share area, type and date.
type PriceEntry struct {
	ID        int64           `json:"id" gorm:"primaryKey"`
	AreaID    int64           `json:"area_id" gorm:"not null;index:idx_price_entries_lookup,priority:1"`
	PriceType PriceType       `json:"price_type" gorm:"not null;index:idx_price_entries_lookup,priority:2"`
	Surface   int             `json:"surface" gorm:"not null"`
	Price     decimal.Decimal `json:"price" gorm:"type:decimal(14,2);not null"`
	EntryDate time.Time       `json:"entry_date" gorm:"type:date;not null;index:idx_price_entries_lookup,priority:3"`
}

// DateOf truncates t to its calendar date at UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AggregatedPoint accumulates every entry of one calendar date.
type AggregatedPoint struct {
	Date         time.Time
	TotalSurface int64
	TotalPrice   decimal.Decimal
	Count        int
}

// SeriesPoint is the finalized per-date average price per square meter.
type SeriesPoint struct {
	Date             time.Time
	PricePerUnitArea float64
}

type seriesPointJSON struct {
	Date             string  `json:"date"`
	PricePerUnitArea float64 `json:"price_per_unit_area"`
}

func (p SeriesPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(seriesPointJSON{
		Date:             p.Date.Format(DateLayout),
		PricePerUnitArea: p.PricePerUnitArea,
	})
}

func (p *SeriesPoint) UnmarshalJSON(data []byte) error {
	var raw seriesPointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	date, err := time.Parse(DateLayout, raw.Date)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", raw.Date, err)
	}
	p.Date = date
	p.PricePerUnitArea = raw.PricePerUnitArea
	return nil
}

// SnapshotEntry is a single listing returned verbatim.
type SnapshotEntry struct {
	Surface   int
	Price     decimal.Decimal
	EntryDate time.Time
}

type snapshotEntryJSON struct {
	Surface   int     `json:"surface"`
	Price     float64 `json:"price"`
	EntryDate string  `json:"entry_date"`
}

func (e SnapshotEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotEntryJSON{
		Surface:   e.Surface,
		Price:     e.Price.InexactFloat64(),
		EntryDate: e.EntryDate.Format(DateLayout),
	})
}

func (e *SnapshotEntry) UnmarshalJSON(data []byte) error {
	var raw snapshotEntryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	date, err := time.Parse(DateLayout, raw.EntryDate)
	if err != nil {
		return fmt.Errorf("invalid entry_date %q: %w", raw.EntryDate, err)
	}
	e.Surface = raw.Surface
	e.Price = decimal.NewFromFloat(raw.Price)
	e.EntryDate = date
	return nil
}

// SnapshotOf projects a stored entry onto the public snapshot shape.
func SnapshotOf(e PriceEntry) SnapshotEntry {
	return SnapshotEntry{Surface: e.Surface, Price: e.Price, EntryDate: DateOf(e.EntryDate)}
}
