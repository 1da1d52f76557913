package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hompare/internal/models"
)

// Row is one parsed line of a price entry file.
type Row struct {
	Line      int
	Location  models.LocationQuery
	PriceType models.PriceType
	Surface   int
	Price     decimal.Decimal
	EntryDate time.Time
}

// RowError reports a line that could not be imported.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

var requiredColumns = []string{"city", "price_type", "surface", "price", "entry_date"}

// ReadRows parses a CSV file with a header row. Columns are matched by name;
// country, province and area are optional. Malformed lines are returned as
// RowErrors next to the rows that parsed.
func ReadRows(r io.Reader) ([]Row, []*RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}

	columns := make(map[string]int, len(headers))
	for i, h := range headers {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, nil, fmt.Errorf("missing CSV column %q", name)
		}
	}

	var rows []Row
	var rejected []*RowError
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				rejected = append(rejected, &RowError{Line: parseErr.StartLine, Err: err})
				continue
			}
			return nil, nil, fmt.Errorf("failed to read CSV: %w", err)
		}

		line, _ := reader.FieldPos(0)
		row, err := parseRecord(record, columns)
		if err != nil {
			rejected = append(rejected, &RowError{Line: line, Err: err})
			continue
		}
		row.Line = line
		rows = append(rows, row)
	}
	return rows, rejected, nil
}

func parseRecord(record []string, columns map[string]int) (Row, error) {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var row Row
	row.Location = models.LocationQuery{
		Country:  field("country"),
		Province: field("province"),
		City:     field("city"),
		Area:     field("area"),
	}
	if row.Location.City == "" {
		return row, fmt.Errorf("city is empty")
	}

	pt, ok := models.ParsePriceType(field("price_type"))
	if !ok {
		return row, fmt.Errorf("invalid price_type %q", field("price_type"))
	}
	row.PriceType = pt

	surface, err := strconv.Atoi(field("surface"))
	if err != nil || surface <= 0 {
		return row, fmt.Errorf("invalid surface %q", field("surface"))
	}
	row.Surface = surface

	price, err := decimal.NewFromString(field("price"))
	if err != nil || !price.IsPositive() {
		return row, fmt.Errorf("invalid price %q", field("price"))
	}
	row.Price = price

	date, err := time.Parse(models.DateLayout, field("entry_date"))
	if err != nil {
		return row, fmt.Errorf("invalid entry_date %q", field("entry_date"))
	}
	row.EntryDate = date
	return row, nil
}
