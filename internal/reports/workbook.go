// Package reports builds the completed-orders workbook.
package reports

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"photo-orders-bot/internal/models"
)

const (
	SheetRequestersByMonth = "Requesters by month"
	SheetPerformersByMonth = "Performers by month"
	SheetRequestersByDay   = "Requesters by day"
	SheetPerformersByDay   = "Performers by day"
	SheetRequester         = "Requester"

	monthLayout = "2006-01"
	dayLayout   = "2006-01-02"
)

// Line is one party's totals for one period.
type Line struct {
	PartyID    int64
	Name       string
	Surname    string
	Address    string
	PlatformID int64
	Period     string
	Orders     int
	Amount     decimal.Decimal
}

type lineKey struct {
	party  int64
	period string
}

// Aggregate sums completed orders per party and period. An order is worth
// its performer's price times the number of result photos.
func Aggregate(rows []models.ReportRow, byPerformer bool, layout string) []Line {
	acc := make(map[lineKey]*Line)
	for _, r := range rows {
		key := lineKey{party: r.RequesterID, period: r.CreatedAt.Format(layout)}
		if byPerformer {
			key.party = r.PerformerID
		}
		line, ok := acc[key]
		if !ok {
			line = &Line{PartyID: key.party, Period: key.period, Amount: decimal.Zero}
			if byPerformer {
				line.Name = r.PerformerName
			} else {
				line.Name = r.RequesterName
				line.Surname = r.RequesterSurname
				line.Address = r.RequesterAddress
				line.PlatformID = r.RequesterPlatformID
			}
			acc[key] = line
		}
		line.Orders++
		line.Amount = line.Amount.Add(r.OrderPrice.Mul(decimal.NewFromInt(int64(r.ResultPhotoCount))))
	}

	out := make([]Line, 0, len(acc))
	for _, line := range acc {
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PartyID != out[j].PartyID {
			return out[i].PartyID < out[j].PartyID
		}
		return out[i].Period < out[j].Period
	})
	return out
}

// Build lays the four aggregate sheets out in one workbook.
func Build(rows []models.ReportRow) (*excelize.File, error) {
	f := excelize.NewFile()

	sheets := []struct {
		name        string
		byPerformer bool
		layout      string
		period      string
	}{
		{SheetRequestersByMonth, false, monthLayout, "Month"},
		{SheetPerformersByMonth, true, monthLayout, "Month"},
		{SheetRequestersByDay, false, dayLayout, "Day"},
		{SheetPerformersByDay, true, dayLayout, "Day"},
	}

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return nil, fmt.Errorf("failed to rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return nil, fmt.Errorf("failed to add sheet %s: %w", s.name, err)
		}

		lines := Aggregate(rows, s.byPerformer, s.layout)
		if s.byPerformer {
			err := writeSheet(f, s.name, []string{"ID", "Name", s.period, "Orders", "Amount"}, lines, func(l Line) []interface{} {
				return []interface{}{l.PartyID, l.Name, l.Period, l.Orders, l.Amount.InexactFloat64()}
			})
			if err != nil {
				return nil, err
			}
			continue
		}
		if err := writeRequesterSheet(f, s.name, s.period, lines); err != nil {
			return nil, err
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

// BuildRequester writes one requester's monthly totals. Rows of other
// requesters are ignored.
func BuildRequester(rows []models.ReportRow, platformID int64) (*excelize.File, error) {
	var own []models.ReportRow
	for _, r := range rows {
		if r.RequesterPlatformID == platformID {
			own = append(own, r)
		}
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetRequester); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := writeRequesterSheet(f, SheetRequester, "Month", Aggregate(own, false, monthLayout)); err != nil {
		return nil, err
	}
	return f, nil
}

func writeRequesterSheet(f *excelize.File, sheet, period string, lines []Line) error {
	return writeSheet(f, sheet, []string{"ID", "Name", "Surname", "Address", period, "Orders", "Amount", "TelegramID"}, lines, func(l Line) []interface{} {
		return []interface{}{l.PartyID, l.Name, l.Surname, l.Address, l.Period, l.Orders, l.Amount.InexactFloat64(), l.PlatformID}
	})
}

func writeSheet(f *excelize.File, sheet string, headings []string, lines []Line, values func(Line) []interface{}) error {
	for col, h := range headings {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("failed to write heading: %w", err)
		}
	}

	for i, line := range lines {
		for col, v := range values(line) {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
	}
	return nil
}
