package export

import (
	"fmt"
	"io"
	"time"

	"equipres/internal/availability"
	"equipres/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	reservationsSheet = "Reservations"
	calendarSheet     = "Calendar"
	dateLayout        = "2006-01-02 15:04"
)

var reservationHeaders = []string{
	"ID", "Equipment", "User", "Start", "End", "Days", "Quantity",
	"Status", "Purpose", "Estimated cost", "Approved by", "Reason",
}

// Report is the input of a reservations workbook.
type Report struct {
	From         time.Time
	To           time.Time
	Now          time.Time
	Equipment    []*models.Equipment
	Reservations []*models.Reservation
}

// Write renders the report as xlsx into w: a flat reservation list plus a
// per-day calendar of committed quantity for every equipment.
func Write(w io.Writer, rep Report) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(reservationsSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	names := make(map[int64]string, len(rep.Equipment))
	for _, e := range rep.Equipment {
		names[e.ID] = e.Name
	}

	if err := writeReservations(f, rep, names); err != nil {
		return err
	}
	if err := writeCalendar(f, rep); err != nil {
		return err
	}

	_ = f.DeleteSheet("Sheet1")

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func headerStyle(f *excelize.File, color string) (int, error) {
	return f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
}

func writeReservations(f *excelize.File, rep Report, names map[int64]string) error {
	for i, h := range reservationHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(reservationsSheet, cell, h)
	}
	style, err := headerStyle(f, "#DDEBF7")
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(reservationHeaders), 1)
	_ = f.SetCellStyle(reservationsSheet, "A1", last, style)

	for i, r := range rep.Reservations {
		row := i + 2
		var approvedBy any
		if r.Approval.ApprovedBy != nil {
			approvedBy = *r.Approval.ApprovedBy
		}
		reason := r.Approval.RejectionReason
		if reason == "" {
			reason = r.Approval.CancelReason
		}
		cost, _ := r.EstimatedCost.Float64()

		values := []any{
			r.ID,
			names[r.EquipmentID],
			r.UserID,
			r.StartDate.UTC().Format(dateLayout),
			r.EndDate.UTC().Format(dateLayout),
			r.DurationDays(),
			r.Quantity,
			r.EffectiveStatus(rep.Now),
			r.Purpose,
			cost,
			approvedBy,
			reason,
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(reservationsSheet, cell, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}
	}

	_ = f.SetColWidth(reservationsSheet, "B", "B", 25)
	_ = f.SetColWidth(reservationsSheet, "D", "E", 18)
	_ = f.SetColWidth(reservationsSheet, "I", "I", 30)
	return nil
}

func writeCalendar(f *excelize.File, rep Report) error {
	if _, err := f.NewSheet(calendarSheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}

	first := availability.StartOfDay(rep.From)
	days := int(availability.StartOfDay(rep.To).Sub(first)/(24*time.Hour)) + 1
	if days < 1 {
		days = 1
	}

	dayStyle, err := headerStyle(f, "#DDEBF7")
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}
	itemStyle, err := headerStyle(f, "#E2EFDA")
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}
	fullStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}

	_ = f.SetCellValue(calendarSheet, "A1", "Equipment")
	for d := 0; d < days; d++ {
		cell, _ := excelize.CoordinatesToCellName(d+2, 1)
		_ = f.SetCellValue(calendarSheet, cell, first.AddDate(0, 0, d).Format("02.01"))
		_ = f.SetCellStyle(calendarSheet, cell, cell, dayStyle)
	}

	byEquipment := make(map[int64][]*models.Reservation)
	for _, r := range rep.Reservations {
		byEquipment[r.EquipmentID] = append(byEquipment[r.EquipmentID], r)
	}

	for i, e := range rep.Equipment {
		row := i + 2
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(calendarSheet, cell, fmt.Sprintf("%s (%d)", e.Name, e.TotalQuantity))
		_ = f.SetCellStyle(calendarSheet, cell, cell, itemStyle)

		col := 2
		for day := range availability.Project(e, byEquipment[e.ID], first, days) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(calendarSheet, cell, fmt.Sprintf("%d/%d", day.ReservedQuantity, e.TotalQuantity))
			if !day.Available {
				_ = f.SetCellStyle(calendarSheet, cell, cell, fullStyle)
			}
			col++
		}
	}

	_ = f.SetColWidth(calendarSheet, "A", "A", 25)
	return nil
}
