package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"equipres/internal/models"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	lastColumn    = "K"
	rowCacheSize  = 4096
	timeLayout    = "2006-01-02 15:04:05"
	valueInputRaw = "RAW"
)

var errRowNotFound = errors.New("reservation row not found")

var headerRow = []interface{}{
	"ID", "User ID", "Equipment ID", "Start", "End", "Quantity", "Status", "Purpose", "Estimated Cost", "Created At", "Updated At",
}

// ReservationSheet mirrors reservations into one sheet of a spreadsheet,
// one row per reservation keyed by the ID in column A.
type ReservationSheet struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	rowCache      *expirable.LRU[int64, int]
}

func NewReservationSheet(ctx context.Context, credentialsFile, spreadsheetID, sheetName string) (*ReservationSheet, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newReservationSheet(srv, spreadsheetID, sheetName), nil
}

func newReservationSheet(srv *sheets.Service, spreadsheetID, sheetName string) *ReservationSheet {
	return &ReservationSheet{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		rowCache:      expirable.NewLRU[int64, int](rowCacheSize, nil, models.SheetsCacheTTL*time.Second),
	}
}

func (s *ReservationSheet) rng(a1 string) string {
	return s.sheetName + "!" + a1
}

// TestConnection reads the header cell.
func (s *ReservationSheet) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.rng("A1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// WarmUpCache indexes every ID in column A.
func (s *ReservationSheet) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.rng("A:A")).Context(ctx).Do()
	if err != nil {
		return err
	}

	s.rowCache.Purge()
	for i, row := range resp.Values {
		if id := cellID(row); id > 0 {
			s.rowCache.Add(id, i+1)
		}
	}
	return nil
}

// UpsertReservation rewrites the reservation's row or appends one.
func (s *ReservationSheet) UpsertReservation(ctx context.Context, r *models.Reservation) error {
	if r == nil {
		return fmt.Errorf("reservation is nil")
	}

	rowIdx, err := s.FindReservationRow(ctx, r.ID)
	if err != nil {
		if errors.Is(err, errRowNotFound) {
			return s.AppendReservation(ctx, r)
		}
		return err
	}

	rangeData := s.rng(fmt.Sprintf("A%d:%s%d", rowIdx, lastColumn, rowIdx))
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{reservationRowValues(r)},
	}).ValueInputOption(valueInputRaw).Context(ctx).Do()
	return err
}

func (s *ReservationSheet) AppendReservation(ctx context.Context, r *models.Reservation) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.rng("A:A"), &sheets.ValueRange{
		Values: [][]interface{}{reservationRowValues(r)},
	}).ValueInputOption(valueInputRaw).InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}
	if resp != nil && resp.Updates != nil {
		if row := rowFromRange(resp.Updates.UpdatedRange); row > 0 {
			s.rowCache.Add(r.ID, row)
		}
	}
	return nil
}

// FindReservationRow returns the 1-based row of the reservation.
func (s *ReservationSheet) FindReservationRow(ctx context.Context, id int64) (int, error) {
	if id == 0 {
		return 0, fmt.Errorf("reservation id is required")
	}
	if row, ok := s.rowCache.Get(id); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.rng("A:A")).Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, row := range resp.Values {
		if cellID(row) == id {
			s.rowCache.Add(id, i+1)
			return i + 1, nil
		}
	}
	return 0, errRowNotFound
}

// ReplaceAll rewrites the whole sheet with a header and the given reservations.
func (s *ReservationSheet) ReplaceAll(ctx context.Context, reservations []*models.Reservation) error {
	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, s.rng("A:"+lastColumn), &sheets.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear sheet: %w", err)
	}

	values := make([][]interface{}, 0, len(reservations)+1)
	values = append(values, headerRow)
	for _, r := range reservations {
		values = append(values, reservationRowValues(r))
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.rng("A1"), &sheets.ValueRange{Values: values}).
		ValueInputOption(valueInputRaw).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write sheet: %w", err)
	}

	s.rowCache.Purge()
	for i, r := range reservations {
		s.rowCache.Add(r.ID, i+2)
	}
	return nil
}

func reservationRowValues(r *models.Reservation) []interface{} {
	return []interface{}{
		r.ID,
		r.UserID,
		r.EquipmentID,
		r.StartDate.UTC().Format(timeLayout),
		r.EndDate.UTC().Format(timeLayout),
		r.Quantity,
		r.Status,
		r.Purpose,
		r.EstimatedCost.StringFixed(2),
		r.CreatedAt.UTC().Format(timeLayout),
		r.UpdatedAt.UTC().Format(timeLayout),
	}
}

func cellID(row []interface{}) int64 {
	if len(row) == 0 {
		return 0
	}
	switch v := row[0].(type) {
	case float64:
		return int64(v)
	case string:
		id, _ := strconv.ParseInt(v, 10, 64)
		return id
	}
	return 0
}

// rowFromRange extracts the first row number from an A1 range like "Sheet!A7:K7".
func rowFromRange(a1 string) int {
	if i := strings.LastIndexByte(a1, '!'); i >= 0 {
		a1 = a1[i+1:]
	}
	if i := strings.IndexByte(a1, ':'); i >= 0 {
		a1 = a1[:i]
	}
	n, err := strconv.Atoi(strings.TrimLeft(a1, "ABCDEFGHIJKLMNOPQRSTUVWXYZ$"))
	if err != nil {
		return 0
	}
	return n
}
