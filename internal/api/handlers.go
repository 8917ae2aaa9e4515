package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"equipres/internal/domain"
	"equipres/internal/export"
	"equipres/internal/models"

	"github.com/gorilla/mux"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid id")
	}
	return id, nil
}

// decodeBody reads a JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return badRequest("failed to read body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

// parseTime accepts RFC 3339 timestamps and plain dates (midnight UTC).
func parseTime(name, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, badRequest("%s is required", name)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, badRequest("invalid %s; expected RFC 3339 or YYYY-MM-DD", name)
}

func queryInt(r *http.Request, name string, def int64) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest("invalid %s", name)
	}
	return v, nil
}

func (s *HTTPServer) actor(r *http.Request) models.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

func (s *HTTPServer) view(res *models.Reservation) models.ReservationView {
	return res.View(s.now())
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, r, http.StatusOK, "ok", map[string]any{"time": s.now()})
}

type createReservationRequest struct {
	UserID      int64     `json:"user_id"`
	EquipmentID int64     `json:"equipment_id"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Quantity    int64     `json:"quantity"`
	Purpose     string    `json:"purpose"`
	Notes       string    `json:"notes"`
}

func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.EquipmentID <= 0 {
		s.writeError(w, r, badRequest("equipment_id is required"))
		return
	}

	res, err := s.svc.Reservations.Create(r.Context(), s.actor(r), &models.Reservation{
		UserID:      req.UserID,
		EquipmentID: req.EquipmentID,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Quantity:    req.Quantity,
		Purpose:     req.Purpose,
		Notes:       req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, "reservation created", s.view(res))
}

func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Reservations.Get(r.Context(), s.actor(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, "", s.view(res))
}

func (s *HTTPServer) handleListReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ReservationFilter{Status: strings.TrimSpace(q.Get("status"))}

	var err error
	if filter.EquipmentID, err = queryInt(r, "equipment_id", 0); err != nil {
		s.writeError(w, r, err)
		return
	}
	if filter.UserID, err = queryInt(r, "user_id", 0); err != nil {
		s.writeError(w, r, err)
		return
	}
	if raw := q.Get("from"); raw != "" {
		if filter.From, err = parseTime("from", raw); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if raw := q.Get("to"); raw != "" {
		if filter.To, err = parseTime("to", raw); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	rows, err := s.svc.Reservations.List(r.Context(), s.actor(r), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]models.ReservationView, 0, len(rows))
	for _, res := range rows {
		out = append(out, s.view(res))
	}
	s.writeData(w, r, http.StatusOK, "", out)
}

func (s *HTTPServer) handleUpdateReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var upd domain.ReservationUpdate
	if err := decodeBody(r, &upd); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Reservations.Update(r.Context(), s.actor(r), id, upd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, "reservation updated", s.view(res))
}

type transitionRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

// transition handles the PUT endpoints that only carry an optional note or reason.
func (s *HTTPServer) transition(w http.ResponseWriter, r *http.Request, message string,
	do func(actor models.Actor, id int64, req transitionRequest) (*models.Reservation, error)) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transitionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Reason == "" {
		req.Reason = strings.TrimSpace(r.URL.Query().Get("reason"))
	}
	res, err := do(s.actor(r), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, message, s.view(res))
}

func (s *HTTPServer) handleApproveReservation(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "reservation approved", func(a models.Actor, id int64, req transitionRequest) (*models.Reservation, error) {
		return s.svc.Reservations.Approve(r.Context(), a, id, req.Notes)
	})
}

func (s *HTTPServer) handleRejectReservation(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "reservation rejected", func(a models.Actor, id int64, req transitionRequest) (*models.Reservation, error) {
		return s.svc.Reservations.Reject(r.Context(), a, id, req.Reason)
	})
}

func (s *HTTPServer) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "reservation cancelled", func(a models.Actor, id int64, req transitionRequest) (*models.Reservation, error) {
		return s.svc.Reservations.Cancel(r.Context(), a, id, req.Reason)
	})
}

func (s *HTTPServer) handlePickupReservation(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "equipment picked up", func(a models.Actor, id int64, _ transitionRequest) (*models.Reservation, error) {
		return s.svc.Reservations.Pickup(r.Context(), a, id)
	})
}

func (s *HTTPServer) handleReturnReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var report domain.ReturnReport
	if err := decodeBody(r, &report); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Reservations.Return(r.Context(), s.actor(r), id, report)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, "equipment returned", s.view(res))
}

func (s *HTTPServer) handleListEquipment(w http.ResponseWriter, r *http.Request) {
	includeRetired := r.URL.Query().Get("include_retired") == "true" && s.actor(r).IsAdmin()
	items, err := s.svc.Equipment.List(r.Context(), includeRetired)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, "", items)
}

func (s *HTTPServer) handleGetEquipment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.svc.Equipment.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	days, err := s.svc.Availability.Project(r.Context(), id, s.now(), s.projectionDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, "", map[string]any{
		"equipment":    e,
		"availability": days,
	})
}

func (s *HTTPServer) handleCreateEquipment(w http.ResponseWriter, r *http.Request) {
	var e models.Equipment
	if err := decodeBody(r, &e); err != nil {
		s.writeError(w, r, err)
		return
	}
	e.ID = 0
	if err := s.svc.Equipment.Create(r.Context(), &e); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, "equipment created", &e)
}

func (s *HTTPServer) handleUpdateEquipment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var e models.Equipment
	if err := decodeBody(r, &e); err != nil {
		s.writeError(w, r, err)
		return
	}
	e.ID = id
	if err := s.svc.Equipment.Update(r.Context(), &e); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, "equipment updated", &e)
}

func (s *HTTPServer) handleSetEquipmentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.svc.Equipment.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, "equipment status changed", e)
}

func (s *HTTPServer) handleReconcileEquipment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.svc.Equipment.Recompute(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, "equipment reconciled", e)
}

func (s *HTTPServer) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	start, err := parseTime("start_date", q.Get("start_date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	end, err := parseTime("end_date", q.Get("end_date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	quantity, err := queryInt(r, "quantity", 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	exclude, err := queryInt(r, "exclude", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.Availability.CheckAvailability(r.Context(), id, start, end, quantity, exclude)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, "", res)
}

func (s *HTTPServer) handleExportReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime("from", q.Get("from"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseTime("to", q.Get("to"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if to.Before(from) {
		s.writeError(w, r, badRequest("to must not be before from"))
		return
	}

	actor := s.actor(r)
	items, err := s.svc.Equipment.List(r.Context(), true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.svc.Reservations.List(r.Context(), actor, models.ReservationFilter{From: from, To: to})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	err = export.Write(&buf, export.Report{From: from, To: to, Now: s.now(), Equipment: items, Reservations: rows})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	name := fmt.Sprintf("reservations_%s_to_%s.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
