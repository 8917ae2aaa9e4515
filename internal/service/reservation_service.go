package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"equipres/internal/availability"
	"equipres/internal/config"
	"equipres/internal/domain"
	"equipres/internal/events"
	"equipres/internal/metrics"
	"equipres/internal/models"
	"equipres/internal/worker"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/rs/zerolog"
)

// transitions lists the stored status changes. Overdue is derived on read and never stored.
var transitions = map[string][]string{
	models.StatusPending:  {models.StatusApproved, models.StatusCancelled},
	models.StatusApproved: {models.StatusActive, models.StatusCancelled},
	models.StatusActive:   {models.StatusCompleted, models.StatusCancelled},
}

func canTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(r *models.Reservation, to string) error {
	if !canTransition(r.Status, to) {
		return domain.Invalid("reservation %d cannot go from %s to %s", r.ID, r.Status, to)
	}
	return nil
}

// ReservationService drives the reservation lifecycle. Each transition is one
// unit of work: equipment lock, transaction, guards, writes, outbox rows, commit.
// Events and outbox dispatch happen after commit.
type ReservationService struct {
	repo           domain.Repository
	equipment      *EquipmentService
	eventBus       domain.EventPublisher
	dispatcher     domain.SyncDispatcher
	maxOpenPerUser int
	mirrorSheets   bool
	now            func() time.Time
	logger         *zerolog.Logger
}

func NewReservationService(repo domain.Repository, equipment *EquipmentService, eventBus domain.EventPublisher, dispatcher domain.SyncDispatcher, cfg config.ReservationsConfig, logger *zerolog.Logger) *ReservationService {
	if cfg.MaxOpenPerUser <= 0 {
		cfg.MaxOpenPerUser = models.DefaultMaxOpenPerUser
	}
	return &ReservationService{
		repo:           repo,
		equipment:      equipment,
		eventBus:       eventBus,
		dispatcher:     dispatcher,
		maxOpenPerUser: cfg.MaxOpenPerUser,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger,
	}
}

// SetSheetsMirror makes every transition also queue a spreadsheet upsert.
func (s *ReservationService) SetSheetsMirror(enabled bool) {
	s.mirrorSheets = enabled
}

// unitOfWork is the transaction handle passed to transition bodies. It collects
// the outbox rows written so they can be dispatched after commit.
type unitOfWork struct {
	domain.Repository
	svc    *ReservationService
	tasks  []models.SyncTask
	events []pendingEvent
}

type pendingEvent struct {
	eventType string
	payload   events.ReservationEventPayload
}

func (u *unitOfWork) notify(ctx context.Context, n models.Notification) error {
	task, err := worker.NewNotifyTask(n)
	if err != nil {
		return err
	}
	if err := u.CreateSyncTask(ctx, &task); err != nil {
		return err
	}
	u.tasks = append(u.tasks, task)
	return nil
}

func (u *unitOfWork) mirror(ctx context.Context, r *models.Reservation) error {
	if !u.svc.mirrorSheets {
		return nil
	}
	task, err := worker.NewSheetUpsertTask(r)
	if err != nil {
		return err
	}
	if err := u.CreateSyncTask(ctx, &task); err != nil {
		return err
	}
	u.tasks = append(u.tasks, task)
	return nil
}

func (u *unitOfWork) emit(eventType string, r *models.Reservation, prev string, actor models.Actor, reason string) {
	u.events = append(u.events, pendingEvent{
		eventType: eventType,
		payload: events.ReservationEventPayload{
			ReservationID: r.ID,
			UserID:        r.UserID,
			EquipmentID:   r.EquipmentID,
			Quantity:      r.Quantity,
			Status:        r.Status,
			PrevStatus:    prev,
			StartDate:     r.StartDate,
			EndDate:       r.EndDate,
			Reason:        reason,
			ChangedBy:     actor.Role,
			ChangedByID:   actor.UserID,
		},
	})
}

// run executes fn under the equipment lock and one transaction, then dispatches
// outbox rows and publishes events.
func (s *ReservationService) run(ctx context.Context, equipmentID int64, fn func(u *unitOfWork, e *models.Equipment) error) error {
	var committed *unitOfWork
	err := s.equipment.withLockedTx(ctx, equipmentID, func(tx domain.Repository, e *models.Equipment) error {
		u := &unitOfWork{Repository: tx, svc: s}
		if err := fn(u, e); err != nil {
			return err
		}
		committed = u
		return nil
	})
	if err != nil {
		var ce *domain.ConflictError
		if errors.As(err, &ce) {
			metrics.IncConflict()
		}
		return err
	}

	if s.dispatcher != nil && len(committed.tasks) > 0 {
		s.dispatcher.Dispatch(ctx, committed.tasks...)
	}
	for _, ev := range committed.events {
		switch ev.eventType {
		case events.EventReservationUpdated:
		case events.EventReservationCreated:
			metrics.IncTransition(models.StatusPending)
		default:
			metrics.IncTransition(ev.payload.Status)
		}
		s.publishEvent(ev.eventType, ev.payload)
	}
	return nil
}

// inReservation loads the reservation, then reloads it inside the locked transaction.
func (s *ReservationService) inReservation(ctx context.Context, id int64, fn func(u *unitOfWork, e *models.Equipment, r *models.Reservation) error) (*models.Reservation, error) {
	r0, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	var out *models.Reservation
	err = s.run(ctx, r0.EquipmentID, func(u *unitOfWork, e *models.Equipment) error {
		r, err := u.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(u, e, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ReservationService) Create(ctx context.Context, actor models.Actor, r *models.Reservation) (*models.Reservation, error) {
	if r.UserID == 0 || !actor.IsAdmin() {
		r.UserID = actor.UserID
	}
	req := availability.Request{Start: r.StartDate.UTC(), End: r.EndDate.UTC(), Quantity: r.Quantity}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	if !req.Start.After(now) {
		return nil, domain.Invalid("start date must be in the future")
	}
	r.StartDate, r.EndDate = req.Start, req.End

	err := s.run(ctx, r.EquipmentID, func(u *unitOfWork, e *models.Equipment) error {
		if r.UserID == actor.UserID {
			if err := u.UpsertUser(ctx, &models.User{ID: actor.UserID, Role: actor.Role, Department: actor.Department}); err != nil {
				return err
			}
		}

		if err := s.checkSlot(ctx, u, e, req); err != nil {
			return err
		}

		open, err := u.CountOpenReservations(ctx, r.UserID)
		if err != nil {
			return err
		}
		if open >= s.maxOpenPerUser {
			return domain.Invalid("user already has %d open reservations (limit %d)", open, s.maxOpenPerUser)
		}

		r.Status = models.StatusPending
		r.EstimatedCost = models.EstimateCost(e.Terms, r.StartDate, r.EndDate, r.Quantity)
		r.Approval = models.Approval{}
		r.Usage = models.UsageTracking{}
		r.Ratings = models.Ratings{}
		if !e.Terms.RequiresApproval {
			r.Status = models.StatusApproved
			r.Approval.ApprovedAt = &now
			r.Approval.Notes = "auto-approved"
		}

		if err := u.CreateReservation(ctx, r); err != nil {
			return err
		}
		if err := u.IncrementStat(ctx, r.UserID, models.StatTotalReservations, 1); err != nil {
			return err
		}
		u.emit(events.EventReservationCreated, r, "", actor, "")

		if r.Status == models.StatusApproved {
			if err := s.commitInventory(ctx, u, r); err != nil {
				return err
			}
			if err := u.notify(ctx, s.notification(r, e, models.NotifyApproved)); err != nil {
				return err
			}
			u.emit(events.EventReservationApproved, r, models.StatusPending, actor, "")
		} else if err := s.notifyApprovers(ctx, u, r, e, actor); err != nil {
			return err
		}
		return u.mirror(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("reservation_id", r.ID).Int64("equipment_id", r.EquipmentID).Int64("user_id", r.UserID).
		Int64("quantity", r.Quantity).Str("status", r.Status).Msg("Reservation created")
	return r, nil
}

// checkSlot runs the guards shared by create, approve and rescheduling: the
// equipment is bookable, the duration fits its terms, no overlap exceeds the
// total and the global counter still covers the quantity.
func (s *ReservationService) checkSlot(ctx context.Context, u *unitOfWork, e *models.Equipment, req availability.Request) error {
	if !e.IsBookable() {
		return fmt.Errorf("%w: equipment %d is %s", domain.ErrUnavailable, e.ID, e.Status)
	}
	if max := e.Terms.MaxRentalDurationDays; max > 0 {
		if d := models.DurationDays(req.Start, req.End); d > max {
			return domain.Invalid("reservation of %d days exceeds the %d day limit", d, max)
		}
	}

	rows, err := u.OverlappingReservations(ctx, e.ID, req.Start, req.End, req.ExcludeID)
	if err != nil {
		return err
	}
	res, err := availability.Check(e, rows, req)
	if err != nil {
		return err
	}
	if !res.Available {
		return &domain.ConflictError{Result: res}
	}
	if req.Quantity > e.AvailableQuantity {
		return &domain.ConflictError{
			Result: res,
			Reason: fmt.Sprintf("only %d unit(s) of equipment %d are currently available", e.AvailableQuantity, e.ID),
		}
	}
	return nil
}

// commitInventory performs the side effects of reaching approved.
func (s *ReservationService) commitInventory(ctx context.Context, u *unitOfWork, r *models.Reservation) error {
	if err := u.AdjustAvailable(ctx, r.EquipmentID, -r.Quantity); err != nil {
		return err
	}
	return u.IncrementStat(ctx, r.UserID, models.StatActiveReservations, 1)
}

func (s *ReservationService) notifyApprovers(ctx context.Context, u *unitOfWork, r *models.Reservation, e *models.Equipment, actor models.Actor) error {
	department := actor.Department
	if r.UserID != actor.UserID {
		department = s.departmentOf(ctx, u, r.UserID)
	}
	approvers, err := u.ListApprovers(ctx, department)
	if err != nil {
		return err
	}
	for _, a := range approvers {
		n := s.notification(r, e, models.NotifyApprovalRequested)
		n.UserID = a.ID
		n.Data["requested_by"] = r.UserID
		if err := u.notify(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (s *ReservationService) departmentOf(ctx context.Context, repo domain.UserRepository, userID int64) string {
	owner, err := repo.GetUser(ctx, userID)
	if err != nil {
		return ""
	}
	return owner.Department
}

// authorizeStaff allows admins, and supervisors of the owner's department.
func (s *ReservationService) authorizeStaff(ctx context.Context, repo domain.UserRepository, actor models.Actor, r *models.Reservation) error {
	switch {
	case actor.IsAdmin():
		return nil
	case actor.IsSupervisor():
		if dept := s.departmentOf(ctx, repo, r.UserID); dept != "" && dept == actor.Department {
			return nil
		}
		return domain.Forbidden("supervisor of %q cannot manage reservations of another department", actor.Department)
	default:
		return domain.Forbidden("only supervisors and admins can do this")
	}
}

// authorizeParty allows the owner plus whoever authorizeStaff allows.
func (s *ReservationService) authorizeParty(ctx context.Context, repo domain.UserRepository, actor models.Actor, r *models.Reservation) error {
	if r.UserID == actor.UserID {
		return nil
	}
	if actor.IsStaff() {
		return s.authorizeStaff(ctx, repo, actor, r)
	}
	return domain.Forbidden("reservation %d belongs to another user", r.ID)
}

func (s *ReservationService) Get(ctx context.Context, actor models.Actor, id int64) (*models.Reservation, error) {
	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeParty(ctx, s.repo, actor, r); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns the actor's own reservations; admins may list anyone's.
func (s *ReservationService) List(ctx context.Context, actor models.Actor, filter models.ReservationFilter) ([]*models.Reservation, error) {
	if !actor.IsAdmin() {
		filter.UserID = actor.UserID
	}
	if filter.Status == models.StatusOverdue {
		// overdue is derived, so select active rows and filter on read
		filter.Status = models.StatusActive
		rows, err := s.repo.ListReservations(ctx, filter)
		if err != nil {
			return nil, err
		}
		now := s.now()
		out := rows[:0]
		for _, r := range rows {
			if r.IsOverdue(now) {
				out = append(out, r)
			}
		}
		return out, nil
	}
	return s.repo.ListReservations(ctx, filter)
}

func (s *ReservationService) Update(ctx context.Context, actor models.Actor, id int64, upd domain.ReservationUpdate) (*models.Reservation, error) {
	return s.inReservation(ctx, id, func(u *unitOfWork, e *models.Equipment, r *models.Reservation) error {
		if r.UserID != actor.UserID && !actor.IsAdmin() {
			return domain.Forbidden("only the owner or an admin can edit reservation %d", r.ID)
		}
		if r.IsTerminal() {
			return domain.Invalid("reservation %d is %s", r.ID, r.Status)
		}

		start, end, qty := r.StartDate, r.EndDate, r.Quantity
		if upd.StartDate != nil {
			start = upd.StartDate.UTC()
		}
		if upd.EndDate != nil {
			end = upd.EndDate.UTC()
		}
		if upd.Quantity != nil {
			qty = *upd.Quantity
		}
		slotChanged := !start.Equal(r.StartDate) || !end.Equal(r.EndDate) || qty != r.Quantity
		textChanged := upd.Purpose != nil || upd.Notes != nil

		if slotChanged {
			if r.Status != models.StatusPending {
				return domain.Invalid("dates and quantity of a %s reservation cannot change", r.Status)
			}
			req := availability.Request{Start: start, End: end, Quantity: qty, ExcludeID: r.ID}
			if err := req.Validate(); err != nil {
				return err
			}
			if !start.After(s.now()) {
				return domain.Invalid("start date must be in the future")
			}
			if err := s.checkSlot(ctx, u, e, req); err != nil {
				return err
			}
			r.StartDate, r.EndDate, r.Quantity = start, end, qty
			r.EstimatedCost = models.EstimateCost(e.Terms, start, end, qty)
		}
		if textChanged && r.Status != models.StatusPending && r.Status != models.StatusApproved {
			return domain.Invalid("reservation %d is %s and can no longer be edited", r.ID, r.Status)
		}
		if upd.Purpose != nil {
			r.Purpose = *upd.Purpose
		}
		if upd.Notes != nil {
			r.Notes = *upd.Notes
		}
		if !slotChanged && !textChanged {
			return nil
		}

		if err := u.UpdateReservation(ctx, r); err != nil {
			return err
		}
		u.emit(events.EventReservationUpdated, r, r.Status, actor, "")
		return u.mirror(ctx, r)
	})
}

func (s *ReservationService) Approve(ctx context.Context, actor models.Actor, id int64, notes string) (*models.Reservation, error) {
	if !actor.IsStaff() {
		return nil, domain.Forbidden("only supervisors and admins can approve")
	}
	return s.inReservation(ctx, id, func(u *unitOfWork, e *models.Equipment, r *models.Reservation) error {
		if err := s.authorizeStaff(ctx, u, actor, r); err != nil {
			return err
		}
		if err := checkTransition(r, models.StatusApproved); err != nil {
			return err
		}
		req := availability.Request{Start: r.StartDate, End: r.EndDate, Quantity: r.Quantity, ExcludeID: r.ID}
		if err := s.checkSlot(ctx, u, e, req); err != nil {
			return err
		}

		now := s.now()
		approver := actor.UserID
		r.Status = models.StatusApproved
		r.Approval.ApprovedBy = &approver
		r.Approval.ApprovedAt = &now
		r.Approval.Notes = notes
		if err := u.UpdateReservation(ctx, r); err != nil {
			return err
		}
		if err := s.commitInventory(ctx, u, r); err != nil {
			return err
		}
		if err := u.notify(ctx, s.notification(r, e, models.NotifyApproved)); err != nil {
			return err
		}
		u.emit(events.EventReservationApproved, r, models.StatusPending, actor, notes)
		return u.mirror(ctx, r)
	})
}

// Reject closes a pending reservation. It is stored as cancelled with the rejection reason.
func (s *ReservationService) Reject(ctx context.Context, actor models.Actor, id int64, reason string) (*models.Reservation, error) {
	if !actor.IsStaff() {
		return nil, domain.Forbidden("only supervisors and admins can reject")
	}
	return s.inReservation(ctx, id, func(u *unitOfWork, e *models.Equipment, r *models.Reservation) error {
		if err := s.authorizeStaff(ctx, u, actor, r); err != nil {
			return err
		}
		if r.Status != models.StatusPending {
			return domain.Invalid("only pending reservations can be rejected, %d is %s", r.ID, r.Status)
		}

		now := s.now()
		rejecter := actor.UserID
		r.Status = models.StatusCancelled
		r.Approval.ApprovedBy = &rejecter
		r.Approval.RejectionReason = reason
		r.Approval.CancelledBy = &rejecter
		r.Approval.CancelledAt = &now
		if err := u.UpdateReservation(ctx, r); err != nil {
			return err
		}

		n := s.notification(r, e, models.NotifyRejected)
		n.Data["reason"] = reason
		if err := u.notify(ctx, n); err != nil {
			return err
		}
		u.emit(events.EventReservationRejected, r, models.StatusPending, actor, reason)
		return u.mirror(ctx, r)
	})
}

func (s *ReservationService) Cancel(ctx context.Context, actor models.Actor, id int64, reason string) (*models.Reservation, error) {
	return s.inReservation(ctx, id, func(u *unitOfWork, e *models.Equipment, r *models.Reservation) error {
		if err := s.authorizeParty(ctx, u, actor, r); err != nil {
			return err
		}
		if err := checkTransition(r, models.StatusCancelled); err != nil {
			return err
		}
		now := s.now()
		if r.Status == models.StatusActive && !actor.IsStaff() && !now.Before(r.StartDate) {
			return domain.Forbidden("an active reservation can only be cancelled by staff once it has started")
		}

		prev := r.Status
		canceller := actor.UserID
		r.Status = models.StatusCancelled
		r.Approval.CancelledBy = &canceller
		r.Approval.CancelledAt = &now
		r.Approval.CancelReason = reason
		if err := u.UpdateReservation(ctx, r); err != nil {
			return err
		}

		if prev == models.StatusApproved || prev == models.StatusActive {
			// the reservation no longer counts as committed, so the status clamp applies
			if _, _, err := recompute(ctx, u, e); err != nil {
				return err
			}
			if err := u.IncrementStat(ctx, r.UserID, models.StatActiveReservations, -1); err != nil {
				return err
			}
		}
		if prev == models.StatusActive {
			// the rental never reached return, so close its usage counter
			if err := u.RecordRentalEnd(ctx, r.EquipmentID, now); err != nil {
				return err
			}
		}
		if err := u.IncrementStat(ctx, r.UserID, models.StatCancelledReservations, 1); err != nil {
			return err
		}

		n := s.notification(r, e, models.NotifyCancelled)
		n.Data["reason"] = reason
		n.Data["cancelled_by"] = actor.UserID
		if err := u.notify(ctx, n); err != nil {
			return err
		}
		u.emit(events.EventReservationCancelled, r, prev, actor, reason)
		return u.mirror(ctx, r)
	})
}

// Pickup hands the equipment over: approved becomes active.
func (s *ReservationService) Pickup(ctx context.Context, actor models.Actor, id int64) (*models.Reservation, error) {
	return s.inReservation(ctx, id, func(u *unitOfWork, e *models.Equipment, r *models.Reservation) error {
		if err := s.authorizeParty(ctx, u, actor, r); err != nil {
			return err
		}
		if err := checkTransition(r, models.StatusActive); err != nil {
			return err
		}
		now := s.now()
		if now.Before(r.StartDate) {
			return domain.Invalid("reservation %d starts %s", r.ID, humanize.Time(r.StartDate))
		}

		r.Status = models.StatusActive
		r.Usage.ActualStartDate = &now
		if err := u.UpdateReservation(ctx, r); err != nil {
			return err
		}
		if err := u.RecordRentalStart(ctx, r.EquipmentID); err != nil {
			return err
		}
		if err := u.notify(ctx, s.notification(r, e, models.NotifyActivated)); err != nil {
			return err
		}
		u.emit(events.EventReservationActivated, r, models.StatusApproved, actor, "")
		return u.mirror(ctx, r)
	})
}

// Return closes an active (possibly overdue) reservation and reconciles inventory.
func (s *ReservationService) Return(ctx context.Context, actor models.Actor, id int64, report domain.ReturnReport) (*models.Reservation, error) {
	for _, rating := range []*int{report.UserRating, report.EquipmentRating} {
		if rating != nil && (*rating < 1 || *rating > 5) {
			return nil, domain.Invalid("ratings must be between 1 and 5")
		}
	}

	return s.inReservation(ctx, id, func(u *unitOfWork, e *models.Equipment, r *models.Reservation) error {
		if err := s.authorizeParty(ctx, u, actor, r); err != nil {
			return err
		}
		if err := checkTransition(r, models.StatusCompleted); err != nil {
			return err
		}

		now := s.now()
		wasOverdue := r.IsOverdue(now)
		r.Status = models.StatusCompleted
		r.Usage.ActualEndDate = &now
		r.Usage.ConditionNotes = report.ConditionNotes
		r.Ratings.User = report.UserRating
		r.Ratings.Equipment = report.EquipmentRating
		if err := u.UpdateReservation(ctx, r); err != nil {
			return err
		}

		if _, _, err := recompute(ctx, u, e); err != nil {
			return err
		}
		if err := u.RecordRentalEnd(ctx, r.EquipmentID, now); err != nil {
			return err
		}
		if err := u.IncrementStat(ctx, r.UserID, models.StatTotalRentals, 1); err != nil {
			return err
		}
		if err := u.IncrementStat(ctx, r.UserID, models.StatActiveReservations, -1); err != nil {
			return err
		}

		n := s.notification(r, e, models.NotifyCompleted)
		n.Data["was_overdue"] = wasOverdue
		if err := u.notify(ctx, n); err != nil {
			return err
		}
		u.emit(events.EventReservationCompleted, r, models.StatusActive, actor, "")
		return u.mirror(ctx, r)
	})
}

func (s *ReservationService) notification(r *models.Reservation, e *models.Equipment, kind string) models.Notification {
	units := english.Plural(int(r.Quantity), "unit", "units")
	var msg string
	switch kind {
	case models.NotifyApprovalRequested:
		msg = fmt.Sprintf("Reservation #%d for %s of %s starting %s needs approval", r.ID, units, e.Name, humanize.Time(r.StartDate))
	case models.NotifyApproved:
		msg = fmt.Sprintf("Your reservation #%d for %s of %s was approved", r.ID, units, e.Name)
	case models.NotifyRejected:
		msg = fmt.Sprintf("Your reservation #%d for %s was rejected", r.ID, e.Name)
	case models.NotifyCancelled:
		msg = fmt.Sprintf("Your reservation #%d for %s was cancelled", r.ID, e.Name)
	case models.NotifyActivated:
		msg = fmt.Sprintf("You picked up %s of %s, due back %s", units, e.Name, humanize.Time(r.EndDate))
	case models.NotifyCompleted:
		msg = fmt.Sprintf("Thanks for returning %s of %s", units, e.Name)
	default:
		msg = fmt.Sprintf("Reservation #%d: %s", r.ID, kind)
	}
	return models.Notification{
		UserID:        r.UserID,
		Type:          kind,
		ReservationID: r.ID,
		Message:       msg,
		Data: map[string]any{
			"equipment_id":   e.ID,
			"equipment_name": e.Name,
			"quantity":       r.Quantity,
			"start_date":     r.StartDate,
			"end_date":       r.EndDate,
			"status":         r.Status,
		},
		CreatedAt: s.now(),
	}
}

func (s *ReservationService) publishEvent(eventType string, payload events.ReservationEventPayload) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("reservation_id", payload.ReservationID).Msg("publish event error")
	}
}
