package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-ledger-api/internal/dto"
	"github.com/noah-isme/tutor-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
)

type auditWriter interface {
	Create(ctx context.Context, exec sqlx.ExtContext, entry *models.AuditLog) error
}

type substitutionPublisher interface {
	PublishSubstitution(ctx context.Context, event models.SubstitutionEvent)
}

// SubstitutionService moves occurrences to new slots. It is the only normal
// write path for a reservation's reserved date.
type SubstitutionService struct {
	contracts    contractRepository
	reservations ledgerReservationStore
	attendance   ledgerAttendanceStore
	audit        auditWriter
	tx           txManager
	rollups      rollupInvalidator
	events       substitutionPublisher
	metrics      *MetricsService
	logger       *zap.Logger
	policy       LedgerPolicy
	now          func() time.Time
}

// NewSubstitutionService wires the substitution resolver.
func NewSubstitutionService(
	contracts contractRepository,
	reservations ledgerReservationStore,
	attendance ledgerAttendanceStore,
	audit auditWriter,
	tx txManager,
	rollups rollupInvalidator,
	events substitutionPublisher,
	metrics *MetricsService,
	logger *zap.Logger,
	policy LedgerPolicy,
) *SubstitutionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	return &SubstitutionService{
		contracts:    contracts,
		reservations: reservations,
		attendance:   attendance,
		audit:        audit,
		tx:           tx,
		rollups:      rollups,
		events:       events,
		metrics:      metrics,
		logger:       logger,
		policy:       policy,
		now:          time.Now,
	}
}

// Substitute moves the reservation to target and marks its ledger entry as
// substituted. occurred_at keeps the originally scheduled instant.
func (s *SubstitutionService) Substitute(ctx context.Context, reservationID string, target models.Slot) (*dto.SubstitutionResult, error) {
	var (
		result       dto.SubstitutionResult
		previous     time.Time
		alreadyThere bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		res, err := s.reservations.GetByID(ctx, exec, reservationID, true)
		if err != nil {
			return err
		}
		if res.Voided {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "occurrence has been cancelled")
		}
		contract, err := s.contracts.FindByID(ctx, exec, res.ContractID)
		if err != nil {
			return err
		}
		if err := ensureOccurrenceOpen(contract, res, s.policy.AllowTerminatedBackfill); err != nil {
			return err
		}

		current, err := s.attendance.GetActiveByReservation(ctx, exec, res.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if current != nil {
			previous = current.EffectiveAt()
		}

		if res.Slot().Key() == target.Key() {
			if current != nil && current.Status() == models.AttendanceSubstitute {
				alreadyThere = true
				result = dto.SubstitutionResult{Reservation: *res, Attendance: current}
				return nil
			}
			return appErrors.Clone(appErrors.ErrValidation, "reservation already sits on that slot")
		}

		if _, err := s.reservations.FindActiveAtSlot(ctx, exec, res.ContractID, target, res.ID); err == nil {
			return appErrors.Clone(appErrors.ErrSlotConflict, "slot "+target.Key()+" is taken by another reservation")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		moved, err := s.reservations.MoveTo(ctx, exec, res.ID, target, res.Version)
		if err != nil {
			return err
		}

		outcome := models.Substituted{At: target.Instant(s.policy.Location).UTC()}
		var entry *models.AttendanceLog
		if current == nil {
			entry = &models.AttendanceLog{
				ReservationID: res.ID,
				ContractID:    contract.ID,
				StudentID:     contract.StudentID,
				OccurredAt:    res.ScheduledSlot().Instant(s.policy.Location),
				Outcome:       outcome,
			}
			if err := s.attendance.Insert(ctx, exec, entry); err != nil {
				return err
			}
		} else {
			entry, err = s.attendance.UpdateOutcome(ctx, exec, current.ID, outcome)
			if err != nil {
				return err
			}
		}
		result = dto.SubstitutionResult{Reservation: *moved, Attendance: entry}
		return nil
	})
	if err != nil {
		mapped := storageError(err, "reservation not found")
		if errors.Is(mapped, appErrors.ErrSlotConflict) {
			s.metrics.IncSubstitution("conflict")
		} else {
			s.metrics.IncSubstitution("rejected")
		}
		return nil, mapped
	}
	if alreadyThere {
		return &result, nil
	}

	entry := result.Attendance
	s.metrics.IncSubstitution("applied")
	s.metrics.IncLedgerTransition(string(models.AttendanceSubstitute))
	s.invalidate(ctx, touchedPeriods(entry.ContractID, s.policy.Location, previous, entry.OccurredAt, entry.EffectiveAt()))
	s.logger.Info("occurrence substituted",
		zap.String("reservation_id", result.Reservation.ID),
		zap.String("contract_id", entry.ContractID),
		zap.Time("occurred_at", entry.OccurredAt),
		zap.Time("substitute_at", entry.EffectiveAt()),
	)
	if s.events != nil {
		s.events.PublishSubstitution(ctx, models.SubstitutionEvent{
			EventID:       uuid.NewString(),
			Type:          models.EventLessonSubstituted,
			ReservationID: result.Reservation.ID,
			ContractID:    entry.ContractID,
			StudentID:     entry.StudentID,
			OriginalAt:    entry.OccurredAt,
			SubstituteAt:  entry.EffectiveAt(),
			EmittedAt:     s.now().UTC(),
		})
	}
	return &result, nil
}

type slotSnapshot struct {
	ReservedDate string     `json:"reserved_date"`
	ReservedTime *string    `json:"reserved_time,omitempty"`
	Status       string     `json:"status,omitempty"`
	SubstituteAt *time.Time `json:"substitute_at,omitempty"`
}

func snapshotOf(res *models.Reservation, entry *models.AttendanceLog) []byte {
	snap := slotSnapshot{ReservedDate: res.ReservedDate.Format(models.DateLayout), ReservedTime: res.ReservedTime}
	if entry != nil {
		snap.Status = string(entry.Status())
		snap.SubstituteAt = entry.SubstituteAt()
	}
	payload, _ := json.Marshal(snap)
	return payload
}

// Reset undoes a substitution. The original slot is rebuilt from the ledger's
// archived occurred_at (or the reservation's scheduled slot when no entry
// exists), never from caller input, and the change is audited under actorID.
func (s *SubstitutionService) Reset(ctx context.Context, actorID, reservationID string) (*dto.SubstitutionResult, error) {
	if actorID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "operator identity is required")
	}

	var (
		result   dto.SubstitutionResult
		touched  []models.ContractPeriod
		changed  bool
		previous models.Slot
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		res, err := s.reservations.GetByID(ctx, exec, reservationID, true)
		if err != nil {
			return err
		}
		if res.Voided {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "occurrence has been cancelled")
		}
		current, err := s.attendance.GetActiveByReservation(ctx, exec, res.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		original := res.ScheduledSlot()
		if current != nil {
			original = models.SlotFromInstant(current.OccurredAt, s.policy.Location, res.ScheduledTime != nil)
		}
		substituted := current != nil && current.Status() == models.AttendanceSubstitute
		if res.Slot().Key() == original.Key() && !substituted {
			result = dto.SubstitutionResult{Reservation: *res, Attendance: current}
			return nil
		}

		oldValues := snapshotOf(res, current)
		previous = res.Slot()
		s.logger.Warn("substitution reset",
			zap.String("actor_id", actorID),
			zap.String("reservation_id", res.ID),
			zap.String("prior_slot", previous.Key()),
			zap.String("restored_slot", original.Key()),
		)
		moved := res
		if res.Slot().Key() != original.Key() {
			if _, err := s.reservations.FindActiveAtSlot(ctx, exec, res.ContractID, original, res.ID); err == nil {
				return appErrors.Clone(appErrors.ErrSlotConflict, "original slot "+original.Key()+" is taken by another reservation")
			} else if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if moved, err = s.reservations.MoveTo(ctx, exec, res.ID, original, res.Version); err != nil {
				return err
			}
		}

		entry := current
		if substituted {
			touched = touchedPeriods(current.ContractID, s.policy.Location, current.EffectiveAt(), current.OccurredAt)
			if entry, err = s.attendance.UpdateOutcome(ctx, exec, current.ID, models.Pending{}); err != nil {
				return err
			}
		}

		if err := s.audit.Create(ctx, exec, &models.AuditLog{
			ActorID:    actorID,
			Action:     models.AuditActionUndoSubstitution,
			Resource:   models.AuditResourceReservation,
			ResourceID: res.ID,
			OldValues:  oldValues,
			NewValues:  snapshotOf(moved, entry),
		}); err != nil {
			return err
		}
		changed = true
		result = dto.SubstitutionResult{Reservation: *moved, Attendance: entry}
		return nil
	})
	if err != nil {
		return nil, storageError(err, "reservation not found")
	}
	if !changed {
		return &result, nil
	}

	s.metrics.IncSubstitution("reset")
	s.invalidate(ctx, touched)
	return &result, nil
}

func (s *SubstitutionService) invalidate(ctx context.Context, touched []models.ContractPeriod) {
	if s.rollups == nil || len(touched) == 0 {
		return
	}
	s.rollups.Invalidate(ctx, touched)
}
