package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-ledger-api/internal/dto"
	"github.com/noah-isme/tutor-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
)

type ledgerReservationStore interface {
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.Reservation, error)
	FindActiveAtSlot(ctx context.Context, exec sqlx.ExtContext, contractID string, slot models.Slot, excludeID string) (*models.Reservation, error)
	MoveTo(ctx context.Context, exec sqlx.ExtContext, id string, slot models.Slot, expectedVersion int) (*models.Reservation, error)
	SetVoided(ctx context.Context, exec sqlx.ExtContext, id string, voided bool) error
}

type ledgerAttendanceStore interface {
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.AttendanceLog, error)
	GetActiveByReservation(ctx context.Context, exec sqlx.ExtContext, reservationID string) (*models.AttendanceLog, error)
	LatestByReservation(ctx context.Context, reservationID string) (*models.AttendanceLog, error)
	Insert(ctx context.Context, exec sqlx.ExtContext, log *models.AttendanceLog) error
	UpdateOutcome(ctx context.Context, exec sqlx.ExtContext, id string, outcome models.Outcome) (*models.AttendanceLog, error)
	MarkVoided(ctx context.Context, exec sqlx.ExtContext, id string) (*models.AttendanceLog, error)
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceLog, error)
	ListByContract(ctx context.Context, exec sqlx.ExtContext, contractID string) ([]models.AttendanceLog, error)
	DeleteByContract(ctx context.Context, exec sqlx.ExtContext, contractID string) (int64, error)
}

type substituter interface {
	Substitute(ctx context.Context, reservationID string, target models.Slot) (*dto.SubstitutionResult, error)
}

// LedgerPolicy tunes attendance recording.
type LedgerPolicy struct {
	// AllowTerminatedBackfill permits outcomes on occurrences scheduled on or
	// after a contract's termination date.
	AllowTerminatedBackfill bool
	Location                *time.Location
}

// LedgerService records what happened to each occurrence.
type LedgerService struct {
	contracts    contractRepository
	reservations ledgerReservationStore
	attendance   ledgerAttendanceStore
	tx           txManager
	substitutes  substituter
	rollups      rollupInvalidator
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	policy       LedgerPolicy
}

// NewLedgerService wires the attendance ledger.
func NewLedgerService(
	contracts contractRepository,
	reservations ledgerReservationStore,
	attendance ledgerAttendanceStore,
	tx txManager,
	substitutes substituter,
	rollups rollupInvalidator,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	policy LedgerPolicy,
) *LedgerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	return &LedgerService{
		contracts:    contracts,
		reservations: reservations,
		attendance:   attendance,
		tx:           tx,
		substitutes:  substitutes,
		rollups:      rollups,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		policy:       policy,
	}
}

// RecordOutcome sets the outcome of a reservation's occurrence, creating the
// ledger entry on first use (or after the previous one was voided) and
// overwriting its status afterwards. A substitute status is handed to the
// substitution path.
func (s *LedgerService) RecordOutcome(ctx context.Context, reservationID string, req dto.RecordOutcomeRequest) (*models.AttendanceLog, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	if req.Status == models.AttendanceSubstitute {
		if req.SubstituteDate == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "substituteDate is required for status substitute")
		}
		target, err := models.ParseSlot(req.SubstituteDate, req.SubstituteTime)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
		}
		result, err := s.substitutes.Substitute(ctx, reservationID, target)
		if err != nil {
			return nil, err
		}
		return result.Attendance, nil
	}
	if req.SubstituteDate != "" || req.SubstituteTime != "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "substitute date is only allowed for status substitute")
	}

	outcome, err := models.NewOutcome(req.Status, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	var recorded *models.AttendanceLog
	err = s.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
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
		switch {
		case errors.Is(err, sql.ErrNoRows):
			entry := &models.AttendanceLog{
				ReservationID: res.ID,
				ContractID:    contract.ID,
				StudentID:     contract.StudentID,
				OccurredAt:    res.ScheduledSlot().Instant(s.policy.Location),
				Outcome:       outcome,
			}
			if err := s.attendance.Insert(ctx, exec, entry); err != nil {
				return err
			}
			recorded = entry
			return nil
		case err != nil:
			return err
		}

		if _, moved := current.Outcome.(models.Substituted); moved {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "occurrence is substituted; reset the substitution before recording another outcome")
		}
		recorded, err = s.attendance.UpdateOutcome(ctx, exec, current.ID, outcome)
		return err
	})
	if err != nil {
		return nil, storageError(err, "reservation not found")
	}

	s.metrics.IncLedgerTransition(string(recorded.Status()))
	s.invalidate(ctx, touchedPeriods(recorded.ContractID, s.policy.Location, recorded.EffectiveAt()))
	return recorded, nil
}

// VoidEntry excludes a ledger entry from aggregation. The reservation is left
// as is, so the occurrence can take a fresh outcome afterwards. Voiding a
// voided entry returns it unchanged.
func (s *LedgerService) VoidEntry(ctx context.Context, logID string) (*models.AttendanceLog, error) {
	var (
		entry   *models.AttendanceLog
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		var err error
		entry, changed, err = s.voidInTx(ctx, exec, logID)
		return err
	})
	if err != nil {
		return nil, storageError(err, "attendance log not found")
	}
	if changed {
		s.metrics.IncLedgerTransition("voided")
		s.invalidate(ctx, touchedPeriods(entry.ContractID, s.policy.Location, entry.EffectiveAt()))
	}
	return entry, nil
}

func (s *LedgerService) voidInTx(ctx context.Context, exec sqlx.ExtContext, logID string) (*models.AttendanceLog, bool, error) {
	entry, err := s.attendance.GetByID(ctx, exec, logID, true)
	if err != nil {
		return nil, false, err
	}
	if entry.Voided {
		return entry, false, nil
	}
	voided, err := s.attendance.MarkVoided(ctx, exec, entry.ID)
	if err != nil {
		return nil, false, err
	}
	return voided, true, nil
}

// ForReservation returns the current ledger entry of a reservation, falling
// back to the latest voided one.
func (s *LedgerService) ForReservation(ctx context.Context, reservationID string) (*models.AttendanceLog, error) {
	if _, err := s.reservations.GetByID(ctx, nil, reservationID, false); err != nil {
		return nil, storageError(err, "reservation not found")
	}
	entry, err := s.attendance.LatestByReservation(ctx, reservationID)
	if err != nil {
		return nil, storageError(err, "attendance not recorded for reservation")
	}
	return entry, nil
}

// History lists a contract's ledger including voided entries.
func (s *LedgerService) History(ctx context.Context, contractID string, from, to *time.Time) ([]models.AttendanceLog, error) {
	if _, err := s.contracts.FindByID(ctx, nil, contractID); err != nil {
		return nil, storageError(err, "contract not found")
	}
	entries, err := s.attendance.List(ctx, models.AttendanceFilter{ContractID: contractID, From: from, To: to, IncludeVoided: true})
	if err != nil {
		return nil, storageError(err, "attendance log not found")
	}
	if entries == nil {
		entries = []models.AttendanceLog{}
	}
	return entries, nil
}

func (s *LedgerService) invalidate(ctx context.Context, touched []models.ContractPeriod) {
	if s.rollups == nil || len(touched) == 0 {
		return
	}
	s.rollups.Invalidate(ctx, touched)
}

// ensureOccurrenceOpen rejects writes to occurrences a terminated contract no
// longer owes.
func ensureOccurrenceOpen(contract *models.Contract, res *models.Reservation, allowBackfill bool) error {
	if allowBackfill || !contract.ClosedAt(res.ScheduledDate) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrInvalidTransition, "contract was terminated before this occurrence")
}
