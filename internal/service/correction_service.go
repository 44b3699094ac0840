package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-ledger-api/internal/dto"
	"github.com/noah-isme/tutor-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
)

type entryVoider interface {
	voidInTx(ctx context.Context, exec sqlx.ExtContext, logID string) (*models.AttendanceLog, bool, error)
}

type substitutionResetter interface {
	Reset(ctx context.Context, actorID, reservationID string) (*dto.SubstitutionResult, error)
}

type auditStore interface {
	auditWriter
	ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

var auditResources = map[string]bool{
	models.AuditResourceAttendance:  true,
	models.AuditResourceReservation: true,
	models.AuditResourceContract:    true,
}

// CorrectionService exposes narrow administrative fixes. Every command is
// idempotent, audited, and invalidates the rollups it touches.
type CorrectionService struct {
	contracts    contractRepository
	reservations ledgerReservationStore
	attendance   ledgerAttendanceStore
	voider       entryVoider
	resetter     substitutionResetter
	audit        auditStore
	tx           txManager
	rollups      rollupInvalidator
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	loc          *time.Location
}

// NewCorrectionService wires the correction tools.
func NewCorrectionService(
	contracts contractRepository,
	reservations ledgerReservationStore,
	attendance ledgerAttendanceStore,
	voider entryVoider,
	resetter substitutionResetter,
	audit auditStore,
	tx txManager,
	rollups rollupInvalidator,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	loc *time.Location,
) *CorrectionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CorrectionService{
		contracts:    contracts,
		reservations: reservations,
		attendance:   attendance,
		voider:       voider,
		resetter:     resetter,
		audit:        audit,
		tx:           tx,
		rollups:      rollups,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		loc:          loc,
	}
}

func requireActor(actorID string) error {
	if actorID == "" {
		return appErrors.Clone(appErrors.ErrUnauthorized, "operator identity is required")
	}
	return nil
}

// VoidAttendance voids a ledger entry on behalf of an operator.
func (s *CorrectionService) VoidAttendance(ctx context.Context, actorID, logID string) (*models.AttendanceLog, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	var (
		entry   *models.AttendanceLog
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		var err error
		entry, changed, err = s.voider.voidInTx(ctx, exec, logID)
		if err != nil || !changed {
			return err
		}
		oldValues, _ := json.Marshal(map[string]interface{}{"voided": false, "status": entry.Status()})
		newValues, _ := json.Marshal(map[string]interface{}{"voided": true, "voided_at": entry.VoidedAt})
		return s.audit.Create(ctx, exec, &models.AuditLog{
			ActorID:    actorID,
			Action:     models.AuditActionVoidAttendance,
			Resource:   models.AuditResourceAttendance,
			ResourceID: entry.ID,
			OldValues:  oldValues,
			NewValues:  newValues,
		})
	})
	if err != nil {
		return nil, storageError(err, "attendance log not found")
	}
	if !changed {
		return entry, nil
	}

	s.logger.Warn("attendance voided by operator",
		zap.String("actor_id", actorID),
		zap.String("log_id", entry.ID),
		zap.String("prior_status", string(entry.Status())),
	)
	s.metrics.IncCorrection("void")
	s.invalidate(ctx, touchedPeriods(entry.ContractID, s.loc, entry.EffectiveAt()))
	return entry, nil
}

// ResetReservationDate restores a substituted reservation to the slot archived
// in its ledger entry.
func (s *CorrectionService) ResetReservationDate(ctx context.Context, actorID, reservationID string) (*dto.SubstitutionResult, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	result, err := s.resetter.Reset(ctx, actorID, reservationID)
	if err != nil {
		return nil, err
	}
	s.metrics.IncCorrection("reset")
	return result, nil
}

// OverrideReservationDate moves a reservation to an operator-supplied slot.
// It skips the substitution path entirely: the ledger entry is left alone and
// only the storage uniqueness constraint still applies. The operator and the
// prior slot are logged before the change is written.
func (s *CorrectionService) OverrideReservationDate(ctx context.Context, actorID, reservationID string, req dto.OverrideDateRequest) (*models.Reservation, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid override payload")
	}
	target, err := models.ParseSlot(req.Date, req.Time)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	var (
		updated *models.Reservation
		prior   models.Slot
		changed bool
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		res, err := s.reservations.GetByID(ctx, exec, reservationID, true)
		if err != nil {
			return err
		}
		prior = res.Slot()
		if prior.Key() == target.Key() {
			updated = res
			return nil
		}

		s.logger.Warn("reservation date override",
			zap.String("actor_id", actorID),
			zap.String("reservation_id", res.ID),
			zap.String("prior_slot", prior.Key()),
			zap.String("new_slot", target.Key()),
			zap.String("reason", req.Reason),
		)
		oldValues, _ := json.Marshal(map[string]interface{}{"reserved_date": prior.Date.Format(models.DateLayout), "reserved_time": prior.Time})
		newValues, _ := json.Marshal(map[string]interface{}{"reserved_date": target.Date.Format(models.DateLayout), "reserved_time": target.Time})
		reason := req.Reason
		if err := s.audit.Create(ctx, exec, &models.AuditLog{
			ActorID:    actorID,
			Action:     models.AuditActionOverrideDate,
			Resource:   models.AuditResourceReservation,
			ResourceID: res.ID,
			Reason:     &reason,
			OldValues:  oldValues,
			NewValues:  newValues,
		}); err != nil {
			return err
		}

		updated, err = s.reservations.MoveTo(ctx, exec, res.ID, target, res.Version)
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, storageError(err, "reservation not found")
	}
	if changed {
		s.metrics.IncCorrection("override")
		s.invalidate(ctx, touchedPeriods(updated.ContractID, s.loc, prior.Instant(s.loc), target.Instant(s.loc)))
	}
	return updated, nil
}

// CancelReservation withdraws an occurrence that will not take place. Its slot
// is released and the generator does not recreate it. An occurrence with a
// live ledger entry must have that entry voided first. Cancelling a cancelled
// reservation returns it unchanged.
func (s *CorrectionService) CancelReservation(ctx context.Context, actorID, reservationID string, req dto.CancelReservationRequest) (*models.Reservation, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancellation payload")
	}

	var (
		cancelled *models.Reservation
		changed   bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		res, err := s.reservations.GetByID(ctx, exec, reservationID, true)
		if err != nil {
			return err
		}
		if res.Voided {
			cancelled = res
			return nil
		}
		if _, err := s.attendance.GetActiveByReservation(ctx, exec, res.ID); err == nil {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "occurrence has a recorded outcome; void it before cancelling")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		s.logger.Warn("reservation cancelled by operator",
			zap.String("actor_id", actorID),
			zap.String("reservation_id", res.ID),
			zap.String("prior_slot", res.Slot().Key()),
			zap.String("reason", req.Reason),
		)
		reason := req.Reason
		oldValues, _ := json.Marshal(map[string]interface{}{"voided": false, "reserved_date": res.ReservedDate.Format(models.DateLayout), "reserved_time": res.ReservedTime})
		newValues, _ := json.Marshal(map[string]interface{}{"voided": true})
		if err := s.audit.Create(ctx, exec, &models.AuditLog{
			ActorID:    actorID,
			Action:     models.AuditActionCancelOccurrence,
			Resource:   models.AuditResourceReservation,
			ResourceID: res.ID,
			Reason:     &reason,
			OldValues:  oldValues,
			NewValues:  newValues,
		}); err != nil {
			return err
		}
		if err := s.reservations.SetVoided(ctx, exec, res.ID, true); err != nil {
			return err
		}
		cancelled, err = s.reservations.GetByID(ctx, exec, res.ID, false)
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, storageError(err, "reservation not found")
	}
	if changed {
		s.metrics.IncCorrection("cancel")
	}
	return cancelled, nil
}

// PurgeContractAttendance hard-deletes every ledger entry of a contract.
// Purging an empty ledger deletes nothing and writes no audit row.
func (s *CorrectionService) PurgeContractAttendance(ctx context.Context, actorID, contractID string) (*dto.PurgeResult, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	result := &dto.PurgeResult{ContractID: contractID}
	var touched []models.ContractPeriod
	err := s.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		if _, err := s.contracts.FindByID(ctx, exec, contractID); err != nil {
			return err
		}
		entries, err := s.attendance.ListByContract(ctx, exec, contractID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		ids := make([]string, 0, len(entries))
		instants := make([]time.Time, 0, len(entries))
		for i := range entries {
			ids = append(ids, entries[i].ID)
			if !entries[i].Voided {
				instants = append(instants, entries[i].EffectiveAt())
			}
		}
		s.logger.Warn("contract attendance purge",
			zap.String("actor_id", actorID),
			zap.String("contract_id", contractID),
			zap.Int("entries", len(entries)),
		)
		oldValues, _ := json.Marshal(map[string]interface{}{"log_ids": ids})
		if err := s.audit.Create(ctx, exec, &models.AuditLog{
			ActorID:    actorID,
			Action:     models.AuditActionPurgeAttendance,
			Resource:   models.AuditResourceContract,
			ResourceID: contractID,
			OldValues:  oldValues,
		}); err != nil {
			return err
		}

		deleted, err := s.attendance.DeleteByContract(ctx, exec, contractID)
		if err != nil {
			return err
		}
		result.Deleted = deleted
		touched = touchedPeriods(contractID, s.loc, instants...)
		return nil
	})
	if err != nil {
		return nil, storageError(err, "contract not found")
	}
	if result.Deleted > 0 {
		s.metrics.IncCorrection("purge")
		s.invalidate(ctx, touched)
	}
	return result, nil
}

func (s *CorrectionService) invalidate(ctx context.Context, touched []models.ContractPeriod) {
	if s.rollups == nil || len(touched) == 0 {
		return
	}
	s.rollups.Invalidate(ctx, touched)
}

// AuditTrail returns the most recent correction records for a resource.
func (s *CorrectionService) AuditTrail(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error) {
	if !auditResources[resource] {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown audit resource")
	}
	if resourceID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "resource id is required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := s.audit.ListByResource(ctx, resource, resourceID, limit)
	if err != nil {
		return nil, storageError(err, "audit trail not found")
	}
	if entries == nil {
		entries = []models.AuditLog{}
	}
	return entries, nil
}
