package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-ledger-api/internal/dto"
	"github.com/noah-isme/tutor-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
)

type reservationGenerationStore interface {
	ListForGeneration(ctx context.Context, exec sqlx.ExtContext, contractID string, from, to time.Time) ([]models.Reservation, error)
	InsertMissing(ctx context.Context, exec sqlx.ExtContext, reservations []models.Reservation) ([]models.Reservation, error)
	List(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error)
}

// OccurrenceService materialises a contract's recurrence into reservations.
type OccurrenceService struct {
	contracts    contractRepository
	reservations reservationGenerationStore
	tx           txManager
	metrics      *MetricsService
	logger       *zap.Logger
}

// NewOccurrenceService constructs the generator service.
func NewOccurrenceService(contracts contractRepository, reservations reservationGenerationStore, tx txManager, metrics *MetricsService, logger *zap.Logger) *OccurrenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OccurrenceService{contracts: contracts, reservations: reservations, tx: tx, metrics: metrics, logger: logger}
}

// Generate persists the reservations owed up to horizonEnd that do not exist
// yet. Running it again for the same horizon creates nothing.
func (s *OccurrenceService) Generate(ctx context.Context, contractID string, horizonEnd time.Time) (*dto.GenerateReservationsResponse, error) {
	contract, err := s.contracts.FindByID(ctx, nil, contractID)
	if err != nil {
		return nil, storageError(err, "contract not found")
	}
	if horizonEnd.Before(contract.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "horizonEnd must not be before the contract start date")
	}

	slots, err := ExpandRecurrence(contract, horizonEnd)
	if err != nil {
		return nil, err
	}

	resp := &dto.GenerateReservationsResponse{
		ContractID: contract.ID,
		HorizonEnd: horizonEnd.Format(models.DateLayout),
		Created:    []models.Reservation{},
	}
	if len(slots) == 0 {
		return resp, nil
	}

	from, to := slots[0].Date, slots[len(slots)-1].Date
	err = s.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		start := time.Now()
		existing, err := s.reservations.ListForGeneration(ctx, exec, contract.ID, from, to)
		if err != nil {
			return err
		}
		s.metrics.ObserveDBQuery("reservations_for_generation", time.Since(start))

		inserted, err := s.reservations.InsertMissing(ctx, exec, planGap(contract.ID, slots, existing))
		if err != nil {
			return err
		}
		resp.Created = inserted
		return nil
	})
	if err != nil {
		return nil, storageError(err, "contract not found")
	}
	if resp.Created == nil {
		resp.Created = []models.Reservation{}
	}
	resp.Skipped = len(slots) - len(resp.Created)

	s.metrics.AddReservationsGenerated(len(resp.Created))
	s.logger.Debug("reservations generated",
		zap.String("contract_id", contract.ID),
		zap.String("horizon_end", resp.HorizonEnd),
		zap.Int("created", len(resp.Created)),
		zap.Int("skipped", resp.Skipped),
	)
	return resp, nil
}

// List returns a contract's active reservations in an optional date range.
func (s *OccurrenceService) List(ctx context.Context, contractID string, from, to *time.Time) ([]models.Reservation, error) {
	if _, err := s.contracts.FindByID(ctx, nil, contractID); err != nil {
		return nil, storageError(err, "contract not found")
	}
	reservations, err := s.reservations.List(ctx, models.ReservationFilter{ContractID: contractID, From: from, To: to})
	if err != nil {
		return nil, storageError(err, "reservation not found")
	}
	if reservations == nil {
		reservations = []models.Reservation{}
	}
	return reservations, nil
}
