package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-ledger-api/internal/dto"
	"github.com/noah-isme/tutor-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
)

type contractRepository interface {
	Upsert(ctx context.Context, contract *models.Contract) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Contract, error)
}

// ContractService keeps the local read model of contracts issued by the
// lifecycle service in sync. It never changes a contract's status on its own.
type ContractService struct {
	repo      contractRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewContractService constructs the service.
func NewContractService(repo contractRepository, validate *validator.Validate, logger *zap.Logger) *ContractService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContractService{repo: repo, validator: validate, logger: logger}
}

// Upsert stores the pushed snapshot.
func (s *ContractService) Upsert(ctx context.Context, id string, req dto.UpsertContractRequest) (*models.Contract, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "contract id is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid contract payload")
	}
	if _, err := parseRecurrence(req.Recurrence); err != nil {
		return nil, err
	}

	start, _ := time.Parse(models.DateLayout, req.StartDate)
	contract := &models.Contract{
		ID:         id,
		StudentID:  req.StudentID,
		TutorID:    req.TutorID,
		Subject:    strings.TrimSpace(req.Subject),
		Recurrence: types.JSONText(req.Recurrence),
		StartDate:  start,
		Status:     req.Status,
		RateAmount: req.RateAmount,
		RateBasis:  req.RateBasis,
		Currency:   strings.ToUpper(req.Currency),
	}
	if req.EndDate != nil {
		end, _ := time.Parse(models.DateLayout, *req.EndDate)
		if end.Before(start) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "endDate must not be before startDate")
		}
		contract.EndDate = &end
	}
	if req.TerminatedAt != nil {
		terminated, _ := time.Parse(models.DateLayout, *req.TerminatedAt)
		contract.TerminatedAt = &terminated
	}
	if contract.Status == models.ContractStatusTerminated && contract.TerminatedAt == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "terminatedAt is required for terminated contracts")
	}

	if err := s.repo.Upsert(ctx, contract); err != nil {
		return nil, storageError(err, "contract not found")
	}
	s.logger.Info("contract synced",
		zap.String("contract_id", contract.ID),
		zap.String("status", string(contract.Status)),
	)
	return contract, nil
}

// Get returns a contract by id.
func (s *ContractService) Get(ctx context.Context, id string) (*models.Contract, error) {
	contract, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		return nil, storageError(err, "contract not found")
	}
	return contract, nil
}
