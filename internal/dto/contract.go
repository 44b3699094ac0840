package dto

import (
	"encoding/json"

	"github.com/noah-isme/tutor-ledger-api/internal/models"
)

// UpsertContractRequest is pushed by the contract lifecycle service.
type UpsertContractRequest struct {
	StudentID    string                `json:"studentId" validate:"required"`
	TutorID      string                `json:"tutorId" validate:"required"`
	Subject      string                `json:"subject" validate:"required,max=120"`
	Recurrence   json.RawMessage       `json:"recurrence" validate:"required"`
	StartDate    string                `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate      *string               `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
	Status       models.ContractStatus `json:"status" validate:"required,oneof=draft sent signed active completed terminated"`
	RateAmount   int64                 `json:"rateAmount" validate:"gte=0"`
	RateBasis    models.RateBasis      `json:"rateBasis" validate:"required,oneof=per_lesson per_month"`
	Currency     string                `json:"currency" validate:"required,len=3"`
	TerminatedAt *string               `json:"terminatedAt" validate:"omitempty,datetime=2006-01-02"`
}

// GenerateReservationsRequest materialises occurrences up to HorizonEnd.
type GenerateReservationsRequest struct {
	HorizonEnd string `json:"horizonEnd" validate:"required,datetime=2006-01-02"`
}

// GenerateReservationsResponse reports what generation persisted.
type GenerateReservationsResponse struct {
	ContractID string               `json:"contractId"`
	HorizonEnd string               `json:"horizonEnd"`
	Created    []models.Reservation `json:"created"`
	Skipped    int                  `json:"skipped"`
}
