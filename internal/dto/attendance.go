package dto

import "github.com/noah-isme/tutor-ledger-api/internal/models"

// RecordOutcomeRequest records the outcome of a reservation's occurrence.
// SubstituteDate/SubstituteTime are required only for status substitute.
type RecordOutcomeRequest struct {
	Status         models.AttendanceStatus `json:"status" validate:"required,oneof=attended absent substitute pending"`
	SubstituteDate string                  `json:"substituteDate" validate:"omitempty,datetime=2006-01-02"`
	SubstituteTime string                  `json:"substituteTime" validate:"omitempty,datetime=15:04"`
}

// SubstituteRequest moves a reservation to a new slot.
type SubstituteRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Time string `json:"time" validate:"omitempty,datetime=15:04"`
}

// SubstitutionResult pairs the moved reservation with its ledger entry.
type SubstitutionResult struct {
	Reservation models.Reservation    `json:"reservation"`
	Attendance  *models.AttendanceLog `json:"attendance,omitempty"`
}

// OverrideDateRequest is the trusted-operator date override.
type OverrideDateRequest struct {
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Time   string `json:"time" validate:"omitempty,datetime=15:04"`
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// PurgeResult reports a hard delete of a contract's ledger.
type PurgeResult struct {
	ContractID string `json:"contractId"`
	Deleted    int64  `json:"deleted"`
}

// CancelReservationRequest cancels an occurrence that will not take place.
type CancelReservationRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}
