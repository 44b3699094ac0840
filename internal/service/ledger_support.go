package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/noah-isme/tutor-ledger-api/internal/models"
	"github.com/noah-isme/tutor-ledger-api/internal/repository"
	"github.com/noah-isme/tutor-ledger-api/pkg/database"
	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
)

// txManager runs a unit of work in a single transaction.
type txManager interface {
	WithinTx(ctx context.Context, fn database.TxFunc) error
}

// rollupInvalidator drops cached rollups touched by a write.
type rollupInvalidator interface {
	Invalidate(ctx context.Context, touched []models.ContractPeriod)
}

// storageError maps repository failures onto the public taxonomy.
func storageError(err error, notFound string) error {
	if err == nil {
		return nil
	}
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return typed
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	case database.IsUniqueViolation(err):
		return appErrors.Wrap(err, appErrors.ErrSlotConflict.Code, appErrors.ErrSlotConflict.Status, appErrors.ErrSlotConflict.Message)
	case errors.Is(err, repository.ErrStaleReservation):
		return appErrors.Wrap(err, appErrors.ErrSlotConflict.Code, appErrors.ErrSlotConflict.Status, "reservation was modified concurrently")
	case database.IsTransient(err):
		wrapped := appErrors.Clone(appErrors.ErrTransientStorage, "")
		wrapped.Err = err
		return wrapped
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
}

// touchedPeriods lists the (contract, month) pairs covering the given
// effective instants. Zero instants are ignored.
func touchedPeriods(contractID string, loc *time.Location, instants ...time.Time) []models.ContractPeriod {
	seen := make(map[models.PeriodKey]struct{}, len(instants))
	out := make([]models.ContractPeriod, 0, len(instants))
	for _, at := range instants {
		if at.IsZero() {
			continue
		}
		key := models.PeriodOf(at, loc)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, models.ContractPeriod{ContractID: contractID, Period: key})
	}
	return out
}
