package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-ledger-api/internal/dto"
	"github.com/noah-isme/tutor-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
)

func generatedFixture(t *testing.T, policy LedgerPolicy) (*ledgerFixture, *models.Contract) {
	t.Helper()
	f := newLedgerFixture(policy)
	contract := seedWeeklyContract(t, f, "C", models.RateBasisPerLesson)
	_, err := f.occurrences.Generate(context.Background(), contract.ID, date(2025, 1, 31))
	require.NoError(t, err)
	return f, contract
}

func TestRecordOutcomeKeepsOccurredAt(t *testing.T) {
	ctx := context.Background()
	f, contract := generatedFixture(t, LedgerPolicy{Location: time.UTC})
	res := reservationOn(t, f, contract.ID, date(2025, 1, 13))

	first, err := f.ledger.RecordOutcome(ctx, res.ID, dto.RecordOutcomeRequest{Status: models.AttendanceAbsent})
	require.NoError(t, err)
	second, err := f.ledger.RecordOutcome(ctx, res.ID, dto.RecordOutcomeRequest{Status: models.AttendanceAttended})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.OccurredAt.Equal(time.Date(2025, 1, 13, 16, 0, 0, 0, time.UTC)))
	assert.Equal(t, models.AttendanceAttended, second.Status())
	assert.Nil(t, second.SubstituteAt())
	assert.Contains(t, f.invalidator.periods(), "2025-01")
}

func TestRecordOutcomeValidation(t *testing.T) {
	ctx := context.Background()
	f, contract := generatedFixture(t, LedgerPolicy{Location: time.UTC})
	res := reservationOn(t, f, contract.ID, date(2025, 1, 13))

	_, err := f.ledger.RecordOutcome(ctx, res.ID, dto.RecordOutcomeRequest{Status: "late"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.ledger.RecordOutcome(ctx, res.ID, dto.RecordOutcomeRequest{Status: models.AttendanceSubstitute})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.ledger.RecordOutcome(ctx, res.ID, dto.RecordOutcomeRequest{Status: models.AttendanceAttended, SubstituteDate: "2025-02-01"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.ledger.RecordOutcome(ctx, "missing", dto.RecordOutcomeRequest{Status: models.AttendanceAttended})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRecordOutcomeSubstituteDelegates(t *testing.T) {
	ctx := context.Background()
	f, contract := generatedFixture(t, LedgerPolicy{Location: time.UTC})
	res := reservationOn(t, f, contract.ID, date(2025, 1, 13))

	entry, err := f.ledger.RecordOutcome(ctx, res.ID, dto.RecordOutcomeRequest{
		Status: models.AttendanceSubstitute, SubstituteDate: "2025-01-15", SubstituteTime: "09:30",
	})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceSubstitute, entry.Status())
	assert.True(t, entry.EffectiveAt().Equal(time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)))

	moved := reservationOn(t, f, contract.ID, date(2025, 1, 15))
	assert.Equal(t, res.ID, moved.ID)

	_, err = f.ledger.RecordOutcome(ctx, res.ID, dto.RecordOutcomeRequest{Status: models.AttendanceAttended})
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	_, err = f.substitution.Reset(ctx, "admin-1", res.ID)
	require.NoError(t, err)
	attended, err := f.ledger.RecordOutcome(ctx, res.ID, dto.RecordOutcomeRequest{Status: models.AttendanceAttended})
	require.NoError(t, err)
	assert.Equal(t, entry.ID, attended.ID)
	assert.Nil(t, attended.SubstituteAt())
	assert.Equal(t, res.ID, reservationOn(t, f, contract.ID, date(2025, 1, 13)).ID)
}

func TestRecordOutcomeAfterVoidStartsFreshEntry(t *testing.T) {
	ctx := context.Background()
	f, contract := generatedFixture(t, LedgerPolicy{Location: time.UTC})
	res := reservationOn(t, f, contract.ID, date(2025, 1, 6))

	mistaken, err := f.ledger.RecordOutcome(ctx, res.ID, dto.RecordOutcomeRequest{Status: models.AttendanceAttended})
	require.NoError(t, err)
	_, err = f.ledger.VoidEntry(ctx, mistaken.ID)
	require.NoError(t, err)

	active, err := f.occurrences.List(ctx, contract.ID, nil, nil)
	require.NoError(t, err)
	assert.Len(t, active, 4)
	again, err := f.occurrences.Generate(ctx, contract.ID, date(2025, 1, 31))
	require.NoError(t, err)
	assert.Empty(t, again.Created)

	corrected, err := f.ledger.RecordOutcome(ctx, res.ID, dto.RecordOutcomeRequest{Status: models.AttendanceAbsent})
	require.NoError(t, err)
	assert.NotEqual(t, mistaken.ID, corrected.ID)
	assert.False(t, corrected.Voided)
	assert.True(t, corrected.OccurredAt.Equal(mistaken.OccurredAt))

	latest, err := f.ledger.ForReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, corrected.ID, latest.ID)
	assert.Equal(t, models.AttendanceAbsent, latest.Status())

	history, err := f.ledger.History(ctx, contract.ID, nil, nil)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, 0, rollupOfMonth(t, f, 2025, 1).LessonCount)
}

func TestSubstituteAfterVoid(t *testing.T) {
	ctx := context.Background()
	f, contract := generatedFixture(t, LedgerPolicy{Location: time.UTC})
	res := reservationOn(t, f, contract.ID, date(2025, 1, 13))

	entry, err := f.ledger.RecordOutcome(ctx, res.ID, dto.RecordOutcomeRequest{Status: models.AttendanceAbsent})
	require.NoError(t, err)
	_, err = f.ledger.VoidEntry(ctx, entry.ID)
	require.NoError(t, err)

	result, err := f.substitution.Substitute(ctx, res.ID, models.NewSlot(date(2025, 1, 15), "16:00"))
	require.NoError(t, err)
	require.NotNil(t, result.Attendance)
	assert.NotEqual(t, entry.ID, result.Attendance.ID)
	assert.Equal(t, models.AttendanceSubstitute, result.Attendance.Status())
}

func TestVoidEntryNotFound(t *testing.T) {
	f := newLedgerFixture(LedgerPolicy{Location: time.UTC})
	_, err := f.ledger.VoidEntry(context.Background(), "nope")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestTerminatedContractPolicy(t *testing.T) {
	ctx := context.Background()
	terminate := func(f *ledgerFixture) {
		c := f.db.contracts["C"]
		at := date(2025, 1, 20)
		c.Status = models.ContractStatusTerminated
		c.TerminatedAt = &at
		f.db.contracts["C"] = c
	}

	f, contract := generatedFixture(t, LedgerPolicy{Location: time.UTC})
	terminate(f)
	before := reservationOn(t, f, contract.ID, date(2025, 1, 13))
	after := reservationOn(t, f, contract.ID, date(2025, 1, 20))

	_, err := f.ledger.RecordOutcome(ctx, before.ID, dto.RecordOutcomeRequest{Status: models.AttendanceAttended})
	require.NoError(t, err)
	_, err = f.ledger.RecordOutcome(ctx, after.ID, dto.RecordOutcomeRequest{Status: models.AttendanceAttended})
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	backfill, contract := generatedFixture(t, LedgerPolicy{Location: time.UTC, AllowTerminatedBackfill: true})
	terminate(backfill)
	after = reservationOn(t, backfill, contract.ID, date(2025, 1, 20))
	_, err = backfill.ledger.RecordOutcome(ctx, after.ID, dto.RecordOutcomeRequest{Status: models.AttendanceAttended})
	assert.NoError(t, err)
}
