package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
)

func newLedgerRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var (
	reservationCols = []string{"id", "contract_id", "scheduled_date", "scheduled_time", "reserved_date", "reserved_time", "voided", "version", "created_at", "updated_at"}
	attendanceCols  = []string{"id", "reservation_id", "contract_id", "student_id", "occurred_at", "status", "substitute_at", "voided", "voided_at", "created_at", "updated_at"}
)

func TestContractRepositoryUpsertKeepsRateOnConflict(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewContractRepository(db)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	contract := &models.Contract{
		ID: "ct-1", StudentID: "stu-1", TutorID: "tut-1", Subject: "math",
		Recurrence: []byte(`{"weekly":[{"weekday":"MON","time":"16:00"}]}`),
		StartDate:  start, Status: models.ContractStatusActive,
		RateAmount: 5000, RateBasis: models.RateBasisPerLesson, Currency: "EUR",
	}

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "tutor_id", "subject", "recurrence", "start_date", "end_date", "status", "rate_amount", "rate_basis", "currency", "terminated_at", "created_at", "updated_at"}).
		AddRow("ct-1", "stu-1", "tut-1", "math", []byte(`{}`), start, nil, "active", int64(4000), "per_lesson", "EUR", nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO contracts")).
		WillReturnRows(rows)

	require.NoError(t, repo.Upsert(context.Background(), contract))
	assert.Equal(t, int64(4000), contract.RateAmount, "stored snapshot wins over the incoming rate")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContractRepositoryUpsertSQLLeavesRateUntouched(t *testing.T) {
	assert.NotContains(t, upsertContractQuery, "rate_amount = EXCLUDED")
	assert.NotContains(t, upsertContractQuery, "rate_basis = EXCLUDED")
	assert.NotContains(t, upsertContractQuery, "currency = EXCLUDED")
}

func TestReservationRepositoryInsertMissingSkipsConflicts(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	d1 := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 7)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "ct-1", d1, sqlmock.AnyArg(), d1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(reservationCols).AddRow("r-1", "ct-1", d1, "16:00", d1, "16:00", false, 1, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "ct-1", d2, sqlmock.AnyArg(), d2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(reservationCols))

	inserted, err := repo.InsertMissing(context.Background(), nil, []models.Reservation{
		models.NewReservation("ct-1", models.NewSlot(d1, "16:00")),
		models.NewReservation("ct-1", models.NewSlot(d2, "16:00")),
	})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, "r-1", inserted[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationRepositoryMoveToStaleVersion(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	target := models.NewSlot(time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), "")
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE reservations")).
		WithArgs("r-1", target.Date, nil, sqlmock.AnyArg(), 3).
		WillReturnRows(sqlmock.NewRows(reservationCols))

	_, err := repo.MoveTo(context.Background(), nil, "r-1", target, 3)
	assert.ErrorIs(t, err, ErrStaleReservation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationRepositorySetVoidedMissing(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET voided = $2")).
		WithArgs("r-404", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetVoided(context.Background(), nil, "r-404", true)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestReservationRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE contract_id = $1 AND NOT voided AND reserved_date >= $2 ORDER BY")).
		WithArgs("ct-1", from).
		WillReturnRows(sqlmock.NewRows(reservationCols).AddRow("r-1", "ct-1", from, nil, from, nil, false, 1, from, from))

	list, err := repo.List(context.Background(), models.ReservationFilter{ContractID: "ct-1", From: &from})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].ReservedTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryGetMapsOutcome(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	occurred := time.Date(2024, 1, 31, 16, 0, 0, 0, time.UTC)
	moved := time.Date(2024, 2, 2, 16, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM attendance_logs WHERE id = $1 FOR UPDATE")).
		WithArgs("log-1").
		WillReturnRows(sqlmock.NewRows(attendanceCols).
			AddRow("log-1", "r-1", "ct-1", "stu-1", occurred, "substitute", moved, false, nil, occurred, occurred))

	log, err := repo.GetByID(context.Background(), nil, "log-1", true)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceSubstitute, log.Status())
	require.NotNil(t, log.SubstituteAt())
	assert.True(t, log.SubstituteAt().Equal(moved))
	assert.True(t, log.EffectiveAt().Equal(moved))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryRejectsInconsistentRow(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM attendance_logs WHERE id = $1")).
		WithArgs("log-2").
		WillReturnRows(sqlmock.NewRows(attendanceCols).
			AddRow("log-2", "r-1", "ct-1", "stu-1", now, "attended", now, false, nil, now, now))

	_, err := repo.GetByID(context.Background(), nil, "log-2", false)
	assert.Error(t, err)
}

func TestAttendanceRepositoryInsertWritesOutcomeColumns(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	occurred := time.Date(2024, 1, 10, 16, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendance_logs")).
		WithArgs(sqlmock.AnyArg(), "r-1", "ct-1", "stu-1", occurred, models.AttendanceAbsent, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	log := &models.AttendanceLog{ReservationID: "r-1", ContractID: "ct-1", StudentID: "stu-1", OccurredAt: occurred, Outcome: models.Absent{}}
	require.NoError(t, repo.Insert(context.Background(), nil, log))
	assert.NotEmpty(t, log.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryDeleteByContract(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM attendance_logs WHERE contract_id = $1")).
		WithArgs("ct-1").
		WillReturnResult(sqlmock.NewResult(0, 4))

	removed, err := repo.DeleteByContract(context.Background(), nil, "ct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)
}

func TestRollupRepositorySourceRows(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewRollupRepository(db)

	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	moved := time.Date(2024, 2, 2, 16, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("JOIN contracts c ON c.id = al.contract_id")).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"log_id", "contract_id", "status", "occurred_at", "substitute_at", "rate_amount", "rate_basis"}).
			AddRow("log-1", "ct-1", "substitute", moved.AddDate(0, 0, -2), moved, int64(5000), "per_lesson"))

	rows, err := repo.SourceRows(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].EffectiveAt().Equal(moved))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	reason := "parent asked"
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(sqlmock.AnyArg(), "admin-1", models.AuditActionOverrideDate, models.AuditResourceReservation, "r-1", &reason, []byte(`{"a":1}`), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), nil, &models.AuditLog{
		ActorID: "admin-1", Action: models.AuditActionOverrideDate, Resource: models.AuditResourceReservation,
		ResourceID: "r-1", Reason: &reason, OldValues: []byte(`{"a":1}`),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	var dest map[string]int
	err := repo.Get(context.Background(), "k", &dest)
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))
	assert.NoError(t, repo.Set(context.Background(), "k", 1, time.Minute))
	assert.NoError(t, repo.Delete(context.Background(), "k"))
	assert.NoError(t, repo.Ping(context.Background()))
}
