package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tutor-ledger-api/internal/models"
	"github.com/noah-isme/tutor-ledger-api/internal/repository"
	"github.com/noah-isme/tutor-ledger-api/pkg/database"
)

// memDB is an in-memory stand-in for the schema. It enforces the same unique
// slot and single-active-entry constraints and rolls back failed transactions.
type memDB struct {
	mu           sync.Mutex
	txMu         sync.Mutex
	seq          int
	contracts    map[string]models.Contract
	reservations map[string]models.Reservation
	logs         map[string]models.AttendanceLog
	audits       []models.AuditLog
}

type memSnapshot struct {
	seq          int
	contracts    map[string]models.Contract
	reservations map[string]models.Reservation
	logs         map[string]models.AttendanceLog
	audits       []models.AuditLog
}

func newMemDB() *memDB {
	return &memDB{
		contracts:    map[string]models.Contract{},
		reservations: map[string]models.Reservation{},
		logs:         map[string]models.AttendanceLog{},
	}
}

func (db *memDB) nextID(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s-%d", prefix, db.seq)
}

func (db *memDB) snapshot() memSnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	snap := memSnapshot{
		seq:          db.seq,
		contracts:    make(map[string]models.Contract, len(db.contracts)),
		reservations: make(map[string]models.Reservation, len(db.reservations)),
		logs:         make(map[string]models.AttendanceLog, len(db.logs)),
		audits:       append([]models.AuditLog(nil), db.audits...),
	}
	for k, v := range db.contracts {
		snap.contracts[k] = v
	}
	for k, v := range db.reservations {
		snap.reservations[k] = v
	}
	for k, v := range db.logs {
		snap.logs[k] = v
	}
	return snap
}

func (db *memDB) restore(snap memSnapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.seq = snap.seq
	db.contracts = snap.contracts
	db.reservations = snap.reservations
	db.logs = snap.logs
	db.audits = snap.audits
}

func uniqueViolation(constraint string) error {
	return &pq.Error{Code: "23505", Constraint: constraint, Message: "duplicate key value violates unique constraint"}
}

// memTx serialises transactions the way row locks would for these tests.
type memTx struct {
	db *memDB
}

func (t memTx) WithinTx(ctx context.Context, fn database.TxFunc) error {
	t.db.txMu.Lock()
	defer t.db.txMu.Unlock()
	snap := t.db.snapshot()
	if err := fn(ctx, nil); err != nil {
		t.db.restore(snap)
		return err
	}
	return nil
}

type memContracts struct{ db *memDB }

func (m memContracts) Upsert(ctx context.Context, contract *models.Contract) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if existing, ok := m.db.contracts[contract.ID]; ok {
		contract.RateAmount = existing.RateAmount
		contract.RateBasis = existing.RateBasis
		contract.Currency = existing.Currency
		contract.CreatedAt = existing.CreatedAt
	}
	m.db.contracts[contract.ID] = *contract
	return nil
}

func (m memContracts) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Contract, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.contracts[id]
	if !ok {
		return nil, fmt.Errorf("find contract %s: %w", id, sql.ErrNoRows)
	}
	return &c, nil
}

func (m memContracts) ListGeneratable(ctx context.Context, asOf time.Time) ([]models.Contract, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.Contract
	for _, c := range m.db.contracts {
		switch c.Status {
		case models.ContractStatusSent, models.ContractStatusSigned, models.ContractStatusActive:
		default:
			continue
		}
		if c.EndDate != nil && c.EndDate.Before(asOf) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memReservations struct{ db *memDB }

func (m memReservations) slotTakenLocked(contractID string, slot models.Slot, excludeID string) bool {
	for _, r := range m.db.reservations {
		if r.ContractID == contractID && !r.Voided && r.ID != excludeID && r.Slot().Key() == slot.Key() {
			return true
		}
	}
	return false
}

func (m memReservations) InsertMissing(ctx context.Context, exec sqlx.ExtContext, reservations []models.Reservation) ([]models.Reservation, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var inserted []models.Reservation
	for _, res := range reservations {
		conflict := m.slotTakenLocked(res.ContractID, res.Slot(), "")
		for _, existing := range m.db.reservations {
			if existing.ContractID == res.ContractID && existing.ScheduledSlot().Key() == res.ScheduledSlot().Key() {
				conflict = true
			}
		}
		if conflict {
			continue
		}
		if res.ID == "" {
			res.ID = m.db.nextID("res")
		}
		res.Version = 1
		m.db.reservations[res.ID] = res
		inserted = append(inserted, res)
	}
	return inserted, nil
}

func (m memReservations) ListForGeneration(ctx context.Context, exec sqlx.ExtContext, contractID string, from, to time.Time) ([]models.Reservation, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.Reservation
	for _, r := range m.db.reservations {
		if r.ContractID != contractID {
			continue
		}
		inRange := func(d time.Time) bool { return !d.Before(from) && !d.After(to) }
		if inRange(r.ScheduledDate) || inRange(r.ReservedDate) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m memReservations) List(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.Reservation
	for _, r := range m.db.reservations {
		if r.ContractID != filter.ContractID || (r.Voided && !filter.IncludeVoided) {
			continue
		}
		if filter.From != nil && r.ReservedDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && r.ReservedDate.After(*filter.To) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot().Key() < out[j].Slot().Key() })
	return out, nil
}

func (m memReservations) GetByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.Reservation, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.reservations[id]
	if !ok {
		return nil, fmt.Errorf("get reservation %s: %w", id, sql.ErrNoRows)
	}
	return &r, nil
}

func (m memReservations) FindActiveAtSlot(ctx context.Context, exec sqlx.ExtContext, contractID string, slot models.Slot, excludeID string) (*models.Reservation, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, r := range m.db.reservations {
		if r.ContractID == contractID && !r.Voided && r.ID != excludeID && r.Slot().Key() == slot.Key() {
			found := r
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m memReservations) MoveTo(ctx context.Context, exec sqlx.ExtContext, id string, slot models.Slot, expectedVersion int) (*models.Reservation, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.reservations[id]
	if !ok || r.Version != expectedVersion {
		return nil, fmt.Errorf("move reservation: %w", repository.ErrStaleReservation)
	}
	if m.slotTakenLocked(r.ContractID, slot, id) {
		return nil, uniqueViolation("reservations_active_slot_key")
	}
	r.ReservedDate = slot.Date
	r.ReservedTime = nil
	if slot.Time != "" {
		tod := slot.Time
		r.ReservedTime = &tod
	}
	r.Version++
	m.db.reservations[id] = r
	return &r, nil
}

func (m memReservations) SetVoided(ctx context.Context, exec sqlx.ExtContext, id string, voided bool) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.reservations[id]
	if !ok {
		return sql.ErrNoRows
	}
	r.Voided = voided
	r.Version++
	m.db.reservations[id] = r
	return nil
}

type memAttendance struct{ db *memDB }

func (m memAttendance) GetByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.AttendanceLog, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	l, ok := m.db.logs[id]
	if !ok {
		return nil, fmt.Errorf("get attendance log %s: %w", id, sql.ErrNoRows)
	}
	return &l, nil
}

func (m memAttendance) GetActiveByReservation(ctx context.Context, exec sqlx.ExtContext, reservationID string) (*models.AttendanceLog, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, l := range m.db.logs {
		if l.ReservationID == reservationID && !l.Voided {
			found := l
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m memAttendance) LatestByReservation(ctx context.Context, reservationID string) (*models.AttendanceLog, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var latest *models.AttendanceLog
	for _, l := range m.db.logs {
		if l.ReservationID != reservationID {
			continue
		}
		candidate := l
		if latest == nil || (latest.Voided && !candidate.Voided) {
			latest = &candidate
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	return latest, nil
}

func (m memAttendance) Insert(ctx context.Context, exec sqlx.ExtContext, log *models.AttendanceLog) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, l := range m.db.logs {
		if l.ReservationID == log.ReservationID && !l.Voided {
			return uniqueViolation("attendance_logs_active_reservation_key")
		}
	}
	if log.ID == "" {
		log.ID = m.db.nextID("log")
	}
	log.CreatedAt = time.Now().UTC()
	log.UpdatedAt = log.CreatedAt
	m.db.logs[log.ID] = *log
	return nil
}

func (m memAttendance) UpdateOutcome(ctx context.Context, exec sqlx.ExtContext, id string, outcome models.Outcome) (*models.AttendanceLog, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	l, ok := m.db.logs[id]
	if !ok || l.Voided {
		return nil, sql.ErrNoRows
	}
	l.Outcome = outcome
	l.UpdatedAt = time.Now().UTC()
	m.db.logs[id] = l
	return &l, nil
}

func (m memAttendance) MarkVoided(ctx context.Context, exec sqlx.ExtContext, id string) (*models.AttendanceLog, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	l, ok := m.db.logs[id]
	if !ok || l.Voided {
		return nil, sql.ErrNoRows
	}
	now := time.Now().UTC()
	l.Voided = true
	l.VoidedAt = &now
	m.db.logs[id] = l
	return &l, nil
}

func (m memAttendance) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceLog, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.AttendanceLog
	for _, l := range m.db.logs {
		if l.ContractID != filter.ContractID || (l.Voided && !filter.IncludeVoided) {
			continue
		}
		if filter.From != nil && l.OccurredAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !l.OccurredAt.Before(*filter.To) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (m memAttendance) ListByContract(ctx context.Context, exec sqlx.ExtContext, contractID string) ([]models.AttendanceLog, error) {
	return m.List(ctx, models.AttendanceFilter{ContractID: contractID, IncludeVoided: true})
}

func (m memAttendance) DeleteByContract(ctx context.Context, exec sqlx.ExtContext, contractID string) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var removed int64
	for id, l := range m.db.logs {
		if l.ContractID == contractID {
			delete(m.db.logs, id)
			removed++
		}
	}
	return removed, nil
}

type memAudit struct{ db *memDB }

func (m memAudit) Create(ctx context.Context, exec sqlx.ExtContext, entry *models.AuditLog) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if entry.ID == "" {
		entry.ID = m.db.nextID("audit")
	}
	m.db.audits = append(m.db.audits, *entry)
	return nil
}

func (m memAudit) ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.AuditLog
	for i := len(m.db.audits) - 1; i >= 0 && len(out) < limit; i-- {
		a := m.db.audits[i]
		if a.Resource == resource && a.ResourceID == resourceID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (db *memDB) auditCount(action string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, a := range db.audits {
		if a.Action == action {
			n++
		}
	}
	return n
}

type memRollupSource struct{ db *memDB }

func (m memRollupSource) SourceRows(ctx context.Context, from, to time.Time) ([]models.RollupSourceRow, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var rows []models.RollupSourceRow
	for _, l := range m.db.logs {
		if l.Voided {
			continue
		}
		effective := l.EffectiveAt()
		if effective.Before(from) || !effective.Before(to) {
			continue
		}
		c := m.db.contracts[l.ContractID]
		rows = append(rows, models.RollupSourceRow{
			LogID:        l.ID,
			ContractID:   l.ContractID,
			Status:       l.Status(),
			OccurredAt:   l.OccurredAt,
			SubstituteAt: l.SubstituteAt(),
			RateAmount:   c.RateAmount,
			RateBasis:    c.RateBasis,
		})
	}
	return rows, nil
}

type recordingInvalidator struct {
	mu      sync.Mutex
	touched []models.ContractPeriod
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, touched []models.ContractPeriod) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, touched...)
}

func (r *recordingInvalidator) periods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.touched))
	for _, cp := range r.touched {
		out = append(out, cp.Period.String())
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.SubstitutionEvent
}

func (p *recordingPublisher) PublishSubstitution(ctx context.Context, event models.SubstitutionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type ledgerFixture struct {
	db           *memDB
	contracts    *ContractService
	occurrences  *OccurrenceService
	ledger       *LedgerService
	substitution *SubstitutionService
	corrections  *CorrectionService
	rollups      *RollupService
	invalidator  *recordingInvalidator
	events       *recordingPublisher
}

func newLedgerFixture(policy LedgerPolicy) *ledgerFixture {
	db := newMemDB()
	tx := memTx{db: db}
	contracts := memContracts{db: db}
	reservations := memReservations{db: db}
	attendance := memAttendance{db: db}
	audit := memAudit{db: db}
	invalidator := &recordingInvalidator{}
	events := &recordingPublisher{}

	substitution := NewSubstitutionService(contracts, reservations, attendance, audit, tx, invalidator, events, nil, nil, policy)
	ledger := NewLedgerService(contracts, reservations, attendance, tx, substitution, invalidator, nil, nil, nil, policy)
	return &ledgerFixture{
		db:           db,
		contracts:    NewContractService(contracts, nil, nil),
		occurrences:  NewOccurrenceService(contracts, reservations, tx, nil, nil),
		ledger:       ledger,
		substitution: substitution,
		corrections:  NewCorrectionService(contracts, reservations, attendance, ledger, substitution, audit, tx, invalidator, nil, nil, nil, policy.Location),
		rollups:      NewRollupService(memRollupSource{db: db}, nil, nil, nil, nil, policy.Location, 0),
		invalidator:  invalidator,
		events:       events,
	}
}
