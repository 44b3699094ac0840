package service

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-ledger-api/internal/models"
	"github.com/noah-isme/tutor-ledger-api/pkg/cache"
	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
)

const maxRollupYears = 50

type rollupSource interface {
	SourceRows(ctx context.Context, from, to time.Time) ([]models.RollupSourceRow, error)
}

type storageRetrier interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// RollupService derives monthly and yearly statistics from the ledger. Cached
// values are disposable copies of what the ledger computes.
type RollupService struct {
	source  rollupSource
	cache   *CacheService
	retrier storageRetrier
	metrics *MetricsService
	logger  *zap.Logger
	loc     *time.Location
	ttl     time.Duration

	// generation advances on every invalidation. A rollup computed across an
	// invalidation is returned but not cached.
	generation atomic.Uint64
}

// NewRollupService constructs the aggregator.
func NewRollupService(source rollupSource, cacheSvc *CacheService, retrier storageRetrier, metrics *MetricsService, logger *zap.Logger, loc *time.Location, ttl time.Duration) *RollupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RollupService{source: source, cache: cacheSvc, retrier: retrier, metrics: metrics, logger: logger, loc: loc, ttl: ttl}
}

// Rollup returns the statistics of one month, or of the whole year when month
// is 0. A period without activity yields zeros. The boolean reports a cache hit.
func (s *RollupService) Rollup(ctx context.Context, year, month int) (*models.Rollup, bool, error) {
	if year < 1 || year > 9999 {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "year out of range")
	}
	if month < 0 || month > 12 {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "month must be between 1 and 12")
	}

	key := monthCacheKey(models.PeriodKey{Year: year, Month: month})
	if month == 0 {
		key = yearCacheKey(year)
	}
	var cached models.Rollup
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, true, nil
	}

	gen := s.generation.Load()
	var from, to time.Time
	if month == 0 {
		from = time.Date(year, time.January, 1, 0, 0, 0, 0, s.loc)
		to = from.AddDate(1, 0, 0)
	} else {
		from, to = models.PeriodKey{Year: year, Month: month}.Bounds(s.loc)
	}
	rows, err := s.load(ctx, from, to)
	if err != nil {
		return nil, false, err
	}

	var result models.Rollup
	if month == 0 {
		result = AggregateYear(rows, year, s.loc).Total
	} else {
		result = AggregateMonth(rows, models.PeriodKey{Year: year, Month: month}, s.loc)
	}
	s.store(ctx, gen, key, result)
	return &result, false, nil
}

// RollupRange returns per-year totals with their twelve months for
// [yearFrom, yearTo].
func (s *RollupService) RollupRange(ctx context.Context, yearFrom, yearTo int) ([]models.YearRollup, bool, error) {
	if yearFrom < 1 || yearTo > 9999 || yearFrom > yearTo {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "invalid year range")
	}
	if yearTo-yearFrom+1 > maxRollupYears {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("year range is limited to %d years", maxRollupYears))
	}

	key := rangeCacheKey(yearFrom, yearTo)
	var cached []models.YearRollup
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, true, nil
	}

	gen := s.generation.Load()
	from := time.Date(yearFrom, time.January, 1, 0, 0, 0, 0, s.loc)
	to := time.Date(yearTo+1, time.January, 1, 0, 0, 0, 0, s.loc)
	rows, err := s.load(ctx, from, to)
	if err != nil {
		return nil, false, err
	}

	years := make([]models.YearRollup, 0, yearTo-yearFrom+1)
	for year := yearFrom; year <= yearTo; year++ {
		years = append(years, AggregateYear(rows, year, s.loc))
	}
	s.store(ctx, gen, key, years)
	return years, false, nil
}

// store caches value unless an invalidation ran since gen was read. Another
// replica can still interleave between the check and the write; such a value
// lives at most until the cache TTL.
func (s *RollupService) store(ctx context.Context, gen uint64, key string, value interface{}) {
	if s.generation.Load() != gen {
		s.logger.Debug("rollup cache write skipped", zap.String("key", key))
		return
	}
	_ = s.cache.Set(ctx, key, value, s.ttl)
}

// Invalidate drops cached rollups for the touched months, their years, and
// every cached range.
func (s *RollupService) Invalidate(ctx context.Context, touched []models.ContractPeriod) {
	if !s.cache.Enabled() || len(touched) == 0 {
		return
	}
	s.generation.Add(1)
	keys := make([]string, 0, len(touched)*2)
	seen := make(map[string]struct{})
	for _, cp := range touched {
		for _, key := range []string{monthCacheKey(cp.Period), yearCacheKey(cp.Period.Year)} {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
		s.logger.Debug("rollup invalidated", zap.String("contract_id", cp.ContractID), zap.String("period", cp.Period.String()))
	}
	_ = s.cache.Delete(ctx, keys...)
	_ = s.cache.Invalidate(ctx, cache.Key("rollup", "range")+":*")
}

func (s *RollupService) load(ctx context.Context, from, to time.Time) ([]models.RollupSourceRow, error) {
	var rows []models.RollupSourceRow
	start := time.Now()
	fetch := func(ctx context.Context) error {
		var err error
		rows, err = s.source.SourceRows(ctx, from, to)
		return err
	}
	var err error
	if s.retrier != nil {
		err = s.retrier.Do(ctx, fetch)
	} else {
		err = fetch(ctx)
	}
	if err != nil {
		return nil, storageError(err, "rollup source not found")
	}
	s.metrics.ObserveDBQuery("rollup_source_rows", time.Since(start))
	return rows, nil
}

type contractActivity struct {
	lessons int
	rate    int64
	basis   models.RateBasis
}

func (a *contractActivity) revenue() int64 {
	if a.basis == models.RateBasisPerMonth {
		return a.rate
	}
	return a.rate * int64(a.lessons)
}

func bucketRows(rows []models.RollupSourceRow, loc *time.Location) map[models.PeriodKey]map[string]*contractActivity {
	buckets := make(map[models.PeriodKey]map[string]*contractActivity)
	for _, row := range rows {
		period := models.PeriodOf(row.EffectiveAt(), loc)
		contracts, ok := buckets[period]
		if !ok {
			contracts = make(map[string]*contractActivity)
			buckets[period] = contracts
		}
		activity, ok := contracts[row.ContractID]
		if !ok {
			activity = &contractActivity{rate: row.RateAmount, basis: row.RateBasis}
			contracts[row.ContractID] = activity
		}
		if row.Status == models.AttendanceAttended || row.Status == models.AttendanceSubstitute {
			activity.lessons++
		}
	}
	return buckets
}

func rollupOf(period models.PeriodKey, contracts map[string]*contractActivity) models.Rollup {
	out := models.Rollup{Year: period.Year, Month: period.Month, ContractCount: len(contracts)}
	for _, activity := range contracts {
		out.LessonCount += activity.lessons
		out.Revenue += activity.revenue()
	}
	return out
}

// AggregateMonth computes one month's rollup from non-voided ledger rows.
// Entries are attributed by effective instant; attended and substituted
// entries count as lessons; every contract with an entry counts once.
// per_lesson contracts earn rate x lessons, per_month contracts earn their
// rate once per month with activity.
func AggregateMonth(rows []models.RollupSourceRow, period models.PeriodKey, loc *time.Location) models.Rollup {
	return rollupOf(period, bucketRows(rows, loc)[period])
}

// AggregateYear computes a year's twelve months and its total. The total's
// contract count is the number of distinct contracts active in the year.
func AggregateYear(rows []models.RollupSourceRow, year int, loc *time.Location) models.YearRollup {
	buckets := bucketRows(rows, loc)
	out := models.YearRollup{Year: year, Total: models.Rollup{Year: year}, Months: make([]models.Rollup, 0, 12)}
	distinct := make(map[string]struct{})
	for month := 1; month <= 12; month++ {
		period := models.PeriodKey{Year: year, Month: month}
		contracts := buckets[period]
		monthly := rollupOf(period, contracts)
		out.Months = append(out.Months, monthly)
		out.Total.LessonCount += monthly.LessonCount
		out.Total.Revenue += monthly.Revenue
		for id := range contracts {
			distinct[id] = struct{}{}
		}
	}
	out.Total.ContractCount = len(distinct)
	return out
}

func monthCacheKey(period models.PeriodKey) string {
	return cache.Key("rollup", "month", period.String())
}

func yearCacheKey(year int) string {
	return cache.Key("rollup", "year", strconv.Itoa(year))
}

func rangeCacheKey(from, to int) string {
	return cache.Key("rollup", "range", fmt.Sprintf("%d-%d", from, to))
}
