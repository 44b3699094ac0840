package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-ledger-api/internal/dto"
	"github.com/noah-isme/tutor-ledger-api/internal/models"
	"github.com/noah-isme/tutor-ledger-api/pkg/jobs"
)

const jobKindGenerate = "reservations.generate"

type generatableContractLister interface {
	ListGeneratable(ctx context.Context, asOf time.Time) ([]models.Contract, error)
}

type occurrenceGenerator interface {
	Generate(ctx context.Context, contractID string, horizonEnd time.Time) (*dto.GenerateReservationsResponse, error)
}

// HorizonJobConfig tunes the rolling horizon.
type HorizonJobConfig struct {
	Interval    time.Duration
	HorizonDays int
	Location    *time.Location
}

// HorizonJob periodically runs the occurrence generator for every open
// contract up to today plus the configured horizon. Each tick is independent.
type HorizonJob struct {
	contracts generatableContractLister
	generator occurrenceGenerator
	queue     jobQueue
	cfg       HorizonJobConfig
	logger    *zap.Logger
	now       func() time.Time

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewHorizonJob registers the generation handler on queue.
func NewHorizonJob(contracts generatableContractLister, generator occurrenceGenerator, queue jobQueue, cfg HorizonJobConfig, logger *zap.Logger) *HorizonJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 56
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	j := &HorizonJob{
		contracts: contracts,
		generator: generator,
		queue:     queue,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	queue.Handle(jobKindGenerate, j.handle)
	return j
}

// Start runs one pass immediately and then one per interval until ctx ends or
// Stop is called.
func (j *HorizonJob) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.cfg.Interval)
		defer ticker.Stop()
		for {
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Warn("horizon pass failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-j.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the ticker loop.
func (j *HorizonJob) Stop() {
	j.once.Do(func() { close(j.stop) })
	j.wg.Wait()
}

// RunOnce enqueues a generation job per open contract and returns how many
// were enqueued.
func (j *HorizonJob) RunOnce(ctx context.Context) (int, error) {
	today := j.today()
	contracts, err := j.contracts.ListGeneratable(ctx, today)
	if err != nil {
		return 0, err
	}
	horizon := today.AddDate(0, 0, j.cfg.HorizonDays)
	enqueued := 0
	for _, contract := range contracts {
		if contract.StartDate.After(horizon) {
			continue
		}
		if err := j.queue.Enqueue(jobs.Job{Kind: jobKindGenerate, Payload: generateJob{ContractID: contract.ID, HorizonEnd: horizon}}); err != nil {
			j.logger.Warn("generation job not enqueued", zap.String("contract_id", contract.ID), zap.Error(err))
			continue
		}
		enqueued++
	}
	j.logger.Info("horizon pass", zap.Int("contracts", len(contracts)), zap.Int("enqueued", enqueued), zap.Time("horizon_end", horizon))
	return enqueued, nil
}

type generateJob struct {
	ContractID string
	HorizonEnd time.Time
}

func (j *HorizonJob) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(generateJob)
	if !ok {
		j.logger.Error("unexpected generation payload", zap.String("job_id", job.ID))
		return nil
	}
	_, err := j.generator.Generate(ctx, payload.ContractID, payload.HorizonEnd)
	return err
}

func (j *HorizonJob) today() time.Time {
	local := j.now().In(j.cfg.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
