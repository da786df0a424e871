package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sahilchouksey/upsc-prep-api/model"
	"go.uber.org/zap"
)

// MaintenanceStore is the storage the maintenance jobs need
type MaintenanceStore interface {
	FailStaleImports(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	FailedImportsBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.QuestionImport, error)
	RecordMaintenanceRun(ctx context.Context, run *model.MaintenanceRun) error
}

// ImportDeleter removes an import together with its archived PDFs and job state
type ImportDeleter interface {
	DeleteImport(ctx context.Context, id uint) error
}

// Config holds job thresholds
type Config struct {
	// Imports without progress for this long are marked failed
	StaleAfter time.Duration
	// Failed imports older than this are purged
	Retention time.Duration
	// Max imports purged per run
	PurgeBatch int
}

// CronManager manages all scheduled cron jobs
type CronManager struct {
	cron    *cron.Cron
	store   MaintenanceStore
	imports ImportDeleter
	cfg     Config
	log     *zap.Logger
	now     func() time.Time
}

// NewCronManager creates a new cron manager
func NewCronManager(store MaintenanceStore, imports ImportDeleter, cfg Config, log *zap.Logger) *CronManager {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.PurgeBatch <= 0 {
		cfg.PurgeBatch = 100
	}
	if log == nil {
		log = zap.NewNop()
	}

	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronManager{
		cron:    c,
		store:   store,
		imports: imports,
		cfg:     cfg,
		log:     log.Named("cron"),
		now:     time.Now,
	}
}

// Start starts all cron jobs
func (m *CronManager) Start() error {
	m.log.Info("starting cron jobs")

	if err := m.registerJobs(); err != nil {
		return err
	}

	m.cron.Start()

	m.log.Info("cron jobs started", zap.Int("jobs", len(m.cron.Entries())))
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (m *CronManager) Stop() {
	m.log.Info("stopping cron jobs")
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.log.Info("cron jobs stopped")
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	// Every 10 minutes: fail imports abandoned mid-parse (e.g. by a restart)
	_, err := m.cron.AddFunc("0 */10 * * * *", func() {
		m.FailStaleImports(context.Background())
	})
	if err != nil {
		return err
	}

	// Daily at 3 AM: purge old failed imports
	_, err = m.cron.AddFunc("0 0 3 * * *", func() {
		m.PurgeFailedImports(context.Background())
	})
	if err != nil {
		return err
	}

	return nil
}

// runJob records a maintenance run around fn. fn returns the number of rows
// it touched and a summary message.
func (m *CronManager) runJob(ctx context.Context, jobName string, fn func(ctx context.Context) (int64, string, error)) *model.MaintenanceRun {
	started := m.now()
	m.log.Info("starting job", zap.String("job", jobName))

	run := &model.MaintenanceRun{
		JobName:   jobName,
		Status:    "started",
		StartedAt: started,
	}
	if err := m.store.RecordMaintenanceRun(ctx, run); err != nil {
		m.log.Warn("failed to record job start", zap.String("job", jobName), zap.Error(err))
	}

	affected, message, err := fn(ctx)

	completed := m.now()
	run.CompletedAt = &completed
	run.Duration = completed.Sub(started).Milliseconds()
	run.Affected = affected
	run.Message = message
	if err != nil {
		run.Status = "failed"
		run.ErrorMsg = err.Error()
		m.log.Error("job failed", zap.String("job", jobName), zap.Int64("affected", affected), zap.Error(err))
	} else {
		run.Status = "completed"
		m.log.Info("job completed", zap.String("job", jobName), zap.Int64("affected", affected), zap.String("message", message))
	}

	if err := m.store.RecordMaintenanceRun(context.WithoutCancel(ctx), run); err != nil {
		m.log.Warn("failed to record job result", zap.String("job", jobName), zap.Error(err))
	}
	return run
}
