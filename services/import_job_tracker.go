package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sahilchouksey/upsc-prep-api/model"
	"github.com/sahilchouksey/upsc-prep-api/utils/cache"
)

// TTL configurations for import job states
const (
	ImportJobTTLActive = 24 * time.Hour
	ImportJobTTLDone   = 1 * time.Hour
	ImportJobTTLFailed = 24 * time.Hour
	ImportLockTTL      = 10 * time.Minute
)

var (
	ErrJobNotFound      = errors.New("import job not found or expired")
	ErrImportInProgress = errors.New("import is already being parsed")
)

// JobStore is the subset of the Redis cache the tracker needs.
type JobStore interface {
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
}

// ImportJobTracker keeps the live progress of imports in Redis. A tracker
// with no store accepts every call and reports no jobs, so the service works
// without Redis.
type ImportJobTracker struct {
	store JobStore
}

// NewImportJobTracker creates a new tracker instance
func NewImportJobTracker(store JobStore) *ImportJobTracker {
	return &ImportJobTracker{store: store}
}

func (t *ImportJobTracker) enabled() bool {
	return t != nil && t.store != nil
}

// Start records a fresh job in the received state, replacing any earlier one
func (t *ImportJobTracker) Start(ctx context.Context, importID, userID uint) (*model.ImportJob, error) {
	now := time.Now()
	job := &model.ImportJob{
		ImportID:  importID,
		UserID:    userID,
		Status:    model.ImportStatusReceived,
		Message:   "Import queued",
		Seq:       1,
		StartedAt: now,
		UpdatedAt: now,
	}
	if !t.enabled() {
		return job, nil
	}
	if err := t.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Transition moves a job to status. Missing jobs are recreated so progress
// survives a Redis flush mid-run.
func (t *ImportJobTracker) Transition(ctx context.Context, importID uint, status model.ImportStatus, message string) error {
	if !t.enabled() {
		return nil
	}
	job, err := t.Get(ctx, importID)
	if errors.Is(err, ErrJobNotFound) {
		job = &model.ImportJob{ImportID: importID, StartedAt: time.Now()}
	} else if err != nil {
		return err
	}

	job.Status = status
	job.Progress = model.StatusProgress(status)
	job.Message = message
	job.Seq++
	job.UpdatedAt = time.Now()
	if status.IsTerminal() {
		now := job.UpdatedAt
		job.CompletedAt = &now
	}
	return t.save(ctx, job)
}

// Fail records a terminal failure
func (t *ImportJobTracker) Fail(ctx context.Context, importID uint, kind, reason string) error {
	if !t.enabled() {
		return nil
	}
	job, err := t.Get(ctx, importID)
	if errors.Is(err, ErrJobNotFound) {
		job = &model.ImportJob{ImportID: importID, StartedAt: time.Now()}
	} else if err != nil {
		return err
	}

	now := time.Now()
	job.Status = model.ImportStatusFailed
	job.Progress = 100
	job.Message = "Import failed"
	job.FailureKind = kind
	job.FailureReason = reason
	job.Seq++
	job.UpdatedAt = now
	job.CompletedAt = &now
	return t.save(ctx, job)
}

// Get retrieves job state from Redis
func (t *ImportJobTracker) Get(ctx context.Context, importID uint) (*model.ImportJob, error) {
	if !t.enabled() {
		return nil, ErrJobNotFound
	}
	var job model.ImportJob
	if err := t.store.GetJSON(ctx, fmt.Sprintf(model.RedisKeyImportJob, importID), &job); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job state: %w", err)
	}
	return &job, nil
}

// Clear removes the job state and lock
func (t *ImportJobTracker) Clear(ctx context.Context, importID uint) error {
	if !t.enabled() {
		return nil
	}
	return t.store.Delete(ctx,
		fmt.Sprintf(model.RedisKeyImportJob, importID),
		fmt.Sprintf(model.RedisKeyImportLock, importID),
	)
}

// Lock claims the right to parse an import. It returns ErrImportInProgress
// when another worker holds the lock.
func (t *ImportJobTracker) Lock(ctx context.Context, importID uint) error {
	if !t.enabled() {
		return nil
	}
	ok, err := t.store.SetNX(ctx, fmt.Sprintf(model.RedisKeyImportLock, importID), "1", ImportLockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire import lock: %w", err)
	}
	if !ok {
		return ErrImportInProgress
	}
	return nil
}

// Unlock releases the parse lock
func (t *ImportJobTracker) Unlock(ctx context.Context, importID uint) error {
	if !t.enabled() {
		return nil
	}
	return t.store.Delete(ctx, fmt.Sprintf(model.RedisKeyImportLock, importID))
}

func (t *ImportJobTracker) save(ctx context.Context, job *model.ImportJob) error {
	ttl := ImportJobTTLActive
	switch job.Status {
	case model.ImportStatusDone:
		ttl = ImportJobTTLDone
	case model.ImportStatusFailed:
		ttl = ImportJobTTLFailed
	}
	if err := t.store.SetJSON(ctx, fmt.Sprintf(model.RedisKeyImportJob, job.ImportID), job, ttl); err != nil {
		return fmt.Errorf("failed to save job state: %w", err)
	}
	return nil
}
