package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sahilchouksey/upsc-prep-api/model"
	"go.uber.org/zap"
)

const (
	JobFailStaleImports   = "fail-stale-imports"
	JobPurgeFailedImports = "purge-failed-imports"
)

// StaleImportReason is recorded on imports failed by FailStaleImports
const StaleImportReason = "parsing did not finish; the server may have restarted"

// FailStaleImports marks imports stuck in a pipeline state as failed.
// Runs every 10 minutes.
func (m *CronManager) FailStaleImports(ctx context.Context) *model.MaintenanceRun {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	return m.runJob(ctx, JobFailStaleImports, func(ctx context.Context) (int64, string, error) {
		cutoff := m.now().Add(-m.cfg.StaleAfter)
		n, err := m.store.FailStaleImports(ctx, cutoff, StaleImportReason)
		if err != nil {
			return 0, "", fmt.Errorf("failed to update stale imports: %w", err)
		}
		if n == 0 {
			return 0, "No stale imports", nil
		}
		return n, fmt.Sprintf("Failed %d imports idle since %s", n, cutoff.Format(time.RFC3339)), nil
	})
}

// PurgeFailedImports deletes failed imports past the retention window along
// with their archived PDFs. Runs daily.
func (m *CronManager) PurgeFailedImports(ctx context.Context) *model.MaintenanceRun {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	return m.runJob(ctx, JobPurgeFailedImports, func(ctx context.Context) (int64, string, error) {
		cutoff := m.now().Add(-m.cfg.Retention)
		imports, err := m.store.FailedImportsBefore(ctx, cutoff, m.cfg.PurgeBatch)
		if err != nil {
			return 0, "", fmt.Errorf("failed to query failed imports: %w", err)
		}
		if len(imports) == 0 {
			return 0, "No failed imports to purge", nil
		}

		var deleted int64
		var errs []error
		for _, imp := range imports {
			if err := m.imports.DeleteImport(ctx, imp.ID); err != nil {
				m.log.Warn("failed to purge import", zap.Uint("import_id", imp.ID), zap.Error(err))
				errs = append(errs, fmt.Errorf("import %d: %w", imp.ID, err))
				continue
			}
			deleted++
		}

		msg := fmt.Sprintf("Purged %d of %d failed imports", deleted, len(imports))
		return deleted, msg, errors.Join(errs...)
	})
}
