package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sahilchouksey/upsc-prep-api/model"
)

type fakeStore struct {
	staleCutoff time.Time
	staleCount  int64
	failed      []model.QuestionImport
	runs        []model.MaintenanceRun
}

func (f *fakeStore) FailStaleImports(_ context.Context, cutoff time.Time, _ string) (int64, error) {
	f.staleCutoff = cutoff
	return f.staleCount, nil
}

func (f *fakeStore) FailedImportsBefore(_ context.Context, cutoff time.Time, limit int) ([]model.QuestionImport, error) {
	var out []model.QuestionImport
	for _, imp := range f.failed {
		if imp.UpdatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, imp)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordMaintenanceRun(_ context.Context, run *model.MaintenanceRun) error {
	f.runs = append(f.runs, *run)
	return nil
}

type fakeDeleter struct {
	deleted []uint
	failIDs map[uint]bool
}

func (f *fakeDeleter) DeleteImport(_ context.Context, id uint) error {
	if f.failIDs[id] {
		return errors.New("storage unavailable")
	}
	f.deleted = append(f.deleted, id)
	return nil
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(store *fakeStore, deleter *fakeDeleter) *CronManager {
	m := NewCronManager(store, deleter, Config{StaleAfter: 30 * time.Minute, Retention: 24 * time.Hour, PurgeBatch: 10}, nil)
	m.now = func() time.Time { return fixedNow }
	return m
}

func TestFailStaleImports(t *testing.T) {
	store := &fakeStore{staleCount: 2}
	m := newTestManager(store, &fakeDeleter{})

	run := m.FailStaleImports(context.Background())
	if run.Status != "completed" || run.Affected != 2 {
		t.Fatalf("run = %+v, want completed with 2 affected", run)
	}
	if want := fixedNow.Add(-30 * time.Minute); !store.staleCutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", store.staleCutoff, want)
	}
	if len(store.runs) != 2 || store.runs[0].Status != "started" {
		t.Errorf("recorded runs = %+v, want started then completed", store.runs)
	}
}

func TestPurgeFailedImports(t *testing.T) {
	old := fixedNow.Add(-48 * time.Hour)
	store := &fakeStore{failed: []model.QuestionImport{
		{ID: 1, UpdatedAt: old},
		{ID: 2, UpdatedAt: fixedNow.Add(-time.Hour)},
		{ID: 3, UpdatedAt: old},
	}}

	tests := []struct {
		name        string
		failIDs     map[uint]bool
		wantDeleted []uint
		wantStatus  string
	}{
		{"all deleted", nil, []uint{1, 3}, "completed"},
		{"partial failure", map[uint]bool{3: true}, []uint{1}, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deleter := &fakeDeleter{failIDs: tt.failIDs}
			m := newTestManager(&fakeStore{failed: store.failed}, deleter)

			run := m.PurgeFailedImports(context.Background())
			if run.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q (%s)", run.Status, tt.wantStatus, run.ErrorMsg)
			}
			if len(deleter.deleted) != len(tt.wantDeleted) {
				t.Fatalf("deleted = %v, want %v", deleter.deleted, tt.wantDeleted)
			}
			for i, id := range tt.wantDeleted {
				if deleter.deleted[i] != id {
					t.Errorf("deleted[%d] = %d, want %d", i, deleter.deleted[i], id)
				}
			}
			if run.Affected != int64(len(tt.wantDeleted)) {
				t.Errorf("Affected = %d", run.Affected)
			}
		})
	}
}

func TestRegisterJobs(t *testing.T) {
	m := newTestManager(&fakeStore{}, &fakeDeleter{})
	if err := m.registerJobs(); err != nil {
		t.Fatalf("registerJobs() error = %v", err)
	}
	if n := len(m.cron.Entries()); n != 2 {
		t.Errorf("registered %d jobs, want 2", n)
	}
}
