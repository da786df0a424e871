package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sahilchouksey/upsc-prep-api/database"
	"github.com/sahilchouksey/upsc-prep-api/model"
	"github.com/sahilchouksey/upsc-prep-api/services/paperparser"
	"github.com/sahilchouksey/upsc-prep-api/services/paperparser/pdftest"
	"github.com/sahilchouksey/upsc-prep-api/utils/cache"
)

type memImportStore struct {
	mu        sync.Mutex
	nextID    uint
	imports   map[uint]*model.QuestionImport
	questions map[uint][]model.ImportedQuestion
	statuses  []model.ImportStatus
}

func newMemImportStore() *memImportStore {
	return &memImportStore{
		imports:   map[uint]*model.QuestionImport{},
		questions: map[uint][]model.ImportedQuestion{},
	}
}

func (m *memImportStore) CreateImport(_ context.Context, imp *model.QuestionImport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	imp.ID = m.nextID
	imp.CreatedAt = time.Now()
	cp := *imp
	m.imports[imp.ID] = &cp
	return nil
}

func (m *memImportStore) GetImport(_ context.Context, id uint) (*model.QuestionImport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imports[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *imp
	return &cp, nil
}

func (m *memImportStore) ListImports(_ context.Context, f database.ImportFilter) ([]model.QuestionImport, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.QuestionImport
	for _, imp := range m.imports {
		if f.UserID != 0 && imp.UserID != f.UserID {
			continue
		}
		if f.Status != "" && imp.Status != f.Status {
			continue
		}
		out = append(out, *imp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, int64(len(out)), nil
}

func (m *memImportStore) UpdateImportStatus(_ context.Context, id uint, status model.ImportStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imports[id]
	if !ok {
		return database.ErrNotFound
	}
	imp.Status = status
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *memImportStore) SetObjectKeys(_ context.Context, id uint, questionKey, answerKeyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imports[id]
	if !ok {
		return database.ErrNotFound
	}
	imp.QuestionObjectKey = questionKey
	imp.AnswerKeyObjectKey = answerKeyKey
	return nil
}

func (m *memImportStore) SaveResult(_ context.Context, imp *model.QuestionImport, questions []model.ImportedQuestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *imp
	m.imports[imp.ID] = &cp
	for i := range questions {
		questions[i].ImportID = imp.ID
	}
	m.questions[imp.ID] = questions
	m.statuses = append(m.statuses, imp.Status)
	return nil
}

func (m *memImportStore) MarkFailed(_ context.Context, id uint, kind, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imports[id]
	if !ok {
		return database.ErrNotFound
	}
	imp.Status = model.ImportStatusFailed
	imp.FailureKind = kind
	imp.FailureReason = reason
	imp.TotalQuestions = 0
	delete(m.questions, id)
	m.statuses = append(m.statuses, model.ImportStatusFailed)
	return nil
}

func (m *memImportStore) ListQuestions(_ context.Context, importID uint, onlyInvalid bool) ([]model.ImportedQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ImportedQuestion
	for _, q := range m.questions[importID] {
		if onlyInvalid && q.IsValid {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (m *memImportStore) DeleteImport(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.imports[id]; !ok {
		return database.ErrNotFound
	}
	delete(m.imports, id)
	delete(m.questions, id)
	return nil
}

type memArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *memArchive) UploadBytes(_ context.Context, key string, data []byte, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[key] = append([]byte(nil), data...)
	return nil
}

func (a *memArchive) DownloadFile(_ context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

func (a *memArchive) DeleteFile(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, key)
	return nil
}

// memKV backs both the job tracker and the result cache.
type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (k *memKV) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = b
	return nil
}

func (k *memKV) GetJSON(_ context.Context, key string, dest interface{}) error {
	k.mu.Lock()
	b, ok := k.data[key]
	k.mu.Unlock()
	if !ok {
		return cache.ErrNotFound
	}
	return json.Unmarshal(b, dest)
}

func (k *memKV) Delete(_ context.Context, keys ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, key := range keys {
		delete(k.data, key)
	}
	return nil
}

func (k *memKV) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.data[key]; ok {
		return false, nil
	}
	b, _ := json.Marshal(value)
	k.data[key] = b
	return true, nil
}

type serviceFixture struct {
	svc     *ImportService
	store   *memImportStore
	archive *memArchive
	kv      *memKV
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:   newMemImportStore(),
		archive: &memArchive{objects: map[string][]byte{}},
		kv:      newMemKV(),
	}
	svc, err := NewImportService(f.store, f.archive, f.kv, NewImportJobTracker(f.kv), ImportServiceConfig{
		Parser:     paperparser.DefaultConfig(),
		RunTimeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewImportService() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	f.svc = svc
	return f
}

func samplePaper(n int) []byte {
	return pdftest.Build(pdftest.Column(72, pdftest.PaperLines(n)...))
}

func sampleKey(n int) []byte {
	return pdftest.Build(pdftest.Column(72, pdftest.AnswerKey(n)...))
}

func TestCreateImportSync(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	imp, err := f.svc.CreateImport(ctx, CreateImportRequest{Title: "GS Paper 1", ExamYear: 2023, PaperCode: "GS1"}, samplePaper(3), sampleKey(3), 7)
	if err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}
	if imp.Status != model.ImportStatusDone {
		t.Fatalf("Status = %q, want done", imp.Status)
	}
	if imp.TotalQuestions != 3 || imp.ResolvedAnswers != 3 {
		t.Errorf("summary = %d questions, %d resolved; want 3 and 3", imp.TotalQuestions, imp.ResolvedAnswers)
	}
	if imp.FromCache {
		t.Error("first import should not come from the cache")
	}

	questions, err := f.svc.ListQuestions(ctx, imp.ID, false)
	if err != nil {
		t.Fatalf("ListQuestions() error = %v", err)
	}
	if len(questions) != 3 {
		t.Fatalf("got %d questions, want 3", len(questions))
	}
	q := questions[0]
	if q.CorrectAnswer == nil || *q.CorrectAnswer != "B" {
		t.Errorf("CorrectAnswer = %v, want B", q.CorrectAnswer)
	}
	if got := q.OptionMap()["B"]; got != "Delhi" {
		t.Errorf("option B = %q, want Delhi", got)
	}

	if len(f.archive.objects) != 2 {
		t.Errorf("archived %d objects, want 2", len(f.archive.objects))
	}

	job, err := f.svc.GetStatus(ctx, imp.ID)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if job.Status != model.ImportStatusDone || job.Progress != 100 {
		t.Errorf("job = %+v, want done at 100", job)
	}

	if f.store.statuses[0] != model.ImportStatusExtracting {
		t.Errorf("first stored status = %q, want extracting", f.store.statuses[0])
	}
	if last := f.store.statuses[len(f.store.statuses)-1]; last != model.ImportStatusDone {
		t.Errorf("last stored status = %q, want done", last)
	}
}

func TestCreateImportUsesResultCache(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	paper, key := samplePaper(2), sampleKey(2)

	if _, err := f.svc.CreateImport(ctx, CreateImportRequest{Title: "First upload"}, paper, key, 1); err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}
	second, err := f.svc.CreateImport(ctx, CreateImportRequest{Title: "Same files again"}, paper, key, 2)
	if err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}
	if !second.FromCache {
		t.Error("second import of identical files should reuse the cached result")
	}
	if second.TotalQuestions != 2 {
		t.Errorf("TotalQuestions = %d, want 2", second.TotalQuestions)
	}

	// A different answer key must not hit the first entry.
	third, err := f.svc.CreateImport(ctx, CreateImportRequest{Title: "Paper only"}, paper, nil, 2)
	if err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}
	if third.FromCache {
		t.Error("import without a key should not reuse the keyed result")
	}
	if third.ResolvedAnswers != 0 {
		t.Errorf("ResolvedAnswers = %d, want 0 without a key", third.ResolvedAnswers)
	}
}

func TestCreateImportFailures(t *testing.T) {
	tests := []struct {
		name     string
		paper    []byte
		key      []byte
		wantKind string
	}{
		{"garbage paper", []byte("not a pdf at all"), nil, "unreadable_pdf"},
		{"unreadable key", samplePaper(2), []byte("<html>"), "unreadable_pdf"},
		{"no questions", pdftest.Build(pdftest.Column(72, "GENERAL STUDIES", "Time allowed: two hours")), nil, "no_questions_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			ctx := context.Background()

			imp, err := f.svc.CreateImport(ctx, CreateImportRequest{Title: "Broken upload"}, tt.paper, tt.key, 3)
			if err == nil {
				t.Fatal("CreateImport() error = nil, want a pipeline failure")
			}
			if imp == nil {
				t.Fatal("failed imports must still be returned")
			}
			if got := paperparser.FailureKind(err); got != tt.wantKind {
				t.Errorf("FailureKind = %q, want %q", got, tt.wantKind)
			}

			stored, err := f.svc.GetImport(ctx, imp.ID)
			if err != nil {
				t.Fatalf("GetImport() error = %v", err)
			}
			if stored.Status != model.ImportStatusFailed || stored.FailureKind != tt.wantKind {
				t.Errorf("stored = %q/%q, want failed/%q", stored.Status, stored.FailureKind, tt.wantKind)
			}
			if stored.FailureReason == "" {
				t.Error("FailureReason should be recorded")
			}

			if _, err := f.svc.ListQuestions(ctx, imp.ID, false); !errors.Is(err, ErrImportNotReady) {
				t.Errorf("ListQuestions() error = %v, want ErrImportNotReady", err)
			}

			job, err := f.svc.GetStatus(ctx, imp.ID)
			if err != nil {
				t.Fatalf("GetStatus() error = %v", err)
			}
			if job.Status != model.ImportStatusFailed || job.FailureKind != tt.wantKind {
				t.Errorf("job = %+v", job)
			}
		})
	}
}

func TestCreateImportRejectsBadRequests(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateImport(ctx, CreateImportRequest{Title: "x"}, samplePaper(1), nil, 1); err == nil {
		t.Error("short title should fail validation")
	}
	if _, err := f.svc.CreateImport(ctx, CreateImportRequest{Title: "Valid title", PaperCode: "bad code!"}, samplePaper(1), nil, 1); err == nil {
		t.Error("malformed paper code should fail validation")
	}

	f.svc.cfg.QuestionLimits = f.svc.cfg.QuestionLimits.WithMax(0, 1)
	twoPages := pdftest.Build(pdftest.Column(72, "1. a"), pdftest.Column(72, "2. b"))
	_, err := f.svc.CreateImport(ctx, CreateImportRequest{Title: "Too long"}, twoPages, nil, 1)
	var invalid *InvalidUploadError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want *InvalidUploadError", err)
	}
	if invalid.Document != paperparser.DocumentQuestionPaper {
		t.Errorf("Document = %q", invalid.Document)
	}

	if len(f.store.imports) != 0 {
		t.Errorf("rejected uploads created %d imports", len(f.store.imports))
	}
}

func TestCreateImportAsync(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	imp, err := f.svc.CreateImport(ctx, CreateImportRequest{Title: "Background parse", Async: true}, samplePaper(2), nil, 5)
	if err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}
	if imp.Status != model.ImportStatusReceived {
		t.Errorf("Status = %q, want received", imp.Status)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := f.svc.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	stored, err := f.svc.GetImport(ctx, imp.ID)
	if err != nil {
		t.Fatalf("GetImport() error = %v", err)
	}
	if stored.Status != model.ImportStatusDone || stored.TotalQuestions != 2 {
		t.Errorf("stored = %q with %d questions, want done with 2", stored.Status, stored.TotalQuestions)
	}
}

func TestReparse(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	imp, err := f.svc.CreateImport(ctx, CreateImportRequest{Title: "Reparse me"}, samplePaper(2), sampleKey(2), 1)
	if err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}

	again, err := f.svc.Reparse(ctx, imp.ID, false)
	if err != nil {
		t.Fatalf("Reparse() error = %v", err)
	}
	if again.Status != model.ImportStatusDone {
		t.Errorf("Status = %q, want done", again.Status)
	}
	if again.FromCache {
		t.Error("reparse must bypass the result cache")
	}
	if again.ResolvedAnswers != 2 {
		t.Errorf("ResolvedAnswers = %d, want 2", again.ResolvedAnswers)
	}

	f.archive.objects = map[string][]byte{}
	if _, err := f.svc.Reparse(ctx, imp.ID, false); err == nil {
		t.Error("reparse without archived objects should fail")
	}
}

func TestReparseWithoutArchive(t *testing.T) {
	store := newMemImportStore()
	svc, err := NewImportService(store, nil, nil, nil, ImportServiceConfig{Parser: paperparser.DefaultConfig()})
	if err != nil {
		t.Fatalf("NewImportService() error = %v", err)
	}
	ctx := context.Background()

	imp, err := svc.CreateImport(ctx, CreateImportRequest{Title: "No archive"}, samplePaper(1), nil, 1)
	if err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}
	if _, err := svc.Reparse(ctx, imp.ID, false); !errors.Is(err, ErrNotArchived) {
		t.Errorf("Reparse() error = %v, want ErrNotArchived", err)
	}

	// Without Redis the status comes from the stored row.
	job, err := svc.GetStatus(ctx, imp.ID)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if job.Status != model.ImportStatusDone {
		t.Errorf("job status = %q, want done", job.Status)
	}
}

func TestDeleteImport(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	imp, err := f.svc.CreateImport(ctx, CreateImportRequest{Title: "Delete me"}, samplePaper(1), sampleKey(1), 1)
	if err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}
	if err := f.svc.DeleteImport(ctx, imp.ID); err != nil {
		t.Fatalf("DeleteImport() error = %v", err)
	}
	if len(f.archive.objects) != 0 {
		t.Errorf("%d archived objects left after delete", len(f.archive.objects))
	}
	if _, err := f.svc.GetImport(ctx, imp.ID); !errors.Is(err, ErrImportNotFound) {
		t.Errorf("GetImport() error = %v, want ErrImportNotFound", err)
	}
	if err := f.svc.DeleteImport(ctx, imp.ID); !errors.Is(err, ErrImportNotFound) {
		t.Errorf("second DeleteImport() error = %v, want ErrImportNotFound", err)
	}
}

func TestImportLockRejectsConcurrentParse(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	imp, err := f.svc.CreateImport(ctx, CreateImportRequest{Title: "Locked"}, samplePaper(1), nil, 1)
	if err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}
	if err := f.svc.tracker.Lock(ctx, imp.ID); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if _, err := f.svc.Reparse(ctx, imp.ID, false); !errors.Is(err, ErrImportInProgress) {
		t.Errorf("Reparse() error = %v, want ErrImportInProgress", err)
	}
}

func TestToImportedQuestions(t *testing.T) {
	b := paperparser.OptionKey("B")
	rows := ToImportedQuestions([]paperparser.QuestionRecord{
		{QuestionNumber: 1, QuestionText: "Q", Options: map[paperparser.OptionKey]string{"A": "x", "B": "y"}, CorrectAnswer: &b, IsValid: true},
		{QuestionNumber: 2, QuestionText: "", Issues: []string{"empty question text"}},
	})
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	if rows[0].CorrectAnswer == nil || *rows[0].CorrectAnswer != "B" {
		t.Errorf("CorrectAnswer = %v", rows[0].CorrectAnswer)
	}
	if rows[0].OptionMap()["A"] != "x" {
		t.Errorf("Options = %s", rows[0].Options)
	}
	if rows[1].CorrectAnswer != nil || rows[1].IsValid || len(rows[1].Issues) != 1 {
		t.Errorf("row 2 = %+v", rows[1])
	}
}
