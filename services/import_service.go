package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sahilchouksey/upsc-prep-api/database"
	"github.com/sahilchouksey/upsc-prep-api/model"
	"github.com/sahilchouksey/upsc-prep-api/services/digitalocean"
	"github.com/sahilchouksey/upsc-prep-api/services/paperparser"
	"github.com/sahilchouksey/upsc-prep-api/utils/metrics"
	"github.com/sahilchouksey/upsc-prep-api/utils/pdfvalidation"
	"github.com/sahilchouksey/upsc-prep-api/utils/validation"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"gorm.io/datatypes"
)

var (
	ErrImportNotFound = errors.New("import not found")
	ErrNotArchived    = errors.New("source PDFs of this import were not archived")
	ErrImportNotReady = errors.New("import has not finished parsing")
)

// InvalidUploadError rejects an upload before an import is created.
type InvalidUploadError struct {
	Document string
	Reason   string
}

func (e *InvalidUploadError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Document, e.Reason)
}

// ImportStore persists imports and their questions.
type ImportStore interface {
	CreateImport(ctx context.Context, imp *model.QuestionImport) error
	GetImport(ctx context.Context, id uint) (*model.QuestionImport, error)
	ListImports(ctx context.Context, f database.ImportFilter) ([]model.QuestionImport, int64, error)
	UpdateImportStatus(ctx context.Context, id uint, status model.ImportStatus) error
	SetObjectKeys(ctx context.Context, id uint, questionKey, answerKeyKey string) error
	SaveResult(ctx context.Context, imp *model.QuestionImport, questions []model.ImportedQuestion) error
	MarkFailed(ctx context.Context, id uint, kind, reason string) error
	ListQuestions(ctx context.Context, importID uint, onlyInvalid bool) ([]model.ImportedQuestion, error)
	DeleteImport(ctx context.Context, id uint) error
}

// PDFArchive stores the uploaded PDFs so an import can be parsed again.
type PDFArchive interface {
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) error
	DownloadFile(ctx context.Context, key string) ([]byte, error)
	DeleteFile(ctx context.Context, key string) error
}

// ResultCache keeps pipeline results by document fingerprint.
type ResultCache interface {
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
}

// CreateImportRequest is the metadata sent with an upload
type CreateImportRequest struct {
	Title     string `json:"title" validate:"required,min=3,max=255"`
	ExamYear  int    `json:"exam_year" validate:"omitempty,gte=1979,lte=2100"`
	PaperCode string `json:"paper_code" validate:"omitempty,papercode"`
	Async     bool   `json:"async"`
}

// ImportServiceConfig tunes the import service
type ImportServiceConfig struct {
	Parser          paperparser.Config
	QuestionLimits  pdfvalidation.PDFLimits
	AnswerKeyLimits pdfvalidation.PDFLimits
	ResultTTL       time.Duration
	RunTimeout      time.Duration
	Logger          *zap.Logger
}

// ImportService runs uploaded papers through the parsing pipeline and
// stores the outcome.
type ImportService struct {
	store     ImportStore
	archive   PDFArchive
	results   ResultCache
	tracker   *ImportJobTracker
	pipeline  *paperparser.Pipeline
	validator *validation.Validator
	cfg       ImportServiceConfig
	configTag string
	log       *zap.Logger

	wg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// NewImportService creates an import service. archive, results and tracker
// may be nil; the matching features are then skipped.
func NewImportService(store ImportStore, archive PDFArchive, results ResultCache, tracker *ImportJobTracker, cfg ImportServiceConfig) (*ImportService, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.QuestionLimits.MaxPages == 0 {
		cfg.QuestionLimits = pdfvalidation.QuestionPaperLimits
	}
	if cfg.AnswerKeyLimits.MaxPages == 0 {
		cfg.AnswerKeyLimits = pdfvalidation.AnswerKeyLimits
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	log := cfg.Logger.Named("imports")

	pipeline, err := paperparser.NewPipeline(paperparser.Options{
		Config: cfg.Parser,
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &ImportService{
		store:     store,
		archive:   archive,
		results:   results,
		tracker:   tracker,
		pipeline:  pipeline,
		validator: validation.NewValidator(),
		cfg:       cfg,
		configTag: configTag(pipeline.Config()),
		log:       log,
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
	}, nil
}

// Fingerprint is the hex blake2b-256 digest of data.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func configTag(cfg paperparser.Config) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%+v", cfg)))
	return hex.EncodeToString(sum[:6])
}

// CreateImport validates the upload, creates the import and parses it.
// With req.Async the import is returned in the received state and parsed in
// the background. A synchronous parse failure is returned as the error next
// to the failed import.
func (s *ImportService) CreateImport(ctx context.Context, req CreateImportRequest, questionPDF, answerKeyPDF []byte, userID uint) (*model.QuestionImport, error) {
	req.Title = validation.SanitizeString(req.Title)
	if err := s.validator.ValidateStruct(req); err != nil {
		return nil, err
	}
	if err := checkUpload(paperparser.DocumentQuestionPaper, questionPDF, s.cfg.QuestionLimits); err != nil {
		return nil, err
	}
	if answerKeyPDF != nil {
		if err := checkUpload(paperparser.DocumentAnswerKey, answerKeyPDF, s.cfg.AnswerKeyLimits); err != nil {
			return nil, err
		}
	}

	imp := &model.QuestionImport{
		UserID:              userID,
		Title:               req.Title,
		ExamYear:            req.ExamYear,
		PaperCode:           req.PaperCode,
		Status:              model.ImportStatusReceived,
		QuestionFingerprint: Fingerprint(questionPDF),
		AnswerKeySupplied:   answerKeyPDF != nil,
	}
	if answerKeyPDF != nil {
		imp.AnswerKeyFingerprint = Fingerprint(answerKeyPDF)
	}
	if err := s.store.CreateImport(ctx, imp); err != nil {
		return nil, fmt.Errorf("failed to create import: %w", err)
	}

	if _, err := s.tracker.Start(ctx, imp.ID, userID); err != nil {
		s.log.Warn("failed to start job tracking", zap.Uint("import_id", imp.ID), zap.Error(err))
	}
	s.archivePDFs(ctx, imp, questionPDF, answerKeyPDF)

	if req.Async {
		s.runAsync(imp, questionPDF, answerKeyPDF, false)
		return imp, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()
	return imp, s.process(runCtx, imp, questionPDF, answerKeyPDF, false)
}

// checkUpload rejects readable PDFs over the limits. Unreadable content is
// let through so the failure is recorded on the import.
func checkUpload(doc string, data []byte, limits pdfvalidation.PDFLimits) error {
	res, err := pdfvalidation.ValidatePDFBytes(data, limits)
	if err != nil {
		return err
	}
	if !res.Valid && !res.Unreadable {
		return &InvalidUploadError{Document: doc, Reason: res.Error}
	}
	return nil
}

func (s *ImportService) archivePDFs(ctx context.Context, imp *model.QuestionImport, questionPDF, answerKeyPDF []byte) {
	if s.archive == nil {
		return
	}
	qKey := digitalocean.ImportObjectKey(imp.ID, paperparser.DocumentQuestionPaper, imp.QuestionFingerprint)
	if err := s.archive.UploadBytes(ctx, qKey, questionPDF, "application/pdf"); err != nil {
		s.log.Warn("failed to archive question paper", zap.Uint("import_id", imp.ID), zap.Error(err))
		return
	}
	var kKey string
	if answerKeyPDF != nil {
		kKey = digitalocean.ImportObjectKey(imp.ID, paperparser.DocumentAnswerKey, imp.AnswerKeyFingerprint)
		if err := s.archive.UploadBytes(ctx, kKey, answerKeyPDF, "application/pdf"); err != nil {
			s.log.Warn("failed to archive answer key", zap.Uint("import_id", imp.ID), zap.Error(err))
			_ = s.archive.DeleteFile(ctx, qKey)
			return
		}
	}
	if err := s.store.SetObjectKeys(ctx, imp.ID, qKey, kKey); err != nil {
		s.log.Warn("failed to store archive keys", zap.Uint("import_id", imp.ID), zap.Error(err))
		return
	}
	imp.QuestionObjectKey = qKey
	imp.AnswerKeyObjectKey = kKey
}

func (s *ImportService) runAsync(imp *model.QuestionImport, questionPDF, answerKeyPDF []byte, skipCache bool) {
	// The caller keeps imp; the worker mutates its own copy.
	imp = cloneImport(imp)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.bgCtx, s.cfg.RunTimeout)
		defer cancel()
		if err := s.process(ctx, imp, questionPDF, answerKeyPDF, skipCache); err != nil {
			s.log.Info("background import finished with error", zap.Uint("import_id", imp.ID), zap.Error(err))
		}
	}()
}

func cloneImport(imp *model.QuestionImport) *model.QuestionImport {
	cp := *imp
	cp.Questions = nil
	return &cp
}

// process runs the pipeline, or reuses a cached result, and records the outcome.
func (s *ImportService) process(ctx context.Context, imp *model.QuestionImport, questionPDF, answerKeyPDF []byte, skipCache bool) error {
	if err := s.tracker.Lock(ctx, imp.ID); err != nil {
		return err
	}
	defer func() {
		if err := s.tracker.Unlock(context.WithoutCancel(ctx), imp.ID); err != nil {
			s.log.Warn("failed to release import lock", zap.Uint("import_id", imp.ID), zap.Error(err))
		}
	}()

	started := time.Now()
	cacheKey := s.resultKey(imp)

	var res *paperparser.Result
	fromCache := false
	if !skipCache {
		if cached, ok := s.cachedResult(ctx, cacheKey); ok {
			res, fromCache = cached, true
			metrics.ParseCacheHits.Inc()
		}
	}

	if res == nil {
		pipeline := s.pipeline.WithObserver(func(state paperparser.State) {
			s.onState(ctx, imp.ID, state)
		})
		var err error
		res, err = pipeline.Run(ctx, questionPDF, answerKeyPDF)
		if err != nil {
			return s.recordFailure(ctx, imp, err, time.Since(started))
		}
		if s.results != nil {
			if err := s.results.SetJSON(ctx, cacheKey, res, s.cfg.ResultTTL); err != nil {
				s.log.Warn("failed to cache parse result", zap.Uint("import_id", imp.ID), zap.Error(err))
			}
		}
	}

	return s.recordSuccess(ctx, imp, res, fromCache, time.Since(started))
}

func (s *ImportService) resultKey(imp *model.QuestionImport) string {
	keyFP := imp.AnswerKeyFingerprint
	if keyFP == "" {
		keyFP = "none"
	}
	return fmt.Sprintf(model.RedisKeyParseResult, imp.QuestionFingerprint, keyFP, s.configTag)
}

func (s *ImportService) cachedResult(ctx context.Context, key string) (*paperparser.Result, bool) {
	if s.results == nil {
		return nil, false
	}
	var res paperparser.Result
	if err := s.results.GetJSON(ctx, key, &res); err != nil {
		return nil, false
	}
	if res.State != paperparser.StateDone {
		return nil, false
	}
	return &res, true
}

// onState mirrors pipeline transitions into the import row and the job state.
// Terminal states are written by recordSuccess and recordFailure.
func (s *ImportService) onState(ctx context.Context, importID uint, state paperparser.State) {
	if state == paperparser.StateDone || state == paperparser.StateFailed || state == paperparser.StateReceived {
		return
	}
	status := model.ImportStatus(state)
	if err := s.store.UpdateImportStatus(ctx, importID, status); err != nil {
		s.log.Warn("failed to update import status", zap.Uint("import_id", importID), zap.String("status", string(status)), zap.Error(err))
	}
	if err := s.tracker.Transition(ctx, importID, status, stateMessage(status)); err != nil {
		s.log.Warn("failed to update job state", zap.Uint("import_id", importID), zap.Error(err))
	}
}

func stateMessage(s model.ImportStatus) string {
	switch s {
	case model.ImportStatusExtracting:
		return "Extracting text"
	case model.ImportStatusReconstructing:
		return "Reconstructing lines and columns"
	case model.ImportStatusSegmenting:
		return "Splitting questions"
	case model.ImportStatusNormalizing:
		return "Cleaning bilingual text"
	case model.ImportStatusMatchingAnswers:
		return "Matching the answer key"
	case model.ImportStatusBuilding:
		return "Building question records"
	case model.ImportStatusDone:
		return "Import complete"
	}
	return string(s)
}

func (s *ImportService) recordFailure(ctx context.Context, imp *model.QuestionImport, runErr error, took time.Duration) error {
	wctx := context.WithoutCancel(ctx)

	kind := paperparser.FailureKind(runErr)
	reason := runErr.Error()
	if errors.Is(runErr, context.DeadlineExceeded) {
		reason = "parsing timed out"
	} else if errors.Is(runErr, context.Canceled) {
		reason = "parsing was cancelled"
	}

	now := time.Now()
	imp.Status = model.ImportStatusFailed
	imp.FailureKind = kind
	imp.FailureReason = reason
	imp.CompletedAt = &now

	if err := s.store.MarkFailed(wctx, imp.ID, kind, reason); err != nil {
		s.log.Error("failed to record import failure", zap.Uint("import_id", imp.ID), zap.Error(err))
	}
	if err := s.tracker.Fail(wctx, imp.ID, kind, reason); err != nil {
		s.log.Warn("failed to update job state", zap.Uint("import_id", imp.ID), zap.Error(err))
	}
	metrics.ObserveImport(string(model.ImportStatusFailed), took, 0, 0)

	s.log.Info("import failed",
		zap.Uint("import_id", imp.ID),
		zap.String("failure_kind", kind),
		zap.String("reason", reason),
	)
	return runErr
}

func (s *ImportService) recordSuccess(ctx context.Context, imp *model.QuestionImport, res *paperparser.Result, fromCache bool, took time.Duration) error {
	wctx := context.WithoutCancel(ctx)

	warnings, err := json.Marshal(res.Warnings)
	if err != nil {
		return s.recordFailure(ctx, imp, fmt.Errorf("failed to encode warnings: %w", err), took)
	}

	now := time.Now()
	imp.Status = model.ImportStatusDone
	imp.FailureKind = ""
	imp.FailureReason = ""
	imp.Pages = res.Summary.Pages
	imp.TotalQuestions = res.Summary.TotalQuestions
	imp.ResolvedAnswers = res.Summary.ResolvedAnswers
	imp.UnresolvedAnswers = res.Summary.UnresolvedAnswers
	imp.InvalidQuestions = res.Summary.InvalidQuestions
	imp.UnmatchedKeyEntries = res.Summary.UnmatchedKeyEntries
	imp.AnswerKeySupplied = res.Summary.AnswerKeySupplied
	imp.Warnings = datatypes.JSON(warnings)
	imp.ParseDurationMs = took.Milliseconds()
	imp.FromCache = fromCache
	imp.CompletedAt = &now

	if err := s.store.SaveResult(wctx, imp, ToImportedQuestions(res.Records)); err != nil {
		return s.recordFailure(ctx, imp, fmt.Errorf("failed to save questions: %w", err), took)
	}
	if err := s.tracker.Transition(wctx, imp.ID, model.ImportStatusDone, stateMessage(model.ImportStatusDone)); err != nil {
		s.log.Warn("failed to update job state", zap.Uint("import_id", imp.ID), zap.Error(err))
	}

	valid := res.Summary.TotalQuestions - res.Summary.InvalidQuestions
	metrics.ObserveImport(string(model.ImportStatusDone), took, valid, res.Summary.InvalidQuestions)

	s.log.Info("import done",
		zap.Uint("import_id", imp.ID),
		zap.Int("questions", res.Summary.TotalQuestions),
		zap.Int("invalid", res.Summary.InvalidQuestions),
		zap.Int("warnings", len(res.Warnings)),
		zap.Bool("from_cache", fromCache),
		zap.Duration("took", took),
	)
	return nil
}

// ToImportedQuestions converts pipeline records to rows
func ToImportedQuestions(records []paperparser.QuestionRecord) []model.ImportedQuestion {
	out := make([]model.ImportedQuestion, 0, len(records))
	for _, r := range records {
		opts := make(map[string]string, len(r.Options))
		for k, v := range r.Options {
			opts[string(k)] = v
		}
		data, _ := json.Marshal(opts)

		q := model.ImportedQuestion{
			QuestionNumber: r.QuestionNumber,
			QuestionText:   r.QuestionText,
			Options:        datatypes.JSON(data),
			AnswerSource:   r.AnswerSource,
			Explanation:    r.Explanation,
			IsValid:        r.IsValid,
			Issues:         pq.StringArray(r.Issues),
		}
		if r.CorrectAnswer != nil {
			answer := string(*r.CorrectAnswer)
			q.CorrectAnswer = &answer
		}
		out = append(out, q)
	}
	return out
}

// GetImport loads one import
func (s *ImportService) GetImport(ctx context.Context, id uint) (*model.QuestionImport, error) {
	imp, err := s.store.GetImport(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrImportNotFound
	}
	return imp, err
}

// ListImports returns one page of imports. userID 0 lists all users.
func (s *ImportService) ListImports(ctx context.Context, userID uint, status model.ImportStatus, page, limit int) ([]model.QuestionImport, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.store.ListImports(ctx, database.ImportFilter{UserID: userID, Status: status, Page: page, Limit: limit})
}

// ListQuestions returns the parsed questions of a finished import
func (s *ImportService) ListQuestions(ctx context.Context, id uint, onlyInvalid bool) ([]model.ImportedQuestion, error) {
	imp, err := s.GetImport(ctx, id)
	if err != nil {
		return nil, err
	}
	if imp.Status != model.ImportStatusDone {
		return nil, ErrImportNotReady
	}
	return s.store.ListQuestions(ctx, id, onlyInvalid)
}

// GetStatus returns live progress, falling back to the stored row once the
// job state has expired or when Redis is not configured.
func (s *ImportService) GetStatus(ctx context.Context, id uint) (*model.ImportJob, error) {
	job, err := s.tracker.Get(ctx, id)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, ErrJobNotFound) {
		s.log.Warn("failed to read job state", zap.Uint("import_id", id), zap.Error(err))
	}

	imp, err := s.GetImport(ctx, id)
	if err != nil {
		return nil, err
	}
	job = &model.ImportJob{
		ImportID:      imp.ID,
		UserID:        imp.UserID,
		Status:        imp.Status,
		Progress:      model.StatusProgress(imp.Status),
		Message:       stateMessage(imp.Status),
		FailureKind:   imp.FailureKind,
		FailureReason: imp.FailureReason,
		StartedAt:     imp.CreatedAt,
		CompletedAt:   imp.CompletedAt,
		UpdatedAt:     imp.UpdatedAt,
	}
	if imp.StartedAt != nil {
		job.StartedAt = *imp.StartedAt
	}
	return job, nil
}

// Reparse runs the archived PDFs through the pipeline again, bypassing the
// result cache. It is used after parser changes or to retry a failure.
func (s *ImportService) Reparse(ctx context.Context, id uint, async bool) (*model.QuestionImport, error) {
	imp, err := s.GetImport(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.archive == nil || imp.QuestionObjectKey == "" {
		return nil, ErrNotArchived
	}
	if !imp.Status.IsTerminal() {
		return nil, ErrImportInProgress
	}

	questionPDF, err := s.archive.DownloadFile(ctx, imp.QuestionObjectKey)
	if err != nil {
		if errors.Is(err, digitalocean.ErrObjectNotFound) {
			return nil, ErrNotArchived
		}
		return nil, fmt.Errorf("failed to load archived question paper: %w", err)
	}
	var answerKeyPDF []byte
	if imp.AnswerKeyObjectKey != "" {
		answerKeyPDF, err = s.archive.DownloadFile(ctx, imp.AnswerKeyObjectKey)
		if err != nil {
			if errors.Is(err, digitalocean.ErrObjectNotFound) {
				return nil, ErrNotArchived
			}
			return nil, fmt.Errorf("failed to load archived answer key: %w", err)
		}
	}

	if err := s.store.UpdateImportStatus(ctx, imp.ID, model.ImportStatusReceived); err != nil {
		return nil, fmt.Errorf("failed to reset import: %w", err)
	}
	imp.Status = model.ImportStatusReceived
	imp.FailureKind = ""
	imp.FailureReason = ""
	imp.CompletedAt = nil
	if _, err := s.tracker.Start(ctx, imp.ID, imp.UserID); err != nil {
		s.log.Warn("failed to start job tracking", zap.Uint("import_id", imp.ID), zap.Error(err))
	}

	if async {
		s.runAsync(imp, questionPDF, answerKeyPDF, true)
		return imp, nil
	}
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()
	return imp, s.process(runCtx, imp, questionPDF, answerKeyPDF, true)
}

// DeleteImport removes an import, its questions, archive objects and job state
func (s *ImportService) DeleteImport(ctx context.Context, id uint) error {
	imp, err := s.GetImport(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteImport(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrImportNotFound
		}
		return fmt.Errorf("failed to delete import: %w", err)
	}

	s.deleteArchived(ctx, imp)
	if err := s.tracker.Clear(ctx, id); err != nil {
		s.log.Warn("failed to clear job state", zap.Uint("import_id", id), zap.Error(err))
	}
	return nil
}

func (s *ImportService) deleteArchived(ctx context.Context, imp *model.QuestionImport) {
	if s.archive == nil {
		return
	}
	for _, key := range []string{imp.QuestionObjectKey, imp.AnswerKeyObjectKey} {
		if key == "" {
			continue
		}
		if err := s.archive.DeleteFile(ctx, key); err != nil {
			s.log.Warn("failed to delete archived PDF", zap.Uint("import_id", imp.ID), zap.String("key", key), zap.Error(err))
		}
	}
}

// Shutdown waits for background parses. When ctx ends first the remaining
// parses are cancelled and recorded as failed.
func (s *ImportService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.bgCancel()
		return nil
	case <-ctx.Done():
		s.bgCancel()
		<-done
		return ctx.Err()
	}
}
