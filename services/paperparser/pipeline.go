package paperparser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is a pipeline stage as seen by callers.
type State string

const (
	StateReceived        State = "received"
	StateExtracting      State = "extracting"
	StateReconstructing  State = "reconstructing"
	StateSegmenting      State = "segmenting"
	StateNormalizing     State = "normalizing"
	StateMatchingAnswers State = "matching_answers"
	StateBuilding        State = "building"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Options configures a Pipeline. The zero value uses DefaultConfig and discards logs.
type Options struct {
	Config Config
	Logger *zap.Logger
	// OnStateChange is called on every transition, never concurrently.
	OnStateChange func(State)
}

// Summary is the pipeline-level metadata returned with the records.
type Summary struct {
	TotalQuestions      int  `json:"total_questions"`
	ResolvedAnswers     int  `json:"resolved_answers"`
	UnresolvedAnswers   int  `json:"unresolved_answers"`
	InvalidQuestions    int  `json:"invalid_questions"`
	UnmatchedKeyEntries int  `json:"unmatched_key_entries"`
	AnswerKeySupplied   bool `json:"answer_key_supplied"`
	Pages               int  `json:"pages"`
}

// Result is the outcome of one Run. On failure State is StateFailed and Failure holds the
// same error Run returned.
type Result struct {
	Records     []QuestionRecord `json:"records"`
	Summary     Summary          `json:"summary"`
	Warnings    []Warning        `json:"warnings"`
	State       State            `json:"state"`
	Failure     error            `json:"-"`
	FailureKind string           `json:"failure_kind,omitempty"`
}

// Pipeline parses question papers. It holds no per-run state, so one value may serve
// concurrent Run calls.
type Pipeline struct {
	cfg        Config
	layout     *LayoutReconstructor
	normalizer *BilingualNormalizer
	log        *zap.Logger
	onState    func(State)
}

func NewPipeline(opts Options) (*Pipeline, error) {
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Pipeline{
		cfg:        cfg,
		layout:     NewLayoutReconstructor(cfg.Layout),
		normalizer: NewBilingualNormalizer(cfg.Script),
		log:        log.Named("paperparser"),
		onState:    opts.OnStateChange,
	}, nil
}

// Config returns the tunables the pipeline was built with.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// WithObserver returns a copy of p that reports transitions to fn.
func (p *Pipeline) WithObserver(fn func(State)) *Pipeline {
	cp := *p
	cp.onState = fn
	return &cp
}

type questionTrack struct {
	blocks   []NormalizedBlock
	warnings []Warning
	pages    int
}

// Run parses questionPDF and, when answerKeyPDF is non-nil, the answer key alongside it.
// Unreadable input on either document and a paper without questions are terminal; every
// other problem is reported through warnings and record flags.
func (p *Pipeline) Run(ctx context.Context, questionPDF, answerKeyPDF []byte) (*Result, error) {
	started := time.Now()
	res := &Result{State: StateReceived}
	p.notify(StateReceived)

	var (
		qt   questionTrack
		keys []AnswerKeyEntry
		qErr error
		kErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		qt, qErr = p.runQuestionTrack(gctx, questionPDF)
		return qErr
	})
	if answerKeyPDF != nil {
		g.Go(func() error {
			keys, kErr = p.runKeyTrack(gctx, answerKeyPDF)
			return kErr
		})
	}
	_ = g.Wait()

	if err := pickFailure(ctx, qErr, kErr); err != nil {
		return p.fail(res, err)
	}

	p.notify(StateMatchingAnswers)
	questions := make([]int, len(qt.blocks))
	for i, b := range qt.blocks {
		questions[i] = b.QuestionNumber
	}
	var match AnswerMatch
	if answerKeyPDF != nil {
		match = MatchAnswers(questions, keys)
	}

	if err := ctx.Err(); err != nil {
		return p.fail(res, err)
	}

	p.notify(StateBuilding)
	records, warnings := BuildRecords(qt.blocks, match)

	res.Records = records
	res.Warnings = make([]Warning, 0, len(qt.warnings)+len(match.Warnings)+len(warnings))
	res.Warnings = append(res.Warnings, qt.warnings...)
	res.Warnings = append(res.Warnings, match.Warnings...)
	res.Warnings = append(res.Warnings, warnings...)
	res.Summary = summarize(records, match, qt.pages)
	res.State = StateDone
	p.notify(StateDone)

	p.log.Info("paper parsed",
		zap.Int("questions", res.Summary.TotalQuestions),
		zap.Int("resolved", res.Summary.ResolvedAnswers),
		zap.Int("invalid", res.Summary.InvalidQuestions),
		zap.Int("warnings", len(res.Warnings)),
		zap.Duration("took", time.Since(started)),
	)
	return res, nil
}

func (p *Pipeline) runQuestionTrack(ctx context.Context, data []byte) (questionTrack, error) {
	p.notify(StateExtracting)
	pages, numPages, err := p.extract(ctx, DocumentQuestionPaper, data)
	if err != nil {
		return questionTrack{}, err
	}

	if err := ctx.Err(); err != nil {
		return questionTrack{}, err
	}
	p.notify(StateReconstructing)
	lines := p.layout.ReconstructDocument(pages)

	if err := ctx.Err(); err != nil {
		return questionTrack{}, err
	}
	p.notify(StateSegmenting)
	raw, skipped, err := Segment(lines)
	if err != nil {
		return questionTrack{}, err
	}

	if err := ctx.Err(); err != nil {
		return questionTrack{}, err
	}
	p.notify(StateNormalizing)
	blocks := make([]NormalizedBlock, len(raw))
	for i, b := range raw {
		blocks[i] = p.normalizer.NormalizeBlock(b)
	}

	p.log.Debug("question paper segmented",
		zap.Int("pages", numPages),
		zap.Int("lines", len(lines)),
		zap.Int("questions", len(blocks)),
	)
	return questionTrack{blocks: blocks, warnings: skipped, pages: numPages}, nil
}

func (p *Pipeline) runKeyTrack(ctx context.Context, data []byte) ([]AnswerKeyEntry, error) {
	pages, _, err := p.extract(ctx, DocumentAnswerKey, data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := SegmentAnswerKey(p.layout.ReconstructDocument(pages))
	for i := range entries {
		if entries[i].Explanation == "" {
			continue
		}
		entries[i].Explanation = joinText(p.normalizer.NormalizeLines([]string{entries[i].Explanation}))
	}

	p.log.Debug("answer key segmented", zap.Int("entries", len(entries)))
	return entries, nil
}

// extract opens data and collects its fragments per page. A document that opens but has no
// text at all (a scanned paper) is unreadable.
func (p *Pipeline) extract(ctx context.Context, role string, data []byte) (map[int][]TextFragment, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	doc, err := Open(data)
	if err != nil {
		return nil, 0, tagDocument(err, role)
	}

	pages, count, err := doc.Pages()
	if err != nil {
		return nil, 0, tagDocument(err, role)
	}
	if count == 0 {
		return nil, 0, unreadable(role, "no extractable text, the file may be a scanned image", nil)
	}
	return pages, doc.NumPages(), nil
}

func (p *Pipeline) fail(res *Result, err error) (*Result, error) {
	res.State = StateFailed
	res.Failure = err
	res.FailureKind = FailureKind(err)
	p.notify(StateFailed)
	p.log.Warn("paper parse failed", zap.String("kind", res.FailureKind), zap.Error(err))
	return res, err
}

func (p *Pipeline) notify(s State) {
	if p.onState != nil {
		p.onState(s)
	}
}

// pickFailure chooses the error to report once both tracks have stopped. A track that was
// only cancelled because the other one failed must not hide the real cause.
func pickFailure(ctx context.Context, qErr, kErr error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch {
	case qErr != nil && !isCancellation(qErr):
		return qErr
	case kErr != nil && !isCancellation(kErr):
		return kErr
	case qErr != nil:
		return qErr
	default:
		return kErr
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func tagDocument(err error, role string) error {
	var ue *UnreadablePDFError
	if errors.As(err, &ue) {
		ue.Document = role
		return ue
	}
	return fmt.Errorf("%s: %w", role, err)
}

func summarize(records []QuestionRecord, match AnswerMatch, pages int) Summary {
	s := Summary{
		TotalQuestions:      len(records),
		UnmatchedKeyEntries: match.Unmatched,
		AnswerKeySupplied:   match.Supplied,
		Pages:               pages,
	}
	for _, r := range records {
		if r.CorrectAnswer != nil {
			s.ResolvedAnswers++
		} else {
			s.UnresolvedAnswers++
		}
		if !r.IsValid {
			s.InvalidQuestions++
		}
	}
	return s
}
