package model

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ImportStatus mirrors the parsing pipeline state of an import
type ImportStatus string

const (
	ImportStatusReceived        ImportStatus = "received"
	ImportStatusExtracting      ImportStatus = "extracting"
	ImportStatusReconstructing  ImportStatus = "reconstructing"
	ImportStatusSegmenting      ImportStatus = "segmenting"
	ImportStatusNormalizing     ImportStatus = "normalizing"
	ImportStatusMatchingAnswers ImportStatus = "matching_answers"
	ImportStatusBuilding        ImportStatus = "building"
	ImportStatusDone            ImportStatus = "done"
	ImportStatusFailed          ImportStatus = "failed"
)

// IsTerminal reports whether no further transitions will happen
func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusDone || s == ImportStatusFailed
}

// QuestionImport is one uploaded question paper (plus optional answer key)
type QuestionImport struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID    uint   `gorm:"index;not null" json:"user_id"`
	Title     string `gorm:"type:varchar(255);not null" json:"title"`
	ExamYear  int    `gorm:"index" json:"exam_year,omitempty"`
	PaperCode string `gorm:"type:varchar(32);index" json:"paper_code,omitempty"`

	Status        ImportStatus `gorm:"type:varchar(20);default:'received';index" json:"status"`
	FailureKind   string       `gorm:"type:varchar(32)" json:"failure_kind,omitempty"` // unreadable_pdf, no_questions_found, internal
	FailureReason string       `gorm:"type:text" json:"failure_reason,omitempty"`

	// blake2b-256 of the uploaded bytes, hex encoded
	QuestionFingerprint  string `gorm:"type:char(64);index" json:"question_fingerprint"`
	AnswerKeyFingerprint string `gorm:"type:char(64)" json:"answer_key_fingerprint,omitempty"`

	// Object keys in Spaces, empty when archiving is disabled
	QuestionObjectKey  string `gorm:"type:varchar(512)" json:"-"`
	AnswerKeyObjectKey string `gorm:"type:varchar(512)" json:"-"`

	Pages               int            `gorm:"default:0" json:"pages"`
	TotalQuestions      int            `gorm:"default:0" json:"total_questions"`
	ResolvedAnswers     int            `gorm:"default:0" json:"resolved_answers"`
	UnresolvedAnswers   int            `gorm:"default:0" json:"unresolved_answers"`
	InvalidQuestions    int            `gorm:"default:0" json:"invalid_questions"`
	UnmatchedKeyEntries int            `gorm:"default:0" json:"unmatched_key_entries"`
	AnswerKeySupplied   bool           `gorm:"default:false" json:"answer_key_supplied"`
	Warnings            datatypes.JSON `gorm:"type:jsonb" json:"warnings,omitempty"`
	ParseDurationMs     int64          `gorm:"default:0" json:"parse_duration_ms"`
	FromCache           bool           `gorm:"default:false" json:"from_cache"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Questions []ImportedQuestion `gorm:"foreignKey:ImportID;constraint:OnDelete:CASCADE" json:"questions,omitempty"`
}

// TableName specifies the table name for QuestionImport
func (QuestionImport) TableName() string {
	return "question_imports"
}

// ImportedQuestion is one parsed question record
type ImportedQuestion struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ImportID       uint           `gorm:"not null;index;uniqueIndex:idx_import_question_number" json:"import_id"`
	QuestionNumber int            `gorm:"not null;uniqueIndex:idx_import_question_number" json:"question_number"`
	QuestionText   string         `gorm:"type:text" json:"question_text"`
	Options        datatypes.JSON `gorm:"type:jsonb" json:"options"` // {"A": "...", ...}
	CorrectAnswer  *string        `gorm:"type:char(1)" json:"correct_answer"`
	AnswerSource   string         `gorm:"type:varchar(16)" json:"answer_source,omitempty"`
	Explanation    string         `gorm:"type:text" json:"explanation,omitempty"`
	IsValid        bool           `gorm:"index" json:"is_valid"`
	Issues         pq.StringArray `gorm:"type:text[]" json:"issues,omitempty"`
}

// TableName specifies the table name for ImportedQuestion
func (ImportedQuestion) TableName() string {
	return "imported_questions"
}

// OptionMap decodes Options; a malformed value yields an empty map
func (q ImportedQuestion) OptionMap() map[string]string {
	out := map[string]string{}
	if len(q.Options) == 0 {
		return out
	}
	_ = json.Unmarshal(q.Options, &out)
	return out
}

// ============= Response Types =============

// QuestionImportResponse is used for API responses
type QuestionImportResponse struct {
	ID                  uint            `json:"id"`
	Title               string          `json:"title"`
	ExamYear            int             `json:"exam_year,omitempty"`
	PaperCode           string          `json:"paper_code,omitempty"`
	Status              ImportStatus    `json:"status"`
	FailureKind         string          `json:"failure_kind,omitempty"`
	FailureReason       string          `json:"failure_reason,omitempty"`
	Pages               int             `json:"pages"`
	TotalQuestions      int             `json:"total_questions"`
	ResolvedAnswers     int             `json:"resolved_answers"`
	UnresolvedAnswers   int             `json:"unresolved_answers"`
	InvalidQuestions    int             `json:"invalid_questions"`
	UnmatchedKeyEntries int             `json:"unmatched_key_entries"`
	AnswerKeySupplied   bool            `json:"answer_key_supplied"`
	Warnings            json.RawMessage `json:"warnings,omitempty"`
	FromCache           bool            `json:"from_cache"`
	ParseDurationMs     int64           `json:"parse_duration_ms"`
	CreatedAt           time.Time       `json:"created_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// ToResponse converts an import to its API shape
func (i *QuestionImport) ToResponse() QuestionImportResponse {
	resp := QuestionImportResponse{
		ID:                  i.ID,
		Title:               i.Title,
		ExamYear:            i.ExamYear,
		PaperCode:           i.PaperCode,
		Status:              i.Status,
		FailureKind:         i.FailureKind,
		FailureReason:       i.FailureReason,
		Pages:               i.Pages,
		TotalQuestions:      i.TotalQuestions,
		ResolvedAnswers:     i.ResolvedAnswers,
		UnresolvedAnswers:   i.UnresolvedAnswers,
		InvalidQuestions:    i.InvalidQuestions,
		UnmatchedKeyEntries: i.UnmatchedKeyEntries,
		AnswerKeySupplied:   i.AnswerKeySupplied,
		FromCache:           i.FromCache,
		ParseDurationMs:     i.ParseDurationMs,
		CreatedAt:           i.CreatedAt,
		CompletedAt:         i.CompletedAt,
	}
	if len(i.Warnings) > 0 {
		resp.Warnings = json.RawMessage(i.Warnings)
	}
	return resp
}

// ImportedQuestionResponse is used for API responses
type ImportedQuestionResponse struct {
	QuestionNumber int               `json:"question_number"`
	QuestionText   string            `json:"question_text"`
	Options        map[string]string `json:"options"`
	CorrectAnswer  *string           `json:"correct_answer"`
	AnswerSource   string            `json:"answer_source,omitempty"`
	Explanation    string            `json:"explanation,omitempty"`
	IsValid        bool              `json:"is_valid"`
	Issues         []string          `json:"issues,omitempty"`
}

// ToResponse converts a stored question to its API shape
func (q *ImportedQuestion) ToResponse() ImportedQuestionResponse {
	return ImportedQuestionResponse{
		QuestionNumber: q.QuestionNumber,
		QuestionText:   q.QuestionText,
		Options:        q.OptionMap(),
		CorrectAnswer:  q.CorrectAnswer,
		AnswerSource:   q.AnswerSource,
		Explanation:    q.Explanation,
		IsValid:        q.IsValid,
		Issues:         []string(q.Issues),
	}
}
