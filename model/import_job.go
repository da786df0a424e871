package model

import "time"

// ImportJob is the live progress of one import, stored in Redis while the
// pipeline runs and kept for a while after it finishes.
type ImportJob struct {
	ImportID uint         `json:"import_id"`
	UserID   uint         `json:"user_id"`
	Status   ImportStatus `json:"status"`
	Progress int          `json:"progress"` // 0-100
	Message  string       `json:"message,omitempty"`
	Seq      int          `json:"seq"` // increases with every update, used as SSE event id

	FailureKind   string `json:"failure_kind,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Redis key patterns for import jobs
const (
	// Usage: fmt.Sprintf(RedisKeyImportJob, importID)
	RedisKeyImportJob = "import:job:%d"

	// Held while an import is being parsed
	RedisKeyImportLock = "import:lock:%d"

	// Parse result keyed by question fingerprint, answer key fingerprint
	// ("none" without a key) and parser config tag
	RedisKeyParseResult = "import:result:%s:%s:%s"
)

// StatusProgress maps a pipeline state to a coarse percentage
func StatusProgress(s ImportStatus) int {
	switch s {
	case ImportStatusReceived:
		return 0
	case ImportStatusExtracting:
		return 10
	case ImportStatusReconstructing:
		return 30
	case ImportStatusSegmenting:
		return 50
	case ImportStatusNormalizing:
		return 65
	case ImportStatusMatchingAnswers:
		return 80
	case ImportStatusBuilding:
		return 90
	case ImportStatusDone, ImportStatusFailed:
		return 100
	}
	return 0
}
