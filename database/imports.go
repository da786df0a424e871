package database

import (
	"context"
	"time"

	"github.com/sahilchouksey/upsc-prep-api/model"
	"gorm.io/gorm"
)

// ImportFilter narrows ListImports
type ImportFilter struct {
	UserID uint // 0 lists every user's imports
	Status model.ImportStatus
	Page   int
	Limit  int
}

// CreateImport inserts a new import row
func (s *GORMStore) CreateImport(ctx context.Context, imp *model.QuestionImport) error {
	return s.db.WithContext(ctx).Create(imp).Error
}

// GetImport loads an import without its questions
func (s *GORMStore) GetImport(ctx context.Context, id uint) (*model.QuestionImport, error) {
	var imp model.QuestionImport
	if err := s.db.WithContext(ctx).First(&imp, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &imp, nil
}

// ListImports returns one page of imports, newest first, with the total count
func (s *GORMStore) ListImports(ctx context.Context, f ImportFilter) ([]model.QuestionImport, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.QuestionImport{})
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var imports []model.QuestionImport
	err := q.Order("created_at DESC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&imports).Error
	return imports, total, err
}

// UpdateImportStatus records a pipeline state transition
func (s *GORMStore) UpdateImportStatus(ctx context.Context, id uint, status model.ImportStatus) error {
	updates := map[string]interface{}{"status": status}
	if status == model.ImportStatusExtracting {
		updates["started_at"] = time.Now()
	}
	return s.db.WithContext(ctx).
		Model(&model.QuestionImport{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// SetObjectKeys records where the import's PDFs were archived
func (s *GORMStore) SetObjectKeys(ctx context.Context, id uint, questionKey, answerKeyKey string) error {
	return s.db.WithContext(ctx).
		Model(&model.QuestionImport{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"question_object_key":   questionKey,
			"answer_key_object_key": answerKeyKey,
		}).Error
}

// SaveResult replaces the import's questions and stores its summary in one transaction
func (s *GORMStore) SaveResult(ctx context.Context, imp *model.QuestionImport, questions []model.ImportedQuestion) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("import_id = ?", imp.ID).Delete(&model.ImportedQuestion{}).Error; err != nil {
			return err
		}
		for i := range questions {
			questions[i].ImportID = imp.ID
		}
		if len(questions) > 0 {
			if err := tx.CreateInBatches(questions, 200).Error; err != nil {
				return err
			}
		}
		return tx.Model(imp).Select(
			"status", "failure_kind", "failure_reason", "pages", "total_questions",
			"resolved_answers", "unresolved_answers", "invalid_questions",
			"unmatched_key_entries", "answer_key_supplied", "warnings",
			"parse_duration_ms", "from_cache", "completed_at", "updated_at",
		).Updates(imp).Error
	})
}

// MarkFailed stores a terminal failure and drops any questions from an earlier run
func (s *GORMStore) MarkFailed(ctx context.Context, id uint, kind, reason string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("import_id = ?", id).Delete(&model.ImportedQuestion{}).Error; err != nil {
			return err
		}
		return tx.Model(&model.QuestionImport{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":          model.ImportStatusFailed,
				"failure_kind":    kind,
				"failure_reason":  reason,
				"total_questions": 0,
				"completed_at":    now,
			}).Error
	})
}

// ListQuestions returns an import's questions in question order
func (s *GORMStore) ListQuestions(ctx context.Context, importID uint, onlyInvalid bool) ([]model.ImportedQuestion, error) {
	q := s.db.WithContext(ctx).Where("import_id = ?", importID)
	if onlyInvalid {
		q = q.Where("is_valid = ?", false)
	}
	var questions []model.ImportedQuestion
	err := q.Order("question_number ASC").Find(&questions).Error
	return questions, err
}

// DeleteImport removes an import and its questions
func (s *GORMStore) DeleteImport(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("import_id = ?", id).Delete(&model.ImportedQuestion{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.QuestionImport{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// FailStaleImports fails imports stuck in a non-terminal state since before cutoff
func (s *GORMStore) FailStaleImports(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&model.QuestionImport{}).
		Where("status NOT IN ? AND updated_at < ?",
			[]model.ImportStatus{model.ImportStatusDone, model.ImportStatusFailed}, cutoff).
		Updates(map[string]interface{}{
			"status":         model.ImportStatusFailed,
			"failure_kind":   "internal",
			"failure_reason": reason,
			"completed_at":   time.Now(),
		})
	return res.RowsAffected, res.Error
}

// FailedImportsBefore lists failed imports last touched before cutoff
func (s *GORMStore) FailedImportsBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.QuestionImport, error) {
	var imports []model.QuestionImport
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.ImportStatusFailed, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&imports).Error
	return imports, err
}

// RecordMaintenanceRun creates or updates a maintenance log row
func (s *GORMStore) RecordMaintenanceRun(ctx context.Context, run *model.MaintenanceRun) error {
	return s.db.WithContext(ctx).Save(run).Error
}
