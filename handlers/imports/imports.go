package imports

import (
	"context"
	"errors"
	"mime/multipart"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sahilchouksey/upsc-prep-api/model"
	"github.com/sahilchouksey/upsc-prep-api/services"
	"github.com/sahilchouksey/upsc-prep-api/services/paperparser"
	"github.com/sahilchouksey/upsc-prep-api/utils/auth"
	"github.com/sahilchouksey/upsc-prep-api/utils/logger"
	"github.com/sahilchouksey/upsc-prep-api/utils/middleware"
	"github.com/sahilchouksey/upsc-prep-api/utils/pdfvalidation"
	"github.com/sahilchouksey/upsc-prep-api/utils/response"
	"github.com/sahilchouksey/upsc-prep-api/utils/validation"
	"go.uber.org/zap"
)

// ImportService is what the handler needs from services.ImportService
type ImportService interface {
	CreateImport(ctx context.Context, req services.CreateImportRequest, questionPDF, answerKeyPDF []byte, userID uint) (*model.QuestionImport, error)
	GetImport(ctx context.Context, id uint) (*model.QuestionImport, error)
	ListImports(ctx context.Context, userID uint, status model.ImportStatus, page, limit int) ([]model.QuestionImport, int64, error)
	ListQuestions(ctx context.Context, id uint, onlyInvalid bool) ([]model.ImportedQuestion, error)
	GetStatus(ctx context.Context, id uint) (*model.ImportJob, error)
	Reparse(ctx context.Context, id uint, async bool) (*model.QuestionImport, error)
	DeleteImport(ctx context.Context, id uint) error
}

// ImportHandler handles question paper import endpoints
type ImportHandler struct {
	service         ImportService
	questionLimits  pdfvalidation.PDFLimits
	answerKeyLimits pdfvalidation.PDFLimits

	pollInterval      time.Duration
	keepAliveInterval time.Duration
	maxStream         time.Duration
}

// NewImportHandler creates a new import handler
func NewImportHandler(service ImportService, questionLimits, answerKeyLimits pdfvalidation.PDFLimits) *ImportHandler {
	return &ImportHandler{
		service:           service,
		questionLimits:    questionLimits,
		answerKeyLimits:   answerKeyLimits,
		pollInterval:      500 * time.Millisecond,
		keepAliveInterval: 15 * time.Second,
		maxStream:         10 * time.Minute,
	}
}

// CreateImport handles POST /api/v1/imports
// Multipart fields: question_pdf (required), answer_key_pdf, title, exam_year, paper_code, async
func (h *ImportHandler) CreateImport(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	questionFile, err := c.FormFile("question_pdf")
	if err != nil {
		return response.ValidationError(c, map[string]string{"question_pdf": "This field is required"})
	}
	questionPDF, ok, err := h.readUpload(c, questionFile, h.questionLimits)
	if !ok {
		return err
	}

	var answerKeyPDF []byte
	if keyFile, ferr := c.FormFile("answer_key_pdf"); ferr == nil {
		answerKeyPDF, ok, err = h.readUpload(c, keyFile, h.answerKeyLimits)
		if !ok {
			return err
		}
	}

	req := services.CreateImportRequest{
		Title:     utils.CopyString(c.FormValue("title")),
		PaperCode: utils.CopyString(c.FormValue("paper_code")),
		Async:     c.FormValue("async") == "true" || c.Query("async") == "true",
	}
	if year := c.FormValue("exam_year"); year != "" {
		req.ExamYear, err = strconv.Atoi(year)
		if err != nil {
			return response.ValidationError(c, map[string]string{"exam_year": "Must be a year"})
		}
	}

	imp, err := h.service.CreateImport(c.Context(), req, questionPDF, answerKeyPDF, userID)
	if err != nil {
		return writeImportError(c, imp, err)
	}

	if req.Async {
		c.Set(fiber.HeaderLocation, "/api/v1/imports/"+strconv.FormatUint(uint64(imp.ID), 10)+"/status")
		return response.Accepted(c, "Import queued", imp.ToResponse())
	}
	return response.Created(c, "Import completed", imp.ToResponse())
}

// readUpload reads one uploaded PDF. When ok is false the rejection has been
// written and err is the result of writing it.
func (h *ImportHandler) readUpload(c *fiber.Ctx, file *multipart.FileHeader, limits pdfvalidation.PDFLimits) (content []byte, ok bool, err error) {
	content, result, err := pdfvalidation.ReadPDFFile(file, limits)
	if err != nil {
		logger.Log.Error("failed to read upload", zap.String("file", file.Filename), zap.Error(err))
		return nil, false, response.InternalServerError(c, "Failed to read uploaded file")
	}
	if result.Valid || result.Unreadable {
		return content, true, nil
	}
	if result.FileSize > int64(limits.MaxFileSizeMB)*1024*1024 {
		return nil, false, response.PayloadTooLarge(c, result.Error)
	}
	return nil, false, response.ErrorWithDetails(c, fiber.StatusBadRequest, result.Error, "INVALID_UPLOAD", fiber.Map{
		"document": limits.DocumentTypeName,
		"pages":    result.PageCount,
	})
}

// ListImports handles GET /api/v1/imports
// Admins see every import, other users their own.
func (h *ImportHandler) ListImports(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}
	if isAdmin(c) {
		userID = 0
	}

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)
	status := model.ImportStatus(c.Query("status"))

	imports, total, err := h.service.ListImports(c.Context(), userID, status, page, limit)
	if err != nil {
		logger.Log.Error("failed to list imports", zap.Error(err))
		return response.InternalServerError(c, "Failed to fetch imports")
	}

	out := make([]model.QuestionImportResponse, len(imports))
	for i := range imports {
		out[i] = imports[i].ToResponse()
	}
	return response.Paginated(c, out, response.CalculatePagination(page, limit, total))
}

// GetImport handles GET /api/v1/imports/:id
func (h *ImportHandler) GetImport(c *fiber.Ctx) error {
	imp, ok, err := h.ownedImport(c)
	if !ok {
		return err
	}
	return response.Success(c, imp.ToResponse())
}

// GetStatus handles GET /api/v1/imports/:id/status
func (h *ImportHandler) GetStatus(c *fiber.Ctx) error {
	imp, ok, err := h.ownedImport(c)
	if !ok {
		return err
	}
	job, err := h.service.GetStatus(c.Context(), imp.ID)
	if err != nil {
		return writeImportError(c, nil, err)
	}
	return response.Success(c, job)
}

// ListQuestions handles GET /api/v1/imports/:id/questions?invalid=true
func (h *ImportHandler) ListQuestions(c *fiber.Ctx) error {
	imp, ok, err := h.ownedImport(c)
	if !ok {
		return err
	}
	questions, err := h.service.ListQuestions(c.Context(), imp.ID, c.QueryBool("invalid", false))
	if err != nil {
		return writeImportError(c, imp, err)
	}

	out := make([]model.ImportedQuestionResponse, len(questions))
	for i := range questions {
		out[i] = questions[i].ToResponse()
	}
	return response.Success(c, fiber.Map{
		"import":    imp.ToResponse(),
		"questions": out,
	})
}

// Reparse handles POST /api/v1/imports/:id/reparse
func (h *ImportHandler) Reparse(c *fiber.Ctx) error {
	imp, ok, err := h.ownedImport(c)
	if !ok {
		return err
	}
	async := c.QueryBool("async", false)

	imp, err = h.service.Reparse(c.Context(), imp.ID, async)
	if err != nil {
		return writeImportError(c, imp, err)
	}
	if async {
		return response.Accepted(c, "Reparse queued", imp.ToResponse())
	}
	return response.SuccessWithMessage(c, "Import reparsed", imp.ToResponse())
}

// DeleteImport handles DELETE /api/v1/imports/:id (admin only)
func (h *ImportHandler) DeleteImport(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid import ID")
	}
	if err := h.service.DeleteImport(c.Context(), id); err != nil {
		return writeImportError(c, nil, err)
	}
	return response.SuccessWithMessage(c, "Import deleted", nil)
}

// ownedImport loads the :id import and checks the caller may see it.
// When ok is false the response has been written.
func (h *ImportHandler) ownedImport(c *fiber.Ctx) (imp *model.QuestionImport, ok bool, err error) {
	userID, found := middleware.GetUserID(c)
	if !found {
		return nil, false, response.Unauthorized(c, "User not authenticated")
	}
	id, err := parseID(c)
	if err != nil {
		return nil, false, response.BadRequest(c, "Invalid import ID")
	}

	imp, err = h.service.GetImport(c.Context(), id)
	if err != nil {
		return nil, false, writeImportError(c, nil, err)
	}
	if imp.UserID != userID && !isAdmin(c) {
		return nil, false, response.Forbidden(c, "You don't have permission to access this import")
	}
	return imp, true, nil
}

func parseID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}

func isAdmin(c *fiber.Ctx) bool {
	role, _ := middleware.GetUserRole(c)
	return role == auth.RoleAdmin
}

// writeImportError maps service errors to responses. imp, when present, is
// returned as details so clients can follow a failed import.
func writeImportError(c *fiber.Ctx, imp *model.QuestionImport, err error) error {
	var details interface{}
	if imp != nil && imp.ID != 0 {
		details = imp.ToResponse()
	}

	var verrs validator.ValidationErrors
	var invalid *services.InvalidUploadError
	switch {
	case errors.As(err, &verrs):
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	case errors.As(err, &invalid):
		return response.ErrorWithDetails(c, fiber.StatusBadRequest, invalid.Error(), "INVALID_UPLOAD", fiber.Map{"document": invalid.Document})
	case errors.Is(err, paperparser.ErrUnreadablePDF):
		return response.Unprocessable(c, "UNREADABLE_PDF", err.Error(), details)
	case errors.Is(err, paperparser.ErrNoQuestionsFound):
		return response.Unprocessable(c, "NO_QUESTIONS_FOUND", err.Error(), details)
	case errors.Is(err, services.ErrImportNotFound):
		return response.NotFound(c, "Import not found")
	case errors.Is(err, services.ErrImportInProgress):
		return response.Conflict(c, "IMPORT_IN_PROGRESS", err.Error())
	case errors.Is(err, services.ErrImportNotReady):
		return response.Conflict(c, "IMPORT_NOT_READY", err.Error())
	case errors.Is(err, services.ErrNotArchived):
		return response.Conflict(c, "NOT_ARCHIVED", err.Error())
	case errors.Is(err, services.ErrJobNotFound):
		return response.NotFound(c, "Import job not found")
	case errors.Is(err, context.DeadlineExceeded):
		return response.ErrorWithDetails(c, fiber.StatusGatewayTimeout, "Parsing timed out", "IMPORT_TIMEOUT", details)
	}

	logger.Log.Error("import request failed", zap.Error(err))
	if details != nil {
		return response.ErrorWithDetails(c, fiber.StatusInternalServerError, "Import failed", "IMPORT_FAILED", details)
	}
	return response.InternalServerError(c, "Failed to process import")
}
