package imports

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/upsc-prep-api/model"
	"github.com/sahilchouksey/upsc-prep-api/services"
	"github.com/sahilchouksey/upsc-prep-api/services/paperparser"
	"github.com/sahilchouksey/upsc-prep-api/services/paperparser/pdftest"
	"github.com/sahilchouksey/upsc-prep-api/utils/auth"
	"github.com/sahilchouksey/upsc-prep-api/utils/pdfvalidation"
)

type fakeService struct {
	imports   map[uint]*model.QuestionImport
	jobs      map[uint]*model.ImportJob
	createErr error
	lastReq   services.CreateImportRequest
	lastKey   []byte
}

func newFakeService() *fakeService {
	return &fakeService{
		imports: map[uint]*model.QuestionImport{
			1: {ID: 1, UserID: 10, Title: "Owned by 10", Status: model.ImportStatusDone, TotalQuestions: 2},
			2: {ID: 2, UserID: 20, Title: "Owned by 20", Status: model.ImportStatusFailed, FailureKind: "no_questions_found"},
		},
		jobs: map[uint]*model.ImportJob{
			1: {ImportID: 1, Status: model.ImportStatusDone, Progress: 100, Seq: 8},
			2: {ImportID: 2, Status: model.ImportStatusFailed, Progress: 100, Seq: 3, FailureKind: "no_questions_found", FailureReason: "no question numbering found"},
		},
	}
}

func (f *fakeService) CreateImport(_ context.Context, req services.CreateImportRequest, _, key []byte, userID uint) (*model.QuestionImport, error) {
	f.lastReq = req
	f.lastKey = key
	imp := &model.QuestionImport{ID: 99, UserID: userID, Title: req.Title, Status: model.ImportStatusDone}
	if req.Async {
		imp.Status = model.ImportStatusReceived
	}
	if f.createErr != nil {
		imp.Status = model.ImportStatusFailed
		return imp, f.createErr
	}
	return imp, nil
}

func (f *fakeService) GetImport(_ context.Context, id uint) (*model.QuestionImport, error) {
	imp, ok := f.imports[id]
	if !ok {
		return nil, services.ErrImportNotFound
	}
	return imp, nil
}

func (f *fakeService) ListImports(_ context.Context, userID uint, _ model.ImportStatus, _, _ int) ([]model.QuestionImport, int64, error) {
	var out []model.QuestionImport
	for _, id := range []uint{1, 2} {
		imp := f.imports[id]
		if userID == 0 || imp.UserID == userID {
			out = append(out, *imp)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeService) ListQuestions(_ context.Context, id uint, _ bool) ([]model.ImportedQuestion, error) {
	if f.imports[id].Status != model.ImportStatusDone {
		return nil, services.ErrImportNotReady
	}
	answer := "B"
	return []model.ImportedQuestion{
		{ImportID: id, QuestionNumber: 1, QuestionText: "Capital of India?", Options: []byte(`{"A":"Mumbai","B":"Delhi"}`), CorrectAnswer: &answer, IsValid: true},
	}, nil
}

func (f *fakeService) GetStatus(_ context.Context, id uint) (*model.ImportJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, services.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeService) Reparse(_ context.Context, id uint, _ bool) (*model.QuestionImport, error) {
	if id == 2 {
		return nil, services.ErrNotArchived
	}
	return f.imports[id], nil
}

func (f *fakeService) DeleteImport(_ context.Context, id uint) error {
	if _, ok := f.imports[id]; !ok {
		return services.ErrImportNotFound
	}
	delete(f.imports, id)
	return nil
}

func newTestApp(svc *fakeService) *fiber.App {
	h := NewImportHandler(svc, pdfvalidation.QuestionPaperLimits, pdfvalidation.AnswerKeyLimits.WithMax(1, 0))
	h.pollInterval = 10 * time.Millisecond

	app := fiber.New()
	// Stand-in for the JWT middleware
	app.Use(func(c *fiber.Ctx) error {
		if id := c.Get("X-Test-User"); id != "" {
			n, _ := strconv.Atoi(id)
			c.Locals("user_id", uint(n))
			c.Locals("user_role", c.Get("X-Test-Role", auth.RoleEditor))
		}
		return c.Next()
	})
	g := app.Group("/imports")
	g.Post("/", h.CreateImport)
	g.Get("/", h.ListImports)
	g.Get("/:id", h.GetImport)
	g.Get("/:id/status", h.GetStatus)
	g.Get("/:id/stream", h.StreamStatus)
	g.Get("/:id/questions", h.ListQuestions)
	g.Post("/:id/reparse", h.Reparse)
	g.Delete("/:id", h.DeleteImport)
	return app
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func send(t *testing.T, app *fiber.App, req *http.Request, user uint, role string) (int, envelope, string) {
	t.Helper()
	if user != 0 {
		req.Header.Set("X-Test-User", strconv.Itoa(int(user)))
	}
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	body, _ := io.ReadAll(resp.Body)
	var env envelope
	_ = json.Unmarshal(body, &env)
	return resp.StatusCode, env, string(body)
}

func uploadRequest(t *testing.T, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for name, data := range files {
		fw, err := w.CreateFormFile(name, name+".pdf")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/imports/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestCreateImport(t *testing.T) {
	paper := pdftest.Build(pdftest.Column(72, pdftest.PaperLines(2)...))
	key := pdftest.Build(pdftest.Column(72, pdftest.AnswerKey(2)...))

	tests := []struct {
		name       string
		fields     map[string]string
		files      map[string][]byte
		createErr  error
		user       uint
		wantStatus int
		wantCode   string
	}{
		{"sync", map[string]string{"title": "GS Paper 1", "exam_year": "2023"}, map[string][]byte{"question_pdf": paper, "answer_key_pdf": key}, nil, 10, http.StatusCreated, ""},
		{"async", map[string]string{"title": "GS Paper 1", "async": "true"}, map[string][]byte{"question_pdf": paper}, nil, 10, http.StatusAccepted, ""},
		{"missing paper", map[string]string{"title": "GS Paper 1"}, nil, nil, 10, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"bad year", map[string]string{"title": "GS Paper 1", "exam_year": "soon"}, map[string][]byte{"question_pdf": paper}, nil, 10, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"garbage reaches the pipeline", map[string]string{"title": "GS Paper 1"}, map[string][]byte{"question_pdf": []byte("not a pdf")}, &paperparser.UnreadablePDFError{Document: paperparser.DocumentQuestionPaper, Reason: "missing header"}, 10, http.StatusUnprocessableEntity, "UNREADABLE_PDF"},
		{"no questions", map[string]string{"title": "GS Paper 1"}, map[string][]byte{"question_pdf": paper}, &paperparser.NoQuestionsFoundError{}, 10, http.StatusUnprocessableEntity, "NO_QUESTIONS_FOUND"},
		{"unauthenticated", nil, map[string][]byte{"question_pdf": paper}, nil, 0, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.createErr = tt.createErr
			app := newTestApp(svc)

			status, env, body := send(t, app, uploadRequest(t, tt.fields, tt.files), tt.user, "")
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", status, tt.wantStatus, body)
			}
			if tt.wantCode != "" && (env.Error == nil || env.Error.Code != tt.wantCode) {
				t.Errorf("error code = %+v, want %s", env.Error, tt.wantCode)
			}
		})
	}
}

func TestCreateImportPassesMetadata(t *testing.T) {
	svc := newFakeService()
	app := newTestApp(svc)
	paper := pdftest.Build(pdftest.Column(72, pdftest.PaperLines(1)...))
	key := pdftest.Build(pdftest.Column(72, pdftest.AnswerKey(1)...))

	req := uploadRequest(t, map[string]string{"title": "  CSAT 2022 ", "exam_year": "2022", "paper_code": "CSAT"},
		map[string][]byte{"question_pdf": paper, "answer_key_pdf": key})
	if status, _, body := send(t, app, req, 10, ""); status != http.StatusCreated {
		t.Fatalf("status = %d: %s", status, body)
	}
	if svc.lastReq.ExamYear != 2022 || svc.lastReq.PaperCode != "CSAT" {
		t.Errorf("request = %+v", svc.lastReq)
	}
	if !bytes.Equal(svc.lastKey, key) {
		t.Error("answer key bytes were not passed through")
	}
}

func TestCreateImportRejectsLargeAnswerKey(t *testing.T) {
	app := newTestApp(newFakeService())
	paper := pdftest.Build(pdftest.Column(72, pdftest.PaperLines(1)...))
	huge := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 2*1024*1024)...)

	req := uploadRequest(t, map[string]string{"title": "Big key"}, map[string][]byte{"question_pdf": paper, "answer_key_pdf": huge})
	status, _, body := send(t, app, req, 10, "")
	if status != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413: %s", status, body)
	}
}

func TestImportOwnership(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		user       uint
		role       string
		wantStatus int
		wantCode   string
	}{
		{"owner", "/imports/1", 10, "", http.StatusOK, ""},
		{"other user", "/imports/1", 20, "", http.StatusForbidden, ""},
		{"admin", "/imports/1", 20, auth.RoleAdmin, http.StatusOK, ""},
		{"missing", "/imports/404", 10, "", http.StatusNotFound, ""},
		{"bad id", "/imports/abc", 10, "", http.StatusBadRequest, ""},
		{"status", "/imports/1/status", 10, "", http.StatusOK, ""},
		{"questions", "/imports/1/questions", 10, "", http.StatusOK, ""},
		{"questions of failed import", "/imports/2/questions", 20, "", http.StatusConflict, "IMPORT_NOT_READY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(newFakeService())
			status, env, body := send(t, app, httptest.NewRequest(http.MethodGet, tt.path, nil), tt.user, tt.role)
			if status != tt.wantStatus {
				t.Errorf("GET %s = %d, want %d: %s", tt.path, status, tt.wantStatus, body)
			}
			if tt.wantCode != "" && (env.Error == nil || env.Error.Code != tt.wantCode) {
				t.Errorf("GET %s error = %+v, want code %s", tt.path, env.Error, tt.wantCode)
			}
		})
	}
}

func TestListImportsScopesToUser(t *testing.T) {
	app := newTestApp(newFakeService())

	count := func(role string) int {
		_, env, body := send(t, app, httptest.NewRequest(http.MethodGet, "/imports/", nil), 10, role)
		var items []model.QuestionImportResponse
		if err := json.Unmarshal(env.Data, &items); err != nil {
			t.Fatalf("decode: %v: %s", err, body)
		}
		return len(items)
	}
	if n := count(""); n != 1 {
		t.Errorf("editor sees %d imports, want 1", n)
	}
	if n := count(auth.RoleAdmin); n != 2 {
		t.Errorf("admin sees %d imports, want 2", n)
	}
}

func TestListQuestionsResponse(t *testing.T) {
	app := newTestApp(newFakeService())
	_, env, body := send(t, app, httptest.NewRequest(http.MethodGet, "/imports/1/questions", nil), 10, "")

	var data struct {
		Questions []model.ImportedQuestionResponse `json:"questions"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v: %s", err, body)
	}
	if len(data.Questions) != 1 || data.Questions[0].Options["B"] != "Delhi" {
		t.Errorf("questions = %+v", data.Questions)
	}
}

func TestReparseAndDelete(t *testing.T) {
	svc := newFakeService()
	app := newTestApp(svc)

	if status, _, body := send(t, app, httptest.NewRequest(http.MethodPost, "/imports/1/reparse", nil), 10, ""); status != http.StatusOK {
		t.Errorf("reparse = %d: %s", status, body)
	}
	status, env, _ := send(t, app, httptest.NewRequest(http.MethodPost, "/imports/2/reparse", nil), 20, "")
	if status != http.StatusConflict || env.Error == nil || env.Error.Code != "NOT_ARCHIVED" {
		t.Errorf("reparse without archive = %d %+v", status, env.Error)
	}

	if status, _, _ := send(t, app, httptest.NewRequest(http.MethodDelete, "/imports/1", nil), 1, auth.RoleAdmin); status != http.StatusOK {
		t.Errorf("delete = %d", status)
	}
	if status, _, _ := send(t, app, httptest.NewRequest(http.MethodDelete, "/imports/1", nil), 1, auth.RoleAdmin); status != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", status)
	}
}

func TestStreamStatus(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		user     uint
		wantLast string
	}{
		{"done", "/imports/1/stream", 10, "event: complete"},
		{"failed", "/imports/2/stream", 20, "event: failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(newFakeService())
			status, _, body := send(t, app, httptest.NewRequest(http.MethodGet, tt.path, nil), tt.user, "")
			if status != http.StatusOK {
				t.Fatalf("status = %d", status)
			}
			if !strings.Contains(body, "event: state\n") {
				t.Errorf("stream has no state event:\n%s", body)
			}
			if !strings.Contains(body, tt.wantLast) {
				t.Errorf("stream does not end with %q:\n%s", tt.wantLast, body)
			}
		})
	}
}
