package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"ticketing-import/internal/config"
	"ticketing-import/internal/middleware"
	"ticketing-import/internal/models"
	"ticketing-import/internal/service"
	"ticketing-import/internal/utils"
	"ticketing-import/internal/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/xuri/excelize/v2"
)

const testReportID = "6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f"

type fakeReports struct {
	reports  map[string]*models.WeeklyReport
	created  []models.CreateWeeklyReportPayload
	createFn func(models.CreateWeeklyReportPayload) error
	progress *models.ImportProgress
	list     *models.WeeklyReportList
	filters  models.WeeklyReportFilters
}

func (f *fakeReports) CreateWeeklyReport(ctx context.Context, payload models.CreateWeeklyReportPayload) (*models.WeeklyReport, error) {
	f.created = append(f.created, payload)
	if f.createFn != nil {
		if err := f.createFn(payload); err != nil {
			return nil, err
		}
	}
	return &models.WeeklyReport{
		ID:         testReportID,
		ReportUID:  fmt.Sprintf("WR%d-W%d", payload.Year, payload.WeekNumber),
		WeekNumber: payload.WeekNumber,
		Year:       payload.Year,
		FilePath:   payload.FilePath,
		ImportedBy: payload.ImportedBy,
		Status:     models.ReportStatusPending,
	}, nil
}

func (f *fakeReports) GetWeeklyReportByID(ctx context.Context, id string) (*models.WeeklyReport, error) {
	report, ok := f.reports[id]
	if !ok {
		return nil, models.ErrReportNotFound
	}
	return report, nil
}

func (f *fakeReports) GetImportProgress(ctx context.Context, reportID string) (*models.ImportProgress, error) {
	if _, ok := f.reports[reportID]; !ok {
		return nil, models.ErrReportNotFound
	}
	return f.progress, nil
}

func (f *fakeReports) ListWeeklyReports(ctx context.Context, filters models.WeeklyReportFilters) (*models.WeeklyReportList, error) {
	f.filters = filters
	return f.list, nil
}

func (f *fakeReports) GetWeeklyReportStats(ctx context.Context) (*models.WeeklyReportStats, error) {
	return &models.WeeklyReportStats{TotalImports: len(f.reports)}, nil
}

func (f *fakeReports) IsRunActive(report *models.WeeklyReport) bool {
	return report.RunActive(time.Now(), service.DefaultStaleImportAfter)
}

type fakeRunner struct {
	calls int
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, reportID, actorID string) (*models.ImportProcessResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.ImportProcessResult{ReportID: reportID, Status: models.ReportStatusCompleted, TotalRows: 2, ImportedCount: 2}, nil
}

type fakeQueue struct {
	tasks []*asynq.Task
}

func (f *fakeQueue) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "job-1", Type: task.Type()}, nil
}

type fakeCache struct {
	snapshot *models.ImportProgress
}

func (f *fakeCache) Latest(ctx context.Context, reportID string) (*models.ImportProgress, error) {
	return f.snapshot, nil
}

type testDeps struct {
	reports *fakeReports
	runner  *fakeRunner
	queue   TaskEnqueuer
	cache   ProgressCache
	cfg     *config.Config
}

func newDeps(t *testing.T) *testDeps {
	return &testDeps{
		reports: &fakeReports{reports: map[string]*models.WeeklyReport{}},
		runner:  &fakeRunner{},
		cfg: &config.Config{
			UploadMaxSize:        1 << 20,
			UploadPath:           t.TempDir(),
			ExportPath:           t.TempDir(),
			ImportSampleSize:     5,
			ImportDuplicateField: models.FieldTicketUID,
		},
	}
}

func (d *testDeps) app() *fiber.App {
	h := NewWeeklyImportHandler(d.reports, d.runner, service.NewExcelService(), d.queue, d.cache, d.cfg, utils.NewLogger("panic", io.Discard))

	app := fiber.New()
	weekly := app.Group("/weekly", func(c *fiber.Ctx) error {
		c.Locals(middleware.LocalActorID, "user-1")
		return c.Next()
	})
	weekly.Post("/", h.UploadWeeklyReport)
	weekly.Get("/history", h.ListReports)
	weekly.Get("/history/export", h.ExportHistory)
	weekly.Get("/stats", h.GetStats)
	weekly.Get("/template", h.DownloadTemplate)
	weekly.Get("/:id", h.GetReport)
	weekly.Get("/:id/progress", h.GetProgress)
	weekly.Get("/:id/errors/export", h.ExportErrors)
	weekly.Post("/:id/import", h.StartImport)
	return app
}

func workbook(t *testing.T, rows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for r, row := range rows {
		if err := f.SetSheetRow("Sheet1", fmt.Sprintf("A%d", r+1), &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write(content)
	mw.Close()

	req := httptest.NewRequest("POST", "/weekly/", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  []string        `json:"errors"`
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, envelope) {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var env envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp, env
}

var weeklyRows = [][]string{
	{"Ticket ID", "Title", "Type", "Priority"},
	{"FT000001", "Fibre break", "maintenance", "high"},
	{"FT000001", "Duplicate of first", "maintenance", ""},
	{"FT000003", "", "incident", ""},
}

func TestUploadWeeklyReport_CreatesPendingReport(t *testing.T) {
	d := newDeps(t)
	req := uploadRequest(t, "week10.xlsx", workbook(t, weeklyRows), map[string]string{
		"week_number": "10",
		"year":        "2024",
		"report_date": "2024-03-08",
	})

	resp, env := do(t, d.app(), req)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d (%s)", resp.StatusCode, env.Message)
	}

	if len(d.reports.created) != 1 {
		t.Fatalf("expected one report to be created")
	}
	payload := d.reports.created[0]
	if payload.WeekNumber != 10 || payload.Year != 2024 || payload.ImportedBy != "user-1" || payload.OriginalFilename != "week10.xlsx" {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if _, err := os.Stat(payload.FilePath); err != nil {
		t.Errorf("upload not stored: %v", err)
	}

	var data struct {
		Preview models.ImportPreviewResult `json:"preview"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Preview.TotalRows != 3 || data.Preview.ValidRows != 2 || data.Preview.InvalidRows != 1 {
		t.Errorf("preview counts = %d/%d/%d", data.Preview.TotalRows, data.Preview.ValidRows, data.Preview.InvalidRows)
	}
	foundDuplicate := false
	for _, e := range data.Preview.ValidationErrors {
		if e.Severity == models.SeverityWarning && strings.Contains(e.Message, "FT000001") {
			foundDuplicate = true
		}
	}
	if !foundDuplicate {
		t.Errorf("duplicate ticket id not reported: %+v", data.Preview.ValidationErrors)
	}
}

func TestUploadWeeklyReport_DefaultsToISOWeek(t *testing.T) {
	d := newDeps(t)
	req := uploadRequest(t, "week.xlsx", workbook(t, weeklyRows), map[string]string{"report_date": "2021-01-03"})

	resp, env := do(t, d.app(), req)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d (%s)", resp.StatusCode, env.Message)
	}
	if got := d.reports.created[0]; got.WeekNumber != 53 || got.Year != 2020 {
		t.Errorf("period = W%d/%d, want W53/2020", got.WeekNumber, got.Year)
	}
}

func TestUploadWeeklyReport_Rejections(t *testing.T) {
	headersOnly := workbook(t, [][]string{{"Ticket ID", "Title", "Type"}})
	noValid := workbook(t, [][]string{{"Ticket ID", "Title", "Type"}, {"FT1", "", ""}})

	cases := []struct {
		name     string
		filename string
		content  []byte
		fields   map[string]string
		status   int
	}{
		{"wrong extension", "week.pdf", []byte("%PDF"), nil, fiber.StatusBadRequest},
		{"bad week number", "week.xlsx", workbook(t, weeklyRows), map[string]string{"week_number": "ten"}, fiber.StatusBadRequest},
		{"bad report date", "week.xlsx", workbook(t, weeklyRows), map[string]string{"report_date": "08/03/2024"}, fiber.StatusBadRequest},
		{"headers only", "week.xlsx", headersOnly, nil, fiber.StatusBadRequest},
		{"no valid rows", "week.xlsx", noValid, nil, fiber.StatusUnprocessableEntity},
	}

	for _, tc := range cases {
		d := newDeps(t)
		resp, _ := do(t, d.app(), uploadRequest(t, tc.filename, tc.content, tc.fields))
		if resp.StatusCode != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.status)
		}
		if len(d.reports.created) != 0 {
			t.Errorf("%s: report should not be created", tc.name)
		}
	}
}

func TestUploadWeeklyReport_InvalidPayloadRemovesFile(t *testing.T) {
	d := newDeps(t)
	d.reports.createFn = func(models.CreateWeeklyReportPayload) error {
		return fmt.Errorf("%w: week_number must be between 1 and 53", service.ErrInvalidPayload)
	}

	req := uploadRequest(t, "week.xlsx", workbook(t, weeklyRows), map[string]string{"week_number": "60", "year": "2024"})
	resp, env := do(t, d.app(), req)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d (%s)", resp.StatusCode, env.Message)
	}

	entries, err := os.ReadDir(d.cfg.UploadPath)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("orphaned upload left behind: %d files", len(entries))
	}
}

func TestStartImport_Inline(t *testing.T) {
	d := newDeps(t)
	d.reports.reports[testReportID] = &models.WeeklyReport{ID: testReportID, Status: models.ReportStatusPending}

	resp, env := do(t, d.app(), httptest.NewRequest("POST", "/weekly/"+testReportID+"/import", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d (%s)", resp.StatusCode, env.Message)
	}
	if d.runner.calls != 1 {
		t.Errorf("runner calls = %d", d.runner.calls)
	}
}

func TestStartImport_Queued(t *testing.T) {
	d := newDeps(t)
	queue := &fakeQueue{}
	d.queue = queue
	d.reports.reports[testReportID] = &models.WeeklyReport{ID: testReportID, Status: models.ReportStatusFailed}

	resp, _ := do(t, d.app(), httptest.NewRequest("POST", "/weekly/"+testReportID+"/import", nil))
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(queue.tasks) != 1 || queue.tasks[0].Type() != worker.TypeWeeklyReportImport {
		t.Fatalf("expected one import task, got %d", len(queue.tasks))
	}

	var payload worker.ImportTaskPayload
	if err := json.Unmarshal(queue.tasks[0].Payload(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ReportID != testReportID || payload.ActorID != "user-1" {
		t.Errorf("payload = %+v", payload)
	}
	if d.runner.calls != 0 {
		t.Errorf("queued import should not run inline")
	}
}

func TestStartImport_Errors(t *testing.T) {
	recent := time.Now().Add(-time.Minute)
	cases := []struct {
		name    string
		status  models.WeeklyReportStatus
		started *time.Time
		runErr  error
		want    int
	}{
		{"processing", models.ReportStatusProcessing, &recent, nil, fiber.StatusConflict},
		{"completed", models.ReportStatusCompleted, nil, nil, fiber.StatusConflict},
		{"raced", models.ReportStatusPending, nil, models.ErrReportInProgress, fiber.StatusConflict},
		{"no rows", models.ReportStatusPending, nil, models.ErrNoImportRows, fiber.StatusUnprocessableEntity},
		{"unreadable file", models.ReportStatusPending, nil, errors.New("failed to read uploaded file"), fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		d := newDeps(t)
		d.runner.err = tc.runErr
		d.reports.reports[testReportID] = &models.WeeklyReport{ID: testReportID, Status: tc.status, ProcessingStartedAt: tc.started}

		resp, _ := do(t, d.app(), httptest.NewRequest("POST", "/weekly/"+testReportID+"/import", nil))
		if resp.StatusCode != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}

	d := newDeps(t)
	resp, _ := do(t, d.app(), httptest.NewRequest("POST", "/weekly/"+testReportID+"/import", nil))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("missing report: status = %d", resp.StatusCode)
	}
}

func TestStartImport_RestartsStaleRun(t *testing.T) {
	d := newDeps(t)
	started := time.Now().Add(-3 * time.Hour)
	d.reports.reports[testReportID] = &models.WeeklyReport{ID: testReportID, Status: models.ReportStatusProcessing, ProcessingStartedAt: &started}

	resp, env := do(t, d.app(), httptest.NewRequest("POST", "/weekly/"+testReportID+"/import", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d (%s)", resp.StatusCode, env.Message)
	}
	if d.runner.calls != 1 {
		t.Errorf("runner calls = %d", d.runner.calls)
	}
}

func TestGetProgress_PrefersCachedSnapshot(t *testing.T) {
	d := newDeps(t)
	d.reports.reports[testReportID] = &models.WeeklyReport{ID: testReportID, Status: models.ReportStatusProcessing}
	d.reports.progress = &models.ImportProgress{ReportID: testReportID, TotalRows: 25, ProcessedRows: 10}
	d.cache = &fakeCache{snapshot: &models.ImportProgress{ReportID: testReportID, TotalRows: 25, ProcessedRows: 20}}

	_, env := do(t, d.app(), httptest.NewRequest("GET", "/weekly/"+testReportID+"/progress", nil))
	var progress models.ImportProgress
	if err := json.Unmarshal(env.Data, &progress); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if progress.ProcessedRows != 20 {
		t.Errorf("processed = %d, want cached 20", progress.ProcessedRows)
	}

	// a finished snapshot defers to the stored counters
	d.cache = &fakeCache{snapshot: &models.ImportProgress{ReportID: testReportID, TotalRows: 25, ProcessedRows: 25}}
	_, env = do(t, d.app(), httptest.NewRequest("GET", "/weekly/"+testReportID+"/progress", nil))
	if err := json.Unmarshal(env.Data, &progress); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if progress.ProcessedRows != 10 {
		t.Errorf("processed = %d, want stored 10", progress.ProcessedRows)
	}
}

func TestGetReport_FailedRunIgnoresCachedSnapshot(t *testing.T) {
	d := newDeps(t)
	d.reports.reports[testReportID] = &models.WeeklyReport{ID: testReportID, Status: models.ReportStatusFailed}
	d.reports.progress = &models.ImportProgress{ReportID: testReportID, TotalRows: 20, ProcessedRows: 10}
	d.cache = &fakeCache{snapshot: &models.ImportProgress{
		ReportID:                      testReportID,
		TotalRows:                     20,
		ProcessedRows:                 10,
		EstimatedTimeRemainingSeconds: 42,
	}}

	for _, path := range []string{"/weekly/" + testReportID, "/weekly/" + testReportID + "/progress"} {
		resp, env := do(t, d.app(), httptest.NewRequest("GET", path, nil))
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("%s: status = %d", path, resp.StatusCode)
		}
		raw := env.Data
		if path == "/weekly/"+testReportID {
			var data struct {
				Progress json.RawMessage `json:"progress"`
			}
			if err := json.Unmarshal(env.Data, &data); err != nil {
				t.Fatalf("decode: %v", err)
			}
			raw = data.Progress
		}
		var progress models.ImportProgress
		if err := json.Unmarshal(raw, &progress); err != nil {
			t.Fatalf("%s: decode progress: %v", path, err)
		}
		if progress.EstimatedTimeRemainingSeconds != 0 {
			t.Errorf("%s: eta = %v, want stored progress", path, progress.EstimatedTimeRemainingSeconds)
		}
	}
}

func TestGetReport_NotFound(t *testing.T) {
	d := newDeps(t)
	resp, _ := do(t, d.app(), httptest.NewRequest("GET", "/weekly/"+testReportID, nil))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestListReports_FiltersAndPagination(t *testing.T) {
	d := newDeps(t)
	reports := make([]models.WeeklyReport, 30)
	for i := range reports {
		reports[i] = models.WeeklyReport{ReportUID: fmt.Sprintf("WR2024-W%d", i+1), Status: models.ReportStatusCompleted}
	}
	d.reports.list = &models.WeeklyReportList{Reports: reports, Total: len(reports)}

	req := httptest.NewRequest("GET", "/weekly/history?status=completed,failed&year=2024&imported_after=2024-01-01&page=2&limit=25", nil)
	resp, env := do(t, d.app(), req)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d (%s)", resp.StatusCode, env.Message)
	}

	if len(d.reports.filters.Status) != 2 || d.reports.filters.Year != 2024 || d.reports.filters.ImportedAfter == nil {
		t.Errorf("filters = %+v", d.reports.filters)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if d.reports.filters.ImportedAfter != nil && !d.reports.filters.ImportedAfter.Equal(want) {
		t.Errorf("imported_after = %v", d.reports.filters.ImportedAfter)
	}

	var data struct {
		Reports    []models.WeeklyReport `json:"reports"`
		Pagination utils.PaginationMeta  `json:"pagination"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.Reports) != 5 || data.Reports[0].ReportUID != "WR2024-W26" {
		t.Errorf("page 2 has %d reports", len(data.Reports))
	}
	if data.Pagination.LastPage != 2 || data.Pagination.HasMore {
		t.Errorf("pagination = %+v", data.Pagination)
	}
}

func TestListReports_InvalidStatus(t *testing.T) {
	d := newDeps(t)
	resp, _ := do(t, d.app(), httptest.NewRequest("GET", "/weekly/history?status=archived", nil))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestDownloads(t *testing.T) {
	d := newDeps(t)
	d.reports.reports[testReportID] = &models.WeeklyReport{
		ID:        testReportID,
		ReportUID: "WR2024-W10",
		Errors: models.ImportErrors{
			{RowNumber: 4, ErrorType: models.ImportErrMissingRequiredField, ErrorMessage: "title is required"},
		},
	}
	d.reports.list = &models.WeeklyReportList{Reports: []models.WeeklyReport{*d.reports.reports[testReportID]}, Total: 1}

	for _, path := range []string{"/weekly/template", "/weekly/" + testReportID + "/errors/export", "/weekly/history/export"} {
		resp, _ := do(t, d.app(), httptest.NewRequest("GET", path, nil))
		if resp.StatusCode != fiber.StatusOK {
			t.Errorf("%s: status = %d", path, resp.StatusCode)
			continue
		}
		if !strings.Contains(resp.Header.Get("Content-Disposition"), ".xlsx") {
			t.Errorf("%s: content disposition = %q", path, resp.Header.Get("Content-Disposition"))
		}

		body, _ := io.ReadAll(resp.Body)
		f, err := excelize.OpenReader(bytes.NewReader(body))
		if err != nil {
			t.Errorf("%s: not a workbook: %v", path, err)
			continue
		}
		f.Close()
	}
}
