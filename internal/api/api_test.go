package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/credittwin/internal/bus"
	"github.com/opensource-finance/credittwin/internal/cache"
	"github.com/opensource-finance/credittwin/internal/domain"
	"github.com/opensource-finance/credittwin/internal/engine"
	"github.com/opensource-finance/credittwin/internal/index"
	"github.com/opensource-finance/credittwin/internal/ingest"
	"github.com/opensource-finance/credittwin/internal/repository"
	"github.com/opensource-finance/credittwin/internal/rules"
	"github.com/opensource-finance/credittwin/internal/storage"
)

type testEnv struct {
	server     *Server
	repo       domain.Repository
	archiveDir string
}

// createTestServer wires a community-tier stack on a temp SQLite file.
func createTestServer(t *testing.T) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "credittwin-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	idx := index.NewMemoryIndex()
	re, err := rules.NewEngine(nil, 2)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	if err := re.LoadRules(rules.BuiltinRules()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	archiveDir := t.TempDir()
	archive, err := storage.NewLocalStorage(archiveDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	cfg := domain.DefaultConfig()
	evaluator := engine.New(idx, cfg.Engine, cfg.Policy,
		engine.WithRules(re, 0),
		engine.WithRepository(repo),
		engine.WithEventBus(eventBus),
		engine.WithVersion("test-v1"),
	)

	server := NewServer(cfg.Server, Deps{
		Repo:      repo,
		Cache:     cache.NewLRUCache(100),
		Bus:       eventBus,
		Index:     idx,
		Evaluator: evaluator,
		Corpus:    ingest.NewService(repo, idx, ingest.WithEventBus(eventBus), ingest.WithSeed(42)),
		Archive:   archive,
		Version:   "test-v1",
	})
	t.Cleanup(func() { server.Shutdown(context.Background()) })

	return &testEnv{server: server, repo: repo, archiveDir: archiveDir}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
}

func applicationBody(applicantID string) []byte {
	body, _ := json.Marshal(domain.ApplicationRecord{
		RequestedAmount: domain.Float(12000),
		AnnualIncome:    domain.Float(68000),
		DTI:             domain.Float(14),
		FICO:            domain.Float(715),
		ApplicantID:     applicantID,
	})
	return body
}

func TestEvaluateEndpoint(t *testing.T) {
	env := createTestServer(t)

	if rr := env.do(t, http.MethodPost, "/data/reset?count=300", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var decision domain.Decision

	t.Run("SuccessfulEvaluation", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/evaluate", applicationBody("applicant-42"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		decode(t, rr, &decision)

		if decision.ID == "" {
			t.Error("expected decision id")
		}
		if decision.Verdict == "" {
			t.Error("expected a verdict")
		}
		if decision.Explanation == "" {
			t.Error("expected an explanation")
		}
		if decision.Metadata["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %v", decision.Metadata["version"])
		}
		if decision.Metadata["trace_id"] == "" {
			t.Error("expected trace_id in metadata")
		}
	})

	t.Run("GetDecision", func(t *testing.T) {
		for range 2 {
			rr := env.do(t, http.MethodGet, "/decisions/"+decision.ID, nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}
			var rec domain.DecisionRecord
			decode(t, rr, &rec)
			if rec.Decision == nil || rec.Decision.ID != decision.ID {
				t.Errorf("expected decision %s, got %+v", decision.ID, rec.Decision)
			}
		}
	})

	t.Run("UnknownDecision", func(t *testing.T) {
		if rr := env.do(t, http.MethodGet, "/decisions/nope", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ClientHistory", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/clients/applicant-42/history", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var history ClientHistory
		decode(t, rr, &history)
		if len(history.Decisions) != 1 {
			t.Errorf("expected 1 decision, got %d", len(history.Decisions))
		}

		if rr := env.do(t, http.MethodGet, "/clients/nobody/history", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/evaluate", []byte(`{"requested_amount": 5000, "fico_snapshot": 700}`))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		var resp MissingFieldsResponse
		decode(t, rr, &resp)
		if resp.Error != "Missing required fields" {
			t.Errorf("expected missing fields error, got %q", resp.Error)
		}
		if len(resp.MissingFields) != 2 {
			t.Errorf("expected 2 missing fields, got %v", resp.MissingFields)
		}
		if len(resp.RequiredFields) != len(domain.RequiredFields) {
			t.Errorf("expected %d required fields, got %d", len(domain.RequiredFields), len(resp.RequiredFields))
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		if rr := env.do(t, http.MethodPost, "/evaluate", []byte("not-json")); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/evaluate", applicationBody(""))
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})

	t.Run("Async", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/evaluate/async", applicationBody("applicant-7"))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp map[string]string
		decode(t, rr, &resp)
		if resp["request_id"] == "" {
			t.Error("expected request_id")
		}

		if rr := env.do(t, http.MethodPost, "/evaluate/async", []byte(`{}`)); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestEvaluateEmptyCorpus(t *testing.T) {
	env := createTestServer(t)

	rr := env.do(t, http.MethodPost, "/evaluate", applicationBody("applicant-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var decision domain.Decision
	decode(t, rr, &decision)
	if decision.Verdict != domain.VerdictAnomalyDetected {
		t.Errorf("expected %s, got %s", domain.VerdictAnomalyDetected, decision.Verdict)
	}
}

func TestDataEndpoints(t *testing.T) {
	env := createTestServer(t)

	t.Run("ExportEmpty", func(t *testing.T) {
		if rr := env.do(t, http.MethodGet, "/data/export", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/data/reset?count=50", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if rr := env.do(t, http.MethodPost, "/data/reset?count=zero", nil); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/stats", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var stats domain.CorpusStats
		decode(t, rr, &stats)
		if stats.TotalApplications != 50 {
			t.Errorf("expected 50 applications, got %d", stats.TotalApplications)
		}
	})

	t.Run("Status", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/status", nil)
		var status StatusResponse
		decode(t, rr, &status)
		if status.Cases != 50 {
			t.Errorf("expected 50 records, got %d", status.Cases)
		}
		if !status.Index.Exists || status.Index.Count != 50 {
			t.Errorf("expected 50 indexed points, got %+v", status.Index)
		}
	})

	t.Run("Sample", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/data/sample?count=5", nil)
		var resp struct {
			Records []*domain.HistoricalCase `json:"records"`
			Count   int                      `json:"count"`
		}
		decode(t, rr, &resp)
		if resp.Count != 5 || len(resp.Records) != 5 {
			t.Errorf("expected 5 records, got %d", resp.Count)
		}
		if rr := env.do(t, http.MethodGet, "/data/sample?count=-1", nil); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Export", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/data/export", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
			t.Errorf("expected text/csv, got %s", ct)
		}
		if !strings.Contains(rr.Header().Get("Content-Disposition"), "attachment") {
			t.Errorf("expected attachment disposition, got %s", rr.Header().Get("Content-Disposition"))
		}
		if rr.Header().Get("X-Record-Count") != "50" {
			t.Errorf("expected 50 records, got %s", rr.Header().Get("X-Record-Count"))
		}
		loaded, err := ingest.LoadExport(rr.Body)
		if err != nil {
			t.Fatalf("failed to read export: %v", err)
		}
		if len(loaded.Cases) != 50 {
			t.Errorf("expected 50 exported cases, got %d", len(loaded.Cases))
		}
	})

	t.Run("Archive", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/data/export/archive", nil)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp map[string]any
		decode(t, rr, &resp)
		key, _ := resp["key"].(string)
		if !strings.HasPrefix(key, "exports/") {
			t.Errorf("expected exports/ key, got %q", key)
		}
		if _, err := os.Stat(filepath.Join(env.archiveDir, key)); err != nil {
			t.Errorf("expected archived file: %v", err)
		}
	})

	t.Run("Template", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/data/template", nil)
		if !strings.HasPrefix(rr.Body.String(), "age,credit_score,income") {
			t.Errorf("unexpected template header: %q", rr.Body.String())
		}
	})

	t.Run("Clear", func(t *testing.T) {
		rr := env.do(t, http.MethodDelete, "/data", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp map[string]any
		decode(t, rr, &resp)
		if resp["deleted_count"] != float64(50) {
			t.Errorf("expected 50 deleted, got %v", resp["deleted_count"])
		}

		var stats domain.CorpusStats
		decode(t, env.do(t, http.MethodGet, "/stats", nil), &stats)
		if stats.TotalApplications != 0 {
			t.Errorf("expected stats cache invalidated, got %d applications", stats.TotalApplications)
		}
	})
}

func upload(t *testing.T, env *testEnv, fields map[string]string, csv string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if csv != "" {
		fw, err := mw.CreateFormFile("file", "upload.csv")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		fw.Write([]byte(csv))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/data/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)
	return rr
}

func TestImportEndpoint(t *testing.T) {
	env := createTestServer(t)

	var template bytes.Buffer
	if err := ingest.WriteTemplate(&template); err != nil {
		t.Fatalf("WriteTemplate failed: %v", err)
	}

	t.Run("TemplateRows", func(t *testing.T) {
		rr := upload(t, env, nil, template.String())
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var result ingest.ImportResult
		decode(t, rr, &result)
		if result.Imported != 3 || result.Indexed != 3 {
			t.Errorf("expected 3 imported and indexed, got %+v", result)
		}
	})

	t.Run("CustomMapping", func(t *testing.T) {
		csv := "years,score,salary,amount,status\n40,690,52000,9000,REPAID\n"
		mapping := `{"age":"years","credit_score":"score","income":"salary","loan_amount":"amount","outcome":"status"}`
		rr := upload(t, env, map[string]string{"mapping": mapping}, csv)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("UnmappedField", func(t *testing.T) {
		rr := upload(t, env, map[string]string{"mapping": `{"credit_score":""}`}, template.String())
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownFormat", func(t *testing.T) {
		rr := upload(t, env, map[string]string{"format": "xlsx"}, template.String())
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		rr := upload(t, env, map[string]string{"format": FormatMapped}, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	env := createTestServer(t)
	builtin := len(rules.BuiltinRules())

	t.Run("List", func(t *testing.T) {
		var resp struct {
			Count int `json:"count"`
		}
		decode(t, env.do(t, http.MethodGet, "/rules", nil), &resp)
		if resp.Count != builtin {
			t.Errorf("expected %d rules, got %d", builtin, resp.Count)
		}
	})

	t.Run("Get", func(t *testing.T) {
		id := rules.BuiltinRules()[0].ID
		if rr := env.do(t, http.MethodGet, "/rules/"+id, nil); rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		if rr := env.do(t, http.MethodGet, "/rules/missing", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		body, _ := json.Marshal(CreateRuleRequest{ID: "bad", Name: "Bad", Expression: "income >", Enabled: true})
		if rr := env.do(t, http.MethodPost, "/rules", body); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CreateAndReload", func(t *testing.T) {
		body, _ := json.Marshal(CreateRuleRequest{
			ID:         "young-large-loan",
			Name:       "Young Applicant, Large Loan",
			Expression: "age > 0.0 && age < 21.0 && loan_amount > 50000.0",
			Message:    "Large loan for a very young applicant",
			Enabled:    true,
		})
		rr := env.do(t, http.MethodPost, "/rules", body)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = env.do(t, http.MethodPost, "/rules/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if rr := env.do(t, http.MethodGet, "/rules/young-large-loan", nil); rr.Code != http.StatusOK {
			t.Errorf("expected reloaded rule, got status %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	env := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		decode(t, rr, &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		if rr := env.do(t, http.MethodGet, "/ready", nil); rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var captured string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetRequestID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if captured == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") != captured {
			t.Errorf("expected X-Request-ID %s, got %s", captured, rr.Header().Get("X-Request-ID"))
		}
	})

	t.Run("TracingMiddlewareKeepsClientRequestID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := GetRequestID(r.Context()); got != "client-req" {
				t.Errorf("expected client-req, got %s", got)
			}
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "client-req")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
