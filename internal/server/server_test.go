package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/finledger/internal/clock"
	"github.com/smallbiznis/finledger/internal/config"
	csvdomain "github.com/smallbiznis/finledger/internal/csvimport/domain"
	csvrepository "github.com/smallbiznis/finledger/internal/csvimport/repository"
	csvservice "github.com/smallbiznis/finledger/internal/csvimport/service"
	dailydomain "github.com/smallbiznis/finledger/internal/dailyimport/domain"
	"github.com/smallbiznis/finledger/internal/dailyimport/mock"
	dailyservice "github.com/smallbiznis/finledger/internal/dailyimport/service"
	"github.com/smallbiznis/finledger/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testCSV       = "date,revenue,costs\n2024-01-15,100.00,50.00\n2024-01-15,50.00,30.00\n"
	testSourceURL = "https://exports.example.com/daily.csv"
)

type testServer struct {
	engine  *gin.Engine
	fetcher *mock.MockFetcher
}

type envelope struct {
	Success bool                    `json:"success"`
	Error   string                  `json:"error"`
	Type    string                  `json:"type"`
	Errors  []ValidationError       `json:"errors"`
	Stats   *csvdomain.ImportReport `json:"stats"`
	Data    json.RawMessage         `json:"data"`
}

func newTestServer(t *testing.T, settings config.ImportSettings) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&csvdomain.LedgerEntry{}, &csvdomain.AppSetting{}, &csvdomain.ImportRun{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	fetcher := mock.NewMockFetcher(ctrl)
	fc := clock.NewFakeClock(time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC))
	repo := csvrepository.Provide()
	holder := config.NewStaticImportSettings(settings)

	imports := csvservice.New(csvservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     repo,
		Clock:    fc,
		Settings: holder,
	})
	daily := dailyservice.New(dailyservice.Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   fc,
		Repo:    repo,
		Imports: imports,
		Fetcher: fetcher,
	})

	engine := NewEngine(observability.Config{Environment: "test"}, nil)
	NewServer(ServerParams{
		Gin:      engine,
		Cfg:      config.Config{},
		Imports:  imports,
		Daily:    daily,
		Settings: holder,
	})
	return testServer{engine: engine, fetcher: fetcher}
}

func (ts testServer) do(t *testing.T, method, path, contentType string, body []byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (ts testServer) postJSON(t *testing.T, path string, payload any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return ts.do(t, http.MethodPost, path, "application/json", raw)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	w, _ := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateImportJSONBody(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	w, env := ts.postJSON(t, "/api/imports", gin.H{"csv_content": testCSV})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.Success)
	require.NotNil(t, env.Stats)
	assert.Equal(t, 2, env.Stats.Processed)
	assert.Equal(t, 1, env.Stats.DatesWritten)
	assert.NotEmpty(t, env.Stats.RunID)

	w, env = ts.do(t, http.MethodGet, "/api/ledger", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "2024-01-15", entries[0]["date"])
	assert.EqualValues(t, 150, entries[0]["revenue"])
}

func TestCreateImportRawCSVBody(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	w, env := ts.do(t, http.MethodPost, "/api/imports", "text/csv", []byte(testCSV))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.Success)
	assert.Equal(t, 2, env.Stats.Processed)
}

func TestCreateImportMultipartFile(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "export.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(testCSV))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w, env := ts.do(t, http.MethodPost, "/api/imports", mw.FormDataContentType(), buf.Bytes())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, env.Stats.DatesWritten)
}

func TestCreateImportMultipartMissingFile(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "no file"))
	require.NoError(t, mw.Close())

	w, env := ts.do(t, http.MethodPost, "/api/imports", mw.FormDataContentType(), buf.Bytes())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", env.Type)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "file", env.Errors[0].Field)
}

func TestCreateImportSchemaFailure(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	w, env := ts.postJSON(t, "/api/imports", gin.H{"csv_content": "date,revenue\n2024-01-15,10\n"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "unrecognized_schema", env.Type)
	require.NotEmpty(t, env.Errors)
	assert.Equal(t, "missing_column", env.Errors[0].Code)
	assert.Nil(t, env.Stats)
}

func TestCreateImportNoValidDataCarriesStats(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	w, env := ts.postJSON(t, "/api/imports", gin.H{"csv_content": "date,revenue,costs\n2024-01-15,abc,1\n"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "no_valid_data", env.Type)
	require.NotNil(t, env.Stats)
	assert.Zero(t, env.Stats.Processed)
	assert.Equal(t, 1, env.Stats.TotalLines)
}

func TestCreateImportEmptyDocument(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	w, env := ts.postJSON(t, "/api/imports", gin.H{"csv_content": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_document", env.Type)
}

func TestCreateImportRejectsOversizedBody(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{MaxBodyBytes: 16})

	w, env := ts.do(t, http.MethodPost, "/api/imports", "text/csv", []byte(testCSV))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "body_too_large", env.Type)
}

func TestCreateImportRejectsUnknownContentType(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	w, env := ts.do(t, http.MethodPost, "/api/imports", "application/xml", []byte("<csv/>"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, "unsupported_media_type", env.Type)
}

func TestImportRunEndpoints(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{StoreSource: true})

	w, env := ts.postJSON(t, "/api/imports", gin.H{"csv_content": testCSV})
	require.Equal(t, http.StatusOK, w.Code)
	runID := env.Stats.RunID

	w, env = ts.do(t, http.MethodGet, "/api/imports", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list csvdomain.ListRunsResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, runID, list.Runs[0].ID)
	assert.False(t, list.HasMore)

	w, env = ts.do(t, http.MethodGet, "/api/imports/"+runID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var run csvdomain.RunResponse
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, csvdomain.RunStatusSucceeded, run.Status)
	assert.True(t, run.SourceStored)

	w, env = ts.do(t, http.MethodPost, "/api/imports/"+runID+"/replay", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.Success)
	assert.NotEqual(t, runID, env.Stats.RunID)
	assert.Equal(t, 1, env.Stats.DatesWritten)

	w, _ = ts.do(t, http.MethodGet, "/api/imports/"+runID+"/report.pdf", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
}

func TestImportRunLookupErrors(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	w, env := ts.do(t, http.MethodGet, "/api/imports/not-a-number", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_id", env.Type)

	w, env = ts.do(t, http.MethodGet, "/api/imports/12345", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", env.Type)

	w, env = ts.do(t, http.MethodGet, "/api/imports?page_token=garbage", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_query", env.Type)
}

func TestReplayWithoutStoredSource(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{StoreSource: false})

	w, env := ts.postJSON(t, "/api/imports", gin.H{"csv_content": testCSV})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = ts.do(t, http.MethodPost, "/api/imports/"+env.Stats.RunID+"/replay", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "source_not_stored", env.Type)

	w, env = ts.do(t, http.MethodPost, "/api/imports/12345/replay", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", env.Type)
}

func TestLedgerQueryValidation(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	w, env := ts.do(t, http.MethodGet, "/api/ledger?from=2024-13-01", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_query", env.Type)

	w, env = ts.do(t, http.MethodGet, "/api/ledger?from=2024-02-01&to=2024-01-01", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_query", env.Type)

	w, env = ts.do(t, http.MethodGet, "/api/ledger?limit=ten", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", env.Type)

	w, env = ts.do(t, http.MethodGet, "/api/ledger", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", string(env.Data))
}

func TestChannelStatistics(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	w, env := ts.do(t, http.MethodGet, "/api/channel-statistics", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", env.Type)

	csv := "date,channel,revenue,costs\n2024-01-15,shop,100,40\n2024-01-15,market,50,10\n"
	w, _ = ts.postJSON(t, "/api/imports", gin.H{"csv_content": csv})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = ts.do(t, http.MethodGet, "/api/channel-statistics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats csvdomain.ChannelStatistics
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 2, stats.TotalChannels)
	assert.Equal(t, 2, stats.ImportSummary.SuccessCount)
}

func TestDailyImportConfigEndpoints(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	w, env := ts.do(t, http.MethodGet, "/api/imports/daily/config", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cfg dailydomain.ImportConfig
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.False(t, cfg.Enabled)

	raw, _ := json.Marshal(gin.H{"source_url": "ftp://exports.example.com/daily.csv"})
	w, env = ts.do(t, http.MethodPut, "/api/imports/daily/config", "application/json", raw)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_source_url", env.Type)

	w, env = ts.do(t, http.MethodPut, "/api/imports/daily/config", "application/json", []byte("{\"enabled\":"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", env.Type)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "invalid_request", env.Errors[0].Code)

	w, env = ts.do(t, http.MethodPut, "/api/imports/daily/config", "application/json", []byte("{}"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", env.Type)

	raw, _ = json.Marshal(gin.H{"enabled": true, "source_url": testSourceURL})
	w, env = ts.do(t, http.MethodPut, "/api/imports/daily/config", "application/json", raw)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.True(t, cfg.Enabled)
	assert.Equal(t, testSourceURL, cfg.SourceURL)
	assert.Zero(t, cfg.ImportCount)
}

func TestRunDailyImportDisabled(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	w, _ := ts.do(t, http.MethodPost, "/api/imports/daily/run", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res dailydomain.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, dailydomain.ReasonDisabled, res.Reason)
}

func TestRunDailyImportSucceeds(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})
	raw, _ := json.Marshal(gin.H{"enabled": true, "source_url": testSourceURL})
	w, _ := ts.do(t, http.MethodPut, "/api/imports/daily/config", "application/json", raw)
	require.Equal(t, http.StatusOK, w.Code)

	ts.fetcher.EXPECT().Fetch(gomock.Any(), testSourceURL).Return(testCSV, nil)

	w, _ = ts.do(t, http.MethodPost, "/api/imports/daily/run", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res dailydomain.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	require.NotNil(t, res.Config)
	assert.Equal(t, 1, res.Config.ImportCount)
	require.NotNil(t, res.Config.LastImport)
	assert.Equal(t, 1, res.Stats.DatesWritten)
}

func TestRunDailyImportFetchFailure(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})
	raw, _ := json.Marshal(gin.H{"enabled": true, "source_url": testSourceURL})
	w, _ := ts.do(t, http.MethodPut, "/api/imports/daily/config", "application/json", raw)
	require.Equal(t, http.StatusOK, w.Code)

	ts.fetcher.EXPECT().Fetch(gomock.Any(), testSourceURL).Return("", &dailydomain.FetchError{StatusCode: http.StatusBadGateway})

	w, env := ts.do(t, http.MethodPost, "/api/imports/daily/run", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "fetch_failed", env.Type)
	assert.Contains(t, env.Error, "502")

	w, env = ts.do(t, http.MethodGet, "/api/imports/daily/config", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cfg dailydomain.ImportConfig
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.Zero(t, cfg.ImportCount)
	assert.Nil(t, cfg.LastImport)
}

func TestCreateImportFromURL(t *testing.T) {
	ts := newTestServer(t, config.ImportSettings{})

	w, env := ts.postJSON(t, "/api/imports/url", gin.H{"url": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", env.Type)

	w, env = ts.postJSON(t, "/api/imports/url", gin.H{"url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_source_url", env.Type)

	ts.fetcher.EXPECT().Fetch(gomock.Any(), testSourceURL).Return(testCSV, nil)
	w, env = ts.postJSON(t, "/api/imports/url", gin.H{"url": testSourceURL})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.Success)
	assert.Equal(t, 2, env.Stats.Processed)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"invalid request", invalidRequestError(), http.StatusBadRequest, "validation_error"},
		{"validation", newValidationError("limit", "invalid_limit", "invalid limit"), http.StatusBadRequest, "validation_error"},
		{"schema", &csvdomain.SchemaError{Missing: []string{"costs"}}, http.StatusBadRequest, "unrecognized_schema"},
		{"no valid data", fmt.Errorf("run: %w", csvdomain.ErrNoValidData), http.StatusBadRequest, "no_valid_data"},
		{"not found", csvdomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"gorm not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"import in progress", csvdomain.ErrImportInProgress, http.StatusConflict, "import_in_progress"},
		{"daily busy", dailydomain.ErrAlreadyRunning, http.StatusConflict, "already_running"},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"fetch", &dailydomain.FetchError{Err: errors.New("dial tcp: refused")}, http.StatusInternalServerError, "fetch_failed"},
		{"store", &csvdomain.StoreError{Op: "upsert", Err: errors.New("disk full")}, http.StatusInternalServerError, "store_write_failed"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.typ, payload.Type)
		})
	}
}

func TestStoreErrorMessageIsNotLeaked(t *testing.T) {
	_, payload := mapError(&csvdomain.StoreError{Op: "upsert", Err: errors.New("pq: password authentication failed")})
	assert.NotContains(t, payload.Message, "password")
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", retryAfterSeconds(0))
	assert.Equal(t, "1", retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, "3", retryAfterSeconds(2500*time.Millisecond))
}
