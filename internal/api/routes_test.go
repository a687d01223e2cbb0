package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/config"
	"github.com/CrazyKoodaa/futures-trading-system/internal/repository"
	"github.com/CrazyKoodaa/futures-trading-system/internal/service"
	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	ErrorType string          `json:"error_type"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details"`
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "Futures Trading System", Version: "v1.0.0"},
		Aggregation: config.AggregationConfig{
			Minute:        config.JobWindow{StartOffset: time.Hour, EndOffset: time.Minute, ScheduleInterval: time.Minute},
			FiveMinute:    config.JobWindow{StartOffset: 2 * time.Hour, EndOffset: 5 * time.Minute, ScheduleInterval: 5 * time.Minute},
			FifteenMinute: config.JobWindow{StartOffset: 6 * time.Hour, EndOffset: 15 * time.Minute, ScheduleInterval: 15 * time.Minute},
			Hour:          config.JobWindow{StartOffset: 24 * time.Hour, EndOffset: time.Hour, ScheduleInterval: time.Hour},
		},
		Retention: config.RetentionConfig{
			Schedule:               "@every 1h",
			Ticks:                  7 * 24 * time.Hour,
			Seconds:                365 * 24 * time.Hour,
			Minutes:                2 * 365 * 24 * time.Hour,
			Predictions:            180 * 24 * time.Hour,
			TicksCompressAfter:     time.Hour,
			BarsCompressAfter:      24 * time.Hour,
			ContractExpirySchedule: "5 0 * * *",
		},
	}
}

type testServer struct {
	e     *echo.Echo
	store *repository.MemStore
}

func newTestServer(t *testing.T, cfg *config.Config, redisClient *redis.Client) *testServer {
	t.Helper()
	ctx := context.Background()

	store := repository.NewMemStore()
	registry := service.NewRegistryService(store, "XCME")
	require.NoError(t, registry.Seed(ctx, time.Now().UTC()))

	ingest := service.NewIngestService(store, store, registry)
	features := service.NewFeatureService(store, store, 100)
	cron := service.NewCronService(cfg, service.CronDeps{
		Aggregation: service.NewAggregationService(store, cfg.Aggregation),
		Retention:   service.NewRetentionService(store, service.RetentionPolicies(cfg.Retention)),
		Registry:    registry,
		Features:    features,
		JobRuns:     store,
	})

	feed := service.NewFeedService(ingest, 100, time.Hour)
	t.Cleanup(func() { _ = feed.Stop() })

	e := echo.New()
	SetupRoutes(ctx, e, cfg, Services{
		Registry: registry,
		Ingest:   ingest,
		Feed:     feed,
		Queries:  service.NewQueryService(store, store),
		Journal:  service.NewJournalService(store, registry),
		Features: features,
		Cron:     cron,
		JobRuns:  store,
		Redis:    redisClient,
	})
	return &testServer{e: e, store: store}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func recentSecond() time.Time {
	return time.Now().UTC().Truncate(time.Second).Add(-time.Minute)
}

func barJSON(ts time.Time, o, h, l, c float64, volume int64) string {
	return fmt.Sprintf(`{"timestamp":%q,"symbol":"NQ","contract":"NQZ24","exchange":"CME","open":%v,"high":%v,"low":%v,"close":%v,"volume":%d}`,
		ts.Format(time.RFC3339), o, h, l, c, volume)
}

func tickJSON(ts time.Time, seq int64, price float64) string {
	return fmt.Sprintf(`{"timestamp":%q,"symbol":"NQ","contract":"NQZ24","exchange":"CME","sequence_number":%d,"price":%v,"size":1,"tick_type":"trade"}`,
		ts.Format(time.RFC3339Nano), seq, price)
}

func TestIndexRoutes(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	code, env := s.do(t, http.MethodGet, "/api/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `"Futures Trading System v1.0.0"`, string(env.Data))

	code, env = s.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", env.Status)
}

func TestAuth(t *testing.T) {
	apiHash, err := bcrypt.GenerateFromPassword([]byte("api-secret"), bcrypt.MinCost)
	require.NoError(t, err)
	adminHash, err := bcrypt.GenerateFromPassword([]byte("admin-secret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Server.APIKeyHash = string(apiHash)
	cfg.Server.AdminKeyHash = string(adminHash)
	s := newTestServer(t, cfg, nil)

	code, env := s.do(t, http.MethodGet, "/api/instruments", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "AuthorizationException", env.ErrorType)

	code, _ = s.do(t, http.MethodGet, "/api/instruments", "", "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodGet, "/api/instruments", "", "X-API-Key", "api-secret")
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodGet, "/api/instruments", "", "Authorization", "Bearer api-secret")
	assert.Equal(t, http.StatusOK, code)

	// the api key does not open the admin group
	code, _ = s.do(t, http.MethodGet, "/api/admin/jobs", "", "X-API-Key", "api-secret")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodGet, "/api/admin/jobs", "", "X-API-Key", "admin-secret")
	assert.Equal(t, http.StatusOK, code)

	// the index stays open
	code, _ = s.do(t, http.MethodGet, "/api/", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestIngestBars(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	ts := recentSecond()

	code, env := s.do(t, http.MethodPost, "/api/ingest/bars", barJSON(ts, 21000, 21001, 20999, 21000.5, 12))
	require.Equal(t, http.StatusCreated, code, env.Message)
	var bar map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &bar))
	assert.Equal(t, "XCME", bar["exchange_code"])

	code, env = s.do(t, http.MethodPost, "/api/ingest/bars", barJSON(ts, 21000, 20990, 20999, 21000.5, 12))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "ValidationException", env.ErrorType)
	var details service.Rejection
	require.NoError(t, json.Unmarshal(env.Details, &details))
	assert.Equal(t, service.RejectInvalidOHLC, details.Code)
	assert.NotEmpty(t, details.Values)

	batch := "[" + barJSON(ts.Add(time.Second), 21000, 21001, 20999, 21000, 5) + "," + barJSON(ts.Add(2*time.Second), -1, 21001, 20999, 21000, 5) + "]"
	code, env = s.do(t, http.MethodPost, "/api/ingest/bars", batch)
	require.Equal(t, http.StatusOK, code)
	var summary struct {
		Accepted int `json:"accepted"`
		Rejected int `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, 1, summary.Accepted)
	assert.Equal(t, 1, summary.Rejected)

	code, env = s.do(t, http.MethodPost, "/api/ingest/bars", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InputException", env.ErrorType)

	// the stored bars are readable back
	code, env = s.do(t, http.MethodGet, "/api/bars/1s?symbol=nq", "")
	require.Equal(t, http.StatusOK, code)
	var bars []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &bars))
	assert.Len(t, bars, 2)

	code, env = s.do(t, http.MethodGet, "/api/quote/latest?symbol=NQ", "")
	require.Equal(t, http.StatusOK, code)
	var prices []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &prices))
	require.Len(t, prices, 1)
	assert.Equal(t, "21000", prices[0]["close"])

	code, _ = s.do(t, http.MethodGet, "/api/bars/2m", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestIngestTicks(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	ts := recentSecond()

	code, env := s.do(t, http.MethodPost, "/api/ingest/ticks", tickJSON(ts, 1, 21000.25))
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, env = s.do(t, http.MethodPost, "/api/ingest/ticks", tickJSON(ts, 1, 21001))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "DuplicateSequenceException", env.ErrorType)

	code, env = s.do(t, http.MethodPost, "/api/ingest/ticks",
		`{"timestamp":"`+ts.Format(time.RFC3339)+`","symbol":"NQ","contract":"NQZ24","exchange":"CME","sequence_number":2,"price":21000,"tick_type":"level2"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "ValidationException", env.ErrorType)
}

func TestFeedRoutes(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	ts := recentSecond()

	code, _ := s.do(t, http.MethodPost, "/api/ingest/feed", tickJSON(ts, 1, 21000))
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = s.do(t, http.MethodPost, "/api/admin/feed/start", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodPost, "/api/admin/feed/start", "")
	assert.Equal(t, http.StatusConflict, code)

	code, env := s.do(t, http.MethodPost, "/api/ingest/feed", "["+tickJSON(ts, 1, 21000)+","+tickJSON(ts.Add(time.Second), 2, 21001)+"]")
	require.Equal(t, http.StatusAccepted, code)
	assert.JSONEq(t, `{"queued":2,"dropped":0}`, string(env.Data))

	code, env = s.do(t, http.MethodPost, "/api/admin/feed/stop", "")
	require.Equal(t, http.StatusOK, code)
	var status service.FeedStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.False(t, status.Running)
	assert.Equal(t, int64(2), status.TicksAccepted)
	assert.Equal(t, int64(2), status.BarsWritten)
}

func TestJournalRoutes(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	ts := recentSecond()

	prediction := fmt.Sprintf(`{"timestamp":%q,"symbol":"NQ","contract":"NQZ24","exchange":"CME","model_version":"v1","model_type":"gbm","direction_prediction":1,"confidence_score":72.5,"prediction_horizon_minutes":5}`,
		ts.Format(time.RFC3339))
	code, env := s.do(t, http.MethodPost, "/api/predictions", prediction)
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, env = s.do(t, http.MethodPost, "/api/predictions", prediction)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "DuplicateRecordException", env.ErrorType)

	code, env = s.do(t, http.MethodGet, "/api/predictions?symbol=NQ", "")
	require.Equal(t, http.StatusOK, code)
	var predictions []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &predictions))
	assert.Len(t, predictions, 1)

	code, env = s.do(t, http.MethodPost, "/api/trades", fmt.Sprintf(
		`{"timestamp":%q,"symbol":"NQ","contract":"NQZ24","exchange":"CME","side":"buy","quantity":1,"entry_price":21000}`, ts.Format(time.RFC3339)))
	require.Equal(t, http.StatusCreated, code, env.Message)
	var trade struct {
		ID int64 `json:"trade_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &trade))

	closeBody := fmt.Sprintf(`{"timestamp":%q,"exit_price":21005}`, ts.Add(time.Minute).Format(time.RFC3339))
	code, env = s.do(t, http.MethodPost, fmt.Sprintf("/api/trades/%d/close", trade.ID), closeBody)
	require.Equal(t, http.StatusOK, code, env.Message)
	var closed map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &closed))
	assert.Equal(t, "100", closed["pnl"])

	code, env = s.do(t, http.MethodPost, fmt.Sprintf("/api/trades/%d/close", trade.ID), closeBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "TradeAlreadyClosedException", env.ErrorType)

	code, env = s.do(t, http.MethodGet, "/api/trades/9999", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "DataNotFound", env.ErrorType)

	code, _ = s.do(t, http.MethodGet, "/api/trades/abc", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodPost, "/api/trades", `{"symbol":"NQ","contract":"NQZ24","exchange":"CME","side":"hold","quantity":1,"entry_price":21000}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "ValidationException", env.ErrorType)
}

func TestAdminContracts(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	code, env := s.do(t, http.MethodPost, "/api/admin/contracts", `{"contract_code":"nqm30"}`)
	require.Equal(t, http.StatusCreated, code, env.Message)
	var contract map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &contract))
	assert.Equal(t, "NQM30", contract["contract_code"])

	code, env = s.do(t, http.MethodPost, "/api/admin/contracts", `{"contract_code":"NQ"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "ValidationException", env.ErrorType)

	code, _ = s.do(t, http.MethodPost, "/api/admin/contracts", `{"contract_code":"NQM30","expiration_date":"June 2030"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodPut, "/api/admin/contracts/NQM30/stats", `{"open_interest":1500}`)
	require.Equal(t, http.StatusOK, code, env.Message)
	require.NoError(t, json.Unmarshal(env.Data, &contract))
	assert.Equal(t, float64(1500), contract["open_interest"])

	code, _ = s.do(t, http.MethodPut, "/api/admin/contracts/NQM30/stats", `{"open_interest":-1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	// re-adding an existing contract applies the posted open interest
	code, env = s.do(t, http.MethodPost, "/api/admin/contracts", `{"contract_code":"NQM30","open_interest":2500}`)
	require.Equal(t, http.StatusCreated, code, env.Message)
	require.NoError(t, json.Unmarshal(env.Data, &contract))
	assert.Equal(t, float64(2500), contract["open_interest"])

	// omitting it keeps the stored value
	code, env = s.do(t, http.MethodPost, "/api/admin/contracts", `{"contract_code":"NQM30"}`)
	require.Equal(t, http.StatusCreated, code, env.Message)
	require.NoError(t, json.Unmarshal(env.Data, &contract))
	assert.Equal(t, float64(2500), contract["open_interest"])

	code, _ = s.do(t, http.MethodDelete, "/api/admin/contracts/NQM30", "")
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodGet, "/api/instruments/contracts/NQM30", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &contract))
	assert.Equal(t, false, contract["is_active"])

	code, env = s.do(t, http.MethodDelete, "/api/admin/contracts/ZZZ99", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "DataNotFound", env.ErrorType)

	code, env = s.do(t, http.MethodGet, "/api/instruments/NQ/front", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &contract))
	assert.Equal(t, "NQ", contract["symbol"])
}

func TestAdminJobs(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	code, env := s.do(t, http.MethodPost, "/api/admin/aggregate/5m", "")
	require.Equal(t, http.StatusOK, code, env.Message)
	var run map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, "aggregate-5m", run["job_name"])
	assert.Equal(t, "succeeded", run["status"])

	code, _ = s.do(t, http.MethodPost, "/api/admin/aggregate/1s", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/api/admin/retention", "")
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodPost, "/api/admin/jobs/vacuum/run", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "DataNotFound", env.ErrorType)

	code, env = s.do(t, http.MethodGet, "/api/admin/jobs/runs", "")
	require.Equal(t, http.StatusOK, code)
	var runs []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &runs))
	assert.Len(t, runs, 2)

	code, env = s.do(t, http.MethodGet, "/api/admin/jobs/runs?job=retention", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &runs))
	assert.Len(t, runs, 1)

	code, _ = s.do(t, http.MethodGet, "/api/admin/statistics", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestQuoteLTP(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	code, _ := s.do(t, http.MethodGet, "/api/quote/ltp", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mr.HSet(service.LastPriceHashKey, "NQZ24:CME", "21000.25")

	s = newTestServer(t, testConfig(), client)
	code, env := s.do(t, http.MethodGet, "/api/quote/ltp?i=NQZ24:CME&i=ESZ24:CME", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"NQZ24:CME":"21000.25"}`, string(env.Data))

	code, env = s.do(t, http.MethodGet, "/api/quote/ltp?i=ESZ24:CME", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "DataNotFound", env.ErrorType)
}
