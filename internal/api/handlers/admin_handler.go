package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/internal/service"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/response"
	"github.com/labstack/echo/v4"
)

// AdminHandler serves the operator endpoints: registry writes, manual job
// runs, statistics and feed control
type AdminHandler struct {
	ctx      context.Context
	registry *service.RegistryService
	queries  *service.QueryService
	cron     *service.CronService
	jobRuns  service.JobRunStore
	feed     *service.FeedService
}

// NewAdminHandler creates a new admin handler. ctx bounds the lifetime of a
// feed started through the API.
func NewAdminHandler(ctx context.Context, registry *service.RegistryService, queries *service.QueryService, cron *service.CronService, jobRuns service.JobRunStore, feed *service.FeedService) *AdminHandler {
	return &AdminHandler{
		ctx:      ctx,
		registry: registry,
		queries:  queries,
		cron:     cron,
		jobRuns:  jobRuns,
		feed:     feed,
	}
}

// ContractRequest adds or updates a contract. Dates are YYYY-MM-DD; an
// omitted expiration date defaults to the third Friday of the contract month.
// OpenInterest, when present, is applied to new and existing contracts alike.
type ContractRequest struct {
	Code            string `json:"contract_code"`
	ExpirationDate  string `json:"expiration_date"`
	FirstNoticeDate string `json:"first_notice_date"`
	LastTradingDate string `json:"last_trading_date"`
	OpenInterest    *int64 `json:"open_interest"`
}

// ContractStatsRequest updates the open interest of a contract
type ContractStatsRequest struct {
	OpenInterest int64 `json:"open_interest"`
}

// UpsertExchange adds or updates an exchange
func (h *AdminHandler) UpsertExchange(c echo.Context) error {
	var exchange models.Exchange
	if err := decodeBody(c, &exchange); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}
	exchange.Code = strings.ToUpper(strings.TrimSpace(exchange.Code))
	exchange.Name = strings.ToUpper(strings.TrimSpace(exchange.Name))
	if exchange.Code == "" || exchange.Name == "" {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, "`code` and `name` are required")
	}

	if err := h.registry.UpsertExchange(c.Request().Context(), &exchange); err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, exchange)
}

// UpsertInstrument adds or updates an instrument
func (h *AdminHandler) UpsertInstrument(c echo.Context) error {
	var instrument models.Instrument
	if err := decodeBody(c, &instrument); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}
	instrument.Symbol = strings.ToUpper(strings.TrimSpace(instrument.Symbol))
	instrument.ExchangeCode = strings.ToUpper(strings.TrimSpace(instrument.ExchangeCode))
	if instrument.Symbol == "" || instrument.ExchangeCode == "" {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, "`symbol` and `exchange_code` are required")
	}
	if !instrument.TickSize.IsPositive() || !instrument.PointValue.IsPositive() {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, "`tick_size` and `point_value` must be positive")
	}

	if err := h.registry.UpsertInstrument(c.Request().Context(), &instrument); err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, instrument)
}

// AddContract adds a contract or updates its dates
func (h *AdminHandler) AddContract(c echo.Context) error {
	var req ContractRequest
	if err := decodeBody(c, &req); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	contract := &models.Contract{Code: req.Code, IsActive: true}
	var err error
	if contract.ExpirationDate, err = parseDate("expiration_date", req.ExpirationDate); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}
	if contract.FirstNoticeDate, err = parseOptionalDate("first_notice_date", req.FirstNoticeDate); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}
	if contract.LastTradingDate, err = parseOptionalDate("last_trading_date", req.LastTradingDate); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	ctx := c.Request().Context()
	if err := h.registry.UpsertContract(ctx, contract); err != nil {
		return errorResponse(c, err)
	}
	if req.OpenInterest != nil {
		if err := h.registry.UpdateContractStats(ctx, contract.Code, *req.OpenInterest); err != nil {
			return errorResponse(c, err)
		}
		if contract, err = h.registry.GetContract(ctx, contract.Code); err != nil {
			return errorResponse(c, err)
		}
	}
	return response.CreatedResponse(c, contract)
}

// DeactivateContract marks a contract inactive
func (h *AdminHandler) DeactivateContract(c echo.Context) error {
	code := strings.ToUpper(c.Param("code"))
	if err := h.registry.DeactivateContract(c.Request().Context(), code); err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, fmt.Sprintf("Contract %s deactivated", code))
}

// UpdateContractStats sets the open interest of a contract
func (h *AdminHandler) UpdateContractStats(c echo.Context) error {
	var req ContractStatsRequest
	if err := decodeBody(c, &req); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	ctx := c.Request().Context()
	code := strings.ToUpper(c.Param("code"))
	if err := h.registry.UpdateContractStats(ctx, code, req.OpenInterest); err != nil {
		return errorResponse(c, err)
	}
	contract, err := h.registry.GetContract(ctx, code)
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, contract)
}

// RefreshRegistry reloads the exchange and instrument cache
func (h *AdminHandler) RefreshRegistry(c echo.Context) error {
	if err := h.registry.Refresh(c.Request().Context()); err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, "Registry refreshed")
}

// RunAggregation runs the aggregation job of one timeframe now
func (h *AdminHandler) RunAggregation(c echo.Context) error {
	tf, err := models.ParseTimeframe(c.Param("timeframe"))
	if err != nil || tf == models.Timeframe1s {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, fmt.Sprintf("cannot aggregate timeframe %q", c.Param("timeframe")))
	}
	return h.runJob(c, service.AggregationJobName(tf))
}

// RunRetention runs the retention job now
func (h *AdminHandler) RunRetention(c echo.Context) error {
	return h.runJob(c, service.JobRetention)
}

// RunJob runs any registered job by name
func (h *AdminHandler) RunJob(c echo.Context) error {
	return h.runJob(c, c.Param("name"))
}

func (h *AdminHandler) runJob(c echo.Context, name string) error {
	run, err := h.cron.RunJob(c.Request().Context(), name)
	if err != nil {
		return errorResponse(c, err)
	}
	if run.Status == models.JobStatusFailed {
		return response.DetailedErrorResponse(c, http.StatusInternalServerError, response.ServerException, run.Error, run)
	}
	return response.SuccessResponse(c, run)
}

// GetJobs lists the scheduled jobs
func (h *AdminHandler) GetJobs(c echo.Context) error {
	return response.SuccessResponse(c, h.cron.Jobs())
}

// GetJobRuns lists recorded job runs, newest first
func (h *AdminHandler) GetJobRuns(c echo.Context) error {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}
	runs, err := h.jobRuns.ListJobRuns(c.Request().Context(), c.QueryParam("job"), limit)
	if err != nil {
		return errorResponse(c, err)
	}
	if runs == nil {
		runs = []models.JobRun{}
	}
	return response.SuccessResponse(c, runs)
}

// GetStatistics returns row counts and coverage per table and series
func (h *AdminHandler) GetStatistics(c echo.Context) error {
	stats, err := h.queries.Statistics(c.Request().Context(), strings.ToUpper(c.QueryParam("symbol")))
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, stats)
}

// GetFeedStatus returns the feed counters
func (h *AdminHandler) GetFeedStatus(c echo.Context) error {
	return response.SuccessResponse(c, h.feed.Status())
}

// StartFeed starts the feed
func (h *AdminHandler) StartFeed(c echo.Context) error {
	if err := h.feed.Start(h.ctx); err != nil {
		return feedErrorResponse(c, err)
	}
	return response.SuccessResponse(c, h.feed.Status())
}

// StopFeed stops the feed, flushing pending bars
func (h *AdminHandler) StopFeed(c echo.Context) error {
	if err := h.feed.Stop(); err != nil {
		return feedErrorResponse(c, err)
	}
	return response.SuccessResponse(c, h.feed.Status())
}

func feedErrorResponse(c echo.Context, err error) error {
	if errors.Is(err, service.ErrFeedAlreadyRunning) || errors.Is(err, service.ErrFeedNotRunning) {
		return response.ErrorResponse(c, http.StatusConflict, response.InputException, err.Error())
	}
	return errorResponse(c, err)
}

func parseDate(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("`%s` must be %s", name, dateLayout)
	}
	return t, nil
}

func parseOptionalDate(name, v string) (*time.Time, error) {
	t, err := parseDate(name, v)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}
