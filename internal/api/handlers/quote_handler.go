package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/internal/service"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/response"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// QuoteHandler is the handler for the quote and bar read API
type QuoteHandler struct {
	queries     *service.QueryService
	features    *service.FeatureService
	redisClient *redis.Client
}

// NewQuoteHandler creates a new quote handler. redisClient may be nil.
func NewQuoteHandler(queries *service.QueryService, features *service.FeatureService, redisClient *redis.Client) *QuoteHandler {
	return &QuoteHandler{queries: queries, features: features, redisClient: redisClient}
}

// GetLatest returns the latest close per contract and exchange
func (h *QuoteHandler) GetLatest(c echo.Context) error {
	prices, err := h.queries.LatestPrices(c.Request().Context(), strings.ToUpper(c.QueryParam("symbol")))
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, prices)
}

// GetLTP returns cached last traded prices keyed "CONTRACT:EXCHANGE".
// Without `i` every cached price is returned.
func (h *QuoteHandler) GetLTP(c echo.Context) error {
	if h.redisClient == nil {
		return response.ErrorResponse(c, http.StatusServiceUnavailable, response.ServerException, "Latest price cache is not configured")
	}

	ctx := c.Request().Context()
	instruments := c.QueryParams()["i"]
	if len(instruments) == 0 {
		prices, err := h.redisClient.HGetAll(ctx, service.LastPriceHashKey).Result()
		if err != nil {
			return response.ErrorResponse(c, http.StatusInternalServerError, response.ServerException, fmt.Sprintf("Error reading latest prices: %v", err))
		}
		return response.SuccessResponse(c, prices)
	}

	values, err := h.redisClient.HMGet(ctx, service.LastPriceHashKey, instruments...).Result()
	if err != nil {
		return response.ErrorResponse(c, http.StatusInternalServerError, response.ServerException, fmt.Sprintf("Error reading latest prices: %v", err))
	}
	prices := make(map[string]string, len(instruments))
	for i, v := range values {
		if s, ok := v.(string); ok {
			prices[instruments[i]] = s
		}
	}
	if len(prices) == 0 {
		return response.ErrorResponse(c, http.StatusNotFound, response.DataNotFoundException, fmt.Sprintf("No data found for instruments: %v", instruments))
	}
	return response.SuccessResponse(c, prices)
}

// GetDailyVolume returns volume per exchange and symbol for a UTC day
func (h *QuoteHandler) GetDailyVolume(c echo.Context) error {
	date, err := queryTime(c, "date")
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	var volumes []models.DailyVolume
	if date.IsZero() {
		volumes, err = h.queries.DailyVolume(c.Request().Context())
	} else {
		volumes, err = h.queries.DailyVolumeOn(c.Request().Context(), date)
	}
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, volumes)
}

// GetRankings ranks exchanges by daily volume for a symbol
func (h *QuoteHandler) GetRankings(c echo.Context) error {
	symbol := strings.ToUpper(c.QueryParam("symbol"))
	if symbol == "" {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, "`symbol` is required")
	}
	date, err := queryTime(c, "date")
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	rankings, err := h.queries.ExchangeRankings(c.Request().Context(), symbol, date)
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, rankings)
}

// GetArbitrage lists cross-exchange price differences from the last hour
func (h *QuoteHandler) GetArbitrage(c echo.Context) error {
	symbol := strings.ToUpper(c.QueryParam("symbol"))
	if symbol == "" {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, "`symbol` is required")
	}
	threshold, err := queryFloat(c, "threshold", service.DefaultArbitrageThreshold)
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}
	limit, err := queryInt(c, "limit", service.DefaultArbitrageLimit)
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	opportunities, err := h.queries.ArbitrageOpportunities(c.Request().Context(), symbol, threshold, limit)
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, opportunities)
}

// GetBars reads bars of the timeframe in the path
func (h *QuoteHandler) GetBars(c echo.Context) error {
	tf, err := models.ParseTimeframe(c.Param("timeframe"))
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	filter := models.BarFilter{
		Symbol:   strings.ToUpper(c.QueryParam("symbol")),
		Contract: strings.ToUpper(c.QueryParam("contract")),
		Exchange: strings.ToUpper(c.QueryParam("exchange")),
		Latest:   queryBool(c, "latest"),
	}
	if filter.From, err = queryTime(c, "from"); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, "`from` must be before `to`")
	}
	if filter.Limit, err = queryInt(c, "limit", service.DefaultBarLimit); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	bars, err := h.queries.Bars(c.Request().Context(), tf, filter)
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, bars)
}

// GetFeatures returns the newest feature row for a series
func (h *QuoteHandler) GetFeatures(c echo.Context) error {
	tf, err := models.ParseTimeframe(c.Param("timeframe"))
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}
	key := models.BarKey{
		Symbol:   strings.ToUpper(c.QueryParam("symbol")),
		Contract: strings.ToUpper(c.QueryParam("contract")),
		Exchange: strings.ToUpper(c.QueryParam("exchange")),
	}
	if key.Symbol == "" || key.Contract == "" || key.Exchange == "" {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, "`symbol`, `contract` and `exchange` are required")
	}

	feature, err := h.features.Latest(c.Request().Context(), key, tf)
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, feature)
}
