package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/CrazyKoodaa/futures-trading-system/internal/models"
	"github.com/CrazyKoodaa/futures-trading-system/internal/service"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/response"
	"github.com/labstack/echo/v4"
)

// JournalHandler is the handler for predictions and trades
type JournalHandler struct {
	journal *service.JournalService
}

// NewJournalHandler creates a new journal handler
func NewJournalHandler(journal *service.JournalService) *JournalHandler {
	return &JournalHandler{journal: journal}
}

// CreatePrediction records a model prediction
func (h *JournalHandler) CreatePrediction(c echo.Context) error {
	var in service.PredictionInput
	if err := decodeBody(c, &in); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	prediction, err := h.journal.RecordPrediction(c.Request().Context(), in)
	if err != nil {
		return errorResponse(c, err)
	}
	return response.CreatedResponse(c, prediction)
}

// GetPredictions lists predictions, newest first
func (h *JournalHandler) GetPredictions(c echo.Context) error {
	filter := models.PredictionFilter{
		Symbol:       strings.ToUpper(c.QueryParam("symbol")),
		ModelVersion: c.QueryParam("model_version"),
	}
	var err error
	if filter.From, err = queryTime(c, "from"); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}
	if filter.Limit, err = queryInt(c, "limit", 0); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	predictions, err := h.journal.ListPredictions(c.Request().Context(), filter)
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, predictions)
}

// OpenTrade records a trade entry
func (h *JournalHandler) OpenTrade(c echo.Context) error {
	var in service.TradeInput
	if err := decodeBody(c, &in); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	trade, err := h.journal.OpenTrade(c.Request().Context(), in)
	if err != nil {
		return errorResponse(c, err)
	}
	return response.CreatedResponse(c, trade)
}

// CloseTrade records the exit of an open trade
func (h *JournalHandler) CloseTrade(c echo.Context) error {
	id, err := tradeID(c)
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}
	var in service.CloseTradeInput
	if err := decodeBody(c, &in); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	trade, err := h.journal.CloseTrade(c.Request().Context(), id, in)
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, trade)
}

// GetTrade returns one trade
func (h *JournalHandler) GetTrade(c echo.Context) error {
	id, err := tradeID(c)
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	trade, err := h.journal.GetTrade(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, trade)
}

// GetTrades lists trades, newest first
func (h *JournalHandler) GetTrades(c echo.Context) error {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	trades, err := h.journal.ListTrades(c.Request().Context(), models.TradeFilter{
		Symbol:   strings.ToUpper(c.QueryParam("symbol")),
		OpenOnly: queryBool(c, "open"),
		Limit:    limit,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, trades)
}

func tradeID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidTradeID
	}
	return id, nil
}
