package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/service"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/response"
	"github.com/labstack/echo/v4"
)

// InstrumentHandler serves the reference data: exchanges, instruments and contracts
type InstrumentHandler struct {
	registry *service.RegistryService
	queries  *service.QueryService
}

func NewInstrumentHandler(registry *service.RegistryService, queries *service.QueryService) *InstrumentHandler {
	return &InstrumentHandler{registry: registry, queries: queries}
}

// GetInstruments lists every instrument
func (h *InstrumentHandler) GetInstruments(c echo.Context) error {
	instruments, err := h.registry.ListInstruments(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, instruments)
}

// GetExchanges lists every exchange
func (h *InstrumentHandler) GetExchanges(c echo.Context) error {
	exchanges, err := h.registry.ListExchanges(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, exchanges)
}

// GetContracts lists contracts, optionally for one symbol or active only
func (h *InstrumentHandler) GetContracts(c echo.Context) error {
	symbol := strings.ToUpper(c.QueryParam("symbol"))
	contracts, err := h.registry.ListContracts(c.Request().Context(), symbol, queryBool(c, "active"))
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, contracts)
}

// GetActiveContracts returns the active contract view joined with instrument details
func (h *InstrumentHandler) GetActiveContracts(c echo.Context) error {
	contracts, err := h.queries.ActiveContracts(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, contracts)
}

// GetContract returns one contract by code
func (h *InstrumentHandler) GetContract(c echo.Context) error {
	contract, err := h.registry.GetContract(c.Request().Context(), strings.ToUpper(c.Param("code")))
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, contract)
}

// GetFrontMonth returns the nearest unexpired active contract of a symbol
func (h *InstrumentHandler) GetFrontMonth(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	if symbol == "" {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, "`symbol` is required")
	}
	asOf, err := queryTime(c, "date")
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	contract, err := h.registry.FrontMonth(c.Request().Context(), symbol, asOf)
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, contract)
}
