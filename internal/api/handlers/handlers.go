// Package handlers contains the handlers for the API
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/repository"
	"github.com/CrazyKoodaa/futures-trading-system/internal/service"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/response"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/zaplogger"
	"github.com/labstack/echo/v4"
)

const dateLayout = "2006-01-02"

var errInvalidTradeID = errors.New("`id` must be a positive integer")

// rejectionResponse reports a refused write. Duplicate tick sequences are a
// conflict, everything else is a validation failure.
func rejectionResponse(c echo.Context, rejection *service.Rejection) error {
	if rejection.Code == service.RejectDuplicateSequence {
		return response.DetailedErrorResponse(c, http.StatusConflict, response.DuplicateSequenceException, rejection.Message, rejection)
	}
	return response.DetailedErrorResponse(c, http.StatusUnprocessableEntity, response.ValidationException, rejection.Message, rejection)
}

// errorResponse maps service and repository errors onto the response envelope
func errorResponse(c echo.Context, err error) error {
	var rejection *service.Rejection
	switch {
	case errors.As(err, &rejection):
		return rejectionResponse(c, rejection)
	case errors.Is(err, repository.ErrNotFound):
		return response.ErrorResponse(c, http.StatusNotFound, response.DataNotFoundException, err.Error())
	case errors.Is(err, service.ErrUnknownJob):
		return response.ErrorResponse(c, http.StatusNotFound, response.DataNotFoundException, err.Error())
	case errors.Is(err, repository.ErrDuplicate):
		return response.ErrorResponse(c, http.StatusConflict, response.DuplicateRecordException, err.Error())
	case errors.Is(err, repository.ErrTradeClosed):
		return response.ErrorResponse(c, http.StatusConflict, response.TradeAlreadyClosedException, err.Error())
	}

	zaplogger.Error("request failed", zaplogger.Fields{
		"method": c.Request().Method,
		"uri":    c.Request().RequestURI,
		"error":  err.Error(),
	})
	return response.ErrorResponse(c, http.StatusInternalServerError, response.DatabaseException, err.Error())
}

// decodeOneOrMany decodes a JSON object or a JSON array of objects.
// It reports whether the body was an array.
func decodeOneOrMany[T any](c echo.Context) ([]T, bool, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read request body: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false, errors.New("request body is empty")
	}

	if body[0] == '[' {
		var items []T
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, true, fmt.Errorf("invalid JSON array: %w", err)
		}
		return items, true, nil
	}

	var item T
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, false, fmt.Errorf("invalid JSON object: %w", err)
	}
	return []T{item}, false, nil
}

func decodeBody(c echo.Context, v interface{}) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// queryTime parses an RFC3339 timestamp or a plain date
func queryTime(c echo.Context, name string) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("`%s` must be RFC3339 or %s", name, dateLayout)
	}
	return t, nil
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("`%s` must be a non-negative integer", name)
	}
	return n, nil
}

func queryFloat(c echo.Context, name string, def float64) (float64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("`%s` must be a number", name)
	}
	return f, nil
}

func queryBool(c echo.Context, name string) bool {
	b, _ := strconv.ParseBool(c.QueryParam(name))
	return b
}
