package handlers

import (
	"errors"
	"net/http"

	"github.com/CrazyKoodaa/futures-trading-system/internal/service"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/response"
	"github.com/labstack/echo/v4"
)

// IngestHandler is the handler for the ingestion API
type IngestHandler struct {
	ingest *service.IngestService
	feed   *service.FeedService
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(ingest *service.IngestService, feed *service.FeedService) *IngestHandler {
	return &IngestHandler{ingest: ingest, feed: feed}
}

// BatchResponseData summarizes a batch write
type BatchResponseData struct {
	Accepted int               `json:"accepted"`
	Rejected int               `json:"rejected"`
	Outcomes []service.Outcome `json:"outcomes"`
}

func summarize(outcomes []service.Outcome) BatchResponseData {
	data := BatchResponseData{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Accepted {
			data.Accepted++
		} else {
			data.Rejected++
		}
	}
	return data
}

// IngestBars records one second bar or a batch of them. A single bar is
// answered with the stored row or its rejection; a batch always answers with
// per-bar outcomes.
func (h *IngestHandler) IngestBars(c echo.Context) error {
	inputs, isBatch, err := decodeOneOrMany[service.BarInput](c)
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	if !isBatch {
		outcome, err := h.ingest.RecordBar(c.Request().Context(), inputs[0])
		if err != nil {
			return errorResponse(c, err)
		}
		if outcome.Rejection != nil {
			return rejectionResponse(c, outcome.Rejection)
		}
		return response.CreatedResponse(c, outcome.Bar)
	}

	outcomes, err := h.ingest.RecordBars(c.Request().Context(), inputs)
	if err != nil {
		return errorResponse(c, err)
	}
	return response.SuccessResponse(c, summarize(outcomes))
}

// IngestTicks appends one raw tick or a batch of them
func (h *IngestHandler) IngestTicks(c echo.Context) error {
	inputs, isBatch, err := decodeOneOrMany[service.TickInput](c)
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	ctx := c.Request().Context()
	if !isBatch {
		outcome, err := h.ingest.RecordTick(ctx, inputs[0])
		if err != nil {
			return errorResponse(c, err)
		}
		if outcome.Rejection != nil {
			return rejectionResponse(c, outcome.Rejection)
		}
		return response.CreatedResponse(c, outcome.Tick)
	}

	outcomes := make([]service.Outcome, 0, len(inputs))
	for _, in := range inputs {
		outcome, err := h.ingest.RecordTick(ctx, in)
		if err != nil {
			return errorResponse(c, err)
		}
		outcomes = append(outcomes, outcome)
	}
	return response.SuccessResponse(c, summarize(outcomes))
}

// FeedResponseData reports how many ticks were queued on the feed
type FeedResponseData struct {
	Queued  int `json:"queued"`
	Dropped int `json:"dropped"`
}

// SubmitFeedTicks queues ticks on the live feed, which stores them and
// builds second bars asynchronously
func (h *IngestHandler) SubmitFeedTicks(c echo.Context) error {
	inputs, _, err := decodeOneOrMany[service.TickInput](c)
	if err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, response.InputException, err.Error())
	}

	var data FeedResponseData
	for _, in := range inputs {
		err := h.feed.Submit(in)
		switch {
		case err == nil:
			data.Queued++
		case errors.Is(err, service.ErrFeedChannelFull):
			data.Dropped++
		case errors.Is(err, service.ErrFeedNotRunning):
			return response.ErrorResponse(c, http.StatusServiceUnavailable, response.ServerException, err.Error())
		default:
			return errorResponse(c, err)
		}
	}

	return c.JSON(http.StatusAccepted, response.Response{Status: "success", Data: data})
}
