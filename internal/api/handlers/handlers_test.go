package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(method, target, body string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestDecodeOneOrMany(t *testing.T) {
	items, isBatch, err := decodeOneOrMany[service.TickInput](newContext(http.MethodPost, "/", ` {"symbol":"NQ","price":21000}`))
	require.NoError(t, err)
	assert.False(t, isBatch)
	require.Len(t, items, 1)
	assert.Equal(t, "NQ", items[0].Symbol)

	items, isBatch, err = decodeOneOrMany[service.TickInput](newContext(http.MethodPost, "/", "\n[{\"symbol\":\"NQ\"},{\"symbol\":\"ES\"}]"))
	require.NoError(t, err)
	assert.True(t, isBatch)
	assert.Len(t, items, 2)

	_, _, err = decodeOneOrMany[service.TickInput](newContext(http.MethodPost, "/", "   "))
	assert.Error(t, err)

	_, _, err = decodeOneOrMany[service.TickInput](newContext(http.MethodPost, "/", `[{"symbol":1}]`))
	assert.Error(t, err)
}

func TestQueryParams(t *testing.T) {
	c := newContext(http.MethodGet, "/?from=2024-11-04T15:00:00Z&to=2024-11-05&limit=10&bad=-1&threshold=0.2&latest=true", "")

	from, err := queryTime(c, "from")
	require.NoError(t, err)
	assert.True(t, from.Equal(time.Date(2024, 11, 4, 15, 0, 0, 0, time.UTC)))

	to, err := queryTime(c, "to")
	require.NoError(t, err)
	assert.True(t, to.Equal(time.Date(2024, 11, 5, 0, 0, 0, 0, time.UTC)))

	missing, err := queryTime(c, "since")
	require.NoError(t, err)
	assert.True(t, missing.IsZero())

	limit, err := queryInt(c, "limit", 5)
	require.NoError(t, err)
	assert.Equal(t, 10, limit)

	limit, err = queryInt(c, "size", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, limit)

	_, err = queryInt(c, "bad", 5)
	assert.Error(t, err)

	threshold, err := queryFloat(c, "threshold", 0.05)
	require.NoError(t, err)
	assert.Equal(t, 0.2, threshold)

	assert.True(t, queryBool(c, "latest"))
	assert.False(t, queryBool(c, "open"))
}
