package service

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishService_Forward(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	sub := client.Subscribe(ctx, RedisBarsChannel)
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	publisher := NewPublishService(client, "")
	payload := `{"timestamp":"2024-11-04T15:00:00+00:00","symbol":"NQ","contract":"NQZ24","exchange":"CME","close":21000.25,"volume":12}`
	require.NoError(t, publisher.Forward(ctx, payload))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, msg.Payload)

	assert.Equal(t, "21000.25", s.HGet(LastPriceHashKey, "NQZ24:CME"))

	assert.Error(t, publisher.Forward(ctx, "not json"))
}

func TestPublishService_ForwardKeepsNewestClose(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	publisher := NewPublishService(client, "")
	newer := `{"timestamp":"2024-11-04T15:00:05Z","symbol":"NQ","contract":"NQZ24","exchange":"CME","close":21010,"volume":3}`
	older := `{"timestamp":"2024-11-04T15:00:01Z","symbol":"NQ","contract":"NQZ24","exchange":"CME","close":20990,"volume":8}`
	revised := `{"timestamp":"2024-11-04T15:00:05Z","symbol":"NQ","contract":"NQZ24","exchange":"CME","close":21011.5,"volume":4}`

	require.NoError(t, publisher.Forward(ctx, newer))
	require.NoError(t, publisher.Forward(ctx, older))
	assert.Equal(t, "21010", s.HGet(LastPriceHashKey, "NQZ24:CME"))

	// the same second written again still wins
	require.NoError(t, publisher.Forward(ctx, revised))
	assert.Equal(t, "21011.5", s.HGet(LastPriceHashKey, "NQZ24:CME"))
	assert.Equal(t, "1730732405000", s.HGet(LastPriceTimeHashKey, "NQZ24:CME"))

	// other series are independent
	require.NoError(t, publisher.Forward(ctx, `{"timestamp":"2024-11-04T15:00:01Z","symbol":"NQ","contract":"NQZ24","exchange":"EUREX","close":20995,"volume":1}`))
	assert.Equal(t, "20995", s.HGet(LastPriceHashKey, "NQZ24:EUREX"))
}
