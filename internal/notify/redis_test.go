package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bitchest/wallet-engine/internal/model"
)

func TestRedisPublisher(t *testing.T) {
	if testing.Short() {
		t.Skip("redis container skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	addr, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })

	sub := rdb.Subscribe(ctx, Channel("client-1"))
	t.Cleanup(func() { sub.Close() })
	_, err = sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	pub := NewRedisPublisher(rdb)
	pub.TransactionCompleted(ctx, model.TransactionCompleted{
		EntryID:  "entry-1",
		UserID:   "client-1",
		AssetID:  "BTC",
		Type:     model.Buy,
		Quantity: decimal.RequireFromString("0.01"),
		Total:    decimal.NewFromInt(200),
	})

	select {
	case msg := <-sub.Channel():
		var got struct {
			Type    string                     `json:"type"`
			Payload model.TransactionCompleted `json:"payload"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, model.EventTransactionCompleted, got.Type)
		assert.Equal(t, "entry-1", got.Payload.EntryID)
		assert.True(t, got.Payload.Total.Equal(decimal.NewFromInt(200)))
	case <-time.After(5 * time.Second):
		t.Fatal("no message published")
	}
}
