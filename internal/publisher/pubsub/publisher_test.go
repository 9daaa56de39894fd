package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) *pubsub.Client {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "hoops-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return client
}

func TestPublishDeliversJSON(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := newTestClient(t)
	topic, err := client.CreateTopic(ctx, "artifacts")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "artifacts-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub, err := New(client)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	payload := map[string]any{
		"run_id":   "run-1",
		"job":      "1998/standings",
		"category": "standings",
		"size":     42,
	}
	id, err := pub.Publish(ctx, "artifacts", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	received := make(chan *pubsub.Message, 1)
	recvCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case received <- msg:
			default:
			}
			stop()
		})
	}()

	select {
	case msg := <-received:
		var got map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "1998/standings", got["job"])
		assert.Equal(t, map[string]string{
			"run_id":   "run-1",
			"job":      "1998/standings",
			"category": "standings",
		}, msg.Attributes)
	case <-ctx.Done():
		t.Fatal("message not received")
	}
}

func TestPublishRejectsBadInput(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	pub, err := New(client)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	_, err = pub.Publish(context.Background(), "", "payload")
	require.Error(t, err)

	_, err = pub.Publish(context.Background(), "artifacts", map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal payload")
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)
}

func TestAttributes(t *testing.T) {
	t.Parallel()

	assert.Nil(t, attributes("plain"))
	assert.Nil(t, attributes(map[string]any{"size": 1}))
	assert.Equal(t, map[string]string{"job": "1998/stats/totals"}, attributes(map[string]any{"job": "1998/stats/totals", "run_id": ""}))
}
