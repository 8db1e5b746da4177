package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("set TEST_INTEGRATION to run redis queue tests")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisQueue_Lifecycle(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	q := NewRedisQueue(client, "validator", ":dlq", 2, zerolog.Nop())

	require.NoError(t, NewProducer(q).EnqueueJob(ctx, 5, WorkTypeValidation))

	m, err := q.Receive(ctx, 1, 30)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "5", m.Body)
	assert.Equal(t, 1, m.ReceiveCount)
	assert.Equal(t, WorkTypeValidation, m.Attribute(AttributeWorkType))

	// In flight, so nothing else to receive.
	again, err := q.Receive(ctx, 1, 30)
	require.NoError(t, err)
	assert.Nil(t, again)

	// Returned immediately, then received a second time.
	require.NoError(t, q.ChangeVisibility(ctx, m, 0))
	m, err = q.Receive(ctx, 1, 30)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 2, m.ReceiveCount)

	require.NoError(t, q.Delete(ctx, m))
	gone, err := q.Receive(ctx, 1, 30)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestRedisQueue_ExpiredVisibilityAndDeadLetter(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	q := NewRedisQueue(client, "validator", ":dlq", 2, zerolog.Nop())
	clock := time.Now()
	q.now = func() time.Time { return clock }

	require.NoError(t, q.Send(ctx, "9", nil))

	m, err := q.Receive(ctx, 1, 30)
	require.NoError(t, err)
	require.NotNil(t, m)

	clock = clock.Add(time.Minute)
	m, err = q.Receive(ctx, 1, 30)
	require.NoError(t, err)
	require.NotNil(t, m, "expired message should be redelivered")
	assert.Equal(t, 2, m.ReceiveCount)

	clock = clock.Add(time.Minute)
	m, err = q.Receive(ctx, 1, 30)
	require.NoError(t, err)
	assert.Nil(t, m)

	n, err := q.DeadLetterLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	policy, err := q.RedrivePolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, "validator:dlq", policy.DeadLetterTarget)
}
