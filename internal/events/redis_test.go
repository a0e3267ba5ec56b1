package events

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestNewRedisRejectsInvalidURL(t *testing.T) {
	_, err := NewRedis("http://localhost:6379", "")
	require.Error(t, err)
}

func TestNewRedisDefaultsChannel(t *testing.T) {
	r, err := NewRedis("redis://localhost:6379/0", " ")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	require.Equal(t, DefaultChannel, r.Channel())
}

func TestRedisPublishReportsUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := NewRedisWithClient(client, "test:jobs")
	t.Cleanup(func() { _ = r.Close() })

	err := r.Publish(context.Background(), Message{Type: TypeCreated, JobID: 1, Status: "running", At: time.Now()})
	require.ErrorContains(t, err, "publish to test:jobs")
}

func TestNoop(t *testing.T) {
	var n Notifier = Noop{}
	require.NoError(t, n.Publish(context.Background(), Message{}))
	require.NoError(t, n.Close())
}
