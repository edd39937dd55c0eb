package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobqueue/internal/models"
	"jobqueue/internal/state"
	"jobqueue/internal/store"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestStore connects to JOBQUEUE_TEST_REDIS_URL and isolates the test
// under its own key prefix.
func newTestStore(t *testing.T) *RedisJobStore {
	t.Helper()
	url := os.Getenv("JOBQUEUE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("JOBQUEUE_TEST_REDIS_URL not set")
	}
	prefix := fmt.Sprintf("jobqueue-test:%s:%d:", t.Name(), time.Now().UnixNano())
	s, err := Open(context.Background(), url, WithKeyPrefix(prefix))
	require.NoError(t, err)
	t.Cleanup(func() {
		s.client.Del(context.Background(), s.jobsKey(), s.configKey())
		_ = s.Close()
	})
	return s
}

func TestOpen_BadURL(t *testing.T) {
	_, err := Open(context.Background(), "not-a-url")
	assert.Error(t, err)
}

func TestNewRedisJobStore_Keys(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:0"})
	defer client.Close()

	s := NewRedisJobStore(client)
	assert.Equal(t, "jobqueue:jobs", s.jobsKey())
	assert.Equal(t, "jobqueue:config", s.configKey())

	s = NewRedisJobStore(client, WithKeyPrefix("q2:"))
	assert.Equal(t, "q2:jobs", s.jobsKey())

	s = NewRedisJobStore(client, WithKeyPrefix(""))
	assert.Equal(t, "jobqueue:jobs", s.jobsKey())
}

func TestRedisJobStore_SaveGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, models.NewJob("b", "true", 3, now)))
	require.NoError(t, s.Save(ctx, models.NewJob("a", "true", 3, now)))

	job, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, job.State)
	assert.True(t, job.CreatedAt.Equal(now))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	require.NoError(t, s.Delete(ctx, "a"))
	assert.True(t, errors.Is(s.Delete(ctx, "a"), store.ErrJobNotFound))
	_, err = s.Get(ctx, "a")
	assert.True(t, errors.Is(err, store.ErrJobNotFound))
}

func TestRedisJobStore_ConcurrentClaimHasOneWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, models.NewJob("a", "true", 3, now)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Claim(ctx, "a", now); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	job, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, state.StatusProcessing, job.State)
}

func TestRedisJobStore_Config(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := map[string]any{"max_retries": int64(5), "backoff_base": 1.5, "ratio": 2.0, "verbose": true}
	require.NoError(t, s.SaveConfig(ctx, want))
	got, err := s.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, s.SaveConfig(ctx, map[string]any{}))
	got, err = s.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}
