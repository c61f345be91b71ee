package jobstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/svdflow/config"
	"github.com/BaSui01/svdflow/internal/database"
	"github.com/BaSui01/svdflow/invoker"
	"github.com/BaSui01/svdflow/storage"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stepClock 每次调用前进一秒，保证创建顺序可区分
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Store {
			s := NewMemoryStore()
			s.now = newStepClock().now
			return s
		}},
		{"redis", func(t *testing.T) Store {
			mr, err := miniredis.Run()
			require.NoError(t, err)
			t.Cleanup(mr.Close)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			s := NewRedisStoreFromClient(client, "test:", zap.NewNop())
			s.now = newStepClock().now
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{"sqlite", func(t *testing.T) Store {
			pool := database.DefaultPoolConfig()
			pool.HealthCheckInterval = 0
			pm, err := database.Open(config.SQLConfig{Driver: "sqlite", DSN: ":memory:"}, pool, zap.NewNop())
			require.NoError(t, err)
			s, err := NewSQLStore(pm)
			require.NoError(t, err)
			s.now = newStepClock().now
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

func sampleHandle(id string) *invoker.JobHandle {
	return &invoker.JobHandle{
		InferenceID:     id,
		InputLocation:   storage.Location{Bucket: "b", Key: "async_inference/input/" + id + ".json"},
		OutputLocation:  storage.Location{Bucket: "b", Key: "async_inference/output/" + id + ".out"},
		FailureLocation: storage.Location{Bucket: "b", Key: "async_inference/failure/" + id + "-error.out"},
		Timeout:         time.Hour,
		ExpectedFrames:  14,
		SubmittedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := NewRecord("rocket", 7, sampleHandle("job-1"))
		require.NoError(t, s.Save(ctx, rec))

		got, err := s.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "rocket", got.Title)
		assert.Equal(t, StatusSubmitted, got.Status)
		assert.Equal(t, "s3://b/async_inference/output/job-1.out", got.OutputLocation)
		assert.Equal(t, time.Hour, got.Timeout)
		assert.Equal(t, 14, got.ExpectedFrames)
		assert.Equal(t, 7, got.FPS)
		assert.False(t, got.CreatedAt.IsZero())
		assert.True(t, got.CreatedAt.Equal(got.UpdatedAt))
	})
}

func TestStore_GetMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_UpdateKeepsCreatedAt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, NewRecord("rocket", 7, sampleHandle("job-1"))))
		first, err := s.Get(ctx, "job-1")
		require.NoError(t, err)

		update := NewRecord("rocket", 7, sampleHandle("job-1"))
		update.Status = StatusSucceeded
		update.Attempts = 3
		update.VideoPath = "video_out/rocket.mp4"
		require.NoError(t, s.Save(ctx, update))

		got, err := s.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, StatusSucceeded, got.Status)
		assert.Equal(t, 3, got.Attempts)
		assert.Equal(t, "video_out/rocket.mp4", got.VideoPath)
		assert.True(t, first.CreatedAt.Equal(got.CreatedAt))
		assert.True(t, got.UpdatedAt.After(got.CreatedAt))
	})
}

func TestStore_ListFiltersAndOrders(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 1; i <= 5; i++ {
			rec := NewRecord(fmt.Sprintf("clip-%d", i%2), 7, sampleHandle(fmt.Sprintf("job-%d", i)))
			if i%2 == 0 {
				rec.Status = StatusFailed
				rec.Error = "CUDA out of memory"
			}
			require.NoError(t, s.Save(ctx, rec))
		}

		all, err := s.List(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "job-5", all[0].ID)
		assert.Equal(t, "job-1", all[4].ID)

		failed, err := s.List(ctx, Filter{Status: []Status{StatusFailed}})
		require.NoError(t, err)
		require.Len(t, failed, 2)
		assert.Equal(t, "job-4", failed[0].ID)
		assert.Equal(t, "CUDA out of memory", failed[0].Error)

		multi, err := s.List(ctx, Filter{Status: []Status{StatusFailed, StatusSubmitted}, Limit: 3})
		require.NoError(t, err)
		assert.Len(t, multi, 3)

		byTitle, err := s.List(ctx, Filter{Title: "clip-1"})
		require.NoError(t, err)
		assert.Len(t, byTitle, 3)
	})
}

func TestStore_StatusIndexFollowsUpdates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := NewRecord("rocket", 7, sampleHandle("job-1"))
		require.NoError(t, s.Save(ctx, rec))
		rec.Status = StatusTimedOut
		require.NoError(t, s.Save(ctx, rec))

		pending, err := s.List(ctx, Filter{Status: []Status{StatusSubmitted}})
		require.NoError(t, err)
		assert.Empty(t, pending)

		timedOut, err := s.List(ctx, Filter{Status: []Status{StatusTimedOut}})
		require.NoError(t, err)
		assert.Len(t, timedOut, 1)
	})
}

func TestStore_RejectsEmptyID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		assert.Error(t, s.Save(context.Background(), &Record{}))
		assert.Error(t, s.Save(context.Background(), nil))
		require.NoError(t, s.Ping(context.Background()))
	})
}

func TestRecord_HandleRoundTrip(t *testing.T) {
	h := sampleHandle("job-9")
	rec := NewRecord("rocket", 7, h)

	got, err := rec.Handle()
	require.NoError(t, err)
	assert.Equal(t, h.InferenceID, got.InferenceID)
	assert.Equal(t, h.InputLocation, got.InputLocation)
	assert.Equal(t, h.OutputLocation, got.OutputLocation)
	assert.Equal(t, h.FailureLocation, got.FailureLocation)
	assert.Equal(t, h.Timeout, got.Timeout)
	assert.Equal(t, h.ExpectedFrames, got.ExpectedFrames)

	rec.OutputLocation = "not-a-location"
	_, err = rec.Handle()
	assert.Error(t, err)
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusSubmitted.IsTerminal())
	for _, s := range []Status{StatusSucceeded, StatusFailed, StatusTimedOut, StatusError} {
		assert.True(t, s.IsTerminal(), s)
	}
}

func TestNew(t *testing.T) {
	s, err := New(config.JobStoreConfig{Type: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(config.JobStoreConfig{Type: "sql", SQL: config.SQLConfig{Driver: "sqlite", DSN: ":memory:"}}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	s, err = New(config.JobStoreConfig{Type: "redis", Redis: config.RedisConfig{Addr: mr.Addr()}}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	require.NoError(t, s.Close())

	_, err = New(config.JobStoreConfig{Type: "etcd"}, nil)
	assert.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" Timed_Out ")
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, st)

	_, err = ParseStatus("running")
	assert.Error(t, err)
}
