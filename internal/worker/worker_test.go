package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jdubz/job-finder/internal/queue"
)

type fakePipeline struct {
	mu      sync.Mutex
	active  int32
	maxSeen int32
	runs    int32
	delay   time.Duration
	q       queue.Manager
}

func (f *fakePipeline) Run(ctx context.Context, item queue.Item) error {
	n := atomic.AddInt32(&f.active, 1)
	for {
		old := atomic.LoadInt32(&f.maxSeen)
		if n <= old || atomic.CompareAndSwapInt32(&f.maxSeen, old, n) {
			break
		}
	}
	atomic.AddInt32(&f.runs, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	atomic.AddInt32(&f.active, -1)
	return f.q.Complete(item.ID, queue.StatusSuccess, "ok")
}

func TestWorkerClaimsAndDispatches(t *testing.T) {
	q := queue.NewMemory()
	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(queue.NewItem{Type: queue.TypeJob, URL: "u", URLHash: "hash-" + string(rune('a'+i)), Source: queue.SourceScraper})
		require.NoError(t, err)
	}

	p := &fakePipeline{q: q}
	w := New(q, p, Settings{BatchSize: 5, Lease: time.Minute, MaxConcurrentItems: 2, PollInterval: 10 * time.Millisecond, ShutdownGrace: time.Second}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	require.EqualValues(t, 5, atomic.LoadInt32(&p.runs))
	stats, err := q.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 5, stats.Success)
}

func TestWorkerRespectsConcurrencyBound(t *testing.T) {
	q := queue.NewMemory()
	for i := 0; i < 8; i++ {
		_, err := q.Enqueue(queue.NewItem{Type: queue.TypeJob, URL: "u", URLHash: "hash-" + string(rune('a'+i)), Source: queue.SourceScraper})
		require.NoError(t, err)
	}

	p := &fakePipeline{q: q, delay: 30 * time.Millisecond}
	w := New(q, p, Settings{BatchSize: 8, Lease: time.Minute, MaxConcurrentItems: 2, PollInterval: 10 * time.Millisecond, ShutdownGrace: time.Second}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	require.LessOrEqual(t, atomic.LoadInt32(&p.maxSeen), int32(2))
}

func TestWorkerGracefulShutdownWaitsForInflight(t *testing.T) {
	q := queue.NewMemory()
	_, err := q.Enqueue(queue.NewItem{Type: queue.TypeJob, URL: "u", URLHash: "hash-a", Source: queue.SourceScraper})
	require.NoError(t, err)

	p := &fakePipeline{q: q, delay: 100 * time.Millisecond}
	w := New(q, p, Settings{BatchSize: 1, Lease: time.Minute, MaxConcurrentItems: 1, PollInterval: 10 * time.Millisecond, ShutdownGrace: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	require.NoError(t, w.Run(ctx))
	require.EqualValues(t, 1, atomic.LoadInt32(&p.runs))

	stats, err := q.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Success)
}

func TestWorkerEmptyQueueSleepsAndReturnsOnCancel(t *testing.T) {
	q := queue.NewMemory()
	p := &fakePipeline{q: q}
	w := New(q, p, Settings{BatchSize: 1, Lease: time.Minute, MaxConcurrentItems: 1, PollInterval: time.Second, ShutdownGrace: time.Second}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))
	require.EqualValues(t, 0, atomic.LoadInt32(&p.runs))
}
