package workerpool

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zommehq/buntime/internal/workerpool/wire"
)

// fakeLoader resolves every (name, version) to a fixed WorkerConfig,
// as if every app directory validated cleanly. dir overrides the
// returned app directory when set, for tests that need a real path on
// disk (e.g. the transient-spawn-retry test's entrypoint check).
type fakeLoader struct {
	cfg WorkerConfig
	dir string
}

func (l *fakeLoader) Load(name, version string) (string, WorkerConfig, error) {
	if l.dir != "" {
		return l.dir, l.cfg, nil
	}
	return "/apps/" + name + "/" + version, l.cfg, nil
}

// fakeSpawner stands in for *Spawner: it hands back a net.Pipe
// connected to a goroutine that immediately sends READY and then
// answers every REQUEST with a fixed 200 response, without forking
// any real process.
type fakeSpawner struct {
	spawned int32
	onSpawn func()
}

func (s *fakeSpawner) Spawn(ctx context.Context, appDir string, cfg WorkerConfig) (*spawnResult, error) {
	atomic.AddInt32(&s.spawned, 1)
	if s.onSpawn != nil {
		s.onSpawn()
	}

	host, child := net.Pipe()
	proc := newFakeProcess()

	go func() {
		_ = wire.Encode(host, wire.TypeReady, wire.Ready{WorkerID: "fake"})
		for {
			frame, err := wire.Decode(host)
			if err != nil {
				return
			}
			if frame.Type != wire.TypeRequest {
				if frame.Type == wire.TypeTerminate {
					return
				}
				continue
			}
			_ = wire.Encode(host, wire.TypeResponse, wire.Response{Status: 200})
			_ = wire.Encode(host, wire.TypeBodyChunk, wire.BodyChunk{Data: []byte("ok")})
			_ = wire.Encode(host, wire.TypeBodyEnd, wire.BodyEnd{})
		}
	}()

	// Consume the READY handshake here, mirroring what the real
	// Spawner's awaitReady does before handing the connection off, so
	// the Instance's first Decode call sees a RESPONSE frame, not the
	// leftover READY.
	frame, err := wire.Decode(child)
	if err != nil {
		return nil, err
	}
	if frame.Type != wire.TypeReady {
		return nil, errors.New("fakeSpawner: expected READY frame")
	}

	return &spawnResult{conn: child, proc: proc}, nil
}

// flakySpawner fails its first Spawn call (simulating a control-channel
// race against an in-flight install) and delegates every later call to
// a real fakeSpawner.
type flakySpawner struct {
	inner    fakeSpawner
	attempts int32
}

func (s *flakySpawner) Spawn(ctx context.Context, appDir string, cfg WorkerConfig) (*spawnResult, error) {
	if atomic.AddInt32(&s.attempts, 1) == 1 {
		return nil, errors.New("worker failed to connect control channel")
	}
	return s.inner.Spawn(ctx, appDir, cfg)
}

func newTestPool(maxSize int) (*Pool, *fakeSpawner) {
	// A non-zero TTL turns off ephemeral mode, so a worker released
	// with OutcomeOK is parked READY for reuse.
	cfg := DefaultWorkerConfig()
	cfg.TTL = time.Minute
	loader := &fakeLoader{cfg: cfg}
	spawner := &fakeSpawner{}
	return New(maxSize, time.Second, loader, spawner), spawner
}

func TestAcquireRetriesOnceOnTransientSpawnFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("ok"), 0o644))

	loader := &fakeLoader{cfg: DefaultWorkerConfig(), dir: dir}
	spawner := &flakySpawner{}
	pool := New(1, time.Second, loader, spawner)

	lease, err := pool.Acquire(context.Background(), "blog", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, lease.Instance)
	assert.Equal(t, int32(2), atomic.LoadInt32(&spawner.attempts), "spawn should have been retried exactly once")

	lease.Release(OutcomeOK)
}

func TestAcquireDoesNotRetryOnNonTransientSpawnFailure(t *testing.T) {
	// No entrypoint file on disk: the spawn failure isn't explained by
	// a missing-file race, so it must surface without a retry.
	loader := &fakeLoader{cfg: DefaultWorkerConfig()}
	spawner := &flakySpawner{}
	pool := New(1, time.Second, loader, spawner)

	_, err := pool.Acquire(context.Background(), "blog", "1.0.0")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&spawner.attempts))
}

func TestAcquireSpawnsFreshWorkerUnderCap(t *testing.T) {
	pool, spawner := newTestPool(2)

	lease, err := pool.Acquire(context.Background(), "blog", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, lease.Instance)
	assert.Equal(t, int32(1), atomic.LoadInt32(&spawner.spawned))

	lease.Release(OutcomeOK)
}

func TestAcquireReusesReleasedWorker(t *testing.T) {
	pool, spawner := newTestPool(2)

	lease1, err := pool.Acquire(context.Background(), "blog", "1.0.0")
	require.NoError(t, err)
	lease1.Release(OutcomeOK)

	lease2, err := pool.Acquire(context.Background(), "blog", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&spawner.spawned))
	assert.Same(t, lease1.Instance, lease2.Instance)

	lease2.Release(OutcomeOK)
}

func TestReleaseExactlyOnceIsSafe(t *testing.T) {
	pool, _ := newTestPool(1)

	lease, err := pool.Acquire(context.Background(), "blog", "1.0.0")
	require.NoError(t, err)

	lease.Release(OutcomeOK)
	lease.Release(OutcomeOK) // must not panic or double-free the slot

	metrics := pool.Metrics()
	assert.Equal(t, 1, metrics.Live)
}

func TestPoolSaturationQueuesThenServesWaiter(t *testing.T) {
	pool, _ := newTestPool(1)

	lease1, err := pool.Acquire(context.Background(), "blog", "1.0.0")
	require.NoError(t, err)

	var lease2 *Lease
	var acquireErr error
	done := make(chan struct{})
	go func() {
		lease2, acquireErr = pool.Acquire(context.Background(), "news", "1.0.0")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second acquire should have blocked while pool is saturated")
	case <-time.After(30 * time.Millisecond):
	}

	lease1.Release(OutcomeKill)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was never served after release")
	}

	require.NoError(t, acquireErr)
	require.NotNil(t, lease2)
	assert.Equal(t, "news", lease2.Instance.Identity.Name)
	assert.Equal(t, 1, pool.Metrics().Live, "the killed worker's slot must be reclaimed before the waiter's replacement is spawned")

	lease2.Release(OutcomeOK)
}

func TestWaiterFIFOWithinLane(t *testing.T) {
	pool, _ := newTestPool(1)

	lease1, err := pool.Acquire(context.Background(), "blog", "1.0.0")
	require.NoError(t, err)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		idx := i
		// Stagger enqueue order deterministically.
		time.Sleep(5 * time.Millisecond)
		go func() {
			defer wg.Done()
			lease, err := pool.Acquire(context.Background(), "blog", "1.0.0")
			if err != nil {
				return
			}
			mu.Lock()
			order = append(order, idx)
			mu.Unlock()
			lease.Release(OutcomeKill)
		}()
	}

	time.Sleep(20 * time.Millisecond) // let all three enqueue as waiters
	lease1.Release(OutcomeKill)
	wg.Wait()

	require.Len(t, order, 3)
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestAcquireContextCancelledWhileWaitingReturnsPoolExhausted(t *testing.T) {
	pool, _ := newTestPool(1)

	lease1, err := pool.Acquire(context.Background(), "blog", "1.0.0")
	require.NoError(t, err)
	defer lease1.Release(OutcomeOK)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = pool.Acquire(ctx, "news", "1.0.0")
	require.Error(t, err)
}

func TestEphemeralModeNeverReusesWorker(t *testing.T) {
	loader := &fakeLoader{cfg: WorkerConfig{Timeout: time.Second, IdleTimeout: time.Second, TTL: 0}}
	spawner := &fakeSpawner{}
	pool := New(2, time.Second, loader, spawner)

	lease1, err := pool.Acquire(context.Background(), "blog", "1.0.0")
	require.NoError(t, err)
	lease1.Release(OutcomeOK)

	// Give the async Terminate goroutine a moment to run.
	time.Sleep(10 * time.Millisecond)

	lease2, err := pool.Acquire(context.Background(), "blog", "1.0.0")
	require.NoError(t, err)
	assert.NotSame(t, lease1.Instance, lease2.Instance)
	assert.Equal(t, int32(2), atomic.LoadInt32(&spawner.spawned))

	lease2.Release(OutcomeOK)
}

func TestShutdownDrainsReadyWorkers(t *testing.T) {
	pool, _ := newTestPool(2)

	lease, err := pool.Acquire(context.Background(), "blog", "1.0.0")
	require.NoError(t, err)
	lease.Release(OutcomeOK)

	pool.Shutdown(100 * time.Millisecond)

	_, err = pool.Acquire(context.Background(), "blog", "1.0.0")
	require.Error(t, err)
}
