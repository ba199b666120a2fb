// Package workerpool implements the Worker Instance and Worker Pool
// (spec.md §4.2-4.3): a bounded set of child-process workers, keyed by
// (appName, version) lane, with admission control, LRU reuse, FIFO
// waiter queues, and periodic retirement.
//
// Grounded on plugin/grpc/discovery.go's PluginManager (process
// launch, readiness polling, shutdown-then-kill) and on RoadRunner's
// pool/Watcher interface naming (Take/Release/Allocate/Destroy) for
// the acquire/release/retire vocabulary used here.
package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/zommehq/buntime/internal/errors"
	"github.com/zommehq/buntime/internal/logger"
)

// Outcome is the disposition a Lease is released with (spec.md §4.3).
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRecycle
	OutcomeKill
)

type laneKey struct {
	name    string
	version string
}

// lane is the pool's per-app collection of workers plus its waiter
// queue (spec.md §3's "Pool" data model).
type lane struct {
	ready   []*Instance // LRU order: index 0 least-recently released
	waiters []*waiter   // FIFO within the lane
}

type waiter struct {
	key       laneKey
	ch        chan acquireResult
	cancelled bool
}

type acquireResult struct {
	lease *Lease
	err   error
}

// Pool is the bounded set of worker instances serving every app lane,
// enforcing Σ live workers ≤ maxSize (spec.md §3).
type Pool struct {
	mu       sync.Mutex
	maxSize  int
	live     int
	draining bool
	grace    time.Duration

	lanes map[laneKey]*lane
	// globalWaiters orders every lane's waiters by arrival, so a freed
	// slot serves whichever lane has been waiting longest (spec.md
	// §4.3.1's cross-lane fairness rule), not just the longest waiter
	// within its own lane.
	globalWaiters []*waiter

	loader  AppLoader
	spawner instanceSpawner
}

// instanceSpawner is the subset of *Spawner the pool depends on;
// abstracted so tests can substitute a fake that doesn't fork real
// child processes.
type instanceSpawner interface {
	Spawn(ctx context.Context, appDir string, cfg WorkerConfig) (*spawnResult, error)
}

// New constructs a Pool with the given global worker cap, shutdown
// grace period, app loader, and spawner.
func New(maxSize int, grace time.Duration, loader AppLoader, spawner instanceSpawner) *Pool {
	return &Pool{
		maxSize: maxSize,
		grace:   grace,
		lanes:   make(map[laneKey]*lane),
		loader:  loader,
		spawner: spawner,
	}
}

func (p *Pool) laneFor(key laneKey) *lane {
	l, ok := p.lanes[key]
	if !ok {
		l = &lane{}
		p.lanes[key] = l
	}
	return l
}

// Lease is exclusive temporary ownership of one worker instance for
// one request's lifetime (spec.md's Lease glossary entry).
type Lease struct {
	Instance *Instance
	pool     *Pool
	key      laneKey
	once     sync.Once
}

// Release returns the leased worker to its lane per outcome. Exactly
// one Release call is expected per Lease (spec.md §8 property 5);
// subsequent calls are no-ops.
func (l *Lease) Release(outcome Outcome) {
	l.once.Do(func() {
		l.pool.release(l.Instance, l.key, outcome)
	})
}

func (p *Pool) newLease(inst *Instance, key laneKey) *Lease {
	return &Lease{Instance: inst, pool: p, key: key}
}

// Acquire returns a lease carrying an exclusively-owned READY worker
// for (name, version), per spec.md §4.3.1's acquisition algorithm.
func (p *Pool) Acquire(ctx context.Context, name, version string) (*Lease, error) {
	key := laneKey{name: name, version: version}

	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, errors.WithKind(errors.New("pool is shutting down"), errors.KindPoolShutdown)
	}

	l := p.laneFor(key)
	now := time.Now()

	for i := len(l.ready) - 1; i >= 0; i-- {
		w := l.ready[i]
		if w.expired(now) {
			l.ready = append(l.ready[:i], l.ready[i+1:]...)
			p.live--
			go w.Terminate(p.grace)
			continue
		}
		l.ready = append(l.ready[:i], l.ready[i+1:]...)
		p.mu.Unlock()
		return p.newLease(w, key), nil
	}

	if p.live < p.maxSize {
		p.live++
		p.mu.Unlock()

		inst, err := p.spawnFor(ctx, key)
		if err != nil {
			p.mu.Lock()
			p.live--
			p.mu.Unlock()
			p.wakeNextWaiter()
			return nil, err
		}
		return p.newLease(inst, key), nil
	}

	w := &waiter{key: key, ch: make(chan acquireResult, 1)}
	l.waiters = append(l.waiters, w)
	p.globalWaiters = append(p.globalWaiters, w)
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		p.cancelWaiter(w)
		return nil, errors.WithKind(errors.New("deadline exceeded waiting for worker"), errors.KindPoolExhausted)
	case res := <-w.ch:
		return res.lease, res.err
	}
}

func (p *Pool) cancelWaiter(w *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()

	l := p.lanes[w.key]
	if l != nil {
		for i, cand := range l.waiters {
			if cand == w {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				break
			}
		}
	}
	for i, cand := range p.globalWaiters {
		if cand == w {
			p.globalWaiters = append(p.globalWaiters[:i], p.globalWaiters[i+1:]...)
			return
		}
	}
	// Already popped for service by another goroutine; mark it so the
	// in-flight hand-off routes the worker back into the pool instead
	// of leaking it to an abandoned caller.
	w.cancelled = true
}

func (p *Pool) popOldestWaiterLocked() *waiter {
	if len(p.globalWaiters) == 0 {
		return nil
	}
	w := p.globalWaiters[0]
	p.globalWaiters = p.globalWaiters[1:]

	l := p.lanes[w.key]
	for i, cand := range l.waiters {
		if cand == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			break
		}
	}
	return w
}

// spawnFor loads the app's config and spawns a new instance for key.
func (p *Pool) spawnFor(ctx context.Context, key laneKey) (*Instance, error) {
	dir, cfg, err := p.loader.Load(key.name, key.version)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	result, err := p.spawner.Spawn(ctx, dir, cfg)
	if err != nil && isTransientSpawnError(err, dir, cfg) {
		// spec.md §7(a): retry at most once for a file-not-ready race.
		logger.Warnw("transient spawn failure, retrying once",
			logger.FieldApp, key.name, logger.FieldLane, key.version, logger.FieldError, err)
		result, err = p.spawner.Spawn(ctx, dir, cfg)
	}
	if err != nil {
		return nil, err
	}

	inst := newInstance(Identity{Name: key.name, Version: key.version}, cfg, result.conn, result.proc)
	inst.markReady()
	logger.Infow("worker ready", logger.FieldWorkerID, inst.ID, logger.FieldApp, key.name, logger.FieldLane, key.version)
	return inst, nil
}

// release returns a worker to the pool after a lease ends, or retires
// it, and serves the longest-waiting caller across all lanes if one
// is queued (spec.md §4.3.1 step 3's cross-lane fairness).
func (p *Pool) release(inst *Instance, key laneKey, outcome Outcome) {
	reusable := outcome == OutcomeOK || outcome == OutcomeRecycle
	if reusable && (inst.expired(time.Now()) || inst.Config.TTL == 0) {
		reusable = false // ephemeral mode (spec.md §4.3.4): never cache
	}

	p.mu.Lock()
	waiter := p.popOldestWaiterLocked()

	switch {
	case waiter == nil && reusable && !p.draining:
		l := p.laneFor(key)
		l.ready = append(l.ready, inst)
		p.mu.Unlock()

	case waiter == nil:
		p.live--
		p.mu.Unlock()
		go inst.Terminate(p.grace)

	case reusable && waiter.key == key && !waiter.cancelled:
		p.mu.Unlock()
		waiter.ch <- acquireResult{lease: p.newLease(inst, key)}

	default:
		p.live--
		p.mu.Unlock()
		go inst.Terminate(p.grace)
		if waiter.cancelled {
			p.wakeNextWaiter()
			return
		}
		go p.spawnForWaiter(waiter)
	}
}

// wakeNextWaiter pops the oldest global waiter (if any) and spawns a
// fresh worker for it, used after a spawn failure frees up admission
// headroom that another waiter can use.
func (p *Pool) wakeNextWaiter() {
	p.mu.Lock()
	w := p.popOldestWaiterLocked()
	p.mu.Unlock()
	if w == nil {
		return
	}
	if w.cancelled {
		p.wakeNextWaiter()
		return
	}
	go p.spawnForWaiter(w)
}

func (p *Pool) spawnForWaiter(w *waiter) {
	p.mu.Lock()
	p.live++
	p.mu.Unlock()

	inst, err := p.spawnFor(context.Background(), w.key)
	if err != nil {
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		if !w.cancelled {
			w.ch <- acquireResult{err: err}
		}
		p.wakeNextWaiter()
		return
	}

	p.mu.Lock()
	cancelled := w.cancelled
	p.mu.Unlock()
	if cancelled {
		// Caller gave up while we were spawning; park the fresh
		// worker instead of leasing it to nobody.
		p.release(inst, w.key, OutcomeOK)
		return
	}
	w.ch <- acquireResult{lease: p.newLease(inst, w.key)}
}

// Metrics is a snapshot of pool-wide and per-worker counters, exposed
// to plugins and the admin routes (spec.md §4.3's metrics() contract).
type Metrics struct {
	Live     int
	MaxSize  int
	Draining bool
	Lanes    map[string][]Snapshot
}

// Metrics returns a point-in-time snapshot of the pool's state.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := Metrics{Live: p.live, MaxSize: p.maxSize, Draining: p.draining, Lanes: make(map[string][]Snapshot)}
	for key, l := range p.lanes {
		laneName := key.name + "@" + key.version
		for _, inst := range l.ready {
			m.Lanes[laneName] = append(m.Lanes[laneName], inst.snapshot())
		}
	}
	return m
}

// StartRetirementSweep launches a background goroutine that retires
// expired READY workers at least once per second (spec.md §4.3.3),
// until ctx is cancelled.
func (p *Pool) StartRetirementSweep(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.sweep()
			}
		}
	}()
}

func (p *Pool) sweep() {
	now := time.Now()

	p.mu.Lock()
	var expired []*Instance
	for _, l := range p.lanes {
		kept := l.ready[:0]
		for _, inst := range l.ready {
			if inst.expired(now) {
				expired = append(expired, inst)
				p.live--
			} else {
				kept = append(kept, inst)
			}
		}
		l.ready = kept
	}
	p.mu.Unlock()

	for _, inst := range expired {
		logger.Debugw("worker retired by sweep", logger.FieldWorkerID, inst.ID, logger.FieldApp, inst.Identity.Name)
		go inst.Terminate(p.grace)
	}
	if len(expired) > 0 {
		for range expired {
			p.wakeNextWaiterIfCapacity()
		}
	}
}

// wakeNextWaiterIfCapacity serves one queued waiter now that a sweep
// freed a slot, without double-allocating capacity the sweep didn't
// actually free (it already decremented live for each expired worker).
func (p *Pool) wakeNextWaiterIfCapacity() {
	p.mu.Lock()
	w := p.popOldestWaiterLocked()
	p.mu.Unlock()
	if w == nil {
		return
	}
	if w.cancelled {
		p.wakeNextWaiterIfCapacity()
		return
	}
	go p.spawnForWaiter(w)
}

// Shutdown stops admission, fails every queued waiter with
// PoolShutdown, and terminates every parked READY worker, killing any
// that has not exited within grace. Workers leased at the time are not
// waited for: each is terminated when its lease is released.
func (p *Pool) Shutdown(grace time.Duration) {
	p.mu.Lock()
	p.draining = true
	var toTerminate []*Instance
	for _, l := range p.lanes {
		toTerminate = append(toTerminate, l.ready...)
		for _, w := range l.waiters {
			w.ch <- acquireResult{err: errors.WithKind(errors.New("pool shutting down"), errors.KindPoolShutdown)}
		}
		l.ready = nil
		l.waiters = nil
	}
	p.globalWaiters = nil
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range toTerminate {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			inst.Terminate(grace)
		}(inst)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(grace):
		for _, inst := range toTerminate {
			inst.Kill()
		}
	}
}
