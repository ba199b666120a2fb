package workerpool

import (
	"context"
	"net"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zommehq/buntime/internal/workerpool/wire"
)

// fakeProcess is a processHandle that never actually forks, used to
// drive Instance tests against a net.Pipe in place of a real child.
// Kill (like a real SIGKILL) and finish (a natural exit) both unblock
// Wait, whichever happens first.
type fakeProcess struct {
	waitCh chan struct{}
	once   sync.Once
	killed bool
}

func newFakeProcess() *fakeProcess { return &fakeProcess{waitCh: make(chan struct{})} }

func (f *fakeProcess) Pid() int                { return 42 }
func (f *fakeProcess) Signal(_ os.Signal) error { return nil }
func (f *fakeProcess) Kill() error {
	f.killed = true
	f.once.Do(func() { close(f.waitCh) })
	return nil
}
func (f *fakeProcess) Wait() error { <-f.waitCh; return nil }
func (f *fakeProcess) finish()     { f.once.Do(func() { close(f.waitCh) }) }

func newTestInstance(cfg WorkerConfig) (inst *Instance, child net.Conn, proc *fakeProcess) {
	host, childConn := net.Pipe()
	proc = newFakeProcess()
	inst = newInstance(Identity{Name: "blog", Version: "1.0.0"}, cfg, host, proc)
	inst.markReady()
	return inst, childConn, proc
}

func TestInstanceHandleSuccess(t *testing.T) {
	cfg := DefaultWorkerConfig()
	inst, child, proc := newTestInstance(cfg)
	defer proc.finish()

	childErrs := make(chan error, 1)
	go func() {
		frame, err := wire.Decode(child)
		if err != nil {
			childErrs <- err
			return
		}
		if frame.Type != wire.TypeRequest {
			childErrs <- assertErr("expected REQUEST frame")
			return
		}
		if err := wire.Encode(child, wire.TypeResponse, wire.Response{ID: "ignored", Status: 200}); err != nil {
			childErrs <- err
			return
		}
		if err := wire.Encode(child, wire.TypeBodyChunk, wire.BodyChunk{Data: []byte("hi")}); err != nil {
			childErrs <- err
			return
		}
		childErrs <- wire.Encode(child, wire.TypeBodyEnd, wire.BodyEnd{})
	}()

	req := httptest.NewRequest("GET", "/blog/index.html", nil)
	rec := httptest.NewRecorder()

	err := inst.Handle(context.Background(), rec, req)
	require.NoError(t, err)
	require.NoError(t, <-childErrs)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "hi", rec.Body.String())
	assert.Equal(t, StateReady, inst.State())

	snap := inst.snapshot()
	assert.Equal(t, int64(1), snap.Counters.RequestsServed)
}

func TestInstanceHandleRejectsWhenNotReady(t *testing.T) {
	cfg := DefaultWorkerConfig()
	inst, child, proc := newTestInstance(cfg)
	defer proc.finish()
	defer child.Close()

	inst.mu.Lock()
	inst.state = StateActive
	inst.mu.Unlock()

	req := httptest.NewRequest("GET", "/blog/index.html", nil)
	rec := httptest.NewRecorder()
	err := inst.Handle(context.Background(), rec, req)
	require.Error(t, err)
}

func TestInstanceHandleTimesOutWhenChildSilent(t *testing.T) {
	cfg := DefaultWorkerConfig()
	cfg.Timeout = 20 * time.Millisecond
	inst, child, proc := newTestInstance(cfg)
	defer proc.finish()
	defer child.Close()

	// Drain the REQUEST frame but never respond, forcing the deadline.
	go func() { _, _ = wire.Decode(child) }()

	req := httptest.NewRequest("GET", "/blog/index.html", nil)
	rec := httptest.NewRecorder()

	err := inst.Handle(context.Background(), rec, req)
	require.Error(t, err)
	assert.Equal(t, StateTerminating, inst.State())

	snap := inst.snapshot()
	assert.Equal(t, int64(1), snap.Counters.ErrorsServed)
}

func TestInstanceExpiredByIdleTimeout(t *testing.T) {
	cfg := DefaultWorkerConfig()
	cfg.IdleTimeout = 10 * time.Millisecond
	inst, child, proc := newTestInstance(cfg)
	defer proc.finish()
	defer child.Close()

	assert.False(t, inst.expired(time.Now()))
	time.Sleep(20 * time.Millisecond)
	assert.True(t, inst.expired(time.Now()))
}

func TestInstanceExpiredByMaxRequests(t *testing.T) {
	cfg := DefaultWorkerConfig()
	cfg.MaxRequests = 1
	inst, child, proc := newTestInstance(cfg)
	defer proc.finish()
	defer child.Close()

	inst.mu.Lock()
	inst.counters.RequestsServed = 1
	inst.mu.Unlock()

	assert.True(t, inst.expired(time.Now()))
}

func TestInstanceExpiredByTTL(t *testing.T) {
	cfg := DefaultWorkerConfig()
	cfg.TTL = 10 * time.Millisecond
	inst, child, proc := newTestInstance(cfg)
	defer proc.finish()
	defer child.Close()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, inst.expired(time.Now()))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
