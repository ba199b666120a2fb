package workerpool

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zommehq/buntime/internal/errors"
	"github.com/zommehq/buntime/internal/logger"
	"github.com/zommehq/buntime/internal/workerpool/wire"
)

// State is one point in the worker instance lifecycle (spec.md §4.2).
type State int

const (
	StateCreating State = iota
	StateReady
	StateActive
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "CREATING"
	case StateReady:
		return "READY"
	case StateActive:
		return "ACTIVE"
	case StateTerminating:
		return "TERMINATING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Identity is the (appName, version) pair a worker instance serves.
type Identity struct {
	Name    string
	Version string
}

// Counters tracks a worker's lifetime activity. Owned by the instance;
// mutated only by whoever currently holds its lease.
type Counters struct {
	RequestsServed  int64
	ErrorsServed    int64
	TotalResponseMS int64
}

// conn is the subset of a worker's control channel this package needs;
// satisfied by a *net.TCPConn in production and an in-memory pipe in
// tests.
type conn interface {
	io.ReadWriteCloser
}

// Instance is a supervisor wrapper around a single child process that
// loads one app (spec.md §4.2). Exclusively owned by the pool; never
// shared between concurrent requests — at most one in-flight request
// at a time.
type Instance struct {
	ID       string
	Identity Identity
	Config   WorkerConfig

	mu             sync.Mutex
	state          State
	conn           conn
	proc           processHandle
	createdAt      time.Time
	lastActivityAt time.Time
	counters       Counters

	// reqSeq counts the requests started on this instance; the request
	// ids sent on the control channel are UUIDs.
	reqSeq int

	idleStop chan struct{}
}

// processHandle abstracts the child process so tests can supply a fake
// without actually forking.
type processHandle interface {
	Pid() int
	Signal(os.Signal) error
	Kill() error
	Wait() error
}

func newInstance(identity Identity, cfg WorkerConfig, c conn, proc processHandle) *Instance {
	now := time.Now()
	return &Instance{
		ID:             uuid.NewString(),
		Identity:       identity,
		Config:         cfg,
		state:          StateCreating,
		conn:           c,
		proc:           proc,
		createdAt:      now,
		lastActivityAt: now,
		idleStop:       make(chan struct{}),
	}
}

// State returns the instance's current lifecycle state.
func (in *Instance) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Snapshot is a point-in-time copy of an instance's counters and
// timestamps, safe to hand to callers outside the pool lock (used by
// Pool.Metrics and the admin routes).
type Snapshot struct {
	ID             string
	Identity       Identity
	State          State
	Counters       Counters
	CreatedAt      time.Time
	LastActivityAt time.Time
}

func (in *Instance) snapshot() Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	return Snapshot{
		ID:             in.ID,
		Identity:       in.Identity,
		State:          in.state,
		Counters:       in.counters,
		CreatedAt:      in.createdAt,
		LastActivityAt: in.lastActivityAt,
	}
}

// markReady transitions CREATING → READY after the child's handshake.
func (in *Instance) markReady() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.state = StateReady
	in.lastActivityAt = time.Now()
}

// expired reports whether the instance currently violates a retirement
// predicate (spec.md §4.3.3), evaluated against "now".
func (in *Instance) expired(now time.Time) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.expiredLocked(now)
}

func (in *Instance) expiredLocked(now time.Time) bool {
	if in.Config.TTL > 0 && now.Sub(in.createdAt) > in.Config.TTL {
		return true
	}
	if now.Sub(in.lastActivityAt) > in.Config.IdleTimeout {
		return true
	}
	if in.Config.MaxRequests > 0 && in.counters.RequestsServed >= int64(in.Config.MaxRequests) {
		return true
	}
	return false
}

// Handle serves one HTTP request on this instance (spec.md §4.2's
// `handle(request) → response` contract). The caller must hold the
// instance's lease (i.e. have just acquired it from the pool) and the
// instance must be READY.
//
// Handle blocks until the child responds, the request's timeout
// elapses, or ctx is cancelled. w receives the proxied response as it
// streams in; Handle returns once the full body has been written (or
// the connection failed partway through, in which case err is
// non-nil and the caller should release with KILL).
func (in *Instance) Handle(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	in.mu.Lock()
	if in.state != StateReady {
		in.mu.Unlock()
		return errors.WithKind(errors.Newf("worker %s: handle called in state %s, want READY", in.ID, in.state), errors.KindWorkerCrash)
	}
	in.state = StateActive
	in.reqSeq++
	reqID := uuid.NewString()
	in.mu.Unlock()

	deadline := in.Config.Timeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	err := in.proxyRequest(reqCtx, reqID, w, r)
	elapsed := time.Since(start)

	in.mu.Lock()
	defer in.mu.Unlock()

	if err != nil {
		in.counters.ErrorsServed++
		in.state = StateTerminating
		kind := errors.KindWorkerCrash
		if reqCtx.Err() == context.DeadlineExceeded {
			kind = errors.KindWorkerTimeout
		}
		return errors.WithKind(errors.Wrapf(err, "worker %s: request %s failed", in.ID, reqID), kind)
	}

	in.counters.RequestsServed++
	in.counters.TotalResponseMS += elapsed.Milliseconds()
	in.lastActivityAt = time.Now()
	in.state = StateReady
	return nil
}

// proxyRequest serializes r over the control channel and streams the
// child's response into w. Grounded on plugin/grpc/client.go's
// proxyHTTPRequest, generalized from a gRPC bidi stream to the
// length-prefixed wire frames in internal/workerpool/wire.
func (in *Instance) proxyRequest(ctx context.Context, reqID string, w http.ResponseWriter, r *http.Request) error {
	frameReq := wire.Request{
		ID:         reqID,
		Method:     r.Method,
		URL:        r.URL.String(),
		Headers:    r.Header,
		RemoteAddr: r.RemoteAddr,
		HasBody:    r.Body != nil && r.Body != http.NoBody,
	}
	if err := wire.Encode(in.conn, wire.TypeRequest, frameReq); err != nil {
		return err
	}

	if frameReq.HasBody {
		if err := in.streamRequestBody(reqID, r.Body); err != nil {
			return err
		}
	}

	return in.streamResponse(ctx, reqID, w)
}

func (in *Instance) streamRequestBody(reqID string, body io.ReadCloser) error {
	defer body.Close()
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := wire.Encode(in.conn, wire.TypeBodyChunk, wire.BodyChunk{ID: reqID, Data: chunk}); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return wire.Encode(in.conn, wire.TypeBodyEnd, wire.BodyEnd{ID: reqID})
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (in *Instance) streamResponse(ctx context.Context, reqID string, w http.ResponseWriter) error {
	type result struct {
		err error
	}
	done := make(chan result, 1)

	go func() {
		headersSent := false
		for {
			frame, err := wire.Decode(in.conn)
			if err != nil {
				done <- result{err}
				return
			}

			switch frame.Type {
			case wire.TypeResponse:
				var resp wire.Response
				if err := wire.DecodePayload(frame, &resp); err != nil {
					done <- result{err}
					return
				}
				for key, values := range resp.Headers {
					for _, v := range values {
						w.Header().Add(key, v)
					}
				}
				w.WriteHeader(resp.Status)
				headersSent = true
			case wire.TypeBodyChunk:
				var chunk wire.BodyChunk
				if err := wire.DecodePayload(frame, &chunk); err != nil {
					done <- result{err}
					return
				}
				if _, err := w.Write(chunk.Data); err != nil {
					done <- result{err}
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			case wire.TypeBodyEnd:
				done <- result{nil}
				return
			case wire.TypeError:
				var wireErr wire.Error
				_ = wire.DecodePayload(frame, &wireErr)
				if !headersSent {
					done <- result{errors.Newf("worker error: %s", wireErr.Message)}
					return
				}
				done <- result{errors.Newf("worker error after headers sent: %s", wireErr.Message)}
				return
			default:
				logger.Debugw("unexpected frame during response streaming", logger.FieldWorkerID, in.ID, "frame_type", frame.Type)
			}
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-done:
		return r.err
	}
}

// Terminate signals the child to exit gracefully, falling back to a
// kill if it doesn't within grace.
func (in *Instance) Terminate(grace time.Duration) {
	in.mu.Lock()
	if in.state == StateTerminated {
		in.mu.Unlock()
		return
	}
	in.state = StateTerminating
	in.mu.Unlock()

	_ = wire.Encode(in.conn, wire.TypeTerminate, wire.Terminate{Reason: "retired"})

	waitErr := make(chan error, 1)
	go func() { waitErr <- in.proc.Wait() }()

	select {
	case <-waitErr:
	case <-time.After(grace):
		_ = in.proc.Kill()
		<-waitErr
	}

	_ = in.conn.Close()

	in.mu.Lock()
	in.state = StateTerminated
	in.mu.Unlock()

	logger.Debugw("worker terminated", logger.FieldWorkerID, in.ID, logger.FieldApp, in.Identity.Name)
}

// Kill forces immediate termination without attempting graceful exit —
// used on crash detection or lease KILL outcomes.
func (in *Instance) Kill() {
	in.mu.Lock()
	in.state = StateTerminating
	in.mu.Unlock()

	_ = in.proc.Kill()
	_ = in.conn.Close()

	in.mu.Lock()
	in.state = StateTerminated
	in.mu.Unlock()
}
