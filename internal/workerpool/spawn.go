package workerpool

import (
	"bytes"
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zommehq/buntime/internal/errors"
	"github.com/zommehq/buntime/internal/logger"
	"github.com/zommehq/buntime/internal/workerpool/wire"
)

// Spawner launches worker child processes and awaits their readiness
// handshake. Grounded on plugin/grpc/discovery.go's PluginManager:
// same "spawn, pass the port over the environment, poll for
// readiness with a bounded deadline, kill on timeout" shape. Where the
// teacher picks a port number and hopes the child binds it (falling
// back to a stdout announcement if it picked a different one), buntime
// has the host bind an ephemeral listener itself and hand the chosen
// port to the child — no allocation bookkeeping or port races to
// generalize across concurrent spawns.
type Spawner struct{}

// NewSpawner returns a ready-to-use Spawner. It holds no state; one
// instance is shared by every lane in the pool.
func NewSpawner() *Spawner {
	return &Spawner{}
}

// spawnResult bundles what Spawn produces for the pool to wrap in an
// Instance.
type spawnResult struct {
	conn conn
	proc processHandle
}

// cmdProcess adapts *os.Process to the processHandle interface.
type cmdProcess struct {
	cmd *exec.Cmd
}

func (p *cmdProcess) Pid() int                  { return p.cmd.Process.Pid }
func (p *cmdProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *cmdProcess) Kill() error                { return p.cmd.Process.Kill() }
func (p *cmdProcess) Wait() error                { return p.cmd.Wait() }

// Spawn launches the entrypoint for appDir under cfg, waits for the
// child to dial back and send a READY frame within the creation
// deadline, and returns the control connection and process handle.
//
// The child is expected to: read its control port from the
// RUNTIME_WORKER_PORT environment variable, connect to
// 127.0.0.1:<port>, and write a wire.TypeReady frame as its first
// message. This mirrors the teacher's stdout-port-announcement
// protocol, inverted — buntime's control channel is a TCP accept loop
// on the host side rather than a port the child binds, since a worker
// only ever talks to one host, never the reverse.
func (s *Spawner) Spawn(ctx context.Context, appDir string, cfg WorkerConfig) (*spawnResult, error) {
	entrypoint := resolvedEntrypoint(cfg)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate control channel listener")
	}
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port

	cmd := exec.Command(entrypointRunner(entrypoint), entrypoint)
	cmd.Dir = appDir
	cmd.Env = append(os.Environ(),
		"RUNTIME_WORKER_PORT="+strconv.Itoa(port),
		"RUNTIME_LOW_MEMORY="+strconv.FormatBool(cfg.LowMemory),
	)
	cmd.Stdout = &childLogWriter{name: appDir, level: "info"}
	cmd.Stderr = &childLogWriter{name: appDir, level: "error"}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start worker entrypoint %s in %s", entrypoint, appDir)
	}
	proc := &cmdProcess{cmd: cmd}

	c, err := acceptWithDeadline(ctx, listener, cfg.Timeout)
	if err != nil {
		_ = proc.Kill()
		return nil, errors.WithKind(errors.Wrapf(err, "worker for %s failed to connect control channel", appDir), errors.KindAppUnavailable)
	}

	if err := awaitReady(ctx, c, cfg.Timeout); err != nil {
		_ = proc.Kill()
		_ = c.Close()
		return nil, errors.WithKind(errors.Wrapf(err, "worker for %s failed readiness handshake", appDir), errors.KindAppUnavailable)
	}

	return &spawnResult{conn: c, proc: proc}, nil
}

// resolvedEntrypoint returns the entrypoint path Spawn actually runs
// for cfg, filling in the same default Spawn does.
func resolvedEntrypoint(cfg WorkerConfig) string {
	if cfg.Entrypoint == "" {
		return "index.js"
	}
	return cfg.Entrypoint
}

// isTransientSpawnError reports whether a failed spawn looks like the
// file-not-ready race spec.md §7(a) calls out: the entrypoint didn't
// exist (or wasn't runnable) when exec attempted to start it, but
// exists now that the creation deadline has passed — typical of a
// spawn racing an in-flight install rename. A failure that isn't
// explained by a missing entrypoint (e.g. the app rejected the READY
// handshake) is not transient and must not be retried.
func isTransientSpawnError(err error, appDir string, cfg WorkerConfig) bool {
	if err == nil {
		return false
	}
	_, statErr := os.Stat(filepath.Join(appDir, resolvedEntrypoint(cfg)))
	return statErr == nil
}

// entrypointRunner picks the interpreter for the entrypoint file based
// on its extension; a single compiled binary entrypoint (no
// recognized extension) is executed directly.
func entrypointRunner(entrypoint string) string {
	switch {
	case strings.HasSuffix(entrypoint, ".js"), strings.HasSuffix(entrypoint, ".mjs"):
		return "node"
	case strings.HasSuffix(entrypoint, ".py"):
		return "python3"
	default:
		return entrypoint
	}
}

func acceptWithDeadline(ctx context.Context, listener net.Listener, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := listener.Accept()
		ch <- result{c, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, errors.New("timeout waiting for worker to connect control channel")
	case r := <-ch:
		return r.conn, r.err
	}
}

func awaitReady(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	type result struct {
		frame wire.Frame
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := wire.Decode(c)
		ch <- result{f, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return errors.New("timeout waiting for READY handshake")
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		if r.frame.Type != wire.TypeReady {
			return errors.Newf("expected READY frame, got %s", r.frame.Type)
		}
		return nil
	}
}

// childLogWriter forwards a worker's stdout/stderr to the structured
// logger line-by-line, gated by internal/logger's OutputWorkerStdout /
// OutputWorkerStderr verbosity categories. Grounded on
// plugin/grpc/discovery.go's pluginLogger.
type childLogWriter struct {
	name  string
	level string
	buf   []byte
}

func (w *childLogWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(w.buf[:idx]))
		w.buf = w.buf[idx+1:]
		if line == "" {
			continue
		}
		v := logger.Verbosity()
		if w.level == "error" {
			if logger.ShouldShowWorkerStderr(v) {
				logger.Errorf("[%s] %s", w.name, line)
			}
		} else {
			if logger.ShouldShowWorkerStdout(v) {
				logger.Infof("[%s] %s", w.name, line)
			}
		}
	}
	return len(p), nil
}
