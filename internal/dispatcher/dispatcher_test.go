package dispatcher

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zommehq/buntime/internal/errors"
	"github.com/zommehq/buntime/internal/plugin"
	"github.com/zommehq/buntime/internal/workerpool"
)

func emptyPool() *workerpool.Pool {
	return workerpool.New(2, time.Second, nil, nil)
}

func TestServeHealthAlwaysOK(t *testing.T) {
	d := New(plugin.NewRegistry(), emptyPool(), nil, nil, "*")

	req := httptest.NewRequest("GET", "/_/health", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/_/live", nil)
	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeReadyOKWhenCapacityAvailable(t *testing.T) {
	d := New(plugin.NewRegistry(), emptyPool(), nil, nil, "*")

	req := httptest.NewRequest("GET", "/_/ready", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSHeadersSetForAllowedOrigin(t *testing.T) {
	d := New(plugin.NewRegistry(), emptyPool(), nil, nil, "https://example.com")

	req := httptest.NewRequest("GET", "/_/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	d := New(plugin.NewRegistry(), emptyPool(), nil, nil, "*")

	req := httptest.NewRequest(http.MethodOptions, "/blog/index.html", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPluginBaseRoutesBeforeAppDispatch(t *testing.T) {
	reg := plugin.NewRegistry()
	p := &plugin.Plugin{
		Name: "admin-ui",
		Base: "/admin",
		Routes: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	}
	require.NoError(t, reg.Register(p))
	require.NoError(t, reg.Load(nil))

	d := New(reg, emptyPool(), nil, nil, "*")

	req := httptest.NewRequest("GET", "/admin/dashboard", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestOnRequestHookShortCircuitsBeforeAcquire(t *testing.T) {
	reg := plugin.NewRegistry()
	p := &plugin.Plugin{
		Name:     "blocker",
		Priority: 0,
		OnRequest: func(r *http.Request) (*plugin.HookResponse, error) {
			return &plugin.HookResponse{Status: http.StatusForbidden, Body: []byte("nope")}, nil
		},
	}
	require.NoError(t, reg.Register(p))
	require.NoError(t, reg.Load(nil))

	d := New(reg, emptyPool(), nil, nil, "*")

	req := httptest.NewRequest("GET", "/blog/index.html", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "nope", rec.Body.String())
}

func TestOnRequestHookErrorMapsToForbidden(t *testing.T) {
	reg := plugin.NewRegistry()
	p := &plugin.Plugin{
		Name:     "blocker",
		Priority: 0,
		OnRequest: func(r *http.Request) (*plugin.HookResponse, error) {
			return nil, assertErr("rejected by policy")
		},
	}
	require.NoError(t, reg.Register(p))
	require.NoError(t, reg.Load(nil))

	d := New(reg, emptyPool(), nil, nil, "*")

	req := httptest.NewRequest("GET", "/blog/index.html", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAppNotFoundMapsTo404(t *testing.T) {
	d := New(plugin.NewRegistry(), emptyPool(), []string{t.TempDir()}, nil, "*")

	req := httptest.NewRequest("GET", "/nonexistent/index.html", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusForKindMapping(t *testing.T) {
	cases := map[errors.Kind]int{
		errors.KindAppNotFound:     http.StatusNotFound,
		errors.KindAppUnavailable:  http.StatusBadGateway,
		errors.KindPoolExhausted:   http.StatusServiceUnavailable,
		errors.KindWorkerCrash:     http.StatusBadGateway,
		errors.KindWorkerTimeout:   http.StatusGatewayTimeout,
		errors.KindPluginRejected:  http.StatusForbidden,
		errors.KindInvalidManifest: http.StatusBadRequest,
		errors.KindInvalidConfig:   http.StatusBadRequest,
		errors.KindPoolShutdown:    http.StatusServiceUnavailable,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusForKind(kind), "kind %s", kind)
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
