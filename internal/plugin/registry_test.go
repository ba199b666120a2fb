package plugin

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlugin(name string, priority int) *Plugin {
	return &Plugin{Name: name, Priority: priority}
}

func TestRegistryRegisterRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newTestPlugin("blog", 0)))

	err := r.Register(newTestPlugin("blog", 1))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryRegisterRejectsAfterLoad(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load(nil))

	err := r.Register(newTestPlugin("blog", 0))
	assert.Error(t, err)
}

func TestLoadSortsByPriorityAscending(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newTestPlugin("z", 10)))
	require.NoError(t, r.Register(newTestPlugin("a", 1)))
	require.NoError(t, r.Register(newTestPlugin("m", 5)))

	require.NoError(t, r.Load(nil))

	ordered := r.Ordered()
	require.Len(t, ordered, 3)
	assert.Equal(t, "a", ordered[0].Name)
	assert.Equal(t, "m", ordered[1].Name)
	assert.Equal(t, "z", ordered[2].Name)
}

func TestReversedIsOppositeOfOrdered(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newTestPlugin("a", 1)))
	require.NoError(t, r.Register(newTestPlugin("b", 2)))
	require.NoError(t, r.Load(nil))

	reversed := r.Reversed()
	require.Len(t, reversed, 2)
	assert.Equal(t, "b", reversed[0].Name)
	assert.Equal(t, "a", reversed[1].Name)
}

func TestLoadRejectsUnknownDependency(t *testing.T) {
	r := NewRegistry()
	p := newTestPlugin("blog", 0)
	p.Dependencies = []string{"auth"}
	require.NoError(t, r.Register(p))

	err := r.Load(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered plugin")
}

func TestLoadRejectsDuplicateBasePath(t *testing.T) {
	r := NewRegistry()
	p1 := newTestPlugin("admin-a", 0)
	p1.Base = "/admin"
	p2 := newTestPlugin("admin-b", 1)
	p2.Base = "/admin"
	require.NoError(t, r.Register(p1))
	require.NoError(t, r.Register(p2))

	err := r.Load(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "claimed by both")
}

func TestLoadRejectsExactAppNameCollision(t *testing.T) {
	r := NewRegistry()
	p := newTestPlugin("blog", 0)
	p.Base = "/blog"
	require.NoError(t, r.Register(p))

	err := r.Load(func(base string) bool { return base == "blog" })
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "collides exactly")
}

func TestLoadRejectsDoubleWebSocketClaim(t *testing.T) {
	r := NewRegistry()
	p1 := newTestPlugin("ws-a", 0)
	p1.WebSocketHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	p2 := newTestPlugin("ws-b", 1)
	p2.WebSocketHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	require.NoError(t, r.Register(p1))
	require.NoError(t, r.Register(p2))

	err := r.Load(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "websocket upgrade handler claimed by both")
}

func TestInitRunsInPriorityOrderAndStopsOnFailure(t *testing.T) {
	r := NewRegistry()
	var order []string

	makeInit := func(name string, fail bool) func(context.Context, *ServiceRegistry) error {
		return func(ctx context.Context, reg *ServiceRegistry) error {
			order = append(order, name)
			if fail {
				return assertErr("boom")
			}
			return nil
		}
	}

	p1 := newTestPlugin("first", 0)
	p1.OnInit = makeInit("first", false)
	p2 := newTestPlugin("second", 1)
	p2.OnInit = makeInit("second", true)
	p3 := newTestPlugin("third", 2)
	p3.OnInit = makeInit("third", false)

	require.NoError(t, r.Register(p1))
	require.NoError(t, r.Register(p2))
	require.NoError(t, r.Register(p3))
	require.NoError(t, r.Load(nil))

	err := r.Init(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestShutdownRunsInReversePriorityOrderAndCollectsErrors(t *testing.T) {
	r := NewRegistry()
	var order []string

	makeShutdown := func(name string, fail bool) func(context.Context) error {
		return func(ctx context.Context) error {
			order = append(order, name)
			if fail {
				return assertErr("shutdown failed")
			}
			return nil
		}
	}

	p1 := newTestPlugin("first", 0)
	p1.OnShutdown = makeShutdown("first", true)
	p2 := newTestPlugin("second", 1)
	p2.OnShutdown = makeShutdown("second", false)

	require.NoError(t, r.Register(p1))
	require.NoError(t, r.Register(p2))
	require.NoError(t, r.Load(nil))

	errs := r.Shutdown(context.Background())
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestMatchBasePicksLongestPrefix(t *testing.T) {
	r := NewRegistry()
	p1 := newTestPlugin("api", 0)
	p1.Base = "/api"
	p2 := newTestPlugin("api-admin", 1)
	p2.Base = "/api/admin"
	require.NoError(t, r.Register(p1))
	require.NoError(t, r.Register(p2))
	require.NoError(t, r.Load(nil))

	match, ok := r.MatchBase("/api/admin/users")
	require.True(t, ok)
	assert.Equal(t, "api-admin", match.Name)

	match, ok = r.MatchBase("/api/other")
	require.True(t, ok)
	assert.Equal(t, "api", match.Name)

	_, ok = r.MatchBase("/blog/index.html")
	assert.False(t, ok)
}

func TestServiceRegistryRejectsDuplicateName(t *testing.T) {
	s := NewServiceRegistry()
	require.NoError(t, s.RegisterService("cache", 42))

	err := s.RegisterService("cache", 43)
	assert.Error(t, err)

	impl, ok := s.Lookup("cache")
	require.True(t, ok)
	assert.Equal(t, 42, impl)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
