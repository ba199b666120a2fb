package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zommehq/buntime/internal/errors"
)

func makeApp(t *testing.T, root, name string, versions ...string) {
	t.Helper()
	for _, v := range versions {
		dir := filepath.Join(root, name, v)
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
}

func TestResolveExactVersion(t *testing.T) {
	root := t.TempDir()
	makeApp(t, root, "blog", "1.0.0", "1.2.0", "2.0.0")

	res, err := Resolve("/blog@1.2.0", []string{root})
	require.NoError(t, err)
	assert.Equal(t, "blog", res.Name)
	assert.Equal(t, "1.2.0", res.Version.Original())
}

func TestResolveExactPrerelease(t *testing.T) {
	root := t.TempDir()
	makeApp(t, root, "blog", "1.0.0-rc.1", "1.0.0")

	res, err := Resolve("/blog@1.0.0-rc.1", []string{root})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0-rc.1", res.Version.Original())
}

func TestResolveNoRangePicksHighestStable(t *testing.T) {
	root := t.TempDir()
	makeApp(t, root, "blog", "1.0.0", "1.2.0", "2.0.0", "2.1.0-beta.1")

	res, err := Resolve("/blog", []string{root})
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", res.Version.String())
}

func TestResolveNoRangePicksHighestPrereleaseWhenNoStable(t *testing.T) {
	root := t.TempDir()
	makeApp(t, root, "blog", "2.0.0-alpha.1", "2.0.0-beta.1")

	res, err := Resolve("/blog", []string{root})
	require.NoError(t, err)
	assert.Equal(t, "2.0.0-beta.1", res.Version.String())
}

func TestResolveBareMajorRange(t *testing.T) {
	root := t.TempDir()
	makeApp(t, root, "blog", "1.0.0", "1.5.2", "2.0.0")

	res, err := Resolve("/blog@1", []string{root})
	require.NoError(t, err)
	assert.Equal(t, "1.5.2", res.Version.String())
}

func TestResolveBareMajorMinorRange(t *testing.T) {
	root := t.TempDir()
	makeApp(t, root, "blog", "1.2.0", "1.2.9", "1.3.0")

	res, err := Resolve("/blog@1.2", []string{root})
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", res.Version.String())
}

func TestResolveCaretRange(t *testing.T) {
	root := t.TempDir()
	makeApp(t, root, "blog", "1.2.0", "1.9.0", "2.0.0")

	res, err := Resolve("/blog@^1.0.0", []string{root})
	require.NoError(t, err)
	assert.Equal(t, "1.9.0", res.Version.String())
}

func TestResolveNoMatchingVersionIsNotFound(t *testing.T) {
	root := t.TempDir()
	makeApp(t, root, "blog", "1.0.0")

	_, err := Resolve("/blog@2.x", []string{root})
	require.Error(t, err)
	kind, ok := errors.GetKind(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindAppNotFound, kind)
}

func TestResolveUnknownAppIsNotFound(t *testing.T) {
	root := t.TempDir()

	_, err := Resolve("/nonexistent", []string{root})
	require.Error(t, err)
	kind, ok := errors.GetKind(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindAppNotFound, kind)
}

func TestResolveFirstMatchingWorkerDirWins(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	makeApp(t, rootA, "blog", "1.0.0")
	makeApp(t, rootB, "blog", "9.0.0")

	res, err := Resolve("/blog", []string{rootA, rootB})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", res.Version.String())
}

func TestResolveIgnoresNonSemverDirectories(t *testing.T) {
	root := t.TempDir()
	makeApp(t, root, "blog", "1.0.0")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "blog", "not-a-version"), 0o755))

	res, err := Resolve("/blog", []string{root})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", res.Version.String())
}

func TestResolveWithNestedPath(t *testing.T) {
	root := t.TempDir()
	makeApp(t, root, "blog", "1.0.0")

	res, err := Resolve("/blog@1.0.0/posts/42", []string{root})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", res.Version.String())
}
