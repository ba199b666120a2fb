// Package resolver implements the App Resolver (spec.md §4.1): a pure
// function mapping a request path's first segment — an app name plus
// an optional semver range — to a concrete on-disk app directory.
//
// The version-range evaluation is grounded on
// plugin.Registry.validateVersion (teranos-QNTX), generalized from
// "one installed version vs. one required constraint" to "enumerate
// every installed version, pick the max satisfying".
package resolver

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/zommehq/buntime/internal/errors"
)

// Resolution is the result of a successful resolve: the app's name,
// its selected version, and the absolute directory holding its code.
type Resolution struct {
	Name    string
	Version *semver.Version
	Dir     string
}

var bareMajor = regexp.MustCompile(`^\d+$`)
var bareMajorMinor = regexp.MustCompile(`^\d+\.\d+$`)

// Resolve maps a raw request path to an app resolution. workerDirs is
// the PATH-style search list (first match wins); each directory is
// expected to contain `<name>/<version>/...` subtrees.
//
// Returns an error tagged with errors.KindAppNotFound when no worker
// directory contains the named app, or no installed version satisfies
// the requested range.
func Resolve(urlPath string, workerDirs []string) (*Resolution, error) {
	name, rangeStr, err := splitSegment(urlPath)
	if err != nil {
		return nil, err
	}

	appDir, err := locateApp(name, workerDirs)
	if err != nil {
		return nil, err
	}

	versions, err := listVersions(appDir)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, notFound("app %q has no installed versions", name)
	}

	selected, err := selectVersion(versions, rangeStr)
	if err != nil {
		return nil, notFound("app %q has no version satisfying %q", name, rangeStr)
	}

	return &Resolution{
		Name:    name,
		Version: selected,
		Dir:     filepath.Join(appDir, selected.Original()),
	}, nil
}

// splitSegment extracts `name` and an optional `@range` from the URL's
// first path segment.
func splitSegment(urlPath string) (name, rangeStr string, err error) {
	trimmed := strings.TrimPrefix(urlPath, "/")
	segment := trimmed
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		segment = trimmed[:idx]
	}
	if segment == "" {
		return "", "", notFound("empty app path segment")
	}

	if idx := strings.IndexByte(segment, '@'); idx >= 0 {
		return segment[:idx], segment[idx+1:], nil
	}
	return segment, "", nil
}

// locateApp returns the first workerDirs entry containing a directory
// named `name`.
func locateApp(name string, workerDirs []string) (string, error) {
	for _, dir := range workerDirs {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", notFound("app %q not found in any worker directory", name)
}

// listVersions enumerates appDir's immediate children that parse as
// valid semver directories, rejecting everything else.
func listVersions(appDir string) ([]*semver.Version, error) {
	entries, err := os.ReadDir(appDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read app directory %s", appDir)
	}

	var versions []*semver.Version
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		v, err := semver.NewVersion(entry.Name())
		if err != nil {
			continue // not a version directory, ignore
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// selectVersion picks the max version satisfying rangeStr.
//
// Absent range: pick the highest stable version if any stable version
// exists, otherwise the highest pre-release. Plain semver precedence
// would not do this on its own, since a pre-release only sorts below a
// *same* major.minor.patch release (2.1.0-beta.1 > 2.0.0).
//
// Bare `MAJOR` or `MAJOR.MINOR`: treated as `^MAJOR[.MINOR]`.
//
// Otherwise: evaluated as a standard semver range, including
// pre-releases (Masterminds/semver excludes pre-releases from a
// constraint match unless the constraint itself names one; comparing
// against each version's non-prerelease core keeps ranges like `^1.2`
// matching `1.3.0-rc.1` per spec.md's "Pre-releases are eligible").
func selectVersion(versions []*semver.Version, rangeStr string) (*semver.Version, error) {
	if rangeStr == "" {
		var stable []*semver.Version
		for _, v := range versions {
			if v.Prerelease() == "" {
				stable = append(stable, v)
			}
		}
		if len(stable) > 0 {
			return maxVersion(stable), nil
		}
		return maxVersion(versions), nil
	}

	constraintStr := rangeStr
	if bareMajor.MatchString(rangeStr) {
		constraintStr = "^" + rangeStr
	} else if bareMajorMinor.MatchString(rangeStr) {
		constraintStr = "^" + rangeStr
	}

	constraint, err := semver.NewConstraint(constraintStr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid version range %q", rangeStr)
	}

	var matching []*semver.Version
	for _, v := range versions {
		// Check the version as named first, so an exact prerelease
		// request ("=1.0.0-rc.1") matches the prerelease itself; fall
		// back to the stripped core so a bare range ("^1.2") still
		// reaches a prerelease belonging to that release line.
		if constraint.Check(v) || constraint.Check(coreVersion(v)) {
			matching = append(matching, v)
		}
	}
	if len(matching) == 0 {
		return nil, notFound("no version satisfies %q", rangeStr)
	}
	return maxVersion(matching), nil
}

// coreVersion strips prerelease/metadata so range constraints match
// against the release line a prerelease belongs to.
func coreVersion(v *semver.Version) *semver.Version {
	if v.Prerelease() == "" && v.Metadata() == "" {
		return v
	}
	core, err := semver.NewVersion(
		strconv.FormatUint(v.Major(), 10) + "." +
			strconv.FormatUint(v.Minor(), 10) + "." +
			strconv.FormatUint(v.Patch(), 10),
	)
	if err != nil {
		return v
	}
	return core
}

func maxVersion(versions []*semver.Version) *semver.Version {
	max := versions[0]
	for _, v := range versions[1:] {
		if v.GreaterThan(max) {
			max = v
		}
	}
	return max
}

func notFound(format string, args ...interface{}) error {
	return errors.WithKind(errors.Newf(format, args...), errors.KindAppNotFound)
}
