package registry

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-getter"

	"github.com/zommehq/buntime/internal/errors"
	"github.com/zommehq/buntime/internal/logger"
)

// InstallApp extracts archive (a multipart-uploaded .tgz or .zip,
// spec.md §6) into the primary worker directory under
// `<name>/<version>/`, where name/version come from the manifest the
// archive carries, not the caller-supplied label (which is only used
// for a mismatch warning written to the log, since the manifest is the
// source of truth per spec.md §6's "validate manifest before
// committing").
func (r *Registry) InstallApp(label string, archive io.Reader) error {
	return install(r.workerDirs[0], label, archive)
}

// RemoveApp deletes `<worker-dir>/<name>/<version>/` from every
// configured worker directory, and the parent `<name>/` directory too
// if it's now empty (spec.md §6).
func (r *Registry) RemoveApp(name, version string) error {
	var removed bool
	for _, dir := range r.workerDirs {
		ok, err := remove(dir, name, version)
		if err != nil {
			return err
		}
		removed = removed || ok
	}
	if !removed {
		return notFoundErr("app %s@%s not installed", name, version)
	}
	return nil
}

// InstallPlugin is InstallApp's plugin-directory counterpart.
func (r *Registry) InstallPlugin(label string, archive io.Reader) error {
	return install(r.pluginDirs[0], label, archive)
}

// RemovePlugin is RemoveApp's plugin-directory counterpart.
func (r *Registry) RemovePlugin(name, version string) error {
	var removed bool
	for _, dir := range r.pluginDirs {
		ok, err := remove(dir, name, version)
		if err != nil {
			return err
		}
		removed = removed || ok
	}
	if !removed {
		return notFoundErr("plugin %s@%s not installed", name, version)
	}
	return nil
}

// install is the shared atomic extract-then-rename sequence spec.md §6
// requires: extract to a scratch directory, validate the manifest,
// then rename the scratch directory into its final `<name>/<version>/`
// location. A version that is already installed is refused before the
// rename, so an existing install is never overwritten; on every
// failure the scratch directory is removed.
func install(root, label string, archive io.Reader) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.Wrap(err, "failed to create install root")
	}

	scratch, err := os.MkdirTemp(root, ".install-*")
	if err != nil {
		return errors.Wrap(err, "failed to create install scratch directory")
	}

	if err := extract(archive, scratch); err != nil {
		os.RemoveAll(scratch)
		return err
	}

	m, err := readManifest(scratch)
	if err != nil {
		os.RemoveAll(scratch)
		return err
	}
	if label != "" && label != m.Name {
		// Not fatal: the manifest is authoritative (spec.md §6), but a
		// mismatch usually means the wrong archive was uploaded.
		logger.Warnw("install label does not match manifest name",
			logger.FieldApp, label, "manifest_name", m.Name)
	}

	finalDir := filepath.Join(root, m.Name, m.Version)
	if dirExists(finalDir) {
		os.RemoveAll(scratch)
		return errors.Newf("%s@%s is already installed", m.Name, m.Version)
	}

	if err := os.MkdirAll(filepath.Dir(finalDir), 0o755); err != nil {
		os.RemoveAll(scratch)
		return errors.Wrap(err, "failed to create install directory")
	}
	if err := os.Rename(scratch, finalDir); err != nil {
		os.RemoveAll(scratch)
		return errors.Wrapf(err, "failed to finalize install of %s@%s", m.Name, m.Version)
	}
	return nil
}

// remove deletes `<dir>/<name>/<version>/`, then `<dir>/<name>/` if it
// is now empty, reporting whether the version directory existed.
func remove(dir, name, version string) (bool, error) {
	versionDir := filepath.Join(dir, name, version)
	if !dirExists(versionDir) {
		return false, nil
	}
	if err := os.RemoveAll(versionDir); err != nil {
		return false, errors.Wrapf(err, "failed to remove %s", versionDir)
	}

	appDir := filepath.Join(dir, name)
	entries, err := os.ReadDir(appDir)
	if err == nil && len(entries) == 0 {
		_ = os.Remove(appDir)
	}
	return true, nil
}

// extract decompresses archive into dst using go-getter's archive
// decompressors, the same mechanism plugin/grpc/loader.go's
// expandAndValidatePath leans on for path detection — here pointed at
// a scratch file instead of a search path, with the archive format
// forced via go-getter's `?archive=` query parameter since an
// uploaded multipart stream carries no filename extension for
// go-getter to detect from.
func extract(archive io.Reader, dst string) error {
	tmp, err := os.CreateTemp("", "buntime-install-*")
	if err != nil {
		return errors.Wrap(err, "failed to create scratch file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	format, err := sniffAndCopy(archive, tmp)
	if err != nil {
		return err
	}

	client := &getter.Client{
		Ctx:     context.Background(),
		Src:     "file://" + tmp.Name() + "?archive=" + format,
		Dst:     dst,
		Mode:    getter.ClientModeDir,
		Getters: getter.Getters,
	}
	if err := client.Get(); err != nil {
		return errors.Wrap(err, "failed to extract archive")
	}
	return nil
}

// sniffAndCopy copies src into dst while sniffing its magic bytes to
// pick the archive format go-getter should force-decompress with:
// gzip (0x1f 0x8b, a tar.gz) or a zip local-file-header ("PK").
func sniffAndCopy(src io.Reader, dst io.Writer) (string, error) {
	var magic [4]byte
	n, err := io.ReadFull(src, magic[:])
	if err != nil && n == 0 {
		return "", errors.Wrap(err, "empty archive upload")
	}

	format := "zip"
	if magic[0] == 0x1f && magic[1] == 0x8b {
		format = "tar.gz"
	}

	if _, err := dst.Write(magic[:n]); err != nil {
		return "", errors.Wrap(err, "failed to buffer archive upload")
	}
	if _, err := io.Copy(dst, src); err != nil {
		return "", errors.Wrap(err, "failed to buffer archive upload")
	}
	return format, nil
}

func notFoundErr(format string, args ...interface{}) error {
	return errors.WithKind(errors.Newf(format, args...), errors.KindAppNotFound)
}
