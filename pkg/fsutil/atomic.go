// Package fsutil writes installed resources to disk atomically.
//
// # Overview
//
// [AtomicWriter] confines every write to a base directory and replaces
// files with a temp-file-and-rename sequence in the target's own
// directory, so the rename never crosses a filesystem boundary. A failure
// at any step before the rename removes the temp file and leaves the
// destination byte-identical to what it was.
//
// Filesystem failures map onto codes from package errors:
// PERMISSION_DENIED, DISK_FULL, or IO_ERROR for anything else. Paths that
// would land outside the base directory are SECURITY errors and nothing
// is created.
package fsutil

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/matzehuels/stackpack/pkg/errors"
)

// TempPattern is the os.CreateTemp pattern for in-flight writes.
const TempPattern = ".tmp-*"

// AtomicWriter writes files under Base. It holds no mutable state and is
// safe for concurrent use on distinct paths.
type AtomicWriter struct {
	Base string
	Perm fs.FileMode // defaults to 0644

	// rename replaces os.Rename in tests.
	rename func(oldpath, newpath string) error
}

// NewAtomicWriter returns a writer rooted at the absolute form of base.
func NewAtomicWriter(base string) (*AtomicWriter, error) {
	if base == "" {
		return nil, errors.New(errors.ErrCodeInvalidPath, "base directory is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve base %s", base)
	}
	return &AtomicWriter{Base: abs, Perm: 0o644}, nil
}

// Resolve maps a path relative to Base onto an absolute path, rejecting
// absolute inputs and anything that escapes Base after cleaning.
func (w *AtomicWriter) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", errors.New(errors.ErrCodeInvalidPath, "path cannot be empty")
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) || filepath.VolumeName(rel) != "" {
		return "", errors.New(errors.ErrCodeSecurity, "absolute install path %q", rel)
	}
	target := filepath.Join(w.Base, filepath.FromSlash(rel))
	if !within(w.Base, target) || target == filepath.Clean(w.Base) {
		return "", errors.New(errors.ErrCodeSecurity, "install path %q escapes %s", rel, w.Base)
	}
	return target, nil
}

// within reports whether path is base or lies beneath it.
func within(base, path string) bool {
	r, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator)) && !filepath.IsAbs(r)
}

// Write atomically replaces the file at rel with data and returns its
// absolute path. Parent directories are created as needed.
func (w *AtomicWriter) Write(rel string, data []byte) (string, error) {
	target, err := w.Resolve(rel)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(target)
	if anc, _ := w.existingAncestor(dir); anc != filepath.Clean(w.Base) {
		if err := w.checkRealPath(anc); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", classify(err, "create directory %s", dir)
	}
	if err := w.checkRealPath(dir); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, TempPattern)
	if err != nil {
		return "", classify(err, "create temp file in %s", dir)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", classify(err, "write %s", target)
	}
	if err := tmp.Sync(); err != nil {
		return "", classify(err, "sync %s", target)
	}
	if err := tmp.Close(); err != nil {
		return "", classify(err, "close %s", target)
	}
	if err := os.Chmod(tmpName, w.perm()); err != nil {
		return "", classify(err, "chmod %s", target)
	}

	rename := w.rename
	if rename == nil {
		rename = os.Rename
	}
	if err := rename(tmpName, target); err != nil {
		return "", classify(err, "rename into %s", target)
	}
	committed = true
	return target, nil
}

// checkRealPath rejects directories that resolve outside Base through a
// symlink.
func (w *AtomicWriter) checkRealPath(dir string) error {
	realBase, err := filepath.EvalSymlinks(w.Base)
	if err != nil {
		return classify(err, "resolve %s", w.Base)
	}
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return classify(err, "resolve %s", dir)
	}
	if !within(realBase, realDir) {
		return errors.New(errors.ErrCodeSecurity, "%s resolves outside %s", dir, w.Base)
	}
	return nil
}

// existingAncestor returns the deepest existing directory at or above dir,
// stopping at Base, along with the missing directories below it, deepest
// first.
func (w *AtomicWriter) existingAncestor(dir string) (string, []string) {
	base := filepath.Clean(w.Base)
	var missing []string
	for dir != base && within(base, dir) {
		if _, err := os.Lstat(dir); err == nil {
			break
		}
		missing = append(missing, dir)
		dir = filepath.Dir(dir)
	}
	return dir, missing
}

// NewDirs returns the directories a Write to rel would create, deepest
// first. The installer records them so rollback can remove them again.
func (w *AtomicWriter) NewDirs(rel string) ([]string, error) {
	target, err := w.Resolve(rel)
	if err != nil {
		return nil, err
	}
	_, missing := w.existingAncestor(filepath.Dir(target))
	return missing, nil
}

// RemoveDir removes the empty directory at path beneath Base. A missing
// or non-empty directory is left alone without error.
func (w *AtomicWriter) RemoveDir(path string) error {
	if !filepath.IsAbs(path) || !within(w.Base, path) || filepath.Clean(path) == filepath.Clean(w.Base) {
		return errors.New(errors.ErrCodeSecurity, "refusing to remove directory %s outside %s", path, w.Base)
	}
	err := os.Remove(path)
	switch {
	case err == nil, stderrors.Is(err, fs.ErrNotExist), stderrors.Is(err, syscall.ENOTEMPTY), stderrors.Is(err, syscall.EEXIST):
		return nil
	default:
		return classify(err, "remove directory %s", path)
	}
}

// Read returns the current content at rel and whether the file exists.
// The installer uses it to snapshot files it is about to overwrite.
func (w *AtomicWriter) Read(rel string) ([]byte, bool, error) {
	target, err := w.Resolve(rel)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(target)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(err, "read %s", target)
	}
	return data, true, nil
}

// Exists reports whether a regular file is present at rel.
func (w *AtomicWriter) Exists(rel string) bool {
	target, err := w.Resolve(rel)
	if err != nil {
		return false
	}
	fi, err := os.Stat(target)
	return err == nil && fi.Mode().IsRegular()
}

// Remove deletes the file at path, which may be absolute (as returned by
// Write) or relative to Base. Missing files are not an error. Paths
// outside Base are refused.
func (w *AtomicWriter) Remove(path string) error {
	target := path
	if !filepath.IsAbs(path) {
		var err error
		if target, err = w.Resolve(path); err != nil {
			return err
		}
	} else if !within(w.Base, path) {
		return errors.New(errors.ErrCodeSecurity, "refusing to remove %s outside %s", path, w.Base)
	}
	if err := os.Remove(target); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return classify(err, "remove %s", target)
	}
	return nil
}

func (w *AtomicWriter) perm() fs.FileMode {
	if w.Perm == 0 {
		return 0o644
	}
	return w.Perm
}

// classify wraps a filesystem error with the matching code.
func classify(err error, format string, args ...any) error {
	switch {
	case stderrors.Is(err, fs.ErrPermission):
		return errors.Wrap(errors.ErrCodePermission, err, format, args...)
	case stderrors.Is(err, syscall.ENOSPC):
		return errors.Wrap(errors.ErrCodeDiskFull, err, format, args...)
	default:
		return errors.Wrap(errors.ErrCodeIO, err, format, args...)
	}
}
