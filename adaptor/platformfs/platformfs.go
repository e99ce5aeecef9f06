// Package platformfs provides the platform filesystem primitives through the
// Operator it exposes: path_info, mkdir, rmdir, remove, rename(replace),
// list_dir (sorted), disk_free, and cwd. It is not the only package making
// OS calls: the transaction engine, the journal, installed-state and
// audit-log code, the digest and manifest-source loaders, and the setup
// facade open, read and write files through package os directly.
package platformfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Operator performs the platform filesystem primitives the rest of the
// engine is built on.
type Operator struct{}

// New creates a filesystem operator.
func New() *Operator { return &Operator{} }

// Info is the result of a PathInfo probe.
type Info struct {
	Exists    bool
	IsDir     bool
	IsSymlink bool
	Size      int64
}

// PathInfo reports existence, directory-ness, and symlink-ness using an
// lstat-equivalent call (it never follows the final symlink component).
//
//	info, err := op.PathInfo("/opt/app/bin")
func (o *Operator) PathInfo(path string) (Info, error) {
	fi, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return Info{}, nil
	}
	if err != nil {
		return Info{}, fmt.Errorf("platformfs: lstat %s: %w", path, err)
	}
	return Info{
		Exists:    true,
		IsDir:     fi.IsDir(),
		IsSymlink: fi.Mode()&os.ModeSymlink != 0,
		Size:      fi.Size(),
	}, nil
}

// Lstat adapts PathInfo to the canon.LstatProbe signature.
func (o *Operator) Lstat(path string) (exists bool, isSymlink bool, err error) {
	info, err := o.PathInfo(path)
	if err != nil {
		return false, false, err
	}
	return info.Exists, info.IsSymlink, nil
}

// Mkdir creates a single directory (not recursive); EEXIST on an existing
// directory is not an error (idempotent, matching Remove's treatment of the
// symmetric already-absent case).
func (o *Operator) Mkdir(path string) error {
	if err := os.Mkdir(path, 0o755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("platformfs: mkdir %s: %w", path, err)
	}
	return nil
}

// MkdirAll creates path and all required parents.
func (o *Operator) MkdirAll(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("platformfs: mkdir -p %s: %w", path, err)
	}
	return nil
}

// Rmdir removes a directory if and only if it is empty. A non-existent
// directory is treated as already-removed (idempotent, used by rollback).
func (o *Operator) Rmdir(path string) error {
	err := os.Remove(path)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("platformfs: rmdir %s: %w", path, err)
}

// Remove removes a single file (or symlink). A non-existent path is treated
// as already-removed.
func (o *Operator) Remove(path string) error {
	err := os.Remove(path)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("platformfs: remove %s: %w", path, err)
}

// RemoveAll removes a path and everything under it.
func (o *Operator) RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("platformfs: remove-all %s: %w", path, err)
	}
	return nil
}

// Rename atomically moves src to dst. When replace is true an existing dst
// is overwritten (POSIX rename semantics, which os.Rename already provides
// on same-volume moves). Cross-volume moves of a single regular file fall
// back to copy+unlink; directories never fall back.
func (o *Operator) Rename(src, dst string, replace bool) error {
	if !replace {
		if info, err := o.PathInfo(dst); err != nil {
			return err
		} else if info.Exists {
			return fmt.Errorf("platformfs: rename %s -> %s: destination exists", src, dst)
		}
	}
	if err := os.Rename(src, dst); err != nil {
		if isCrossDevice(err) {
			return o.renameCrossDevice(src, dst)
		}
		return fmt.Errorf("platformfs: rename %s -> %s: %w", src, dst, err)
	}
	return nil
}

func (o *Operator) renameCrossDevice(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("platformfs: rename %s -> %s: %w", src, dst, err)
	}
	if info.IsDir() {
		return fmt.Errorf("platformfs: rename %s -> %s: cross-device directory rename not supported", src, dst)
	}
	if err := copyFilePreservingMode(src, dst, info.Mode()); err != nil {
		return fmt.Errorf("platformfs: rename %s -> %s: cross-device copy: %w", src, dst, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("platformfs: rename %s -> %s: cross-device unlink source: %w", src, dst, err)
	}
	return nil
}

func copyFilePreservingMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// DirEntry is one sorted entry from ListDir.
type DirEntry struct {
	Name  string
	IsDir bool
}

// ListDir returns entries sorted ascending by raw byte name, for
// determinism across hosts and filesystems.
func (o *Operator) ListDir(path string) ([]DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("platformfs: readdir %s: %w", path, err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Cwd returns the process's current working directory.
func (o *Operator) Cwd() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("platformfs: getwd: %w", err)
	}
	return filepath.ToSlash(wd), nil
}

// CopyFile copies source to destination verbatim, preserving the source's
// mode bits. Callers that also need the content hash stream through
// digest.SHA256Reader instead; this is the plain byte-for-byte copy
// primitive.
func (o *Operator) CopyFile(source, destination string) error {
	info, err := os.Lstat(source)
	if err != nil {
		return fmt.Errorf("platformfs: stat %s: %w", source, err)
	}
	return copyFilePreservingMode(source, destination, info.Mode())
}
