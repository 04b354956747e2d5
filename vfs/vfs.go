// Package vfs resolves program paths against a host file tree
package vfs

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kernvm/errno"
	"github.com/vkngwrapper/kernvm/kern"
	"golang.org/x/exp/slog"
)

// ErrNoImage is returned when a path cannot be opened as a program image
var ErrNoImage = errno.New(errno.EACCES, "cannot open program image")

// FileSystem serves program images out of an fs.FS. Paths are absolute kernel paths such as
// "/testbin/forktest", resolved relative to the root of the tree.
type FileSystem struct {
	logger *slog.Logger
	tree   fs.FS
}

var _ kern.FileSystem = &FileSystem{}

// New creates a FileSystem rooted at tree
func New(logger *slog.Logger, tree fs.FS) *FileSystem {
	return &FileSystem{logger: logger, tree: tree}
}

type memoryImage struct {
	*bytes.Reader
}

func (i memoryImage) Close() error { return nil }

type fileImage struct {
	io.ReaderAt
	io.Closer
}

func noImage(cause error, op string, path string) error {
	return errors.WithSecondaryError(errors.Wrapf(ErrNoImage, "%s %q", op, path), cause)
}

func clean(path string) (string, error) {
	name := strings.TrimLeft(path, "/")
	if name == "" {
		name = "."
	}
	if !fs.ValidPath(name) {
		return "", errors.Wrapf(ErrNoImage, "invalid path %q", path)
	}
	return name, nil
}

// Open opens the regular file at path. Files that do not support random access are read
// into memory.
func (v *FileSystem) Open(path string) (kern.Image, error) {
	name, err := clean(path)
	if err != nil {
		return nil, err
	}

	file, err := v.tree.Open(name)
	if err != nil {
		return nil, noImage(err, "open", path)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, noImage(err, "stat", path)
	}
	if !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, errors.Wrapf(ErrNoImage, "%q is not a regular file", path)
	}

	v.logger.LogAttrs(context.Background(), slog.LevelDebug, "vfs: opened image",
		slog.String("path", path),
		slog.Int64("size", info.Size()))

	if readerAt, ok := file.(io.ReaderAt); ok {
		return fileImage{ReaderAt: readerAt, Closer: file}, nil
	}

	contents, err := io.ReadAll(file)
	_ = file.Close()
	if err != nil {
		return nil, noImage(err, "read", path)
	}
	return memoryImage{bytes.NewReader(contents)}, nil
}
