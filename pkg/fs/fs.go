// Package fs abstracts the handful of filesystem operations the storage
// engine performs, so tests can substitute failing or short-reading
// implementations for the real thing.
//
// The main types are:
//   - [FS]: interface for path-level operations
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation backed by the [os] package
package fs

import (
	"io"
	"os"
)

// File is an open file handle.
//
// It is satisfied by [os.File] and usable with every stdlib function that
// accepts [io.Reader], [io.Writer], [io.Seeker], or [io.Closer].
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to stable storage. See [os.File.Sync].
	Sync() error
}

// FS defines the path-level filesystem operations the engine needs.
//
// All methods mirror their [os] package equivalents but can be intercepted
// for fault injection in tests.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with explicit flags and permissions.
	// See [os.OpenFile]. The collection log uses this with
	// [os.O_RDWR]|[os.O_CREATE].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// Rename moves a file. Atomic on the same filesystem. See [os.Rename].
	Rename(oldpath, newpath string) error
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
