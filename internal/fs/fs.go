// Package fs provides filesystem abstraction using spf13/afero for testability.
// Trace sinks and workload files go through this so tests can run on MemMapFs.
package fs

import (
	"os"

	"github.com/spf13/afero"
)

// FS is the global filesystem used throughout the application.
// For testing, use SetFS(afero.NewMemMapFs()).
var FS afero.Fs = afero.NewOsFs()

// SetFS sets the global filesystem (useful for testing)
func SetFS(fs afero.Fs) {
	FS = fs
}

// ResetFS resets to the real OS filesystem
func ResetFS() {
	FS = afero.NewOsFs()
}

// NewMemMapFs creates a new in-memory filesystem for testing
func NewMemMapFs() afero.Fs {
	return afero.NewMemMapFs()
}

// Create creates a file
func Create(name string) (afero.File, error) {
	return FS.Create(name)
}

// Open opens a file for reading
func Open(name string) (afero.File, error) {
	return FS.Open(name)
}

// OpenFile opens a file with specified flags and permissions
func OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	return FS.OpenFile(name, flag, perm)
}

// ReadFile reads the whole file
func ReadFile(name string) ([]byte, error) {
	return afero.ReadFile(FS, name)
}

// WriteFile writes data to a file
func WriteFile(name string, data []byte, perm os.FileMode) error {
	return afero.WriteFile(FS, name, data, perm)
}

// MkdirAll creates a directory path
func MkdirAll(path string, perm os.FileMode) error {
	return FS.MkdirAll(path, perm)
}

// Exists reports whether the path exists
func Exists(name string) (bool, error) {
	return afero.Exists(FS, name)
}

// Remove removes a file
func Remove(name string) error {
	return FS.Remove(name)
}
