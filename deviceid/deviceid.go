// Package deviceid gives each machine a stable device id.
package deviceid

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/catid/internal/fs"
)

// Prefix starts every generated id.
const Prefix = "RASPI_"

// DefaultFile is where the id is kept when no path is configured.
const DefaultFile = "device_id.txt"

// ErrNotPersisted is returned with a freshly generated id that could not be
// saved. The id is still usable for the current run.
var ErrNotPersisted = errors.New("device id not persisted")

// New returns a new random id such as RASPI_1a2b3c4d.
func New() string {
	u := uuid.New()
	return Prefix + strings.ReplaceAll(u.String(), "-", "")[:8]
}

// LoadOrCreate returns the id stored at path, creating and saving a new one
// when the file is missing or empty.
func LoadOrCreate(fsys fs.FileSystem, path string) (string, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if path == "" {
		path = DefaultFile
	}

	data, err := fs.ReadFile(fsys, path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return New(), fmt.Errorf("%w: read %s: %w", ErrNotPersisted, path, err)
	}

	id := New()
	if err := fs.WriteFileAtomic(fsys, path, []byte(id), 0o644); err != nil {
		return id, fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	return id, nil
}
