package pipelineconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	pipelineerrors "github.com/opensearch-project/neural-search-sub002/internal/errors"
)

// WriteFileAtomic serializes cfg to path, guarded by a cross-process
// gofrs/flock lock so a concurrent reload never observes a half-written
// file: the new content lands in a temp file first, then gets renamed into
// place, which is atomic on the same filesystem.
func WriteFileAtomic(path string, cfg Config) error {
	lockPath := path + ".lock"
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return pipelineerrors.IOError(fmt.Sprintf("failed to lock %s for write", lockPath), err)
	}
	defer func() { _ = fl.Unlock() }()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return pipelineerrors.ConfigError("failed to marshal pipeline config", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return pipelineerrors.IOError("failed to create temp file for pipeline config write", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return pipelineerrors.IOError("failed to write pipeline config temp file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return pipelineerrors.IOError("failed to close pipeline config temp file", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return pipelineerrors.IOError("failed to install pipeline config", err)
	}
	return nil
}
