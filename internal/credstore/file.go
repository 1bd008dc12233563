package credstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
)

// FileName is the plaintext fallback file inside the fallback directory.
const FileName = "credentials.json"

// lockTimeout bounds how long a file operation waits for another process.
const lockTimeout = 2 * time.Second

// FileBackend stores secrets in a single JSON object keyed by item name,
// readable only by the owning user.
type FileBackend struct {
	dir string
}

// NewFileBackend returns a file backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Path returns the credentials file path.
func (f *FileBackend) Path() string {
	return filepath.Join(f.dir, FileName)
}

func (f *FileBackend) lockPath() string {
	return filepath.Join(f.dir, ".credentials.lock")
}

func (f *FileBackend) Get(key string) (string, error) {
	var value string
	err := f.withLock(func() error {
		all, err := f.loadAll()
		if err != nil {
			return err
		}
		v, ok := all[key]
		if !ok {
			return ErrNotFound
		}
		value = v
		return nil
	})
	return value, err
}

func (f *FileBackend) Set(key, value string) error {
	return f.withLock(func() error {
		all, err := f.loadAll()
		if err != nil {
			return err
		}
		all[key] = value
		return f.saveAll(all)
	})
}

func (f *FileBackend) Delete(key string) error {
	return f.withLock(func() error {
		all, err := f.loadAll()
		if err != nil {
			return err
		}
		if _, ok := all[key]; !ok {
			return ErrNotFound
		}
		delete(all, key)
		return f.saveAll(all)
	})
}

// withLock serializes read-modify-write cycles across processes.
func (f *FileBackend) withLock(fn func() error) error {
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return err
	}

	fl := flock.New(f.lockPath())
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return err
	}
	if !locked {
		return context.DeadlineExceeded
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}

func (f *FileBackend) loadAll() (map[string]string, error) {
	data, err := os.ReadFile(f.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}

	all := make(map[string]string)
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (f *FileBackend) saveAll(all map[string]string) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write with randomized temp file name
	tmpFile, err := os.CreateTemp(f.dir, "credentials-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	// Windows: rename fails when destination exists; remove and retry.
	destPath := f.Path()
	if err := os.Rename(tmpPath, destPath); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(destPath)
			return os.Rename(tmpPath, destPath)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}
