package storage

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/nvandessel/ragp/internal/model"
)

// DirLock is the OS-level exclusive lock on the storage directory. The
// on-disk layout assumes a single writer process; taking the lock at
// startup turns a second engine on the same directory into a clean error
// instead of silent corruption.
type DirLock struct {
	fl *flock.Flock
}

// AcquireLock takes the exclusive lock on dir/LOCK without blocking.
func AcquireLock(dir string) (*DirLock, error) {
	fl := flock.New(filepath.Join(dir, lockName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: locking storage dir: %v", model.ErrStorageIO, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: storage dir %s is locked by another process", model.ErrStorageIO, dir)
	}
	return &DirLock{fl: fl}, nil
}

// Release drops the lock.
func (l *DirLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
