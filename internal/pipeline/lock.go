package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// lockSet serializes runs per device, within the process by mutex and
// across processes by flock(2) on <dir>/<device>.lock.
type lockSet struct {
	dir string
	mu  sync.Mutex
	dev map[string]*sync.Mutex
}

func newLockSet(dir string) *lockSet {
	return &lockSet{dir: dir, dev: make(map[string]*sync.Mutex)}
}

func (l *lockSet) mutex(device string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.dev[device]
	if !ok {
		m = &sync.Mutex{}
		l.dev[device] = m
	}
	return m
}

// acquire blocks on the in-process mutex, then takes the file lock without
// waiting. A lock held by another process yields ErrLocked.
func (l *lockSet) acquire(device string) (release func(), err error) {
	m := l.mutex(device)
	m.Lock()

	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		m.Unlock()
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(l.dir, device+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		m.Unlock()
		return nil, fmt.Errorf("open lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		m.Unlock()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		m.Unlock()
	}, nil
}
