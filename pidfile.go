package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// watchLockName is the lock file a watch keeps in its directory. The
// leading dot keeps the watcher from uploading it.
const watchLockName = ".gdrive-upsert-watch.pid"

var errWatchRunning = errors.New("another watch is already running")

// acquireWatchLock takes an exclusive flock on dir's lock file and records
// our PID in it. release removes the file and drops the lock.
func acquireWatchLock(dir string) (release func(), err error) {
	path := filepath.Join(dir, watchLockName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening watch lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if pid, readErr := lockHolder(path); readErr == nil {
			return nil, fmt.Errorf("%w on %s (PID %d)", errWatchRunning, dir, pid)
		}

		return nil, fmt.Errorf("%w on %s", errWatchRunning, dir)
	}

	if err := writePID(f); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing watch lock: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return err
	}

	return f.Sync()
}

// lockHolder returns the PID recorded in a watch lock file.
func lockHolder(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}
