package main

import (
	"os"
	"time"

	"github.com/bueller/bueller/internal/config"
	"github.com/bueller/bueller/internal/lockfile"
)

// acquireRunLock takes the issues directory's run lock for command.
func acquireRunLock(cfg *config.Config, command string) (*lockfile.Lock, error) {
	return lockfile.Acquire(config.StateDir(cfg.IssuesDir), lockfile.LockInfo{
		PID:       os.Getpid(),
		IssuesDir: cfg.IssuesDir,
		Command:   command,
		Version:   Version,
		StartedAt: time.Now().UTC(),
	})
}

func releaseRunLock(lock *lockfile.Lock) {
	if err := lock.Release(); err != nil {
		logger.Warn("failed to release run lock", "path", lock.Path(), "error", err)
	}
}
