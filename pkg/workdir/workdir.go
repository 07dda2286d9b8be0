package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
)

// Manager owns the agent's on-disk work tree. It allocates unique per-run
// executor directories under
//
//	{root}/slaves/{slave_id}/frameworks/{framework_id}/executors/{executor_id}/runs/{n}
//
// and schedules best-effort recursive deletion of retired directories.
type Manager struct {
	root      string
	create    bool
	gcTimeout time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	timers []*time.Timer
	closed bool
}

// Config holds work directory settings.
type Config struct {
	Root      string
	GCTimeout time.Duration

	// NoCreate computes paths without creating directories.
	NoCreate bool
}

// NewManager creates a work directory manager rooted at cfg.Root.
func NewManager(cfg Config) *Manager {
	return &Manager{
		root:      cfg.Root,
		create:    !cfg.NoCreate,
		gcTimeout: cfg.GCTimeout,
		logger:    log.WithComponent("workdir"),
	}
}

// Root returns the work tree root.
func (m *Manager) Root() string { return m.root }

// AllocateExecutorDir mints a unique run directory for one executor
// invocation, scanning runs/0, runs/1, ... for the first free slot. The
// directory is created unless the manager was configured not to.
func (m *Manager) AllocateExecutorDir(slaveID, frameworkID, executorID string) (string, error) {
	prefix := filepath.Join(
		m.root,
		"slaves", slaveID,
		"frameworks", frameworkID,
		"executors", executorID,
		"runs",
	)

	for n := 0; ; n++ {
		dir := filepath.Join(prefix, strconv.Itoa(n))
		if !m.create {
			return dir, nil
		}
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create work directory %s: %w", dir, err)
		}
		return dir, nil
	}
}

// SweepStaleSlaveDirs deletes, immediately, every directory under
// {root}/slaves that belongs to a different slave id and has not been
// touched within the GC timeout. Called once on registration.
func (m *Manager) SweepStaleSlaveDirs(currentSlaveID string) {
	slavesDir := filepath.Join(m.root, "slaves")
	entries, err := os.ReadDir(slavesDir)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn().Err(err).Str("dir", slavesDir).Msg("failed to list slave directories")
		}
		return
	}

	cutoff := time.Now().Add(-m.gcTimeout)
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == currentSlaveID {
			continue
		}
		path := filepath.Join(slavesDir, entry.Name())
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		m.logger.Info().Str("dir", path).Msg("deleting stale slave directory")
		m.remove(path)
	}
}

// ScheduleDeletion queues the directory for recursive removal after the GC
// timeout elapses.
func (m *Manager) ScheduleDeletion(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.logger.Info().Str("dir", dir).Dur("after", m.gcTimeout).Msg("scheduling directory for deletion")
	timer := time.AfterFunc(m.gcTimeout, func() {
		m.remove(dir)
	})
	m.timers = append(m.timers, timer)
}

// Stop cancels pending deletions.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, timer := range m.timers {
		timer.Stop()
	}
	m.timers = nil
}

func (m *Manager) remove(dir string) {
	m.logger.Info().Str("dir", dir).Msg("deleting directory")
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Error().Err(err).Str("dir", dir).Msg("failed to delete directory")
	}
}
