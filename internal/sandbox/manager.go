package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/deepserve/deepserve/internal/config"
	"github.com/deepserve/deepserve/internal/observability"
)

// stopTimeout bounds the deferred container stop.
const stopTimeout = 30 * time.Second

// Manager hands out one sandbox per conversation. The map mutex only guards
// map-level work; container I/O happens on the sandbox's own mutex.
type Manager struct {
	cfg     *config.Config
	runtime Runtime
	logger  *observability.Logger
	metrics *observability.Metrics

	mu          sync.Mutex
	sandboxes   map[string]*Sandbox
	stopPending map[string]bool
}

// NewManager creates a sandbox manager backed by the given runtime.
func NewManager(cfg *config.Config, runtime Runtime, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		cfg:         cfg,
		runtime:     runtime,
		logger:      logger,
		metrics:     metrics,
		sandboxes:   make(map[string]*Sandbox),
		stopPending: make(map[string]bool),
	}
}

// Acquire returns the sandbox for a conversation, creating the handle on
// first use. skillNames controls which skill directories are mounted
// read-only; a changed set forces the container to be rebuilt on next use.
// Acquiring a sandbox cancels any pending stop for it.
func (m *Manager) Acquire(ctx context.Context, userID int64, conversationID string, image ImageConfig, skillNames []string) (*Sandbox, error) {
	mounts, err := m.buildMounts(userID, conversationID, skillNames)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	sb, ok := m.sandboxes[conversationID]
	if !ok {
		sb = New(userID, conversationID, m.runtime, image, mounts, m.logger)
		m.sandboxes[conversationID] = sb
		if m.metrics != nil {
			m.metrics.SandboxCreates.Inc()
		}
	}
	delete(m.stopPending, conversationID)
	m.mu.Unlock()

	if ok {
		if err := sb.SetMounts(ctx, mounts); err != nil {
			return nil, err
		}
	}
	return sb, nil
}

// ScheduleStop registers a deferred stop for the conversation's sandbox.
// Repeated calls while a stop is pending are no-ops; the stop itself runs on
// its own goroutine so the caller's response path is never blocked.
func (m *Manager) ScheduleStop(conversationID string) {
	m.mu.Lock()
	sb, ok := m.sandboxes[conversationID]
	if !ok || m.stopPending[conversationID] {
		m.mu.Unlock()
		return
	}
	m.stopPending[conversationID] = true
	m.mu.Unlock()

	go m.runScheduledStop(conversationID, sb)
}

// runScheduledStop executes one deferred stop. The pending flag is
// re-checked right before the container is touched so an Acquire that
// arrived in between cancels the stop entirely.
func (m *Manager) runScheduledStop(conversationID string, sb *Sandbox) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	m.mu.Lock()
	if !m.stopPending[conversationID] {
		// Acquire won the race; leave the sandbox running.
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	// The flag stays set during the stop so repeat ScheduleStop calls
	// remain no-ops while this one is in flight.
	err := sb.Stop(ctx)

	m.mu.Lock()
	pending := m.stopPending[conversationID]
	delete(m.stopPending, conversationID)
	m.mu.Unlock()
	if !pending {
		// Acquire raced with the stop; the sandbox recreates its
		// container on the next command.
		return
	}
	if err != nil {
		if m.logger != nil {
			m.logger.Warn(ctx, "sandbox stop failed", "conversation_id", conversationID, "error", err)
		}
		return
	}
	if m.metrics != nil {
		m.metrics.SandboxStops.Inc()
	}
}

// Purge stops and removes the conversation's container and drops the handle.
// Used when a conversation is deleted.
func (m *Manager) Purge(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	sb, ok := m.sandboxes[conversationID]
	delete(m.sandboxes, conversationID)
	delete(m.stopPending, conversationID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := m.runtime.Remove(ctx, sb.ContainerName()); err != nil {
		return fmt.Errorf("purge sandbox: %w", err)
	}
	return nil
}

// buildMounts creates the host directories for a conversation and maps them
// into the container along with read-only skill mounts.
func (m *Manager) buildMounts(userID int64, conversationID string, skillNames []string) ([]Mount, error) {
	uploads := m.cfg.UploadsDir(userID, conversationID)
	intermediate := m.cfg.IntermediateDir(userID, conversationID)
	for _, dir := range []string{uploads, intermediate} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sandbox dir %s: %w", dir, err)
		}
	}

	mounts := []Mount{
		{HostPath: m.cfg.HostPath(uploads), ContainerPath: WorkspaceDir + "/uploads"},
		{HostPath: m.cfg.HostPath(intermediate), ContainerPath: WorkspaceDir + "/intermediate"},
	}

	names := append([]string(nil), skillNames...)
	sort.Strings(names)
	for _, name := range names {
		hostDir := filepath.Join(m.cfg.SkillsDir(), name)
		if _, err := os.Stat(hostDir); err != nil {
			continue
		}
		mounts = append(mounts, Mount{
			HostPath:      m.cfg.HostPath(hostDir),
			ContainerPath: WorkspaceDir + "/skills/" + name,
			ReadOnly:      true,
		})
	}
	return mounts, nil
}
