package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sandboxfaas/internal/obs"
	"sandboxfaas/internal/sberrors"
)

// Manager is the registry of live sandboxes and the dispatcher that drives
// the state machine of §4.3 over a single Backend chosen at construction
// time. The registry is guarded by a reader/writer discipline: mutations
// take the write lock, reads take the read lock. Backend operations run
// without holding the registry lock so a slow container-engine call never
// blocks an unrelated read (§4.3 concurrency note).
type Manager struct {
	backend Backend

	mu        sync.RWMutex
	sandboxes map[string]*Sandbox
}

// NewManager constructs a Manager around a single, already-selected Backend.
func NewManager(backend Backend) *Manager {
	return &Manager{
		backend:   backend,
		sandboxes: make(map[string]*Sandbox),
	}
}

// Create validates req, accepts it into the registry as Created, then asks
// the backend to materialize it. A backend failure rolls the registry
// record back out (the sandbox never becomes observably live).
func (m *Manager) Create(ctx context.Context, req Request) (*Sandbox, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if !m.backend.IsAvailable(ctx) {
		return nil, sberrors.Unavailable("backend is not available", nil)
	}

	sb := &Sandbox{
		ID:          req.ID,
		Request:     req,
		BackendType: m.backend.Type(),
		CreatedAt:   time.Now(),
		Status:      StatusCreated,
	}

	m.mu.Lock()
	if _, exists := m.sandboxes[req.ID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("sandbox %s already exists", req.ID)
	}
	m.sandboxes[req.ID] = sb
	m.mu.Unlock()

	if err := m.backend.Create(ctx, req); err != nil {
		m.mu.Lock()
		delete(m.sandboxes, req.ID)
		m.mu.Unlock()
		obs.S().Warnw("sandbox create failed, rolling back registry record",
			"sandbox_id", req.ID, "error", err)
		return nil, sberrors.CreationFailed("backend create failed", err)
	}

	return sb, nil
}

// Execute transitions Created -> Running, invokes the backend, then
// resolves to Completed/Failed (one-shot) or DevServer (persistent dev
// server whose health check passed).
func (m *Manager) Execute(ctx context.Context, id string) (Response, error) {
	sb, ok := m.get(id)
	if !ok {
		return Response{}, sberrors.NotFound("sandbox " + id + " not found")
	}

	m.setStatus(id, StatusRunning)

	resp, err := m.backend.Execute(ctx, sb.Request)
	if err != nil {
		m.setStatus(id, StatusFailed)
		return Response{}, err
	}

	switch {
	case sb.Request.Mode == Persistent && sb.Request.DevServer && resp.Success:
		m.setStatus(id, StatusDevServer)
	case resp.Success:
		m.setStatus(id, StatusCompleted)
	default:
		m.setStatus(id, StatusFailed)
	}

	return resp, nil
}

// UpdateFiles patches files into a running sandbox. Per-file failures are
// the backend's concern (fail-open, §7); the manager only forwards.
func (m *Manager) UpdateFiles(ctx context.Context, id string, files []File) error {
	if _, ok := m.get(id); !ok {
		return sberrors.NotFound("sandbox " + id + " not found")
	}
	return m.backend.UpdateFiles(ctx, id, files)
}

// RestartProcess restarts the dev-server process inside a running sandbox.
func (m *Manager) RestartProcess(ctx context.Context, id string, command []string) error {
	if _, ok := m.get(id); !ok {
		return sberrors.NotFound("sandbox " + id + " not found")
	}
	return m.backend.RestartProcess(ctx, id, command)
}

// Delete terminates a sandbox from any state and removes its registry
// record, then tears down the backend's container/filesystem artifacts.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.sandboxes[id]
	if ok {
		delete(m.sandboxes, id)
	}
	m.mu.Unlock()

	if !ok {
		return sberrors.NotFound("sandbox " + id + " not found")
	}
	return m.backend.Cleanup(ctx, id)
}

// Get returns a copy of the sandbox record for id.
func (m *Manager) Get(id string) (Sandbox, bool) {
	sb, ok := m.get(id)
	if !ok {
		return Sandbox{}, false
	}
	return *sb, true
}

// List returns a snapshot of all live sandbox records.
func (m *Manager) List() []Sandbox {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Sandbox, 0, len(m.sandboxes))
	for _, sb := range m.sandboxes {
		out = append(out, *sb)
	}
	return out
}

// Backend exposes the underlying backend, e.g. so the reverse proxy can
// fall back to port inspection (§4.7) or the usage probe can query stats.
func (m *Manager) Backend() Backend {
	return m.backend
}

// Shutdown iterates every live sandbox and calls Cleanup best-effort,
// logging failures rather than propagating them (§5 shutdown semantics).
// Deployments built atop a Manager are not explicitly undeployed here;
// they are destroyed through their sandbox's cleanup.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sandboxes))
	for id := range m.sandboxes {
		ids = append(ids, id)
	}
	m.sandboxes = make(map[string]*Sandbox)
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.backend.Cleanup(ctx, id); err != nil {
			obs.S().Warnw("shutdown cleanup failed", "sandbox_id", id, "error", err)
		}
	}
}

func (m *Manager) get(id string) (*Sandbox, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sb, ok := m.sandboxes[id]
	if !ok {
		return nil, false
	}
	cp := *sb
	return &cp, true
}

func (m *Manager) setStatus(id string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sb, ok := m.sandboxes[id]; ok {
		sb.Status = status
	}
}

// SetContainerInfo records the backend's container id and, when a dev
// server was allocated one, its host-loopback port. Backends call this
// after Create succeeds so the registry reflects materialized
// state without the backend needing write access to the registry itself.
func (m *Manager) SetContainerInfo(id, containerID string, devServerPort int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sb, ok := m.sandboxes[id]; ok {
		sb.ContainerID = containerID
		if devServerPort > 0 {
			sb.DevServerPort = devServerPort
		}
	}
}
