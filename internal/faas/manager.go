// Package faas implements the FaaS Manager (C8, §4.8): a deployment
// registry layered over the sandbox manager (C5) that issues stable
// deployment identities and URLs, patches files and restarts the dev
// process on update, and evicts idle deployments on a periodic sweep.
//
// Grounded on the teacher's always-on reconciliation controller
// (deploy/alwayson.Service): a ticker-driven background loop, atomic
// counters for observability, and a semaphore-style concurrency bound —
// generalized here from "keep deployments alive" to "evict the ones that
// went idle".
package faas

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"sandboxfaas/internal/catalog"
	"sandboxfaas/internal/obs"
	"sandboxfaas/internal/sandbox"
	"sandboxfaas/internal/sberrors"
)

// Status is the Deployment lifecycle state (§3 Deployment).
type Status string

const (
	StatusDeploying Status = "deploying"
	StatusRunning   Status = "running"
	StatusScaling   Status = "scaling"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// AutoScale mirrors the §3 Deployment.auto_scale block. Min/Max are
// carried for interface completeness (C8 does not itself scale replicas;
// that is the multi-host scheduling non-goal); IdleMinutes drives eviction.
type AutoScale struct {
	Min         int `json:"min"`
	Max         int `json:"max"`
	IdleMinutes int `json:"idle_minutes"`
}

// DefaultIdleMinutes is used when a DeployRequest doesn't set AutoScale.IdleMinutes.
const DefaultIdleMinutes = 10

// DefaultSweepInterval is the idle-eviction tick period (§4.8).
const DefaultSweepInterval = 60 * time.Second

const (
	defaultDeployTimeoutMs     = 300_000
	defaultDeployMemoryLimitMB = 256
)

// DeployRequest is the caller-supplied half of a Deploy call; the manager
// fills in the rest of the sandbox.Request per §4.8's fixed recipe.
type DeployRequest struct {
	Runtime       string
	Code          string
	Files         []sandbox.File
	Env           map[string]string
	EntryPoint    string
	MemoryLimitMB int64
	AutoScale     AutoScale
}

// Deployment is the external descriptor returned from Deploy/Get/List
// (§3 Deployment), a snapshot safe to hand to a caller without exposing
// the registry's internal locking.
type Deployment struct {
	ID           string    `json:"id"`
	SandboxID    string    `json:"sandbox_id"`
	URL          string    `json:"url"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	Runtime      string    `json:"runtime"`
	MemoryMB     int64     `json:"memory_mb"`
	AutoScale    AutoScale `json:"auto_scale"`
}

// deployment is the registry's internal record. LastAccessed is an
// atomic unix-nano counter so the proxy's fire-and-forget access
// tracking (§4.8 Access tracking) never needs the registry lock (§5
// shared-resource policy: "finer-grained lock, updatable without holding
// the registry lock").
type deployment struct {
	id           string
	sandboxID    string
	url          string
	runtime      string
	memoryMB     int64
	autoScale    AutoScale
	createdAt    time.Time
	lastAccessed atomic.Int64 // unix nanoseconds
	status       atomic.Value // Status

	devServer  bool
	restartCmd []string
}

func (d *deployment) snapshot() Deployment {
	status, _ := d.status.Load().(Status)
	return Deployment{
		ID:           d.id,
		SandboxID:    d.sandboxID,
		URL:          d.url,
		Status:       status,
		CreatedAt:    d.createdAt,
		LastAccessed: time.Unix(0, d.lastAccessed.Load()),
		Runtime:      d.runtime,
		MemoryMB:     d.memoryMB,
		AutoScale:    d.autoScale,
	}
}

func (d *deployment) touch() {
	d.lastAccessed.Store(time.Now().UnixNano())
}

func (d *deployment) setStatus(s Status) {
	d.status.Store(s)
}

// Manager is the C8 deployment registry.
type Manager struct {
	sb      *sandbox.Manager
	baseURL string

	sweepInterval time.Duration

	// sweepGroup collapses an overlapping manual trigger and ticker
	// fire into one in-flight sweep, matching §4.8's "single-flight:
	// eviction runs sequentially" requirement.
	sweepGroup singleflight.Group

	mu          sync.RWMutex
	deployments map[string]*deployment

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager constructs a Manager. baseURL is prefixed onto issued
// deployment URLs (e.g. "http://localhost:8080").
func NewManager(sb *sandbox.Manager, baseURL string) *Manager {
	return &Manager{
		sb:            sb,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		sweepInterval: DefaultSweepInterval,
		deployments:   make(map[string]*deployment),
		stopCh:        make(chan struct{}),
	}
}

// Deploy materializes a fresh persistent dev-server sandbox and registers
// it under a new deployment identity (§4.8 Deploy).
func (m *Manager) Deploy(ctx context.Context, req DeployRequest) (Deployment, error) {
	entry, err := catalog.Lookup(req.Runtime)
	if err != nil {
		return Deployment{}, sberrors.InvalidRuntime(req.Runtime)
	}

	memoryMB := req.MemoryLimitMB
	if memoryMB <= 0 {
		memoryMB = defaultDeployMemoryLimitMB
	}

	deploymentID := uuid.NewString()
	sandboxID := uuid.NewString()

	sreq := sandbox.Request{
		ID:            sandboxID,
		Runtime:       req.Runtime,
		Code:          req.Code,
		EntryPoint:    req.EntryPoint,
		Files:         req.Files,
		Env:           req.Env,
		TimeoutMs:     defaultDeployTimeoutMs,
		MemoryLimitMB: memoryMB,
		Mode:          sandbox.Persistent,
		InstallDeps:   true,
		DevServer:     true,
	}

	if _, err := m.sb.Create(ctx, sreq); err != nil {
		return Deployment{}, sberrors.DeployFailed("sandbox create failed", err)
	}

	resp, err := m.sb.Execute(ctx, sandboxID)
	if err != nil || !resp.Success {
		m.cleanupSandbox(ctx, sandboxID)
		if err == nil {
			err = fmt.Errorf("dev server did not report success")
		}
		return Deployment{}, sberrors.DeployFailed("sandbox execute failed", err)
	}

	autoScale := req.AutoScale
	if autoScale.IdleMinutes <= 0 {
		autoScale.IdleMinutes = DefaultIdleMinutes
	}

	restartCmd := entry.DevCommand
	if req.EntryPoint != "" {
		restartCmd = strings.Fields(req.EntryPoint)
	}

	d := &deployment{
		id:         deploymentID,
		sandboxID:  sandboxID,
		url:        fmt.Sprintf("%s/faas/%s", m.baseURL, deploymentID),
		runtime:    string(entry.Runtime),
		memoryMB:   memoryMB,
		autoScale:  autoScale,
		createdAt:  time.Now(),
		devServer:  true,
		restartCmd: restartCmd,
	}
	d.touch()
	d.setStatus(StatusRunning)

	m.mu.Lock()
	m.deployments[deploymentID] = d
	m.mu.Unlock()

	return d.snapshot(), nil
}

// Undeploy removes a deployment and cleans up its sandbox. Eventually
// consistent per §7: the registry removal always succeeds once the id is
// known; a subsequent cleanup failure is logged, not propagated.
func (m *Manager) Undeploy(ctx context.Context, id string) error {
	d, ok := m.removeLocked(id)
	if !ok {
		return sberrors.NotFound("deployment " + id + " not found")
	}

	m.cleanupSandbox(ctx, d.sandboxID)
	return nil
}

// removeLocked deletes a deployment from the registry under the exclusive
// lock and returns it, per §4.8's "removed one by one under exclusive
// access". Backend cleanup is the caller's responsibility, so the lock
// isn't held across the (potentially slow) container teardown.
func (m *Manager) removeLocked(id string) (*deployment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deployments[id]
	if ok {
		delete(m.deployments, id)
	}
	return d, ok
}

func (m *Manager) cleanupSandbox(ctx context.Context, sandboxID string) {
	if err := m.sb.Delete(ctx, sandboxID); err != nil {
		obs.S().Warnw("deployment sandbox cleanup failed", "sandbox_id", sandboxID, "error", err)
	}
}

// UpdateFiles patches files into the deployment's sandbox and, unless
// restartDevServer is explicitly false, restarts the dev-server process
// (§4.8 update_files).
func (m *Manager) UpdateFiles(ctx context.Context, id string, files []sandbox.File, restartDevServer *bool) error {
	d, ok := m.get(id)
	if !ok {
		return sberrors.NotFound("deployment " + id + " not found")
	}

	if err := m.sb.UpdateFiles(ctx, d.sandboxID, files); err != nil {
		return err
	}

	restart := restartDevServer == nil || *restartDevServer
	if restart && d.devServer {
		if err := m.sb.RestartProcess(ctx, d.sandboxID, d.restartCmd); err != nil {
			return err
		}
	}

	d.touch()
	return nil
}

// Get returns a deployment snapshot and touches its access time, per
// §4.8's "direct get_deployment ... update last_accessed on every access".
func (m *Manager) Get(id string) (Deployment, bool) {
	d, ok := m.get(id)
	if !ok {
		return Deployment{}, false
	}
	d.touch()
	return d.snapshot(), true
}

// Touch updates last_accessed without returning a snapshot, for the
// reverse proxy's fire-and-forget access tracking (§4.8 Access tracking).
func (m *Manager) Touch(id string) {
	if d, ok := m.get(id); ok {
		d.touch()
	}
}

// List returns a snapshot of every live deployment.
func (m *Manager) List() []Deployment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Deployment, 0, len(m.deployments))
	for _, d := range m.deployments {
		out = append(out, d.snapshot())
	}
	return out
}

// SandboxIDFor resolves a deployment id to its backing sandbox id, for
// the reverse proxy (§4.7).
func (m *Manager) SandboxIDFor(id string) (string, bool) {
	d, ok := m.get(id)
	if !ok {
		return "", false
	}
	return d.sandboxID, true
}

func (m *Manager) get(id string) (*deployment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deployments[id]
	return d, ok
}

// Run starts the periodic idle-eviction sweep (§4.8 Idle eviction) and
// blocks until ctx is cancelled or Stop is called.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepIdle(ctx)
		}
	}
}

// Stop ends a running Run loop.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// sweepIdle collects idle deployments under a read lock, removes each one
// sequentially under the exclusive registry lock (§4.8: "collected under a
// read lock, then removed one by one under exclusive access"), then tears
// down their sandboxes concurrently — cleanup across distinct sandboxes is
// independent (§5: "between sandboxes: no ordering"), so it doesn't need to
// happen one at a time like the registry mutation does. singleflight
// collapses an overlapping ticker fire and manual trigger into one sweep.
func (m *Manager) sweepIdle(ctx context.Context) {
	_, _, _ = m.sweepGroup.Do("sweep", func() (interface{}, error) {
		m.mu.RLock()
		var idle []string
		now := time.Now()
		for id, d := range m.deployments {
			threshold := time.Duration(d.autoScale.IdleMinutes) * time.Minute
			if threshold <= 0 {
				threshold = DefaultIdleMinutes * time.Minute
			}
			last := time.Unix(0, d.lastAccessed.Load())
			if now.Sub(last) > threshold {
				idle = append(idle, id)
			}
		}
		m.mu.RUnlock()

		var toClean []*deployment
		for _, id := range idle {
			d, ok := m.removeLocked(id)
			if !ok {
				continue
			}
			obs.S().Infow("evicted idle deployment", "deployment_id", id)
			toClean = append(toClean, d)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, d := range toClean {
			d := d
			g.Go(func() error {
				m.cleanupSandbox(gctx, d.sandboxID)
				return nil
			})
		}
		_ = g.Wait()
		return nil, nil
	})
}
