// Package docker implements the Docker Backend (C3, §4.4): the primary
// sandbox.Backend that materializes sandboxes as Docker containers, using
// the engine's HTTP API directly through the Docker SDK rather than
// shelling out to the docker CLI.
package docker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"sandboxfaas/internal/catalog"
	"sandboxfaas/internal/obs"
	"sandboxfaas/internal/ports"
	"sandboxfaas/internal/sandbox"
	"sandboxfaas/internal/sberrors"
)

const (
	workDir            = "/sandbox"
	devServerPort      = "3000"
	oneShotTmpfsSize   = "50m"
	persistentTmpfsSz  = "500m"
	sharedTmpSize      = "10m"
	cpuQuota           = 50_000
	cpuPeriod          = 100_000
	devServerLogPath   = workDir + "/dev-server.log"
	settleBeforeProbe  = 1 * time.Second
	restartSettleDelay = 500 * time.Millisecond
)

// record is what the backend must remember per sandbox to service
// update_files/restart_process/cleanup/usage after Create returns, since
// those calls only carry a sandbox id.
type record struct {
	containerID string
	request     sandbox.Request
	mainFile    string
	devPort     int
}

// Backend is the Docker SDK-backed sandbox.Backend.
type Backend struct {
	cli   *client.Client
	ports *ports.Allocator

	mgrMu sync.RWMutex
	mgr   *sandbox.Manager

	mu      sync.RWMutex
	records map[string]*record
}

// NewBackend dials the Docker daemon at dockerHost (empty uses the
// environment default, matching client.FromEnv) and negotiates the API
// version, the way the teacher's sandbox-v2 executor and Docker runtime
// both construct their clients.
func NewBackend(dockerHost string, allocator *ports.Allocator) (*Backend, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if dockerHost != "" {
		opts = append(opts, client.WithHost(dockerHost))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client init: %w", err)
	}
	return &Backend{
		cli:     cli,
		ports:   allocator,
		records: make(map[string]*record),
	}, nil
}

// SetManager wires the backend back to the sandbox.Manager that owns it,
// so Create/Execute can report materialized container/port state into the
// registry (§4.3). Call once, immediately after sandbox.NewManager.
func (b *Backend) SetManager(m *sandbox.Manager) {
	b.mgrMu.Lock()
	b.mgr = m
	b.mgrMu.Unlock()
}

// Type reports this backend's BackendType.
func (b *Backend) Type() sandbox.BackendType { return sandbox.BackendDocker }

// IsAvailable pings the Docker daemon (§4.2 liveness probe).
func (b *Backend) IsAvailable(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := b.cli.Ping(pingCtx)
	return err == nil
}

// Create resolves the runtime's image, pulls it if absent, allocates a
// dev-server port when requested, then creates and starts the container
// shaped per §4.4. It does not write any files or run user code: that is
// Execute's job.
func (b *Backend) Create(ctx context.Context, req sandbox.Request) error {
	entry, err := catalog.Lookup(req.Runtime)
	if err != nil {
		return sberrors.InvalidRuntime(req.Runtime)
	}

	if err := b.ensureImage(ctx, entry.Image); err != nil {
		obs.S().Warnw("image pull failed, attempting create anyway", "image", entry.Image, "error", err)
	}

	var devPort int
	if req.Mode == sandbox.Persistent && req.DevServer {
		devPort = b.ports.Allocate(req.ID)
	}

	containerCfg, hostCfg, err := b.buildContainerSpec(req, entry, devPort)
	if err != nil {
		if devPort > 0 {
			b.ports.Deallocate(req.ID)
		}
		return sberrors.CreationFailed("container spec build failed", err)
	}

	created, err := b.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "sandbox-"+req.ID)
	if err != nil {
		if devPort > 0 {
			b.ports.Deallocate(req.ID)
		}
		return sberrors.CreationFailed("container create failed", err)
	}

	if err := b.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = b.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		if devPort > 0 {
			b.ports.Deallocate(req.ID)
		}
		return sberrors.CreationFailed("container start failed", err)
	}

	b.mu.Lock()
	b.records[req.ID] = &record{
		containerID: created.ID,
		request:     req,
		mainFile:    entry.MainFile,
		devPort:     devPort,
	}
	b.mu.Unlock()

	b.reportContainerInfo(req.ID, created.ID, devPort)
	return nil
}

func (b *Backend) buildContainerSpec(req sandbox.Request, entry catalog.Entry, devPort int) (*container.Config, *container.HostConfig, error) {
	persistent := req.Mode == sandbox.Persistent

	env := make([]string, 0, len(req.Env))
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	cfg := &container.Config{
		Image:      entry.Image,
		WorkingDir: workDir,
		Env:        env,
		Cmd:        []string{"sleep", "infinity"},
		Tty:        false,
	}

	tmpfsSize := oneShotTmpfsSize
	networkMode := container.NetworkMode("none")
	if persistent {
		tmpfsSize = persistentTmpfsSz
		if req.DevServer {
			networkMode = "bridge"
		}
	}

	hostCfg := &container.HostConfig{
		ReadonlyRootfs: !persistent,
		NetworkMode:    networkMode,
		Tmpfs: map[string]string{
			"/tmp":  fmt.Sprintf("rw,noexec,nosuid,size=%s", sharedTmpSize),
			workDir: fmt.Sprintf("rw,size=%s", tmpfsSize),
		},
		Resources: container.Resources{
			Memory:     req.MemoryLimitBytes(),
			MemorySwap: req.MemoryLimitBytes(),
			CPUQuota:   cpuQuota,
			CPUPeriod:  cpuPeriod,
		},
	}

	if persistent && req.DevServer && devPort > 0 {
		port, err := nat.NewPort("tcp", devServerPort)
		if err != nil {
			return nil, nil, err
		}
		cfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", devPort)}},
		}
	}

	return cfg, hostCfg, nil
}

func (b *Backend) ensureImage(ctx context.Context, imageName string) error {
	if _, _, err := b.cli.ImageInspectWithRaw(ctx, imageName); err == nil {
		return nil
	}
	rc, err := b.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	buf := make([]byte, 32*1024)
	for {
		if _, err := rc.Read(buf); err != nil {
			break
		}
	}
	return nil
}

// Cleanup force-removes the container and releases its port, if any. It is
// idempotent: an unknown id logs and returns without error (§4.2).
func (b *Backend) Cleanup(ctx context.Context, id string) error {
	rec, ok := b.takeRecord(id)
	if !ok {
		obs.S().Infow("cleanup called for untracked sandbox", "sandbox_id", id)
		return nil
	}

	b.ports.Deallocate(id)

	if err := b.cli.ContainerRemove(ctx, rec.containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		obs.S().Warnw("container remove failed during cleanup", "sandbox_id", id, "container_id", rec.containerID, "error", err)
	}
	return nil
}

// InspectDevServerPort satisfies sandbox.PortInspector: it re-derives a
// sandbox's published host port straight from the container's live port
// bindings rather than the allocator's bookkeeping, for the reverse
// proxy's fallback path (§4.7).
func (b *Backend) InspectDevServerPort(ctx context.Context, id string) (int, bool) {
	rec, ok := b.record(id)
	if !ok {
		return 0, false
	}

	info, err := b.cli.ContainerInspect(ctx, rec.containerID)
	if err != nil || info.NetworkSettings == nil {
		return 0, false
	}

	port, err := nat.NewPort("tcp", devServerPort)
	if err != nil {
		return 0, false
	}
	for _, binding := range info.NetworkSettings.Ports[port] {
		if binding.HostIP != "127.0.0.1" {
			continue
		}
		var hostPort int
		if _, scanErr := fmt.Sscanf(binding.HostPort, "%d", &hostPort); scanErr == nil && hostPort > 0 {
			return hostPort, true
		}
	}
	return 0, false
}

func (b *Backend) takeRecord(id string) (*record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[id]
	if ok {
		delete(b.records, id)
	}
	return rec, ok
}

func (b *Backend) record(id string) (*record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[id]
	return rec, ok
}

func (b *Backend) reportContainerInfo(id, containerID string, devPort int) {
	b.mgrMu.RLock()
	m := b.mgr
	b.mgrMu.RUnlock()
	if m != nil {
		m.SetContainerInfo(id, containerID, devPort)
	}
}

// killSignatureForCommand picks the process-name pattern restart_process
// kills before starting the replacement command, keyed off the command's
// root word per §4.4.
func killSignatureForCommand(command []string) string {
	if len(command) == 0 {
		return "dev"
	}
	switch root := strings.ToLower(command[0]); root {
	case "bun", "npm", "node":
		return root
	default:
		return "dev"
	}
}
