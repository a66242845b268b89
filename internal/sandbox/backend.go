package sandbox

import (
	"context"

	"sandboxfaas/internal/stats"
)

// Backend is the capability set every sandbox technology implements (C2,
// §4.2). The Manager holds exactly one Backend variant, chosen once at
// process startup (§9: dynamic dispatch over backends, immutable for the
// process lifetime).
type Backend interface {
	// Create materializes an isolated execution environment for
	// request.ID but does not run user code yet. Fails with
	// sberrors.Unavailable if the backing technology is absent,
	// sberrors.CreationFailed{cause} otherwise.
	Create(ctx context.Context, req Request) error

	// Execute runs to completion (one-shot) or brings the dev server up
	// (persistent). Enforces req.TimeoutMs wall-clock and
	// req.MemoryLimitMB memory cap.
	Execute(ctx context.Context, req Request) (Response, error)

	// Cleanup idempotently tears down the sandbox. Must not fail if id
	// is unknown: log and return.
	Cleanup(ctx context.Context, id string) error

	// IsAvailable is a non-destructive liveness probe of the backing
	// technology.
	IsAvailable(ctx context.Context) bool

	// UpdateFiles patches files into a running sandbox, atomically per
	// file.
	UpdateFiles(ctx context.Context, id string, files []File) error

	// RestartProcess kills the existing dev-server process family,
	// waits a short settle interval, then starts command detached with
	// output redirected to a known log path.
	RestartProcess(ctx context.Context, id string, command []string) error

	// Type reports which BackendType this implementation is.
	Type() BackendType
}

// UsageProbe is implemented by backends that can report per-sandbox
// resource usage (C10, §4.10). Not every Backend need implement it; the
// resource-usage probe type-asserts for it.
type UsageProbe interface {
	Usage(ctx context.Context, id string) (Usage, error)
}

// PortInspector is implemented by backends that can recover a sandbox's
// published dev-server port directly from the backing technology, for
// the reverse proxy's fallback path when the port allocator has no entry
// (§4.7: "falls back to inspecting the container's port bindings").
type PortInspector interface {
	InspectDevServerPort(ctx context.Context, id string) (int, bool)
}

// Usage is a single resource-usage snapshot for a sandbox's container.
// It is the stats package's computed snapshot type; keeping one
// definition avoids converting between two identical structs at the
// backend/probe boundary.
type Usage = stats.Usage
