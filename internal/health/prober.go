// Package health implements the in-container dev-server readiness probe
// (C9, §4.9): a three-stage check with exactly one retry after a 2s sleep.
package health

import (
	"context"
	"time"

	"sandboxfaas/internal/obs"
	"sandboxfaas/internal/sberrors"
)

// Execer runs a command inside an already-started sandbox and returns its
// combined stdout and exit code. The Docker backend implements this via
// ContainerExecCreate/Attach/Start; it is the only capability the prober
// needs from a backend, so tests can stub it without a daemon.
type Execer interface {
	Exec(ctx context.Context, sandboxID string, command []string) (stdout string, exitCode int, err error)
}

const devServerPort = "3000"

// Probe runs the three-stage readiness check described in §4.9:
//  1. confirm a listener on port 3000 via netstat/ss, logging the running
//     node/bun processes if none is found;
//  2. attempt an HTTP fetch to http://localhost:3000;
//  3. on HTTP failure, sleep 2s and retry via a raw TCP connect.
//
// Success of any stage means the dev server is ready. Failure of all three
// returns sberrors.HealthCheckFailed.
func Probe(ctx context.Context, sandboxID string, execer Execer) error {
	if ok := probeListener(ctx, sandboxID, execer); ok {
		return nil
	}
	if ok := probeHTTP(ctx, sandboxID, execer); ok {
		return nil
	}

	select {
	case <-ctx.Done():
		return sberrors.HealthCheckFailed("context cancelled during retry settle", ctx.Err())
	case <-time.After(2 * time.Second):
	}

	if ok := probeTCP(ctx, sandboxID, execer); ok {
		return nil
	}

	return sberrors.HealthCheckFailed("dev server never became ready on port "+devServerPort, nil)
}

func probeListener(ctx context.Context, id string, execer Execer) bool {
	cmd := []string{"sh", "-c", "(ss -ltn 2>/dev/null || netstat -ltn 2>/dev/null) | grep -q ':" + devServerPort + " '"}
	_, exitCode, err := execer.Exec(ctx, id, cmd)
	if err == nil && exitCode == 0 {
		return true
	}

	procs, _, procErr := execer.Exec(ctx, id, []string{"sh", "-c", "ps aux | grep -E 'node|bun' | grep -v grep"})
	if procErr == nil {
		obs.S().Infow("dev server listener not found yet", "sandbox_id", id, "processes", procs)
	}
	return false
}

func probeHTTP(ctx context.Context, id string, execer Execer) bool {
	cmd := []string{"sh", "-c", "curl -sf -o /dev/null http://localhost:" + devServerPort + " || wget -q -O /dev/null http://localhost:" + devServerPort}
	_, exitCode, err := execer.Exec(ctx, id, cmd)
	return err == nil && exitCode == 0
}

func probeTCP(ctx context.Context, id string, execer Execer) bool {
	cmd := []string{"sh", "-c", "timeout 2 sh -c 'echo > /dev/tcp/localhost/" + devServerPort + "'"}
	_, exitCode, err := execer.Exec(ctx, id, cmd)
	return err == nil && exitCode == 0
}
