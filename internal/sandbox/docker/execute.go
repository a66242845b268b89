package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sandboxfaas/internal/catalog"
	"sandboxfaas/internal/health"
	"sandboxfaas/internal/obs"
	"sandboxfaas/internal/sandbox"
	"sandboxfaas/internal/sberrors"
)

// Execute materializes the submission's files and either runs it to
// completion (one-shot) or brings the dev server up and probes it
// (persistent), per §4.4's create/execution sequences.
func (b *Backend) Execute(ctx context.Context, req sandbox.Request) (sandbox.Response, error) {
	rec, ok := b.record(req.ID)
	if !ok {
		return sandbox.Response{}, sberrors.NotFound("sandbox " + req.ID + " not tracked by docker backend")
	}

	entry, err := catalog.Lookup(req.Runtime)
	if err != nil {
		return sandbox.Response{}, sberrors.InvalidRuntime(req.Runtime)
	}

	mainFile, err := b.materialize(ctx, rec.containerID, entry, req)
	if err != nil {
		return sandbox.Response{}, sberrors.SetupFailed("file materialization failed", err)
	}
	b.updateMainFile(req.ID, mainFile)

	if req.InstallDeps || req.DevServer {
		if err := b.runInstall(ctx, rec.containerID, entry); err != nil {
			return sandbox.Response{}, sberrors.SetupFailed("dependency install failed", err)
		}
	}

	if req.Mode == sandbox.Persistent && req.DevServer {
		return b.executeDevServer(ctx, rec, entry, req)
	}
	return b.executeOneShot(ctx, rec, entry, req, mainFile)
}

// materialize writes the submission's auxiliary files, the main source
// file (unless the caller already supplied an index.*/main.* file), and a
// synthesized package.json when the submission needs one but didn't
// provide one (§4.4 steps 4-6). It returns the main file's resolved path.
func (b *Backend) materialize(ctx context.Context, containerID string, entry catalog.Entry, req sandbox.Request) (string, error) {
	if err := b.writeFiles(ctx, containerID, workDir, req.Files); err != nil {
		return "", fmt.Errorf("write submitted files: %w", err)
	}

	paths := make([]string, 0, len(req.Files))
	mainFile := ""
	for _, f := range req.Files {
		paths = append(paths, f.Path)
		if catalog.IsMainFile(f.Path) {
			mainFile = f.Path
		}
	}

	if mainFile == "" {
		mainFile = entry.MainFile
		written := sandbox.File{Path: mainFile, Content: req.Code}
		if err := b.writeFiles(ctx, containerID, workDir, []sandbox.File{written}); err != nil {
			return "", fmt.Errorf("write main file: %w", err)
		}
		paths = append(paths, mainFile)
	}

	if (req.InstallDeps || req.DevServer) && !catalog.HasPackageJSON(paths) {
		pkgJSON := catalog.SynthesizePackageJSON(entry, mainFile, req.DevServer)
		pkgFile := sandbox.File{Path: "package.json", Content: pkgJSON}
		if err := b.writeFiles(ctx, containerID, workDir, []sandbox.File{pkgFile}); err != nil {
			return "", fmt.Errorf("write synthesized package.json: %w", err)
		}
	}

	return mainFile, nil
}

func (b *Backend) updateMainFile(id, mainFile string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.records[id]; ok {
		rec.mainFile = mainFile
	}
}

func (b *Backend) runInstall(ctx context.Context, containerID string, entry catalog.Entry) error {
	installCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	_, stderr, exitCode, err := b.execInContainer(installCtx, containerID, entry.InstallCommand, workDir, nil)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("install command exited %d: %s", exitCode, stderr)
	}
	return nil
}

func (b *Backend) executeOneShot(ctx context.Context, rec *record, entry catalog.Entry, req sandbox.Request, mainFile string) (sandbox.Response, error) {
	cmd := catalog.RenderCommand(entry.ExecuteCommand, mainFile)
	if req.EntryPoint != "" {
		cmd = strings.Fields(req.EntryPoint)
	}

	execCtx, cancel := context.WithTimeout(ctx, req.Timeout())
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := b.execInContainer(execCtx, rec.containerID, cmd, workDir, nil)
	elapsedMs := time.Since(start).Milliseconds()

	if err != nil && execCtx.Err() != nil {
		return sandbox.Response{
			Success:         false,
			Stdout:          stdout,
			Stderr:          "Execution timed out",
			ExitCode:        intPtr(124),
			ExecutionTimeMs: elapsedMs,
		}, nil
	}
	if err != nil {
		return sandbox.Response{}, err
	}

	logNoisyStderr(req.ID, stderr)

	success := exitCode == 0 && strings.TrimSpace(stderr) == ""
	return sandbox.Response{
		Success:         success,
		Stdout:          stdout,
		Stderr:          stderr,
		ExitCode:        intPtr(exitCode),
		ExecutionTimeMs: elapsedMs,
	}, nil
}

func (b *Backend) executeDevServer(ctx context.Context, rec *record, entry catalog.Entry, req sandbox.Request) (sandbox.Response, error) {
	cmd := entry.DevCommand
	if len(req.EntryPoint) > 0 {
		cmd = strings.Fields(req.EntryPoint)
	}

	if err := b.startDetached(ctx, rec.containerID, cmd, devServerLogPath); err != nil {
		return sandbox.Response{}, fmt.Errorf("dev server start: %w", err)
	}

	select {
	case <-ctx.Done():
		return sandbox.Response{}, ctx.Err()
	case <-time.After(settleBeforeProbe):
	}

	if err := health.Probe(ctx, req.ID, execAdapter{backend: b}); err != nil {
		return sandbox.Response{}, err
	}

	running := true
	return sandbox.Response{
		Success:      true,
		IsRunning:    &running,
		DevServerURL: fmt.Sprintf("http://127.0.0.1:%d", rec.devPort),
	}, nil
}

func logNoisyStderr(sandboxID, stderr string) {
	if strings.TrimSpace(stderr) == "" {
		return
	}
	obs.S().Warnw("sandbox execution wrote to stderr", "sandbox_id", sandboxID, "stderr", stderr)
}

func intPtr(v int) *int { return &v }
