// Package jail implements the Jail Backend (C4, §4.5): an alternate
// sandbox.Backend for one-shot execution only, built around an external
// chroot-and-namespaces jail binary invoked via os/exec rather than a
// container engine. Grounded on the gVisor sandbox launcher's os/exec +
// unix.SysProcAttr process-isolation pattern.
package jail

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"sandboxfaas/internal/catalog"
	"sandboxfaas/internal/obs"
	"sandboxfaas/internal/sandbox"
	"sandboxfaas/internal/sberrors"
)

const (
	jailTmpfsSize  = "50m"
	cpuRlimitSecs  = 30
	fsizeRlimit    = 10 * 1024 * 1024
	nofileRlimit   = 64
	jailWallClock  = time.Second // added on top of request.Timeout()
	jailRootSuffix = "sandbox-jail-"
)

type record struct {
	tempDir string
	request sandbox.Request
}

// Backend shells out to an external jail binary (e.g. a firejail/nsjail
// style wrapper) for each execution. It only ever materializes one-shot
// sandboxes: persistent/dev-server semantics (port binding, long-lived
// processes) have no jail-backend definition per §4.5.
type Backend struct {
	jailBinary string

	mu      sync.RWMutex
	records map[string]*record
}

// NewBackend targets jailBinary, resolved via PATH if not absolute.
func NewBackend(jailBinary string) *Backend {
	if jailBinary == "" {
		jailBinary = "jail"
	}
	return &Backend{
		jailBinary: jailBinary,
		records:    make(map[string]*record),
	}
}

func (b *Backend) Type() sandbox.BackendType { return sandbox.BackendJail }

// IsAvailable reports whether the jail binary can be resolved on PATH.
func (b *Backend) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(b.jailBinary)
	return err == nil
}

// Create materializes a host temp directory that will be bind-mounted
// into the jail at /sandbox. Rejects anything but one-shot mode.
func (b *Backend) Create(ctx context.Context, req sandbox.Request) error {
	if req.Mode != sandbox.OneShot {
		return sberrors.CreationFailed("jail backend supports one-shot mode only", nil)
	}

	tempDir, err := os.MkdirTemp("", jailRootSuffix+req.ID)
	if err != nil {
		return sberrors.CreationFailed("temp dir create failed", err)
	}

	b.mu.Lock()
	b.records[req.ID] = &record{tempDir: tempDir, request: req}
	b.mu.Unlock()
	return nil
}

// Execute materializes submitted files into the temp dir, then invokes
// the jail binary with the exact rlimit/chroot/namespace parameters of
// §4.5, under a wall-clock deadline of request timeout + 1s.
func (b *Backend) Execute(ctx context.Context, req sandbox.Request) (sandbox.Response, error) {
	rec, ok := b.record(req.ID)
	if !ok {
		return sandbox.Response{}, sberrors.NotFound("sandbox " + req.ID + " not tracked by jail backend")
	}

	entry, err := catalog.Lookup(req.Runtime)
	if err != nil {
		return sandbox.Response{}, sberrors.InvalidRuntime(req.Runtime)
	}

	mainFile, err := writeHostFiles(rec.tempDir, entry, req)
	if err != nil {
		return sandbox.Response{}, sberrors.SetupFailed("file materialization failed", err)
	}

	cmd := catalog.RenderCommand(entry.ExecuteCommand, mainFile)
	if req.EntryPoint != "" {
		cmd = strings.Fields(req.EntryPoint)
	}

	wallClock := req.Timeout() + jailWallClock
	execCtx, cancel := context.WithTimeout(ctx, wallClock)
	defer cancel()

	args := b.jailArgs(rec.tempDir, req, cmd)
	execCmd := exec.CommandContext(execCtx, b.jailBinary, args...)
	execCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	for k, v := range req.Env {
		execCmd.Env = append(execCmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	start := time.Now()
	runErr := execCmd.Run()
	elapsedMs := time.Since(start).Milliseconds()

	if execCtx.Err() != nil {
		return sandbox.Response{
			Success:         false,
			Stdout:          stdout.String(),
			Stderr:          "Execution timed out",
			ExitCode:        intPtr(124),
			ExecutionTimeMs: elapsedMs,
		}, nil
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return sandbox.Response{}, fmt.Errorf("jail binary invocation failed: %w", runErr)
		}
	}

	stderrText := stderr.String()
	if strings.TrimSpace(stderrText) != "" {
		obs.S().Warnw("jail execution wrote to stderr", "sandbox_id", req.ID, "stderr", stderrText)
	}

	return sandbox.Response{
		Success:         exitCode == 0 && strings.TrimSpace(stderrText) == "",
		Stdout:          stdout.String(),
		Stderr:          stderrText,
		ExitCode:        intPtr(exitCode),
		ExecutionTimeMs: elapsedMs,
	}, nil
}

// jailArgs renders the exact jail-binary flags the §4.5 isolation profile
// requires. The jail binary's flag surface is an external contract (not
// exercised here beyond arg construction); the values are fixed per spec.
func (b *Backend) jailArgs(tempDir string, req sandbox.Request, command []string) []string {
	args := []string{
		"--mode=once",
		"--chroot=" + tempDir,
		"--user=nobody",
		"--tmpfs-root=" + jailTmpfsSize,
		"--bind=" + tempDir + ":/sandbox",
		"--rlimit-as=" + strconv.FormatInt(req.MemoryLimitBytes(), 10),
		"--rlimit-cpu=" + strconv.Itoa(cpuRlimitSecs),
		"--rlimit-fsize=" + strconv.Itoa(fsizeRlimit),
		"--rlimit-nofile=" + strconv.Itoa(nofileRlimit),
		"--drop-caps=all",
		"--timeout=" + (req.Timeout() + jailWallClock).String(),
		"--",
	}
	return append(args, command...)
}

// UpdateFiles is unsupported: jail sandboxes are one-shot and do not
// persist a running process to patch. Per §4.5 this backend has no
// long-lived-process semantics.
func (b *Backend) UpdateFiles(ctx context.Context, id string, files []sandbox.File) error {
	return sberrors.SetupFailed("jail backend does not support update_files on one-shot sandboxes", nil)
}

// RestartProcess is unsupported for the same reason as UpdateFiles.
func (b *Backend) RestartProcess(ctx context.Context, id string, command []string) error {
	return sberrors.SetupFailed("jail backend does not support restart_process on one-shot sandboxes", nil)
}

// Cleanup removes the host temp directory. Idempotent: an unknown id
// logs and returns (§4.2).
func (b *Backend) Cleanup(ctx context.Context, id string) error {
	b.mu.Lock()
	rec, ok := b.records[id]
	if ok {
		delete(b.records, id)
	}
	b.mu.Unlock()

	if !ok {
		obs.S().Infow("cleanup called for untracked sandbox", "sandbox_id", id)
		return nil
	}
	if err := os.RemoveAll(rec.tempDir); err != nil {
		obs.S().Warnw("temp dir removal failed during cleanup", "sandbox_id", id, "path", rec.tempDir, "error", err)
	}
	return nil
}

func (b *Backend) record(id string) (*record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[id]
	return rec, ok
}

// writeHostFiles mirrors the Docker backend's materialize step but writes
// directly to the host filesystem: the jail binary binds tempDir at
// /sandbox itself, so there is no container copy endpoint involved and no
// heredoc-quoting hazard to work around.
func writeHostFiles(tempDir string, entry catalog.Entry, req sandbox.Request) (string, error) {
	mainFile := ""
	for _, f := range req.Files {
		if err := writeHostFile(tempDir, f); err != nil {
			return "", err
		}
		if catalog.IsMainFile(f.Path) {
			mainFile = f.Path
		}
	}

	if mainFile == "" {
		mainFile = entry.MainFile
		if err := writeHostFile(tempDir, sandbox.File{Path: mainFile, Content: req.Code}); err != nil {
			return "", err
		}
	}

	return mainFile, nil
}

func writeHostFile(tempDir string, f sandbox.File) error {
	clean := filepath.Clean(f.Path)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return fmt.Errorf("invalid file path %q", f.Path)
	}
	target := filepath.Join(tempDir, clean)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if f.Executable {
		mode = 0o755
	}
	return os.WriteFile(target, []byte(f.Content), mode)
}

func intPtr(v int) *int { return &v }
