package docker

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// execInContainer runs command inside containerID via ContainerExecCreate/
// Attach, demultiplexing stdout/stderr with stdcopy the way the teacher's
// container sandbox and sandbox-v2 executor both do. It blocks until the
// exec completes or ctx is cancelled.
func (b *Backend) execInContainer(ctx context.Context, containerID string, command []string, workdir string, env []string) (stdout, stderr string, exitCode int, err error) {
	execCfg := container.ExecOptions{
		Cmd:          command,
		Env:          env,
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := b.cli.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return "", "", 0, err
	}

	attached, err := b.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", "", 0, err
	}
	defer attached.Close()

	var outBuf, errBuf bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&outBuf, &errBuf, attached.Reader)
		copyDone <- copyErr
	}()

	select {
	case <-ctx.Done():
		return outBuf.String(), errBuf.String(), 124, ctx.Err()
	case copyErr := <-copyDone:
		if copyErr != nil && copyErr != io.EOF {
			return outBuf.String(), errBuf.String(), 0, copyErr
		}
	}

	inspect, err := b.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return outBuf.String(), errBuf.String(), 0, err
	}
	return outBuf.String(), errBuf.String(), inspect.ExitCode, nil
}

// startDetached launches command inside containerID in the background via
// nohup, redirecting combined output to logPath, and returns once the exec
// that spawned it has been accepted (not once the child process exits).
func (b *Backend) startDetached(ctx context.Context, containerID string, command []string, logPath string) error {
	script := "cd " + workDir + " && nohup " + shellJoin(command) + " > " + logPath + " 2>&1 &"
	execCfg := container.ExecOptions{
		Cmd:        []string{"sh", "-c", script},
		WorkingDir: workDir,
	}
	created, err := b.cli.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return err
	}
	return b.cli.ContainerExecStart(ctx, created.ID, container.ExecStartOptions{})
}

func shellJoin(parts []string) string {
	return strings.Join(parts, " ")
}

// execAdapter satisfies health.Execer by dispatching through the owning
// Backend's already-tracked container record for a sandbox id.
type execAdapter struct {
	backend *Backend
}

func (a execAdapter) Exec(ctx context.Context, sandboxID string, command []string) (string, int, error) {
	rec, ok := a.backend.record(sandboxID)
	if !ok {
		return "", 1, context.DeadlineExceeded
	}
	stdout, _, exitCode, err := a.backend.execInContainer(ctx, rec.containerID, command, workDir, nil)
	return stdout, exitCode, err
}
