package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"

	"sandboxfaas/internal/obs"
	"sandboxfaas/internal/sandbox"
	"sandboxfaas/internal/sberrors"
)

// buildTarArchive packs files into a tar stream rooted at "." so it can be
// extracted directly under destDir by CopyToContainer. Per §9, this
// replaces the reference implementation's `cat > path << 'EOF'` heredoc
// writes: tar preserves file content byte-for-byte, including embedded
// "EOF" lines or arbitrary binary-looking text that would corrupt a
// heredoc.
func buildTarArchive(files []sandbox.File) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	writtenDirs := make(map[string]bool)
	now := time.Now()

	for _, f := range files {
		if rel := path.Clean(f.Path); rel == ".." || strings.HasPrefix(rel, "../") {
			return nil, fmt.Errorf("invalid file path %q", f.Path)
		}
		clean := path.Clean("/" + f.Path)[1:]
		if clean == "" || clean == "." || strings.HasPrefix(clean, "..") {
			return nil, fmt.Errorf("invalid file path %q", f.Path)
		}

		dir := path.Dir(clean)
		var dirs []string
		for dir != "." && dir != "/" && dir != "" {
			dirs = append([]string{dir}, dirs...)
			dir = path.Dir(dir)
		}
		for _, d := range dirs {
			if writtenDirs[d] {
				continue
			}
			writtenDirs[d] = true
			if err := tw.WriteHeader(&tar.Header{
				Name:     d + "/",
				Typeflag: tar.TypeDir,
				Mode:     0o755,
				ModTime:  now,
			}); err != nil {
				return nil, err
			}
		}

		mode := int64(0o644)
		if f.Executable {
			mode = 0o755
		}
		if err := tw.WriteHeader(&tar.Header{
			Name:     clean,
			Typeflag: tar.TypeReg,
			Mode:     mode,
			Size:     int64(len(f.Content)),
			ModTime:  now,
		}); err != nil {
			return nil, err
		}
		if _, err := tw.Write([]byte(f.Content)); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeFiles uploads files into containerID under destDir using the
// engine's tar-archive copy endpoint.
func (b *Backend) writeFiles(ctx context.Context, containerID, destDir string, files []sandbox.File) error {
	if len(files) == 0 {
		return nil
	}
	archive, err := buildTarArchive(files)
	if err != nil {
		return err
	}
	return b.cli.CopyToContainer(ctx, containerID, destDir, archive, container.CopyToContainerOptions{})
}

// UpdateFiles patches files into a running sandbox. Per §4.4, each file is
// fail-open: a failure is logged and the remaining files still get
// written, so one file is uploaded at a time rather than batched into a
// single archive.
func (b *Backend) UpdateFiles(ctx context.Context, id string, files []sandbox.File) error {
	rec, ok := b.record(id)
	if !ok {
		return sberrors.NotFound("sandbox " + id + " not tracked by docker backend")
	}

	for _, f := range files {
		if err := b.writeFiles(ctx, rec.containerID, workDir, []sandbox.File{f}); err != nil {
			obs.S().Warnw("update_files write failed, continuing", "sandbox_id", id, "path", f.Path, "error", err)
		}
	}
	return nil
}

// RestartProcess kills the existing dev-server process family by its
// command-root signature, waits a short settle interval, then starts the
// replacement command detached with output redirected to the known log
// path (§4.4).
func (b *Backend) RestartProcess(ctx context.Context, id string, command []string) error {
	rec, ok := b.record(id)
	if !ok {
		return sberrors.NotFound("sandbox " + id + " not tracked by docker backend")
	}

	signature := killSignatureForCommand(command)
	killCmd := []string{"sh", "-c", "pkill -f " + signature + " 2>/dev/null; true"}
	if _, _, _, err := b.execInContainer(ctx, rec.containerID, killCmd, workDir, nil); err != nil {
		obs.S().Warnw("restart_process kill step failed", "sandbox_id", id, "error", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(restartSettleDelay):
	}

	if err := b.startDetached(ctx, rec.containerID, command, devServerLogPath); err != nil {
		return sberrors.SetupFailed("restart_process failed to start replacement command", err)
	}
	return nil
}
