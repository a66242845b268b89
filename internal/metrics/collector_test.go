package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxfaas/internal/faas"
	"sandboxfaas/internal/sandbox"
	"sandboxfaas/internal/stats"
)

type fakeUsageBackend struct {
	fail bool
}

func (f *fakeUsageBackend) Create(ctx context.Context, req sandbox.Request) error { return nil }
func (f *fakeUsageBackend) Execute(ctx context.Context, req sandbox.Request) (sandbox.Response, error) {
	return sandbox.Response{Success: true}, nil
}
func (f *fakeUsageBackend) Cleanup(ctx context.Context, id string) error { return nil }
func (f *fakeUsageBackend) IsAvailable(ctx context.Context) bool        { return true }
func (f *fakeUsageBackend) UpdateFiles(ctx context.Context, id string, files []sandbox.File) error {
	return nil
}
func (f *fakeUsageBackend) RestartProcess(ctx context.Context, id string, command []string) error {
	return nil
}
func (f *fakeUsageBackend) Type() sandbox.BackendType { return sandbox.BackendDocker }
func (f *fakeUsageBackend) Usage(ctx context.Context, id string) (stats.Usage, error) {
	if f.fail {
		return stats.Usage{}, assert.AnError
	}
	return stats.Usage{CPUPercent: 1}, nil
}

func TestCollectorPollOnceRecordsUsageForLiveSandboxes(t *testing.T) {
	fb := &fakeUsageBackend{}
	sm := sandbox.NewManager(fb)
	fm := faas.NewManager(sm, "http://localhost")

	_, err := sm.Create(context.Background(), sandbox.Request{
		ID: "sbx-1", Runtime: "node", Code: "x", TimeoutMs: 1000, MemoryLimitMB: 128, Mode: sandbox.OneShot,
	})
	require.NoError(t, err)

	c := NewCollector(sm, fm)
	c.pollOnce(context.Background())

	assert.Len(t, c.seen, 1)
	assert.Equal(t, "node", c.seen["sbx-1"])
}

func TestCollectorPollOnceForgetsRemovedSandboxes(t *testing.T) {
	fb := &fakeUsageBackend{}
	sm := sandbox.NewManager(fb)
	fm := faas.NewManager(sm, "http://localhost")

	_, err := sm.Create(context.Background(), sandbox.Request{
		ID: "sbx-1", Runtime: "node", Code: "x", TimeoutMs: 1000, MemoryLimitMB: 128, Mode: sandbox.OneShot,
	})
	require.NoError(t, err)

	c := NewCollector(sm, fm)
	c.pollOnce(context.Background())
	require.Len(t, c.seen, 1)

	require.NoError(t, sm.Delete(context.Background(), "sbx-1"))
	c.pollOnce(context.Background())
	assert.Len(t, c.seen, 0)
}
