package faas

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxfaas/internal/sandbox"
)

// fakeBackend is a hand-written sandbox.Backend fake scoped to this
// package's tests, mirroring the sandbox package's own fakeBackend.
type fakeBackend struct {
	mu        sync.Mutex
	restarted map[string][]string
	updated   map[string][]sandbox.File
	cleaned   map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		restarted: make(map[string][]string),
		updated:   make(map[string][]sandbox.File),
		cleaned:   make(map[string]bool),
	}
}

func (f *fakeBackend) Create(ctx context.Context, req sandbox.Request) error { return nil }

func (f *fakeBackend) Execute(ctx context.Context, req sandbox.Request) (sandbox.Response, error) {
	running := true
	return sandbox.Response{Success: true, IsRunning: &running, DevServerURL: "http://127.0.0.1:8080"}, nil
}

func (f *fakeBackend) Cleanup(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned[id] = true
	return nil
}

func (f *fakeBackend) IsAvailable(ctx context.Context) bool { return true }

func (f *fakeBackend) UpdateFiles(ctx context.Context, id string, files []sandbox.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[id] = files
	return nil
}

func (f *fakeBackend) RestartProcess(ctx context.Context, id string, command []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarted[id] = command
	return nil
}

func (f *fakeBackend) Type() sandbox.BackendType { return sandbox.BackendDocker }

func newTestManager() (*Manager, *fakeBackend) {
	fb := newFakeBackend()
	sm := sandbox.NewManager(fb)
	return NewManager(sm, "http://localhost:8080"), fb
}

func TestDeployCreatesRunningDeploymentWithURL(t *testing.T) {
	m, _ := newTestManager()
	d, err := m.Deploy(context.Background(), DeployRequest{Runtime: "node", Code: "console.log(1)"})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, d.Status)
	assert.Contains(t, d.URL, "/faas/"+d.ID)
	assert.NotEmpty(t, d.SandboxID)
}

func TestDeployRejectsUnknownRuntime(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.Deploy(context.Background(), DeployRequest{Runtime: "cobol", Code: "x"})
	assert.Error(t, err)
}

func TestUndeployRemovesDeploymentAndCleansSandbox(t *testing.T) {
	m, fb := newTestManager()
	d, err := m.Deploy(context.Background(), DeployRequest{Runtime: "node", Code: "x"})
	require.NoError(t, err)

	require.NoError(t, m.Undeploy(context.Background(), d.ID))
	_, ok := m.Get(d.ID)
	assert.False(t, ok)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.True(t, fb.cleaned[d.SandboxID])
}

func TestUndeployUnknownIDReturnsNotFound(t *testing.T) {
	m, _ := newTestManager()
	err := m.Undeploy(context.Background(), "never-existed")
	assert.Error(t, err)
}

func TestUpdateFilesPatchesAndRestartsByDefault(t *testing.T) {
	m, fb := newTestManager()
	d, err := m.Deploy(context.Background(), DeployRequest{Runtime: "node", Code: "x"})
	require.NoError(t, err)

	files := []sandbox.File{{Path: "index.js", Content: "console.log(2)"}}
	require.NoError(t, m.UpdateFiles(context.Background(), d.ID, files, nil))

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, files, fb.updated[d.SandboxID])
	assert.NotEmpty(t, fb.restarted[d.SandboxID])
}

func TestUpdateFilesSkipsRestartWhenExplicitlyFalse(t *testing.T) {
	m, fb := newTestManager()
	d, err := m.Deploy(context.Background(), DeployRequest{Runtime: "node", Code: "x"})
	require.NoError(t, err)

	noRestart := false
	require.NoError(t, m.UpdateFiles(context.Background(), d.ID, nil, &noRestart))

	fb.mu.Lock()
	defer fb.mu.Unlock()
	_, restarted := fb.restarted[d.SandboxID]
	assert.False(t, restarted)
}

func TestGetTouchesLastAccessed(t *testing.T) {
	m, _ := newTestManager()
	d, err := m.Deploy(context.Background(), DeployRequest{Runtime: "node", Code: "x"})
	require.NoError(t, err)

	before := d.LastAccessed
	time.Sleep(2 * time.Millisecond)
	got, ok := m.Get(d.ID)
	require.True(t, ok)
	assert.True(t, got.LastAccessed.After(before))
}

func TestSweepIdleEvictsDeploymentsPastThreshold(t *testing.T) {
	m, fb := newTestManager()
	d, err := m.Deploy(context.Background(), DeployRequest{
		Runtime:   "node",
		Code:      "x",
		AutoScale: AutoScale{IdleMinutes: 1},
	})
	require.NoError(t, err)

	rec, ok := m.get(d.ID)
	require.True(t, ok)
	rec.lastAccessed.Store(time.Now().Add(-2 * time.Minute).UnixNano())

	m.sweepIdle(context.Background())

	_, ok = m.Get(d.ID)
	assert.False(t, ok)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.True(t, fb.cleaned[d.SandboxID])
}

func TestSweepIdleLeavesRecentlyAccessedDeployments(t *testing.T) {
	m, _ := newTestManager()
	d, err := m.Deploy(context.Background(), DeployRequest{Runtime: "node", Code: "x"})
	require.NoError(t, err)

	m.sweepIdle(context.Background())

	_, ok := m.Get(d.ID)
	assert.True(t, ok)
}

func TestListReturnsAllLiveDeployments(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.Deploy(context.Background(), DeployRequest{Runtime: "node", Code: "x"})
	require.NoError(t, err)
	_, err = m.Deploy(context.Background(), DeployRequest{Runtime: "bun", Code: "x"})
	require.NoError(t, err)

	assert.Len(t, m.List(), 2)
}
