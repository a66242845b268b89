package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxfaas/internal/faas"
	"sandboxfaas/internal/ports"
	"sandboxfaas/internal/proxy"
	"sandboxfaas/internal/sandbox"
)

type fakeBackend struct {
	resp sandbox.Response
}

func (f *fakeBackend) Create(ctx context.Context, req sandbox.Request) error { return nil }
func (f *fakeBackend) Execute(ctx context.Context, req sandbox.Request) (sandbox.Response, error) {
	return f.resp, nil
}
func (f *fakeBackend) Cleanup(ctx context.Context, id string) error { return nil }
func (f *fakeBackend) IsAvailable(ctx context.Context) bool        { return true }
func (f *fakeBackend) UpdateFiles(ctx context.Context, id string, files []sandbox.File) error {
	return nil
}
func (f *fakeBackend) RestartProcess(ctx context.Context, id string, command []string) error {
	return nil
}
func (f *fakeBackend) Type() sandbox.BackendType { return sandbox.BackendDocker }

func newTestServer() *Server {
	gin.SetMode(gin.TestMode)
	sb := sandbox.NewManager(&fakeBackend{resp: sandbox.Response{Success: true}})
	pa := ports.NewAllocator(9500)
	fm := faas.NewManager(sb, "http://localhost")
	px := proxy.New(sb, pa, fm)
	return NewServer(sb, fm, pa, px)
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateSandboxReturns201(t *testing.T) {
	s := newTestServer()
	r := s.NewRouter()

	rec := doJSON(r, http.MethodPost, "/create_sandbox", createSandboxRequest{
		Runtime: "node", Code: "console.log(1)", TimeoutMs: 5000, MemoryLimitMB: 128,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateSandboxUnknownRuntimeReturns400(t *testing.T) {
	s := newTestServer()
	r := s.NewRouter()

	rec := doJSON(r, http.MethodPost, "/create_sandbox", createSandboxRequest{
		Runtime: "cobol", Code: "x", TimeoutMs: 5000, MemoryLimitMB: 128,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteOneShotRunsAndCleansUp(t *testing.T) {
	s := newTestServer()
	r := s.NewRouter()

	rec := doJSON(r, http.MethodPost, "/execute_one_shot", createSandboxRequest{
		Runtime: "node", Code: "console.log(1)", TimeoutMs: 5000, MemoryLimitMB: 128,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sandbox.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestGetSandboxUnknownReturns404(t *testing.T) {
	s := newTestServer()
	r := s.NewRouter()

	rec := doJSON(r, http.MethodGet, "/sandbox/never-existed", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeployAndListDeployments(t *testing.T) {
	s := newTestServer()
	r := s.NewRouter()

	rec := doJSON(r, http.MethodPost, "/faas/deploy", deploymentRequest{
		Runtime: "bun", Code: "x",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var d faas.Deployment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, faas.StatusRunning, d.Status)

	rec = doJSON(r, http.MethodGet, "/faas/deployments", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(r, http.MethodDelete, "/faas/deployments/"+d.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUndeployUnknownReturns404(t *testing.T) {
	s := newTestServer()
	r := s.NewRouter()

	rec := doJSON(r, http.MethodDelete, "/faas/deployments/never-existed", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
