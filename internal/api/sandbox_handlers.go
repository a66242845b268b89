package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sandboxfaas/internal/sandbox"
	"sandboxfaas/internal/sberrors"
)

// createSandboxRequest is the JSON encoding of §3 SandboxRequest, minus
// the server-assigned id.
type createSandboxRequest struct {
	Runtime       string            `json:"runtime" binding:"required"`
	Code          string            `json:"code"`
	EntryPoint    string            `json:"entry_point,omitempty"`
	Files         []sandbox.File    `json:"files,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	TimeoutMs     int64             `json:"timeout_ms"`
	MemoryLimitMB int64             `json:"memory_limit_mb"`
	Mode          sandbox.Mode      `json:"mode"`
	InstallDeps   bool              `json:"install_deps,omitempty"`
	DevServer     bool              `json:"dev_server,omitempty"`
}

func (req createSandboxRequest) toSandboxRequest() sandbox.Request {
	return sandbox.Request{
		Runtime:       req.Runtime,
		Code:          req.Code,
		EntryPoint:    req.EntryPoint,
		Files:         req.Files,
		Env:           req.Env,
		TimeoutMs:     req.TimeoutMs,
		MemoryLimitMB: req.MemoryLimitMB,
		Mode:          req.Mode,
		InstallDeps:   req.InstallDeps,
		DevServer:     req.DevServer,
	}
}

// CreateSandbox handles `POST create_sandbox` (§6): materializes a
// sandbox without executing it.
func (s *Server) CreateSandbox(c *gin.Context) {
	var req createSandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sb, err := s.sandboxes.Create(c.Request.Context(), req.toSandboxRequest())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sb)
}

// ExecuteOneShot handles `POST execute_one_shot` (§6): materialize, run,
// and tear down in one call without retaining the sandbox.
func (s *Server) ExecuteOneShot(c *gin.Context) {
	var req createSandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sreq := req.toSandboxRequest()
	sreq.Mode = sandbox.OneShot
	sreq.DevServer = false

	sb, err := s.sandboxes.Create(c.Request.Context(), sreq)
	if err != nil {
		writeError(c, err)
		return
	}

	resp, err := s.sandboxes.Execute(c.Request.Context(), sb.ID)
	_ = s.sandboxes.Delete(c.Request.Context(), sb.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ExecuteSandbox handles `POST /sandbox/{id}/execute` (§6): runs an
// already-created sandbox.
func (s *Server) ExecuteSandbox(c *gin.Context) {
	resp, err := s.sandboxes.Execute(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetSandbox handles `GET /sandbox/{id}`.
func (s *Server) GetSandbox(c *gin.Context) {
	sb, ok := s.sandboxes.Get(c.Param("id"))
	if !ok {
		writeError(c, sberrors.NotFound("sandbox "+c.Param("id")+" not found"))
		return
	}
	c.JSON(http.StatusOK, sb)
}

// ListSandboxes handles `GET /sandbox`.
func (s *Server) ListSandboxes(c *gin.Context) {
	c.JSON(http.StatusOK, s.sandboxes.List())
}

// DeleteSandbox handles `DELETE /sandbox/{id}`.
func (s *Server) DeleteSandbox(c *gin.Context) {
	id := c.Param("id")
	if err := s.sandboxes.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	s.ports.Deallocate(id)
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

type updateFilesRequest struct {
	Files []sandbox.File `json:"files"`
}

// UpdateSandboxFiles handles `POST /sandbox/{id}/files`.
func (s *Server) UpdateSandboxFiles(c *gin.Context) {
	var req updateFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.sandboxes.UpdateFiles(c.Request.Context(), c.Param("id"), req.Files); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": len(req.Files)})
}
