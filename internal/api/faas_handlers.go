package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sandboxfaas/internal/faas"
	"sandboxfaas/internal/sandbox"
	"sandboxfaas/internal/sberrors"
)

// deploymentRequest is the JSON encoding of a DeploymentRequest (§6
// `POST /faas/deploy`).
type deploymentRequest struct {
	Runtime       string            `json:"runtime" binding:"required"`
	Code          string            `json:"code"`
	Files         []sandbox.File    `json:"files,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	EntryPoint    string            `json:"entry_point,omitempty"`
	MemoryLimitMB int64             `json:"memory_limit_mb,omitempty"`
	AutoScale     faas.AutoScale    `json:"auto_scale,omitempty"`
}

// DeployFaaS handles `POST /faas/deploy`.
func (s *Server) DeployFaaS(c *gin.Context) {
	var req deploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := s.deploys.Deploy(c.Request.Context(), faas.DeployRequest{
		Runtime:       req.Runtime,
		Code:          req.Code,
		Files:         req.Files,
		Env:           req.Env,
		EntryPoint:    req.EntryPoint,
		MemoryLimitMB: req.MemoryLimitMB,
		AutoScale:     req.AutoScale,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// ListDeployments handles `GET /faas/deployments`.
func (s *Server) ListDeployments(c *gin.Context) {
	c.JSON(http.StatusOK, s.deploys.List())
}

// GetDeployment handles `GET /faas/deployments/{id}`.
func (s *Server) GetDeployment(c *gin.Context) {
	d, ok := s.deploys.Get(c.Param("id"))
	if !ok {
		writeError(c, sberrors.NotFound("deployment "+c.Param("id")+" not found"))
		return
	}
	c.JSON(http.StatusOK, d)
}

// UndeployFaaS handles `DELETE /faas/deployments/{id}`.
func (s *Server) UndeployFaaS(c *gin.Context) {
	id := c.Param("id")
	if err := s.deploys.Undeploy(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"undeployed": id})
}

// fileUpdateRequest is the JSON encoding of FileUpdateRequest (§6
// `PUT /faas/deployments/{id}/files`).
type fileUpdateRequest struct {
	Files            []sandbox.File `json:"files"`
	RestartDevServer *bool          `json:"restart_dev_server,omitempty"`
}

// UpdateDeploymentFiles handles `PUT /faas/deployments/{id}/files`.
func (s *Server) UpdateDeploymentFiles(c *gin.Context) {
	var req fileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deploys.UpdateFiles(c.Request.Context(), c.Param("id"), req.Files, req.RestartDevServer); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": len(req.Files)})
}
