package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"relay/internal/middleware"
	"relay/internal/model"
	"relay/internal/store"
)

// ArtifactHandler serves /v1/artifacts: a versioned, headed encrypted
// document with independently versioned header and body fields.
type ArtifactHandler struct {
	Store *store.Store
}

func renderArtifactSummary(a model.Artifact) gin.H {
	return gin.H{
		"id":                a.ID,
		"header":            a.Header,
		"headerVersion":     a.HeaderVersion,
		"dataEncryptionKey": a.DataEncryptionKey,
		"seq":               a.Seq,
		"createdAt":         a.CreatedAt,
		"updatedAt":         a.UpdatedAt,
	}
}

func renderArtifactFull(a model.Artifact) gin.H {
	resp := renderArtifactSummary(a)
	resp["body"] = a.Body
	resp["bodyVersion"] = a.BodyVersion
	return resp
}

func (h *ArtifactHandler) List(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	artifacts := h.Store.ListArtifacts(accountID)
	resp := make([]gin.H, 0, len(artifacts))
	for _, a := range artifacts {
		resp = append(resp, renderArtifactSummary(a))
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": resp})
}

func (h *ArtifactHandler) Get(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	artifactID := c.Param("id")
	a, ok := h.Store.GetArtifact(accountID, artifactID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Artifact not found"})
		return
	}
	c.JSON(http.StatusOK, renderArtifactFull(a))
}

type createArtifactBody struct {
	ID                string `json:"id"`
	Header            string `json:"header"`
	Body              string `json:"body"`
	DataEncryptionKey string `json:"dataEncryptionKey"`
}

func (h *ArtifactHandler) Create(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body createArtifactBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	now := time.Now().UnixMilli()
	a, created, err := h.Store.CreateArtifact(accountID, body.ID, body.Header, body.Body, body.DataEncryptionKey, now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !created {
		c.JSON(http.StatusConflict, gin.H{"error": "Artifact already exists"})
		return
	}
	c.JSON(http.StatusOK, renderArtifactFull(a))
}

type updateArtifactBody struct {
	Header                *string `json:"header"`
	ExpectedHeaderVersion *int    `json:"expectedHeaderVersion"`
	Body                  *string `json:"body"`
	ExpectedBodyVersion   *int    `json:"expectedBodyVersion"`
}

func (h *ArtifactHandler) Update(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	artifactID := c.Param("id")
	var body updateArtifactBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	now := time.Now().UnixMilli()
	res, err := h.Store.UpdateArtifact(accountID, artifactID, body.Header, body.ExpectedHeaderVersion, body.Body, body.ExpectedBodyVersion, now)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Artifact not found"})
		return
	}

	if res.Success {
		resp := gin.H{"success": true}
		if res.HeaderVersion != nil {
			resp["headerVersion"] = *res.HeaderVersion
		}
		if res.BodyVersion != nil {
			resp["bodyVersion"] = *res.BodyVersion
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	resp := gin.H{"success": false, "error": "version-mismatch"}
	if res.CurrentHeaderVersion != nil {
		resp["currentHeaderVersion"] = *res.CurrentHeaderVersion
	}
	if res.CurrentBodyVersion != nil {
		resp["currentBodyVersion"] = *res.CurrentBodyVersion
	}
	if res.CurrentHeader != nil {
		resp["currentHeader"] = *res.CurrentHeader
	}
	if res.CurrentBody != nil {
		resp["currentBody"] = *res.CurrentBody
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ArtifactHandler) Delete(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	artifactID := c.Param("id")
	if !h.Store.DeleteArtifact(accountID, artifactID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Artifact not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
