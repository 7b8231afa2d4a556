package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// The handlers in this file have no core invariants: no persistence, no
// ciphertext semantics, no event router involvement. They exist so a real
// client's full HTTP surface resolves rather than 404ing on the social and
// housekeeping endpoints it happens to call alongside the core ones.

type FeedHandler struct{}

func (h *FeedHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": []any{}, "hasMore": false})
}

type FriendsHandler struct{}

func (h *FriendsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"friends": []any{}})
}

func (h *FriendsHandler) Add(c *gin.Context) {
	var body struct {
		UID string `json:"uid"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.UID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": dummyUserProfile(body.UID, "requested")})
}

func (h *FriendsHandler) Remove(c *gin.Context) {
	var body struct {
		UID string `json:"uid"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.UID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": dummyUserProfile(body.UID, "none")})
}

func dummyUserProfile(id, status string) gin.H {
	return gin.H{
		"id":        id,
		"firstName": "User",
		"lastName":  nil,
		"avatar":    nil,
		"username":  id,
		"bio":       nil,
		"status":    status,
	}
}

type PushTokensHandler struct{}

func (h *PushTokensHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tokens": []any{}})
}

func (h *PushTokensHandler) Register(c *gin.Context) {
	var body struct {
		Token string `json:"token"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type UserHandler struct{}

func (h *UserHandler) Search(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": []any{}})
}

func (h *UserHandler) Get(c *gin.Context) {
	_ = c.Param("id")
	c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
}

type VersionHandler struct{}

func (h *VersionHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"update_required": false})
}

type HealthHandler struct{}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
