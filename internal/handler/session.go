package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"relay/internal/metrics"
	"relay/internal/middleware"
	"relay/internal/model"
	"relay/internal/router"
	"relay/internal/store"
	"relay/internal/wsproto"
)

// SessionHandler serves /v1/sessions. Creation and deletion both mutate
// the store and then emit a user-scoped update through the same router
// the WebSocket layer uses, so a dashboard sees the change whether it was
// made over HTTP or over the socket.
type SessionHandler struct {
	Store  *store.Store
	Router *router.Router
}

type createSessionBody struct {
	Tag               string  `json:"tag"`
	Metadata          string  `json:"metadata"`
	AgentState        *string `json:"agentState"`
	DataEncryptionKey *string `json:"dataEncryptionKey"`
}

func renderSession(sess model.Session) gin.H {
	return gin.H{
		"id":                sess.ID,
		"accountId":         sess.AccountID,
		"tag":               sess.Tag,
		"seq":               sess.Seq,
		"createdAt":         sess.CreatedAt,
		"updatedAt":         sess.UpdatedAt,
		"metadata":          sess.Metadata,
		"metadataVersion":   sess.MetadataVersion,
		"agentState":        sess.AgentState,
		"agentStateVersion": sess.AgentStateVersion,
		"dataEncryptionKey": sess.DataEncryptionKey,
		"active":            sess.Active,
		"activeAt":          sess.LastActiveAt,
	}
}

func (h *SessionHandler) emitUserScoped(accountID, eventType string, body gin.H) {
	if h.Router == nil {
		return
	}
	body["t"] = eventType
	seq := h.Store.Sequencer().AllocateAccountSeq(accountID)
	frame, err := wsproto.BuildUpdateFrame(seq, time.Now().UnixMilli(), body)
	if err != nil {
		return
	}
	h.Router.Emit(accountID, router.Filter{UserScopedOnly: true}, frame)
	metrics.RecordEmit("user")
}

func (h *SessionHandler) GetOrCreate(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body createSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	now := time.Now().UnixMilli()
	sess, created, err := h.Store.GetOrCreateSession(accountID, body.Tag, body.Metadata, body.AgentState, body.DataEncryptionKey, now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if created {
		h.emitUserScoped(accountID, "new-session", renderSession(sess))
	}

	c.JSON(http.StatusOK, gin.H{"session": renderSession(sess)})
}

func (h *SessionHandler) List(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	sessions := h.Store.ListSessions(accountID)
	resp := make([]gin.H, 0, len(sessions))
	for _, sess := range sessions {
		resp = append(resp, renderSession(sess))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": resp})
}

func (h *SessionHandler) Delete(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session id"})
		return
	}

	if !h.Store.DeleteSession(accountID, sessionID, time.Now().UnixMilli()) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	h.emitUserScoped(accountID, "delete-session", gin.H{"id": sessionID})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *SessionHandler) Messages(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session id"})
		return
	}

	msgs, err := h.Store.ListMessages(accountID, sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	resp := make([]gin.H, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, gin.H{
			"id":        m.ID,
			"seq":       m.Seq,
			"localId":   m.LocalID,
			"createdAt": m.CreatedAt,
			"updatedAt": m.UpdatedAt,
			"content": gin.H{
				"t": "encrypted",
				"c": m.Content,
			},
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": resp})
}
