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

// MachineHandler serves /v1/machines. On creation it emits twice: once to
// user-scoped connections (the dashboard sees a new host appear) and once
// to machine-scoped connections for that machine (so the daemon that just
// registered receives its own initial state).
type MachineHandler struct {
	Store  *store.Store
	Router *router.Router
}

type upsertMachineBody struct {
	ID                string  `json:"id"`
	Metadata          string  `json:"metadata"`
	DaemonState       *string `json:"daemonState"`
	DataEncryptionKey *string `json:"dataEncryptionKey"`
}

func renderMachine(m model.Machine) gin.H {
	return gin.H{
		"id":                 m.ID,
		"createdAt":          m.CreatedAt,
		"updatedAt":          m.UpdatedAt,
		"metadata":           m.Metadata,
		"metadataVersion":    m.MetadataVersion,
		"daemonState":        m.DaemonState,
		"daemonStateVersion": m.DaemonStateVersion,
		"dataEncryptionKey":  m.DataEncryptionKey,
		"active":             m.Active,
		"activeAt":           m.LastActiveAt,
	}
}

func (h *MachineHandler) emit(accountID string, filter router.Filter, filterLabel, eventType string, body gin.H) {
	if h.Router == nil {
		return
	}
	body["t"] = eventType
	seq := h.Store.Sequencer().AllocateAccountSeq(accountID)
	frame, err := wsproto.BuildUpdateFrame(seq, time.Now().UnixMilli(), body)
	if err != nil {
		return
	}
	h.Router.Emit(accountID, filter, frame)
	metrics.RecordEmit(filterLabel)
}

func (h *MachineHandler) Upsert(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body upsertMachineBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	now := time.Now().UnixMilli()
	m, created, err := h.Store.UpsertMachine(accountID, body.ID, body.Metadata, body.DaemonState, body.DataEncryptionKey, now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if created {
		h.emit(accountID, router.Filter{UserScopedOnly: true}, "user", "new-machine", renderMachine(m))
		h.emit(accountID, router.Filter{MachineID: m.ID}, "machine", "update-machine", renderMachine(m))
	}

	c.JSON(http.StatusOK, gin.H{"machine": renderMachine(m)})
}

func (h *MachineHandler) List(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	machines := h.Store.ListMachines(accountID)
	resp := make([]gin.H, 0, len(machines))
	for _, m := range machines {
		resp = append(resp, renderMachine(m))
	}
	c.JSON(http.StatusOK, gin.H{"machines": resp})
}

func (h *MachineHandler) Get(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	machineID := c.Param("id")
	m, ok := h.Store.GetMachine(accountID, machineID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Machine not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"machine": renderMachine(m)})
}
