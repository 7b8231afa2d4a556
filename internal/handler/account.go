package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"relay/internal/middleware"
	"relay/internal/store"
)

// AccountHandler serves the account profile and the versioned settings
// blob. The relay never interprets the profile or settings fields — they
// exist so the client's account UI has somewhere to round-trip them.
type AccountHandler struct {
	Store *store.Store
}

func (h *AccountHandler) Profile(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	account, ok := h.Store.GetAccount(accountID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        account.ID,
		"publicKey": account.PublicKey,
		"createdAt": account.CreatedAt,
	})
}

func (h *AccountHandler) Settings(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	settings, version := h.Store.GetAccountSettings(accountID)
	c.JSON(http.StatusOK, gin.H{"settings": settings, "settingsVersion": version})
}

type updateSettingsBody struct {
	Settings        string `json:"settings"`
	ExpectedVersion int    `json:"expectedVersion"`
}

func (h *AccountHandler) UpdateSettings(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var body updateSettingsBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Settings == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	status, currentVersion, currentSettings := h.Store.UpdateAccountSettings(accountID, body.ExpectedVersion, body.Settings)
	switch status {
	case store.StatusSuccess:
		c.JSON(http.StatusOK, gin.H{"success": true, "settingsVersion": currentVersion})
	case store.StatusVersionMismatch:
		c.JSON(http.StatusOK, gin.H{
			"success":         false,
			"error":           "version-mismatch",
			"currentVersion":  currentVersion,
			"currentSettings": currentSettings,
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "error"})
	}
}
