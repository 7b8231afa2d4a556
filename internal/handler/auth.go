package handler

import (
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"relay/internal/auth"
	"relay/internal/middleware"
	"relay/internal/store"
)

// AuthHandler covers the two authentication entry points: direct
// challenge/signature login, and the unauthenticated device-pairing poll.
type AuthHandler struct {
	Store              *store.Store
	TokenConfig        auth.TokenConfig
	PairingRequestLimiter *middleware.RateLimiter
}

type authBody struct {
	PublicKey string `json:"publicKey"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

// Auth is POST /v1/auth: verify an Ed25519 signature over a challenge,
// then upsert the account and mint a token.
func (h *AuthHandler) Auth(c *gin.Context) {
	var body authBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := auth.VerifySignatureDetailed(body.PublicKey, body.Challenge, body.Signature); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UnixMilli()
	publicKey, _ := base64.StdEncoding.DecodeString(body.PublicKey)
	account, _ := h.Store.GetOrCreateAccount(hex.EncodeToString(publicKey), now)
	token, err := auth.CreateToken(account.ID, nil, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

type pairingRequestBody struct {
	PublicKey string `json:"publicKey"`
}

// Request is POST /v1/auth/account/request, the unauthenticated pairing
// poll: upsert a PairingRequest and report whether it has been authorized.
func (h *AuthHandler) Request(c *gin.Context) {
	var body pairingRequestBody
	if err := c.ShouldBindJSON(&body); err != nil || !auth.IsValidPublicKey(body.PublicKey) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid public key"})
		return
	}

	// Only the creation of a new pairing request is rate-limited; repeated
	// polls against an existing one must not be throttled.
	if _, exists := h.Store.GetPairingRequest(body.PublicKey); !exists {
		if h.PairingRequestLimiter != nil && !h.PairingRequestLimiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
	}

	now := time.Now().UnixMilli()
	req := h.Store.UpsertPairingRequest(body.PublicKey, now)

	if req.Response != "" && req.ResponseAccountID != "" {
		token, err := auth.CreateToken(req.ResponseAccountID, nil, h.TokenConfig)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"state":    "authorized",
			"token":    token,
			"response": req.Response,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": "requested"})
}

type pairingResponseBody struct {
	PublicKey string `json:"publicKey"`
	Response  string `json:"response"`
}

// Response is POST /v1/auth/account/response (authenticated): the paired
// device writes back the wrapped secret for the pending request.
func (h *AuthHandler) Response(c *gin.Context) {
	var body pairingResponseBody
	if err := c.ShouldBindJSON(&body); err != nil || body.PublicKey == "" || body.Response == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	now := time.Now().UnixMilli()
	token, err := auth.CreateToken(accountID, nil, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}

	if _, ok := h.Store.RespondToPairingRequest(body.PublicKey, body.Response, accountID, token, now); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
