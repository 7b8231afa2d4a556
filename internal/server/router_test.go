package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"relay/internal/auth"
	"relay/internal/router"
	"relay/internal/store"
)

func newTestRouter() (*gin.Engine, *store.Store) {
	st := store.New()
	tokenCfg := auth.DefaultTokenConfig("a-test-secret-at-least-32-bytes-long")
	deps := Deps{
		Store:       st,
		TokenConfig: tokenCfg,
		Cache:       auth.NewVerificationCache(time.Minute),
		Router:      router.New(),
	}
	return NewRouter(deps), st
}

func doJSON(r *gin.Engine, method, path, token string, body map[string]any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestRouter_HealthAndVersionAreUnauthenticated(t *testing.T) {
	r, _ := newTestRouter()

	rec := doJSON(r, "GET", "/health", "", nil)
	require.Equal(t, 200, rec.Code, rec.Body.String())

	rec = doJSON(r, "GET", "/v1/version", "", nil)
	require.Equal(t, 200, rec.Code, rec.Body.String())
}

func TestRouter_ProtectedRouteRejectsMissingToken(t *testing.T) {
	r, _ := newTestRouter()

	rec := doJSON(r, "GET", "/v1/sessions", "", nil)
	require.Equal(t, 401, rec.Code, rec.Body.String())
}

func TestRouter_PairingRequestResponseRepoll(t *testing.T) {
	r, st := newTestRouter()
	tokenCfg := auth.DefaultTokenConfig("a-test-secret-at-least-32-bytes-long")

	clientPubKey := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	rec := doJSON(r, "POST", "/v1/auth/account/request", "", map[string]any{"publicKey": clientPubKey})
	require.Equal(t, 200, rec.Code, rec.Body.String())
	var requested map[string]any
	decodeJSON(t, rec, &requested)
	require.Equal(t, "requested", requested["state"])

	responder, _ := st.GetOrCreateAccount("responder-pub-key", time.Now().UnixMilli())
	responderToken, err := auth.CreateToken(responder.ID, nil, tokenCfg)
	require.NoError(t, err)
	rec = doJSON(r, "POST", "/v1/auth/account/response", responderToken, map[string]any{
		"publicKey": clientPubKey,
		"response":  "ciphertext-response",
	})
	require.Equal(t, 200, rec.Code, rec.Body.String())

	rec = doJSON(r, "POST", "/v1/auth/account/request", "", map[string]any{"publicKey": clientPubKey})
	require.Equal(t, 200, rec.Code, rec.Body.String())
	var authorized map[string]any
	decodeJSON(t, rec, &authorized)
	require.Equal(t, "authorized", authorized["state"])
	require.NotEmpty(t, authorized["token"])

	claims, err := auth.VerifyToken(authorized["token"].(string), tokenCfg)
	require.NoError(t, err)
	require.Equal(t, responder.ID, claims.AccountID)
	_, ok := st.GetAccount(claims.AccountID)
	require.True(t, ok, "expected responder account to exist in the store")
}

func TestRouter_SessionAndMachineEndpointsRoundTrip(t *testing.T) {
	r, _ := newTestRouter()
	tokenCfg := auth.DefaultTokenConfig("a-test-secret-at-least-32-bytes-long")
	token, err := auth.CreateToken("acc-1", nil, tokenCfg)
	require.NoError(t, err)

	rec := doJSON(r, "POST", "/v1/sessions", token, map[string]any{"tag": "session-1", "metadata": "{}"})
	require.Equal(t, 200, rec.Code, rec.Body.String())
	var created struct {
		Session map[string]any `json:"session"`
	}
	decodeJSON(t, rec, &created)
	sessionID, _ := created.Session["id"].(string)
	require.NotEmpty(t, sessionID)

	rec = doJSON(r, "GET", "/v1/sessions", token, nil)
	require.Equal(t, 200, rec.Code, rec.Body.String())

	rec = doJSON(r, "POST", "/v1/machines", token, map[string]any{"id": "machine-1", "metadata": "{}"})
	require.Equal(t, 200, rec.Code, rec.Body.String())

	rec = doJSON(r, "GET", "/v1/machines/machine-1", token, nil)
	require.Equal(t, 200, rec.Code, rec.Body.String())

	rec = doJSON(r, "DELETE", "/v1/sessions/"+sessionID, token, nil)
	require.Equal(t, 200, rec.Code, rec.Body.String())
}
