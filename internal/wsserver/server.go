// Package wsserver is the relay's WebSocket protocol layer mounted at
// /v1/updates: handshake and scope validation, the message/update/RPC
// event handlers, and heartbeat tracking. It never looks inside an
// encrypted payload — every handler here either stores an opaque blob or
// forwards one through internal/router.
//
// Grounded on internal/socketio/server.go, generalized from three ad hoc
// room maps to internal/router's filter matrix, with the RPC registry
// rekeyed per-account (a global rpcByMethod map would let any account
// invoke any other account's registered method) and the RPC ack timeout
// raised from 10s to 30s.
package wsserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"relay/internal/auth"
	"relay/internal/metrics"
	"relay/internal/router"
	"relay/internal/store"
	"relay/internal/wsproto"
)

const (
	maxPayload     int64         = 1_000_000
	rpcCallTimeout time.Duration = 30 * time.Second
	aliveWindow    time.Duration = 10 * time.Minute
)

type Deps struct {
	Store       *store.Store
	TokenConfig auth.TokenConfig
	Cache       *auth.VerificationCache // optional
	Router      *router.Router
}

type Server struct {
	store       *store.Store
	tokenConfig auth.TokenConfig
	cache       *auth.VerificationCache
	router      *router.Router

	upgrader websocket.Upgrader

	mu sync.Mutex

	rpcByAccount map[string]map[string]*conn // accountID -> method -> owning conn

	connsBySocket map[*websocket.Conn]*conn
}

func NewServer(deps Deps) *Server {
	return &Server{
		store:       deps.Store,
		tokenConfig: deps.TokenConfig,
		cache:       deps.Cache,
		router:      deps.Router,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rpcByAccount:  make(map[string]map[string]*conn),
		connsBySocket: make(map[*websocket.Conn]*conn),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxPayload)

	c := newConn(ws)
	s.mu.Lock()
	s.connsBySocket[c.ws] = c
	s.mu.Unlock()
	defer s.unregisterConn(c)

	openFrame, _ := wsproto.BuildEngineOpenFrame(c.sid, 25000, 20000)
	_ = c.writeText(openFrame)

	go c.pingLoop()
	c.readLoop(func(msg string) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("wsserver: recovered panic handling message: %v", r)
			}
		}()
		s.handleMessage(c, msg)
	})
}

func (s *Server) unregisterConn(c *conn) {
	s.mu.Lock()
	delete(s.connsBySocket, c.ws)
	if c.accountID != "" {
		if methods, ok := s.rpcByAccount[c.accountID]; ok {
			for method, owner := range methods {
				if owner == c {
					delete(methods, method)
				}
			}
			if len(methods) == 0 {
				delete(s.rpcByAccount, c.accountID)
			}
		}
	}
	s.mu.Unlock()

	if c.accountID != "" && c.routerConn != nil {
		s.router.Remove(c.routerConn)
	}
	if c.accountID != "" && c.clientType == "machine-scoped" {
		s.emitEphemeral(c.accountID, router.Filter{UserScopedOnly: true}, "user", "machine-activity", map[string]any{
			"machineId": c.machineID,
			"active":    false,
		})
	}
	c.close()
}

func (s *Server) handleMessage(c *conn, msg string) {
	if msg == "" {
		return
	}
	typ, rest, err := wsproto.ParseEngineFrame(msg)
	if err != nil {
		return
	}

	switch typ {
	case wsproto.EnginePong:
		c.markPong()
	case wsproto.EngineMessage:
		s.handleSocketPayload(c, rest)
	case wsproto.EngineClose:
		c.close()
	}
}

type connectAuth struct {
	Token      string `json:"token"`
	ClientType string `json:"clientType"`
	SessionID  string `json:"sessionId"`
	MachineID  string `json:"machineId"`
}

func (s *Server) handleSocketPayload(c *conn, payload string) {
	if payload == "" {
		return
	}

	switch wsproto.SocketPacketType(payload[0]) {
	case wsproto.SocketConnect:
		s.handleConnect(c, payload)
	case wsproto.SocketEvent:
		s.handleEvent(c, payload)
	case wsproto.SocketAck:
		ack, err := wsproto.ParseSocketAckPacket(payload)
		if err == nil {
			c.resolveAck(ack.ID, ack.Args)
		}
	}
}

func (s *Server) handleConnect(c *conn, payload string) {
	if c.connected.Load() {
		return
	}

	_, rest := wsproto.ParseOptionalNamespace(payload[1:])
	if rest == "" {
		_ = c.writeSocketError("missing auth")
		c.close()
		return
	}

	var authObj connectAuth
	if err := json.Unmarshal([]byte(rest), &authObj); err != nil {
		_ = c.writeSocketError("invalid auth")
		c.close()
		return
	}
	if authObj.Token == "" {
		_ = c.writeSocketError("missing token")
		c.close()
		return
	}
	claims, err := auth.VerifyCached(s.cache, authObj.Token, s.tokenConfig)
	if err != nil || claims == nil || claims.AccountID == "" {
		_ = c.writeSocketError("invalid authentication token")
		c.close()
		return
	}

	switch authObj.ClientType {
	case "user-scoped":
	case "session-scoped":
		if authObj.SessionID == "" {
			_ = c.writeSocketError("missing sessionId")
			c.close()
			return
		}
		if _, ok := s.store.GetSession(claims.AccountID, authObj.SessionID); !ok {
			_ = c.writeSocketError("session not found")
			c.close()
			return
		}
	case "machine-scoped":
		if authObj.MachineID == "" {
			_ = c.writeSocketError("missing machineId")
			c.close()
			return
		}
		if _, ok := s.store.GetMachine(claims.AccountID, authObj.MachineID); !ok {
			_ = c.writeSocketError("machine not found")
			c.close()
			return
		}
	default:
		_ = c.writeSocketError("invalid client type")
		c.close()
		return
	}

	c.accountID = claims.AccountID
	c.clientType = authObj.ClientType
	c.sessionID = authObj.SessionID
	c.machineID = authObj.MachineID
	c.connected.Store(true)

	c.routerConn = &router.Connection{
		AccountID: c.accountID,
		SessionID: c.sessionID,
		MachineID: c.machineID,
		Writer:    c,
	}
	s.router.Add(c.routerConn)

	_ = c.writeText(wsproto.WrapEngineMessage(string(wsproto.SocketConnect)))

	if c.clientType == "machine-scoped" {
		s.emitEphemeral(c.accountID, router.Filter{UserScopedOnly: true}, "user", "machine-activity", map[string]any{
			"machineId":    c.machineID,
			"active":       true,
			"lastActiveAt": time.Now().UnixMilli(),
		})
	}
}

func (s *Server) handleEvent(c *conn, payload string) {
	if !c.connected.Load() {
		return
	}

	pkt, err := wsproto.ParseSocketEventPacket(payload)
	if err != nil {
		return
	}

	switch pkt.Event {
	case "ping":
		s.handlePing(c, pkt)
	case "rpc-register":
		s.handleRPCRegister(c, pkt)
	case "rpc-unregister":
		s.handleRPCUnregister(c, pkt)
	case "rpc-call":
		s.handleRPCCallEvent(c, pkt)
	case "message":
		s.handleSessionMessage(c, pkt)
	case "update-metadata":
		s.handleSessionMetadataUpdate(c, pkt)
	case "update-state":
		s.handleSessionStateUpdate(c, pkt)
	case "machine-update-metadata":
		s.handleMachineMetadataUpdate(c, pkt)
	case "machine-update-state":
		s.handleMachineStateUpdate(c, pkt)
	case "session-alive":
		s.handleSessionAlive(c, pkt)
	case "session-end":
		s.handleSessionEnd(c, pkt)
	case "machine-alive":
		s.handleMachineAlive(c, pkt)
	}
}

func (s *Server) handlePing(c *conn, pkt wsproto.SocketEventPacket) {
	if pkt.ID == nil {
		return
	}
	ackPayload, err := wsproto.BuildSocketAckPacket(pkt.Namespace, *pkt.ID)
	if err == nil {
		_ = c.writeText(wsproto.WrapEngineMessage(ackPayload))
	}
}

func (s *Server) ackWithResult(c *conn, pkt wsproto.SocketEventPacket, resp map[string]any) {
	if pkt.ID == nil {
		return
	}
	ackPayload, err := wsproto.BuildSocketAckPacket(pkt.Namespace, *pkt.ID, resp)
	if err == nil {
		_ = c.writeText(wsproto.WrapEngineMessage(ackPayload))
	}
}

func (s *Server) emitUpdate(accountID string, filter router.Filter, filterLabel string, body map[string]any) {
	seq := s.store.Sequencer().AllocateAccountSeq(accountID)
	frame, err := wsproto.BuildUpdateFrame(seq, time.Now().UnixMilli(), body)
	if err != nil {
		return
	}
	s.router.Emit(accountID, filter, frame)
	metrics.RecordEmit(filterLabel)
}

// emitEphemeral sends an unlogged, unsequenced frame — used for the
// session-alive/machine-alive "activity" pings that mirror presence, not
// durable state.
func (s *Server) emitEphemeral(accountID string, filter router.Filter, filterLabel, event string, body map[string]any) {
	frame, err := wsproto.BuildEphemeralFrame(event, body)
	if err != nil {
		return
	}
	s.router.Emit(accountID, filter, frame)
	metrics.RecordEmit(filterLabel)
}

// emitTo sends event directly to c, bypassing the router — used for
// single-target acknowledgements (rpc-registered/rpc-unregistered) that
// belong to the registering connection alone, not a broadcast audience.
func (s *Server) emitTo(c *conn, event string, body map[string]any) {
	packet, err := wsproto.BuildSocketEventPacket("/", nil, event, body)
	if err != nil {
		return
	}
	_ = c.writeText(wsproto.WrapEngineMessage(packet))
}

func (s *Server) handleSessionMessage(c *conn, pkt wsproto.SocketEventPacket) {
	if c.clientType != "session-scoped" {
		return
	}
	var body struct {
		SID     string  `json:"sid"`
		Message string  `json:"message"`
		LocalID *string `json:"localId"`
	}
	if len(pkt.Args) < 1 || json.Unmarshal(pkt.Args[0], &body) != nil {
		return
	}
	if body.SID == "" || body.SID != c.sessionID {
		return
	}

	now := time.Now().UnixMilli()
	msg, fresh, err := s.store.AppendMessage(c.accountID, body.SID, body.Message, body.LocalID, now)
	if err != nil {
		return
	}
	if !fresh {
		metrics.RecordMessageAppend("deduped")
		return
	}
	metrics.RecordMessageAppend("accepted")

	s.emitUpdate(c.accountID, router.Filter{SessionID: body.SID, SkipSender: c.routerConn}, "session", map[string]any{
		"t":   "new-message",
		"sid": body.SID,
		"message": map[string]any{
			"id":  msg.ID,
			"seq": msg.Seq,
			"content": map[string]any{
				"t": "encrypted",
				"c": msg.Content,
			},
		},
	})
}

func (s *Server) handleSessionMetadataUpdate(c *conn, pkt wsproto.SocketEventPacket) {
	if pkt.ID == nil {
		return
	}
	var body struct {
		SID             string `json:"sid"`
		ExpectedVersion int    `json:"expectedVersion"`
		Metadata        string `json:"metadata"`
	}
	if len(pkt.Args) < 1 || json.Unmarshal(pkt.Args[0], &body) != nil || body.SID == "" {
		return
	}

	now := time.Now().UnixMilli()
	status, version, value := s.store.UpdateSessionMetadata(c.accountID, body.SID, body.ExpectedVersion, body.Metadata, now)
	s.ackWithResult(c, pkt, map[string]any{"result": status, "version": version, "metadata": value})
	if status != store.StatusSuccess {
		return
	}

	update := map[string]any{
		"t":   "update-session",
		"sid": body.SID,
		"metadata": map[string]any{
			"version": version,
			"value":   value,
		},
	}
	s.emitUpdate(c.accountID, router.Filter{SessionID: body.SID}, "session", update)
}

func (s *Server) handleSessionStateUpdate(c *conn, pkt wsproto.SocketEventPacket) {
	if pkt.ID == nil {
		return
	}
	var body struct {
		SID             string  `json:"sid"`
		ExpectedVersion int     `json:"expectedVersion"`
		AgentState      *string `json:"agentState"`
	}
	if len(pkt.Args) < 1 || json.Unmarshal(pkt.Args[0], &body) != nil || body.SID == "" {
		return
	}

	now := time.Now().UnixMilli()
	status, version, value := s.store.UpdateSessionAgentState(c.accountID, body.SID, body.ExpectedVersion, body.AgentState, now)
	s.ackWithResult(c, pkt, map[string]any{"result": status, "version": version, "agentState": value})
	if status != store.StatusSuccess {
		return
	}

	update := map[string]any{
		"t":   "update-session",
		"sid": body.SID,
		"agentState": map[string]any{
			"version": version,
			"value":   value,
		},
	}
	s.emitUpdate(c.accountID, router.Filter{SessionID: body.SID}, "session", update)
}

func (s *Server) handleMachineMetadataUpdate(c *conn, pkt wsproto.SocketEventPacket) {
	if pkt.ID == nil {
		return
	}
	var body struct {
		MachineID       string `json:"machineId"`
		ExpectedVersion int    `json:"expectedVersion"`
		Metadata        string `json:"metadata"`
	}
	if len(pkt.Args) < 1 || json.Unmarshal(pkt.Args[0], &body) != nil || body.MachineID == "" {
		return
	}

	now := time.Now().UnixMilli()
	status, version, value := s.store.UpdateMachineMetadata(c.accountID, body.MachineID, body.ExpectedVersion, body.Metadata, now)
	s.ackWithResult(c, pkt, map[string]any{"result": status, "version": version, "metadata": value})
	if status != store.StatusSuccess {
		return
	}

	update := map[string]any{
		"t":         "update-machine",
		"machineId": body.MachineID,
		"metadata": map[string]any{
			"version": version,
			"value":   value,
		},
	}
	s.emitUpdate(c.accountID, router.Filter{MachineID: body.MachineID}, "machine", update)
}

func (s *Server) handleMachineStateUpdate(c *conn, pkt wsproto.SocketEventPacket) {
	if pkt.ID == nil {
		return
	}
	var body struct {
		MachineID       string  `json:"machineId"`
		ExpectedVersion int     `json:"expectedVersion"`
		DaemonState     *string `json:"daemonState"`
	}
	if len(pkt.Args) < 1 || json.Unmarshal(pkt.Args[0], &body) != nil || body.MachineID == "" {
		return
	}

	now := time.Now().UnixMilli()
	status, version, value := s.store.UpdateMachineDaemonState(c.accountID, body.MachineID, body.ExpectedVersion, body.DaemonState, now)
	s.ackWithResult(c, pkt, map[string]any{"result": status, "version": version, "daemonState": value})
	if status != store.StatusSuccess {
		return
	}

	update := map[string]any{
		"t":         "update-machine",
		"machineId": body.MachineID,
		"daemonState": map[string]any{
			"version": version,
			"value":   value,
		},
	}
	s.emitUpdate(c.accountID, router.Filter{MachineID: body.MachineID}, "machine", update)
}

// withinAliveWindow rejects a client-supplied timestamp more than
// aliveWindow away from the server's clock, so a stalled or clock-skewed
// client can't mark a session active far in the past or future.
func withinAliveWindow(clientMillis, nowMillis int64) bool {
	delta := clientMillis - nowMillis
	if delta < 0 {
		delta = -delta
	}
	return delta <= aliveWindow.Milliseconds()
}

func (s *Server) handleSessionAlive(c *conn, pkt wsproto.SocketEventPacket) {
	var body struct {
		SID      string `json:"sid"`
		Time     int64  `json:"time"`
		Thinking bool   `json:"thinking"`
	}
	if len(pkt.Args) < 1 || json.Unmarshal(pkt.Args[0], &body) != nil || body.SID == "" {
		return
	}
	now := time.Now().UnixMilli()
	if !withinAliveWindow(body.Time, now) {
		return
	}

	if !s.store.SetSessionActive(c.accountID, body.SID, true, body.Time, now) {
		return
	}
	s.emitEphemeral(c.accountID, router.Filter{UserScopedOnly: true}, "user", "activity", map[string]any{
		"sid":          body.SID,
		"active":       true,
		"lastActiveAt": body.Time,
		"thinking":     body.Thinking,
	})
}

func (s *Server) handleSessionEnd(c *conn, pkt wsproto.SocketEventPacket) {
	var body struct {
		SID string `json:"sid"`
	}
	if len(pkt.Args) < 1 || json.Unmarshal(pkt.Args[0], &body) != nil || body.SID == "" {
		return
	}
	now := time.Now().UnixMilli()
	if !s.store.SetSessionActive(c.accountID, body.SID, false, 0, now) {
		return
	}
	s.emitEphemeral(c.accountID, router.Filter{UserScopedOnly: true}, "user", "activity", map[string]any{
		"sid":    body.SID,
		"active": false,
	})
}

func (s *Server) handleMachineAlive(c *conn, pkt wsproto.SocketEventPacket) {
	var body struct {
		MachineID string `json:"machineId"`
		Time      int64  `json:"time"`
	}
	if len(pkt.Args) < 1 || json.Unmarshal(pkt.Args[0], &body) != nil || body.MachineID == "" {
		return
	}
	now := time.Now().UnixMilli()
	if !withinAliveWindow(body.Time, now) {
		return
	}

	if !s.store.SetMachineActive(c.accountID, body.MachineID, true, body.Time, now) {
		return
	}
	s.emitEphemeral(c.accountID, router.Filter{UserScopedOnly: true}, "user", "machine-activity", map[string]any{
		"machineId":    body.MachineID,
		"active":       true,
		"lastActiveAt": body.Time,
	})
}

func (s *Server) handleRPCRegister(c *conn, pkt wsproto.SocketEventPacket) {
	var body struct {
		Method string `json:"method"`
	}
	if len(pkt.Args) < 1 || json.Unmarshal(pkt.Args[0], &body) != nil || body.Method == "" {
		return
	}
	s.mu.Lock()
	methods, ok := s.rpcByAccount[c.accountID]
	if !ok {
		methods = make(map[string]*conn)
		s.rpcByAccount[c.accountID] = methods
	}
	methods[body.Method] = c
	s.mu.Unlock()

	s.emitTo(c, "rpc-registered", map[string]any{"method": body.Method})
}

func (s *Server) handleRPCUnregister(c *conn, pkt wsproto.SocketEventPacket) {
	var body struct {
		Method string `json:"method"`
	}
	if len(pkt.Args) < 1 || json.Unmarshal(pkt.Args[0], &body) != nil || body.Method == "" {
		return
	}
	s.mu.Lock()
	methods := s.rpcByAccount[c.accountID]
	if owner, ok := methods[body.Method]; ok && owner == c {
		delete(methods, body.Method)
	}
	s.mu.Unlock()

	s.emitTo(c, "rpc-unregistered", map[string]any{"method": body.Method})
}

func (s *Server) handleRPCCallEvent(c *conn, pkt wsproto.SocketEventPacket) {
	if pkt.ID == nil {
		return
	}
	var body struct {
		Method string `json:"method"`
		Params string `json:"params"`
	}
	if len(pkt.Args) < 1 || json.Unmarshal(pkt.Args[0], &body) != nil || body.Method == "" {
		s.ackWithResult(c, pkt, map[string]any{"ok": false, "error": "invalid rpc-call"})
		return
	}

	result, err := s.handleRPCCall(c, body.Method, body.Params)
	resp := map[string]any{"ok": err == nil}
	if err != nil {
		resp["error"] = err.Error()
	} else {
		resp["result"] = result
	}
	s.ackWithResult(c, pkt, resp)
}

func (s *Server) handleRPCCall(caller *conn, method, params string) (string, error) {
	s.mu.Lock()
	h := s.rpcByAccount[caller.accountID][method]
	s.mu.Unlock()
	if h == nil {
		metrics.RecordRPCCall("no-handler")
		return "", errors.New("RPC method not available")
	}
	if h == caller {
		metrics.RecordRPCCall("self-call-rejected")
		return "", errors.New("Cannot call RPC on the same socket")
	}

	resp, err := h.emitWithAck("rpc-request", map[string]any{"method": method, "params": params}, rpcCallTimeout)
	if err != nil {
		metrics.RecordRPCCall("timeout")
		return "", err
	}
	if len(resp) < 1 {
		metrics.RecordRPCCall("empty-response")
		return "", errors.New("empty response")
	}
	var result string
	if err := json.Unmarshal(resp[0], &result); err != nil {
		metrics.RecordRPCCall("invalid-response")
		return "", errors.New("invalid response")
	}
	metrics.RecordRPCCall("ok")
	return result, nil
}

