package wsserver

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"relay/internal/router"
	"relay/internal/wsproto"
)

const writeTimeout = 10 * time.Second

// conn is one upgraded WebSocket's protocol state: identity/scope once the
// handshake completes, and the bookkeeping needed to correlate an
// rpc-call's ack with the rpc-request this connection sent out for it.
type conn struct {
	ws *websocket.Conn

	sid string

	connected atomic.Bool

	accountID  string // set once handleConnect succeeds
	clientType string // "user-scoped" | "session-scoped" | "machine-scoped"
	sessionID  string
	machineID  string

	// routerConn is the exact *router.Connection this conn was Add()ed to
	// the router under, so skip-sender filters can match it by identity.
	routerConn *router.Connection

	sendMu sync.Mutex

	ackMu      sync.Mutex
	nextAckID  int
	pendingAck map[int]chan []json.RawMessage

	pingMu       sync.Mutex
	awaitingPong bool
	pingSentAt   time.Time
	nextPingAt   time.Time

	closed atomic.Bool
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:         ws,
		sid:        uuid.NewString(),
		pendingAck: make(map[int]chan []json.RawMessage),
		nextPingAt: time.Now().Add(25 * time.Second),
	}
}

// Write and Close satisfy router.Writer so a conn can sit directly in the
// router's connection set.
func (c *conn) Write(message []byte) error { return c.writeText(string(message)) }
func (c *conn) Close() error                { c.close(); return nil }

func (c *conn) close() {
	if c.closed.Swap(true) {
		return
	}
	_ = c.ws.Close()
}

func (c *conn) writeText(msg string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *conn) readLoop(onMessage func(string)) {
	defer c.close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		onMessage(string(data))
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if c.closed.Load() {
			return
		}
		now := time.Now()
		c.pingMu.Lock()
		awaiting := c.awaitingPong
		pingSentAt := c.pingSentAt
		nextPingAt := c.nextPingAt
		if awaiting && now.Sub(pingSentAt) > 20*time.Second {
			c.pingMu.Unlock()
			c.close()
			return
		}
		if !awaiting && !now.Before(nextPingAt) {
			c.awaitingPong = true
			c.pingSentAt = now
			c.nextPingAt = now.Add(25 * time.Second)
			c.pingMu.Unlock()
			_ = c.writeText(wsproto.EnginePingFrame())
			continue
		}
		c.pingMu.Unlock()
	}
}

func (c *conn) markPong() {
	c.pingMu.Lock()
	c.awaitingPong = false
	c.pingMu.Unlock()
}

func (c *conn) writeSocketError(msg string) error {
	packet, err := wsproto.BuildSocketEventPacket("/", nil, "error", map[string]string{"message": msg})
	if err != nil {
		return err
	}
	return c.writeText(wsproto.WrapEngineMessage(packet))
}

// emitWithAck sends event with an ack id and blocks for the response, used
// by the RPC bridge to forward an rpc-call to the registered handler.
func (c *conn) emitWithAck(event string, arg any, timeout time.Duration) ([]json.RawMessage, error) {
	c.ackMu.Lock()
	c.nextAckID++
	id := c.nextAckID
	ch := make(chan []json.RawMessage, 1)
	c.pendingAck[id] = ch
	c.ackMu.Unlock()

	packet, err := wsproto.BuildSocketEventPacket("/", &id, event, arg)
	if err != nil {
		c.ackMu.Lock()
		delete(c.pendingAck, id)
		c.ackMu.Unlock()
		return nil, err
	}
	if err := c.writeText(wsproto.WrapEngineMessage(packet)); err != nil {
		c.ackMu.Lock()
		delete(c.pendingAck, id)
		c.ackMu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		c.ackMu.Lock()
		delete(c.pendingAck, id)
		c.ackMu.Unlock()
		return nil, errors.New("RPC timeout")
	}
}

func (c *conn) resolveAck(id int, args []json.RawMessage) {
	c.ackMu.Lock()
	ch := c.pendingAck[id]
	delete(c.pendingAck, id)
	c.ackMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- args:
	default:
	}
}
