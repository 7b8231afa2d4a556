// Package router is the relay's event router: it holds every account's
// live WebSocket connections and fans an emit out to the subset matching
// a recipient filter, without ever looking at payload content. The
// server is zero-knowledge; this package is the one place that decides
// WHO receives a frame, never WHAT is in it.
//
// Grounded on internal/hub.Hub (per-user connection set,
// Register/Unregister/Broadcast) fused with internal/socketio/server.go's
// room bookkeeping (roomUsers/roomSessions/roomMachines), generalized into
// one filter matrix instead of three parallel room maps.
package router

import "sync"

// Writer is anything an emitted frame can be written to — a WebSocket
// connection, most commonly.
type Writer interface {
	Write(message []byte) error
	Close() error
}

// Connection is one authenticated client's router membership: which
// account it authenticated as, and which session/machine scope (if any)
// it is currently interested in.
type Connection struct {
	AccountID string
	SessionID string // empty if this connection is not session-scoped
	MachineID string // empty if this connection is not machine-scoped
	Writer    Writer
}

// Filter selects which of an account's connections receive an emit.
//
// SessionID and MachineID are union matches: they reach the matching
// scoped connections AND every user-scoped connection (a dashboard is
// "interested in" every session/machine on the account), not just the
// one scope named.
type Filter struct {
	// SessionID, if non-empty, restricts delivery to connections whose
	// SessionID matches, plus every user-scoped connection
	// (all-interested-in-session).
	SessionID string
	// MachineID, if non-empty, restricts delivery to connections whose
	// MachineID matches, plus every user-scoped connection
	// (machine-scoped-or-user-scoped).
	MachineID string
	// UserScopedOnly restricts delivery to connections with no session or
	// machine scope at all (user-scoped-only).
	UserScopedOnly bool
	// SkipSender, if set, excludes this exact connection from delivery —
	// used when an actor's own frame should not be echoed back to it.
	SkipSender *Connection
}

type Router struct {
	userMu sync.Map // accountID -> *sync.Mutex, guards that account's connection set

	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{} // accountID -> connection set

	onConnect    func(accountID string)
	onDisconnect func(accountID string)
}

func New() *Router {
	return &Router{connections: make(map[string]map[*Connection]struct{})}
}

// OnConnectHook and OnDisconnectHook let callers (metrics) observe
// membership changes without the router importing them.
func (r *Router) OnConnectHook(fn func(accountID string))    { r.onConnect = fn }
func (r *Router) OnDisconnectHook(fn func(accountID string)) { r.onDisconnect = fn }

func (r *Router) lockFor(accountID string) *sync.Mutex {
	actual, _ := r.userMu.LoadOrStore(accountID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// Add registers a connection under its account. Locking is per-account:
// two different accounts' Add/Remove/Emit calls share only the short
// critical sections on the global connection map, never the per-account
// lock or each other's socket writes.
func (r *Router) Add(conn *Connection) {
	lock := r.lockFor(conn.AccountID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	set := r.connections[conn.AccountID]
	if set == nil {
		set = make(map[*Connection]struct{})
		r.connections[conn.AccountID] = set
	}
	set[conn] = struct{}{}
	r.mu.Unlock()

	if r.onConnect != nil {
		r.onConnect(conn.AccountID)
	}
}

// Remove drops a connection from its account's set.
func (r *Router) Remove(conn *Connection) {
	lock := r.lockFor(conn.AccountID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	set := r.connections[conn.AccountID]
	if set != nil {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.connections, conn.AccountID)
		}
	}
	r.mu.Unlock()

	if r.onDisconnect != nil {
		r.onDisconnect(conn.AccountID)
	}
}

// Emit delivers message to accountID's connections that pass filter.
// Delivery is best-effort: a write failure closes and removes that one
// connection but never aborts delivery to the rest of the set.
func (r *Router) Emit(accountID string, filter Filter, message []byte) {
	lock := r.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	set := r.connections[accountID]
	targets := make([]*Connection, 0, len(set))
	for c := range set {
		if matches(c, filter) {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	var failed []*Connection
	for _, c := range targets {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		r.removeLocked(c)
	}
}

// EmitToAllAuthenticated delivers message to every connection of
// accountID, regardless of scope (all-user-authenticated-connections).
func (r *Router) EmitToAllAuthenticated(accountID string, message []byte, skipSender *Connection) {
	r.Emit(accountID, Filter{SkipSender: skipSender}, message)
}

func (r *Router) removeLocked(conn *Connection) {
	r.mu.Lock()
	set := r.connections[conn.AccountID]
	if set != nil {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.connections, conn.AccountID)
		}
	}
	r.mu.Unlock()
}

// ConnectionCount returns the number of live connections for accountID,
// for tests and metrics.
func (r *Router) ConnectionCount(accountID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[accountID])
}

func matches(c *Connection, f Filter) bool {
	if f.SkipSender == c {
		return false
	}
	userScoped := c.SessionID == "" && c.MachineID == ""
	if f.SessionID != "" {
		return c.SessionID == f.SessionID || userScoped
	}
	if f.MachineID != "" {
		return c.MachineID == f.MachineID || userScoped
	}
	if f.UserScopedOnly {
		return c.SessionID == "" && c.MachineID == ""
	}
	return true
}
