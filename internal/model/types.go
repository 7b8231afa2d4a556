package model

// Account is the authenticated identity derived from an Ed25519 public key.
type Account struct {
	ID        string
	PublicKey string
	CreatedAt int64
}

// PairingRequest maps a client-generated ephemeral public key to a pending
// or approved device-pairing handshake.
type PairingRequest struct {
	ID                string
	PublicKey         string
	Response          string
	ResponseAccountID string
	Token             string
	CreatedAt         int64
	UpdatedAt         int64
}

// Session is a container for one agent conversation, owned by one account.
type Session struct {
	ID                string
	AccountID         string
	Tag               string
	Seq               int64
	Metadata          string
	MetadataVersion   int
	AgentState        *string
	AgentStateVersion int
	DataEncryptionKey *string
	Active            bool
	LastActiveAt      int64
	CreatedAt         int64
	UpdatedAt         int64
	Deleted           bool
}

// SessionMessage is an immutable append-only entry in a session.
type SessionMessage struct {
	ID        string
	SessionID string
	Seq       int64
	Content   string
	LocalID   *string
	CreatedAt int64
	UpdatedAt int64
}

// Machine is a registered agent host.
type Machine struct {
	ID                 string
	AccountID          string
	Metadata           string
	MetadataVersion    int
	DaemonState        *string
	DaemonStateVersion int
	DataEncryptionKey  *string
	Active             bool
	LastActiveAt       int64
	CreatedAt          int64
	UpdatedAt          int64
}

// AccountSettings is a single opaque versioned blob per account.
type AccountSettings struct {
	Settings *string
	Version  int
}

// Artifact is a versioned, headed encrypted document owned by an account.
type Artifact struct {
	ID                string
	AccountID         string
	Header            string
	HeaderVersion     int
	Body              string
	BodyVersion       int
	DataEncryptionKey string
	Seq               int64
	CreatedAt         int64
	UpdatedAt         int64
	Deleted           bool
}
