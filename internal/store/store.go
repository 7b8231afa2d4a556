// Package store is the relay's transactional persistence layer: accounts,
// sessions, messages, machines, pairing requests, and account settings.
//
// The durable store's implementation is treated as an external
// collaborator with a relational schema. This package is the in-memory
// instantiation of that schema — every mutation
// path holds the store's lock for the duration of its read-check-write,
// which is the single-process analogue of a database transaction. A
// SQL-backed store would hold the same contract with real transactions.
package store

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"relay/internal/model"
	"relay/internal/sequencer"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrMissingField    = errors.New("missing required field")
	ErrTagConflict     = errors.New("session tag mismatch")
	ErrForeignAccount  = errors.New("resource belongs to another account")
)

// UpdateStatus is the outcome of an optimistic-concurrency update attempt.
type UpdateStatus string

const (
	StatusSuccess        UpdateStatus = "success"
	StatusVersionMismatch UpdateStatus = "version-mismatch"
	StatusError          UpdateStatus = "error"
)

type Store struct {
	mu sync.RWMutex

	seq *sequencer.Sequencer

	accountsByPublicKey map[string]model.Account
	accountsByID        map[string]string // accountID -> publicKey

	pairingByPublicKey map[string]model.PairingRequest

	sessionsByID       map[string]model.Session
	sessionIDByAcctTag map[string]string // accountID + "|" + tag -> sessionID
	messagesBySession  map[string][]model.SessionMessage
	messageLocalIDSeen map[string]map[string]struct{} // sessionID -> set of localID

	machinesByID map[string]model.Machine // key is accountID + "|" + machineID

	settingsByAccountID map[string]model.AccountSettings

	artifactsByKey map[string]model.Artifact // accountID + "|" + artifactID
}

func New() *Store {
	return &Store{
		seq:                  sequencer.New(),
		accountsByPublicKey:  make(map[string]model.Account),
		accountsByID:         make(map[string]string),
		pairingByPublicKey:   make(map[string]model.PairingRequest),
		sessionsByID:         make(map[string]model.Session),
		sessionIDByAcctTag:   make(map[string]string),
		messagesBySession:    make(map[string][]model.SessionMessage),
		messageLocalIDSeen:   make(map[string]map[string]struct{}),
		machinesByID:         make(map[string]model.Machine),
		settingsByAccountID:  make(map[string]model.AccountSettings),
		artifactsByKey:       make(map[string]model.Artifact),
	}
}

// Sequencer exposes the store's sequence allocator so HTTP handlers that
// emit a post-commit update (outside the store's own lock) can allocate
// the account seq for that event.
func (s *Store) Sequencer() *sequencer.Sequencer { return s.seq }

func acctTagKey(accountID, tag string) string { return accountID + "|" + tag }
func machineKey(accountID, machineID string) string { return accountID + "|" + machineID }
func artifactKey(accountID, artifactID string) string { return accountID + "|" + artifactID }

// GetOrCreateAccount upserts an Account keyed by its hex-encoded public key.
func (s *Store) GetOrCreateAccount(publicKey string, nowMillis int64) (model.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.accountsByPublicKey[publicKey]; ok {
		return existing, false
	}

	acc := model.Account{ID: uuid.NewString(), PublicKey: publicKey, CreatedAt: nowMillis}
	s.accountsByPublicKey[publicKey] = acc
	s.accountsByID[acc.ID] = publicKey
	return acc, true
}

// GetAccount looks up an account by id.
func (s *Store) GetAccount(accountID string) (model.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	publicKey, ok := s.accountsByID[accountID]
	if !ok {
		return model.Account{}, false
	}
	return s.accountsByPublicKey[publicKey], true
}

// GetPairingRequest returns the pairing request for a public key, if any.
func (s *Store) GetPairingRequest(publicKey string) (model.PairingRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.pairingByPublicKey[publicKey]
	return req, ok
}

// UpsertPairingRequest creates (or returns the existing) pending pairing
// request for a public key.
func (s *Store) UpsertPairingRequest(publicKey string, nowMillis int64) model.PairingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pairingByPublicKey[publicKey]; ok {
		return existing
	}
	req := model.PairingRequest{ID: uuid.NewString(), PublicKey: publicKey, CreatedAt: nowMillis, UpdatedAt: nowMillis}
	s.pairingByPublicKey[publicKey] = req
	return req
}

// RespondToPairingRequest writes the response half of a pairing handshake.
// Idempotent: once a response is set, further calls are silent no-ops that
// still report ok=true (so the caller doesn't surface an error for a retry).
func (s *Store) RespondToPairingRequest(publicKey, response, responseAccountID, token string, nowMillis int64) (model.PairingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.pairingByPublicKey[publicKey]
	if !ok {
		return model.PairingRequest{}, false
	}
	if req.Response != "" {
		return req, true
	}
	req.Response = response
	req.ResponseAccountID = responseAccountID
	req.Token = token
	req.UpdatedAt = nowMillis
	s.pairingByPublicKey[publicKey] = req
	return req, true
}

// GetOrCreateSession returns the existing session for (accountID, tag) or
// creates a new one. The returned bool reports whether a session was
// freshly created.
func (s *Store) GetOrCreateSession(accountID, tag, metadata string, agentState, dataEncryptionKey *string, nowMillis int64) (model.Session, bool, error) {
	if accountID == "" || tag == "" {
		return model.Session{}, false, ErrMissingField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := acctTagKey(accountID, tag)
	if sid, ok := s.sessionIDByAcctTag[key]; ok {
		if sess, ok := s.sessionsByID[sid]; ok && !sess.Deleted {
			return sess, false, nil
		}
		delete(s.sessionIDByAcctTag, key)
	}

	metadataVersion := 1
	agentStateVersion := 0
	if agentState != nil {
		agentStateVersion = 1
	}

	sid := uuid.NewString()
	sess := model.Session{
		ID:                sid,
		AccountID:         accountID,
		Tag:               tag,
		Metadata:          metadata,
		MetadataVersion:   metadataVersion,
		AgentState:        agentState,
		AgentStateVersion: agentStateVersion,
		DataEncryptionKey: dataEncryptionKey,
		CreatedAt:         nowMillis,
		UpdatedAt:         nowMillis,
	}
	s.sessionsByID[sid] = sess
	s.sessionIDByAcctTag[key] = sid
	return sess, true, nil
}

// ListSessions returns an account's 150 most-recently-updated sessions.
func (s *Store) ListSessions(accountID string) []model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Session, 0)
	for _, sess := range s.sessionsByID {
		if sess.AccountID == accountID && !sess.Deleted {
			result = append(result, sess)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt > result[j].UpdatedAt })
	if len(result) > 150 {
		result = result[:150]
	}
	return result
}

// GetSession returns a session if it exists, is not deleted, and is owned
// by accountID.
func (s *Store) GetSession(accountID, sessionID string) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessionsByID[sessionID]
	if !ok || sess.AccountID != accountID || sess.Deleted {
		return model.Session{}, false
	}
	return sess, true
}

// UpdateSessionMetadata performs an optimistic-concurrency update: load,
// compare version, conditionally write, all under one critical section so
// exactly one outcome is ever produced.
func (s *Store) UpdateSessionMetadata(accountID, sessionID string, expectedVersion int, metadata string, nowMillis int64) (UpdateStatus, int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionsByID[sessionID]
	if !ok || sess.AccountID != accountID || sess.Deleted {
		return StatusError, 0, ""
	}
	if sess.MetadataVersion != expectedVersion {
		return StatusVersionMismatch, sess.MetadataVersion, sess.Metadata
	}

	sess.Metadata = metadata
	sess.MetadataVersion = expectedVersion + 1
	sess.UpdatedAt = nowMillis
	s.sessionsByID[sessionID] = sess
	return StatusSuccess, sess.MetadataVersion, sess.Metadata
}

// UpdateSessionAgentState mirrors UpdateSessionMetadata for agentState.
func (s *Store) UpdateSessionAgentState(accountID, sessionID string, expectedVersion int, agentState *string, nowMillis int64) (UpdateStatus, int, *string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionsByID[sessionID]
	if !ok || sess.AccountID != accountID || sess.Deleted {
		return StatusError, 0, nil
	}
	if sess.AgentStateVersion != expectedVersion {
		return StatusVersionMismatch, sess.AgentStateVersion, sess.AgentState
	}

	sess.AgentState = agentState
	sess.AgentStateVersion = expectedVersion + 1
	sess.UpdatedAt = nowMillis
	s.sessionsByID[sessionID] = sess
	return StatusSuccess, sess.AgentStateVersion, sess.AgentState
}

// SetSessionActive records a session-alive/session-end heartbeat.
func (s *Store) SetSessionActive(accountID, sessionID string, active bool, activeAt, nowMillis int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionsByID[sessionID]
	if !ok || sess.AccountID != accountID || sess.Deleted {
		return false
	}
	sess.Active = active
	if active {
		sess.LastActiveAt = activeAt
	}
	sess.UpdatedAt = nowMillis
	s.sessionsByID[sessionID] = sess
	return true
}

// DeleteSession removes a session and cascades to its messages. Returns
// false if the session does not exist or belongs to another account.
func (s *Store) DeleteSession(accountID, sessionID string, nowMillis int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionsByID[sessionID]
	if !ok || sess.AccountID != accountID || sess.Deleted {
		return false
	}
	sess.Deleted = true
	sess.UpdatedAt = nowMillis
	s.sessionsByID[sessionID] = sess

	key := acctTagKey(accountID, sess.Tag)
	if s.sessionIDByAcctTag[key] == sessionID {
		delete(s.sessionIDByAcctTag, key)
	}

	delete(s.messagesBySession, sessionID)
	delete(s.messageLocalIDSeen, sessionID)
	return true
}

// AppendMessage inserts a new session message, allocating the session-level
// seq. If localID is non-nil and already seen for this session, the send is
// silently dropped (err=nil, fresh=false) to make retried sends idempotent.
func (s *Store) AppendMessage(accountID, sessionID, content string, localID *string, nowMillis int64) (model.SessionMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionsByID[sessionID]
	if !ok || sess.AccountID != accountID || sess.Deleted {
		return model.SessionMessage{}, false, ErrNotFound
	}

	if localID != nil {
		seen := s.messageLocalIDSeen[sessionID]
		if seen == nil {
			seen = make(map[string]struct{})
			s.messageLocalIDSeen[sessionID] = seen
		}
		if _, dup := seen[*localID]; dup {
			return model.SessionMessage{}, false, nil
		}
		seen[*localID] = struct{}{}
	}

	seq := s.seq.AllocateSessionSeq(sessionID)
	msg := model.SessionMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Seq:       seq,
		Content:   content,
		LocalID:   localID,
		CreatedAt: nowMillis,
		UpdatedAt: nowMillis,
	}
	s.messagesBySession[sessionID] = append(s.messagesBySession[sessionID], msg)
	return msg, true, nil
}

// ListMessages returns the sessionID's 150 most-recent messages, newest
// first, if the session belongs to accountID.
func (s *Store) ListMessages(accountID, sessionID string) ([]model.SessionMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessionsByID[sessionID]
	if !ok || sess.AccountID != accountID || sess.Deleted {
		return nil, ErrNotFound
	}

	msgs := s.messagesBySession[sessionID]
	result := make([]model.SessionMessage, len(msgs))
	copy(result, msgs)
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt > result[j].CreatedAt })
	if len(result) > 150 {
		result = result[:150]
	}
	return result, nil
}

// UpsertMachine creates or idempotently updates a machine keyed by
// (accountID, machineID).
func (s *Store) UpsertMachine(accountID, machineID, metadata string, daemonState, dataEncryptionKey *string, nowMillis int64) (model.Machine, bool, error) {
	if machineID == "" {
		return model.Machine{}, false, ErrMissingField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := machineKey(accountID, machineID)
	if existing, ok := s.machinesByID[key]; ok {
		return existing, false, nil
	}

	metadataVersion := 1
	daemonStateVersion := 0
	if daemonState != nil {
		daemonStateVersion = 1
	}

	m := model.Machine{
		ID:                 machineID,
		AccountID:           accountID,
		Metadata:            metadata,
		MetadataVersion:     metadataVersion,
		DaemonState:         daemonState,
		DaemonStateVersion:  daemonStateVersion,
		DataEncryptionKey:   dataEncryptionKey,
		CreatedAt:           nowMillis,
		UpdatedAt:           nowMillis,
	}
	s.machinesByID[key] = m
	return m, true, nil
}

// GetMachine returns a machine owned by accountID.
func (s *Store) GetMachine(accountID, machineID string) (model.Machine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.machinesByID[machineKey(accountID, machineID)]
	return m, ok
}

// ListMachines returns all machines owned by accountID.
func (s *Store) ListMachines(accountID string) []model.Machine {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Machine, 0)
	for _, m := range s.machinesByID {
		if m.AccountID == accountID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt > result[j].UpdatedAt })
	return result
}

// UpdateMachineMetadata mirrors UpdateSessionMetadata for machines.
func (s *Store) UpdateMachineMetadata(accountID, machineID string, expectedVersion int, metadata string, nowMillis int64) (UpdateStatus, int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := machineKey(accountID, machineID)
	m, ok := s.machinesByID[key]
	if !ok {
		return StatusError, 0, ""
	}
	if m.MetadataVersion != expectedVersion {
		return StatusVersionMismatch, m.MetadataVersion, m.Metadata
	}

	m.Metadata = metadata
	m.MetadataVersion = expectedVersion + 1
	m.UpdatedAt = nowMillis
	s.machinesByID[key] = m
	return StatusSuccess, m.MetadataVersion, m.Metadata
}

// UpdateMachineDaemonState mirrors UpdateSessionAgentState for machines.
func (s *Store) UpdateMachineDaemonState(accountID, machineID string, expectedVersion int, daemonState *string, nowMillis int64) (UpdateStatus, int, *string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := machineKey(accountID, machineID)
	m, ok := s.machinesByID[key]
	if !ok {
		return StatusError, 0, nil
	}
	if m.DaemonStateVersion != expectedVersion {
		return StatusVersionMismatch, m.DaemonStateVersion, m.DaemonState
	}

	m.DaemonState = daemonState
	m.DaemonStateVersion = expectedVersion + 1
	m.UpdatedAt = nowMillis
	s.machinesByID[key] = m
	return StatusSuccess, m.DaemonStateVersion, m.DaemonState
}

// SetMachineActive records a machine-alive heartbeat.
func (s *Store) SetMachineActive(accountID, machineID string, active bool, activeAt, nowMillis int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := machineKey(accountID, machineID)
	m, ok := s.machinesByID[key]
	if !ok {
		return false
	}
	m.Active = active
	if active {
		m.LastActiveAt = activeAt
	}
	m.UpdatedAt = nowMillis
	s.machinesByID[key] = m
	return true
}

// GetAccountSettings returns the account's settings blob and version.
func (s *Store) GetAccountSettings(accountID string) (*string, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.settingsByAccountID[accountID]
	return st.Settings, st.Version
}

// UpdateAccountSettings mirrors the session metadata update pattern for the
// account-wide settings blob.
func (s *Store) UpdateAccountSettings(accountID string, expectedVersion int, settings string) (UpdateStatus, int, *string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.settingsByAccountID[accountID]
	if st.Version != expectedVersion {
		return StatusVersionMismatch, st.Version, st.Settings
	}
	st.Version++
	st.Settings = &settings
	s.settingsByAccountID[accountID] = st
	return StatusSuccess, st.Version, st.Settings
}

// ArtifactUpdateResult is the outcome of a conditional artifact update: on a
// version mismatch it carries the current header/body back so the caller
// can surface a single consistent snapshot without a second read.
type ArtifactUpdateResult struct {
	Success bool

	HeaderVersion *int
	BodyVersion   *int

	CurrentHeaderVersion *int
	CurrentBodyVersion   *int
	CurrentHeader        *string
	CurrentBody          *string
}

// ListArtifacts returns accountID's non-deleted artifacts, newest first.
func (s *Store) ListArtifacts(accountID string) []model.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Artifact, 0)
	for _, a := range s.artifactsByKey {
		if a.AccountID == accountID && !a.Deleted {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt == result[j].UpdatedAt {
			return result[i].ID < result[j].ID
		}
		return result[i].UpdatedAt > result[j].UpdatedAt
	})
	return result
}

// GetArtifact returns an artifact owned by accountID.
func (s *Store) GetArtifact(accountID, artifactID string) (model.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.artifactsByKey[artifactKey(accountID, artifactID)]
	if !ok || a.AccountID != accountID || a.Deleted {
		return model.Artifact{}, false
	}
	return a, true
}

// CreateArtifact creates a new artifact at version 1/1. Idempotent: a
// second create for the same (accountID, artifactID) returns the existing
// artifact with created=false rather than erroring.
func (s *Store) CreateArtifact(accountID, artifactID, header, body, dataEncryptionKey string, nowMillis int64) (model.Artifact, bool, error) {
	if accountID == "" || artifactID == "" || header == "" || body == "" || dataEncryptionKey == "" {
		return model.Artifact{}, false, ErrMissingField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := artifactKey(accountID, artifactID)
	if existing, ok := s.artifactsByKey[key]; ok && !existing.Deleted {
		return existing, false, nil
	}

	a := model.Artifact{
		ID:                artifactID,
		AccountID:         accountID,
		Header:            header,
		HeaderVersion:     1,
		Body:              body,
		BodyVersion:       1,
		DataEncryptionKey: dataEncryptionKey,
		Seq:               s.seq.AllocateAccountSeq(accountID),
		CreatedAt:         nowMillis,
		UpdatedAt:         nowMillis,
	}
	s.artifactsByKey[key] = a
	return a, true, nil
}

// UpdateArtifact conditionally updates an artifact's header and/or body.
// Header and body versions are independent: a caller updating only the
// body need not know the current header version. On a version mismatch on
// either field, the whole call fails and returns the current snapshot.
func (s *Store) UpdateArtifact(accountID, artifactID string, header *string, expectedHeaderVersion *int, body *string, expectedBodyVersion *int, nowMillis int64) (ArtifactUpdateResult, error) {
	if accountID == "" || artifactID == "" {
		return ArtifactUpdateResult{}, ErrMissingField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := artifactKey(accountID, artifactID)
	a, ok := s.artifactsByKey[key]
	if !ok || a.AccountID != accountID || a.Deleted {
		return ArtifactUpdateResult{}, ErrNotFound
	}

	mismatch := func() ArtifactUpdateResult {
		chv, cbv := a.HeaderVersion, a.BodyVersion
		ch, cb := a.Header, a.Body
		return ArtifactUpdateResult{
			CurrentHeaderVersion: &chv,
			CurrentBodyVersion:   &cbv,
			CurrentHeader:        &ch,
			CurrentBody:          &cb,
		}
	}

	if header != nil && (expectedHeaderVersion == nil || *expectedHeaderVersion != a.HeaderVersion) {
		return mismatch(), nil
	}
	if body != nil && (expectedBodyVersion == nil || *expectedBodyVersion != a.BodyVersion) {
		return mismatch(), nil
	}

	if header != nil {
		a.Header = *header
		a.HeaderVersion++
	}
	if body != nil {
		a.Body = *body
		a.BodyVersion++
	}
	a.UpdatedAt = nowMillis
	a.Seq = s.seq.AllocateAccountSeq(accountID)
	s.artifactsByKey[key] = a

	res := ArtifactUpdateResult{Success: true}
	if header != nil {
		hv := a.HeaderVersion
		res.HeaderVersion = &hv
	}
	if body != nil {
		bv := a.BodyVersion
		res.BodyVersion = &bv
	}
	return res, nil
}

// DeleteArtifact soft-deletes an artifact owned by accountID.
func (s *Store) DeleteArtifact(accountID, artifactID string) bool {
	if accountID == "" || artifactID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := artifactKey(accountID, artifactID)
	a, ok := s.artifactsByKey[key]
	if !ok || a.AccountID != accountID || a.Deleted {
		return false
	}
	a.Deleted = true
	s.artifactsByKey[key] = a
	return true
}
