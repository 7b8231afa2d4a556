// Package sequencer allocates the monotonic, gap-free counters the relay
// uses to order account-level update events and session-level messages.
//
// Each allocation is a single atomic read-modify-write keyed by id; this is
// the in-memory stand-in for a store-level `UPDATE ... SET seq = seq + 1
// RETURNING seq`. A store backed by a real database should perform the
// increment inside its own transaction instead of calling here — see
// DESIGN.md, Open Question 1.
package sequencer

import "sync"

// Sequencer allocates independent monotonic counters for accounts and for
// sessions. The two counter sets never collide because they are keyed
// separately even if an account id and a session id happened to match.
type Sequencer struct {
	mu         sync.Mutex
	perAccount map[string]int64
	perSession map[string]int64
}

// New returns an empty Sequencer; all counters start at 0.
func New() *Sequencer {
	return &Sequencer{
		perAccount: make(map[string]int64),
		perSession: make(map[string]int64),
	}
}

// AllocateAccountSeq returns the next value of accountID's counter.
func (s *Sequencer) AllocateAccountSeq(accountID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perAccount[accountID]++
	return s.perAccount[accountID]
}

// AllocateSessionSeq returns the next value of sessionID's counter.
func (s *Sequencer) AllocateSessionSeq(sessionID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perSession[sessionID]++
	return s.perSession[sessionID]
}
