package router

import "testing"

type testWriter struct {
	writes int
	fail   bool
}

func (w *testWriter) Write(message []byte) error {
	w.writes++
	if w.fail {
		return errTest
	}
	return nil
}

func (w *testWriter) Close() error { return nil }

type testErr struct{}

func (*testErr) Error() string { return "test" }

var errTest = &testErr{}

func TestRouter_AddEmitRemove(t *testing.T) {
	r := New()
	w1 := &testWriter{}
	c1 := &Connection{AccountID: "acc-1", Writer: w1}

	r.Add(c1)
	r.Emit("acc-1", Filter{}, []byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected 1 write, got %d", w1.writes)
	}

	r.Remove(c1)
	r.Emit("acc-1", Filter{}, []byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected no more writes after remove, got %d", w1.writes)
	}
}

func TestRouter_RemovesFailedConnections(t *testing.T) {
	r := New()
	w1 := &testWriter{fail: true}
	c1 := &Connection{AccountID: "acc-1", Writer: w1}
	r.Add(c1)

	r.Emit("acc-1", Filter{}, []byte("x"))
	r.Emit("acc-1", Filter{}, []byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected only 1 write before removal, got %d", w1.writes)
	}
	if r.ConnectionCount("acc-1") != 0 {
		t.Fatalf("expected failed connection to be dropped from the set")
	}
}

func TestRouter_SessionScopedFilterAlsoReachesUserScoped(t *testing.T) {
	r := New()
	wA := &testWriter{}
	wB := &testWriter{}
	wUserScoped := &testWriter{}
	cA := &Connection{AccountID: "acc-1", SessionID: "sess-a", Writer: wA}
	cB := &Connection{AccountID: "acc-1", SessionID: "sess-b", Writer: wB}
	cUser := &Connection{AccountID: "acc-1", Writer: wUserScoped}
	r.Add(cA)
	r.Add(cB)
	r.Add(cUser)

	r.Emit("acc-1", Filter{SessionID: "sess-a"}, []byte("x"))

	if wA.writes != 1 {
		t.Fatalf("expected session-a connection to receive the emit")
	}
	if wB.writes != 0 {
		t.Fatalf("expected session-b connection to be excluded, got %d writes", wB.writes)
	}
	if wUserScoped.writes != 1 {
		t.Fatalf("expected the user-scoped connection to also receive a session-scoped emit, got %d writes", wUserScoped.writes)
	}
}

func TestRouter_MachineScopedFilterAlsoReachesUserScoped(t *testing.T) {
	r := New()
	wMachine := &testWriter{}
	wOther := &testWriter{}
	wUserScoped := &testWriter{}
	cMachine := &Connection{AccountID: "acc-1", MachineID: "m-1", Writer: wMachine}
	cOther := &Connection{AccountID: "acc-1", MachineID: "m-2", Writer: wOther}
	cUser := &Connection{AccountID: "acc-1", Writer: wUserScoped}
	r.Add(cMachine)
	r.Add(cOther)
	r.Add(cUser)

	r.Emit("acc-1", Filter{MachineID: "m-1"}, []byte("x"))

	if wMachine.writes != 1 || wOther.writes != 0 {
		t.Fatalf("expected delivery only to the matching machine scope (plus user-scoped)")
	}
	if wUserScoped.writes != 1 {
		t.Fatalf("expected the user-scoped connection to also receive a machine-scoped emit, got %d writes", wUserScoped.writes)
	}
}

func TestRouter_UserScopedOnlyExcludesScopedConnections(t *testing.T) {
	r := New()
	wSession := &testWriter{}
	wUser := &testWriter{}
	cSession := &Connection{AccountID: "acc-1", SessionID: "sess-a", Writer: wSession}
	cUser := &Connection{AccountID: "acc-1", Writer: wUser}
	r.Add(cSession)
	r.Add(cUser)

	r.Emit("acc-1", Filter{UserScopedOnly: true}, []byte("x"))

	if wSession.writes != 0 {
		t.Fatalf("expected session-scoped connection to be excluded")
	}
	if wUser.writes != 1 {
		t.Fatalf("expected user-scoped connection to receive the emit")
	}
}

func TestRouter_SkipSenderExcludesThatConnectionOnly(t *testing.T) {
	r := New()
	wSender := &testWriter{}
	wOther := &testWriter{}
	sender := &Connection{AccountID: "acc-1", Writer: wSender}
	other := &Connection{AccountID: "acc-1", Writer: wOther}
	r.Add(sender)
	r.Add(other)

	r.EmitToAllAuthenticated("acc-1", []byte("x"), sender)

	if wSender.writes != 0 {
		t.Fatalf("expected sender to be skipped")
	}
	if wOther.writes != 1 {
		t.Fatalf("expected the other connection to receive the emit")
	}
}

func TestRouter_DifferentAccountsAreIsolated(t *testing.T) {
	r := New()
	w1 := &testWriter{}
	w2 := &testWriter{}
	r.Add(&Connection{AccountID: "acc-1", Writer: w1})
	r.Add(&Connection{AccountID: "acc-2", Writer: w2})

	r.Emit("acc-1", Filter{}, []byte("x"))

	if w1.writes != 1 || w2.writes != 0 {
		t.Fatalf("expected emit to stay within the target account")
	}
}
