package auth

import (
	"errors"
	"strings"
)

// ErrMissingPrincipalID indicates an attempt to build a signed-in session
// without a stable user identifier.
var ErrMissingPrincipalID = errors.New("auth: principal id required")

// State is the three-valued identity state: a session is unknown until the
// first resolution completes, and only then confirmed signed out or signed
// in. Keeping the variant explicit avoids conflating "not yet loaded" with
// "confirmed logged out".
type State int

const (
	// StateUnknown means identity resolution has not completed yet.
	StateUnknown State = iota
	// StateSignedOut means no principal is present.
	StateSignedOut
	// StateSignedIn means a verified principal is attached.
	StateSignedIn
)

// Principal identifies a verified user.
type Principal struct {
	UserID      string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Session is a tagged variant over the three identity states. The zero
// value is the unknown state.
type Session struct {
	state     State
	principal Principal
}

// SignedOut returns the confirmed signed-out session.
func SignedOut() Session {
	return Session{state: StateSignedOut}
}

// SignedIn returns a session carrying the given principal.
func SignedIn(principal Principal) (Session, error) {
	if strings.TrimSpace(principal.UserID) == "" {
		return Session{}, ErrMissingPrincipalID
	}
	return Session{state: StateSignedIn, principal: principal}, nil
}

// State returns the session's identity state.
func (s Session) State() State {
	return s.state
}

// Principal returns the attached principal; the boolean is false unless the
// session is signed in.
func (s Session) Principal() (Principal, bool) {
	if s.state != StateSignedIn {
		return Principal{}, false
	}
	return s.principal, true
}
