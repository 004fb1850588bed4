package lmsauth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the account role carried by a session.
type Role string

const (
	// RoleMember is a library member. The backend calls this role USER.
	RoleMember Role = "MEMBER"
	// RoleLibrarian manages books, members, loans and fines.
	RoleLibrarian Role = "LIBRARIAN"
)

// wireMember is the backend's name for RoleMember in payloads and storage.
const wireMember = "USER"

// ParseRole accepts the client and wire spellings, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case wireMember, string(RoleMember):
		return RoleMember, nil
	case string(RoleLibrarian):
		return RoleLibrarian, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleLibrarian
}

// Wire returns the spelling the backend expects in requests and that is
// persisted alongside the token.
func (r Role) Wire() string {
	if r == RoleMember {
		return wireMember
	}
	return string(r)
}

func (r Role) String() string { return string(r) }

// Session is the signed-in state. A Session is immutable once published; the
// Manager replaces it wholesale on every transition.
//
// Role and Principal are non-empty exactly when Token is non-empty.
type Session struct {
	Token     string
	Role      Role
	Principal string
	ExpiresAt time.Time
}

// Valid reports whether the session carries credentials.
func (s Session) Valid() bool {
	return s.Token != ""
}

// ExpiredAt reports whether the session's token is past its exp claim at now.
// An empty session is always expired.
func (s Session) ExpiredAt(now time.Time) bool {
	if !s.Valid() {
		return true
	}
	return now.After(s.ExpiresAt)
}

// HasRole reports whether the session is valid and holds one of roles. With no
// roles, any valid session matches.
func (s Session) HasRole(roles ...Role) bool {
	if !s.Valid() {
		return false
	}
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if s.Role == r {
			return true
		}
	}
	return false
}

var emptySession = &Session{}

// ChannelStatus describes the notification channel owned by the Manager.
// Generation increases by one for every channel the Manager opens; the zero
// value means no channel is live.
type ChannelStatus struct {
	ID         string
	Generation uint64
	Connected  bool
}

// Live reports whether a channel is currently owned.
func (c ChannelStatus) Live() bool {
	return c.Generation != 0
}
