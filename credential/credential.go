package credential

import (
	"context"
	"errors"
	"time"
)

const (
	// TokenKey names the persisted credential token entry.
	TokenKey = "jwtToken"
	// RoleKey names the persisted role entry.
	RoleKey = "userRole"
)

var (
	// ErrNotFound is returned by Load when nothing is persisted.
	ErrNotFound = errors.New("credentials not found")
	// ErrIncomplete is returned by Load when only one of the two entries exists.
	ErrIncomplete = errors.New("credentials incomplete")
	// ErrCorrupt is returned by Load when a persisted entry cannot be read back.
	ErrCorrupt = errors.New("credentials corrupt")
	// ErrUnavailable wraps failures of the underlying storage engine.
	ErrUnavailable = errors.New("credential storage unavailable")
)

// Credentials is the persisted pair. Both fields are set or the pair is absent.
type Credentials struct {
	Token string
	Role  string
}

// Empty reports whether neither field is set.
func (c Credentials) Empty() bool {
	return c.Token == "" && c.Role == ""
}

// Store persists a single Credentials pair.
//
// Implementations must make Save and Clear all-or-nothing with respect to the
// two entries, and Clear must succeed when nothing is stored.
type Store interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}

func pairFrom(token, role string, hasToken, hasRole bool) (Credentials, error) {
	switch {
	case !hasToken && !hasRole:
		return Credentials{}, ErrNotFound
	case !hasToken || !hasRole || token == "" || role == "":
		return Credentials{}, ErrIncomplete
	}
	return Credentials{Token: token, Role: role}, nil
}

func validate(creds Credentials) error {
	if creds.Token == "" || creds.Role == "" {
		return ErrIncomplete
	}
	return nil
}

func ttlOrZero(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
