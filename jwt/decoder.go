package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed is returned when a token cannot be parsed or fails verification.
	ErrMalformed = errors.New("malformed token")
	// ErrMissingSubject is returned when the token carries no sub claim.
	ErrMissingSubject = errors.New("token has no subject")
	// ErrMissingExpiry is returned when the token carries no exp claim.
	ErrMissingExpiry = errors.New("token has no expiry")
)

// SigningMethod selects the verification algorithm when a key is configured.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// Config controls how a Decoder treats incoming tokens. The zero value decodes
// without verifying signatures.
type Config struct {
	SigningMethod SigningMethod
	VerifyKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Claims is the subset of the backend's token payload used by the client.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Expiry returns the exp claim as a time.
func (c *Claims) Expiry() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Expired reports whether the token's exp lies before now, allowing leeway.
// A token expiring exactly at now is still valid.
func (c *Claims) Expired(now time.Time, leeway time.Duration) bool {
	if c == nil || c.ExpiresAt == nil {
		return true
	}
	return now.After(c.ExpiresAt.Time.Add(leeway))
}

// Decoder turns token strings into Claims.
type Decoder struct {
	config Config
	parser *jwt.Parser
	key    interface{}
}

// NewDecoder validates cfg and returns a Decoder.
func NewDecoder(cfg Config) (*Decoder, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)

	d := &Decoder{config: cfg}
	if len(cfg.VerifyKey) == 0 {
		d.parser = jwt.NewParser(jwt.WithoutClaimsValidation())
		return d, nil
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		d.key = cfg.VerifyKey
	case MethodEd25519:
		pub, err := parseEdPublicKey(cfg.VerifyKey)
		if err != nil {
			return nil, err
		}
		d.key = pub
	default:
		return nil, errors.New("unsupported signing method")
	}
	d.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{d.method().Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	return d, nil
}

// Verifying reports whether signatures are checked.
func (d *Decoder) Verifying() bool {
	return d != nil && d.key != nil
}

// Leeway returns the configured clock-skew allowance.
func (d *Decoder) Leeway() time.Duration {
	if d == nil {
		return 0
	}
	return d.config.Leeway
}

// Decode parses token and checks that sub and exp are present. Expiry is not
// evaluated here; callers compare Claims.Expired against their own clock.
func (d *Decoder) Decode(token string) (*Claims, error) {
	if d == nil {
		return nil, errors.New("nil decoder")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	if d.key == nil {
		if _, _, err := d.parser.ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		parsed, err := d.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != d.method().Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
			}
			return d.key, nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if !parsed.Valid {
			return nil, ErrMalformed
		}
	}

	if d.config.Issuer != "" && claims.Issuer != d.config.Issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrMalformed, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	if claims.ExpiresAt == nil {
		return nil, ErrMissingExpiry
	}
	return claims, nil
}

func (d *Decoder) method() jwt.SigningMethod {
	switch d.config.SigningMethod {
	case MethodEd25519:
		return jwt.SigningMethodEdDSA
	default:
		return jwt.SigningMethodHS256
	}
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
