package lmsauth

import (
	"errors"
	"strings"
	"time"
)

// LintSeverity ranks a LintWarning.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is a configuration that is valid but probably not what a
// deployment wants.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of warnings returned by Config.Lint.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError joins every warning at or above min into one error, or returns nil.
func (r LintResult) AsError(min LintSeverity) error {
	hits := r.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(hits))
	for _, w := range hits {
		msgs = append(msgs, w.Code+": "+w.Message)
	}
	return errors.New("config lint: " + strings.Join(msgs, "; "))
}

// Lint reports settings that pass Validate but weaken the deployment. It does
// not call Validate.
func (c *Config) Lint() LintResult {
	var out LintResult
	add := func(code string, sev LintSeverity, msg string) {
		out = append(out, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if len(c.Token.VerifyKey) == 0 {
		add("signature_unverified", LintWarn, "token signatures are not checked; claims are trusted as issued")
	}
	if c.Token.Leeway > 30*time.Second {
		add("leeway_large", LintWarn, "token leeway above 30s keeps expired sessions alive")
	}

	switch c.Storage.Driver {
	case StorageMemory, "":
		add("storage_ephemeral", LintInfo, "memory storage forgets the session on restart")
	case StorageBadger, StorageRedis:
		if len(c.Storage.SealKey) == 0 {
			add("storage_unsealed", LintHigh, "persisted token is stored in plaintext; set a SealKey")
		}
	}

	if c.Channel.Enabled && strings.HasPrefix(c.Channel.URL, "ws://") {
		add("channel_plaintext", LintHigh, "notification channel sends the token over plaintext ws://")
	}
	if c.Channel.Enabled && c.Channel.ReconnectDelay > 0 && c.Channel.ReconnectDelay < time.Second {
		add("reconnect_aggressive", LintWarn, "reconnect delay below 1s can hammer the broker")
	}

	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "session transitions are not audited")
	}

	return out
}
