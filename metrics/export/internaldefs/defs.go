package internaldefs

import (
	lmsauth "github.com/MrEthical07/lmsauth"
)

// CounterDef names one Manager counter for exporters.
type CounterDef struct {
	ID   lmsauth.MetricID
	Name string
	Help string
}

// HistogramDef names one Manager histogram for exporters.
type HistogramDef struct {
	ID   lmsauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: lmsauth.MetricBootstrapRestored, Name: "lmsauth_bootstrap_restored_total", Help: "Starts that restored a persisted session."},
	{ID: lmsauth.MetricBootstrapDiscarded, Name: "lmsauth_bootstrap_discarded_total", Help: "Starts that discarded persisted credentials."},
	{ID: lmsauth.MetricLoginSuccess, Name: "lmsauth_login_success_total", Help: "Published logins."},
	{ID: lmsauth.MetricLoginRejected, Name: "lmsauth_login_rejected_total", Help: "Logins rejected before any state changed."},
	{ID: lmsauth.MetricLogout, Name: "lmsauth_logout_total", Help: "Logout operations."},
	{ID: lmsauth.MetricStorageFailure, Name: "lmsauth_storage_failure_total", Help: "Credential store errors."},
	{ID: lmsauth.MetricChannelOpened, Name: "lmsauth_channel_opened_total", Help: "Notification channels opened."},
	{ID: lmsauth.MetricChannelOpenFailed, Name: "lmsauth_channel_open_failed_total", Help: "Notification channel open failures."},
	{ID: lmsauth.MetricChannelConnected, Name: "lmsauth_channel_connected_total", Help: "Broker CONNECTED acknowledgements, reconnects included."},
	{ID: lmsauth.MetricChannelClosed, Name: "lmsauth_channel_closed_total", Help: "Notification channels torn down."},
	{ID: lmsauth.MetricChannelError, Name: "lmsauth_channel_error_total", Help: "Protocol errors reported by the live channel."},
	{ID: lmsauth.MetricChannelMessage, Name: "lmsauth_channel_message_total", Help: "Notifications delivered to listeners."},
	{ID: lmsauth.MetricStaleHookIgnored, Name: "lmsauth_stale_hook_ignored_total", Help: "Channel callbacks ignored because their channel was replaced."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: lmsauth.MetricChannelConnectLatency, Name: "lmsauth_channel_connect_latency_seconds", Help: "Time from channel open to the first CONNECTED."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// bucket of a snapshot is +Inf.
var HistogramUpperBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// publish one instrument per bucket.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// AuditDroppedName is the counter for events lost to audit backpressure.
const AuditDroppedName = "lmsauth_audit_dropped_total"

// NormalizeBuckets copies raw into a fixed-size array, zero-filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

// StateView is the Manager state an exporter reads once per collection.
type StateView struct {
	Session lmsauth.Session
	Channel lmsauth.ChannelStatus
}

// GaugeDef names one gauge derived from a StateView.
type GaugeDef struct {
	Name  string
	Help  string
	Value func(StateView) int64
}

// StateGaugeDefs lists the session and channel gauges in a stable order.
var StateGaugeDefs = []GaugeDef{
	{
		Name:  "lmsauth_session_signed_in",
		Help:  "1 while a session with credentials is published.",
		Value: func(v StateView) int64 { return flag(v.Session.Valid()) },
	},
	{
		Name:  "lmsauth_session_librarian",
		Help:  "1 while the published session holds the LIBRARIAN role.",
		Value: func(v StateView) int64 { return flag(v.Session.HasRole(lmsauth.RoleLibrarian)) },
	},
	{
		Name: "lmsauth_session_expiry_timestamp_seconds",
		Help: "Unix time the published token expires, 0 when signed out.",
		Value: func(v StateView) int64 {
			if !v.Session.Valid() || v.Session.ExpiresAt.IsZero() {
				return 0
			}
			return v.Session.ExpiresAt.Unix()
		},
	},
	{
		Name:  "lmsauth_channel_live",
		Help:  "1 while the Manager owns a notification channel.",
		Value: func(v StateView) int64 { return flag(v.Channel.Live()) },
	},
	{
		Name:  "lmsauth_channel_connected",
		Help:  "1 while the live channel has a CONNECTED broker session.",
		Value: func(v StateView) int64 { return flag(v.Channel.Live() && v.Channel.Connected) },
	},
	{
		Name:  "lmsauth_channel_generation",
		Help:  "Generation of the live channel, 0 when none is live.",
		Value: func(v StateView) int64 { return int64(v.Channel.Generation) },
	},
}

func flag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
