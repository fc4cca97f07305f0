package internaldefs

import (
	goIdentity "github.com/MrEthical07/goIdentity"
)

type CounterDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goIdentity.MetricAuthSuccess, Name: "goidentity_auth_success_total", Help: "Completed sign-ins, including MFA and OAuth."},
	{ID: goIdentity.MetricAuthFailure, Name: "goidentity_auth_failure_total", Help: "Rejected credential checks."},
	{ID: goIdentity.MetricAuthRateLimited, Name: "goidentity_auth_rate_limited_total", Help: "Sign-ins refused by the rate limiter."},
	{ID: goIdentity.MetricIdentityCreated, Name: "goidentity_identity_created_total", Help: "Identities created."},
	{ID: goIdentity.MetricIdentityDuplicate, Name: "goidentity_identity_duplicate_total", Help: "Registrations rejected for an existing email."},
	{ID: goIdentity.MetricTokenIssued, Name: "goidentity_token_issued_total", Help: "Token pairs minted."},
	{ID: goIdentity.MetricAccessVerified, Name: "goidentity_access_verified_total", Help: "Access tokens accepted."},
	{ID: goIdentity.MetricAccessRejected, Name: "goidentity_access_rejected_total", Help: "Access tokens rejected."},
	{ID: goIdentity.MetricSessionRevokedRejection, Name: "goidentity_session_revoked_total", Help: "Tokens rejected for a stale session version."},
	{ID: goIdentity.MetricRefreshSuccess, Name: "goidentity_refresh_success_total", Help: "Successful refreshes."},
	{ID: goIdentity.MetricRefreshFailure, Name: "goidentity_refresh_failure_total", Help: "Failed refreshes."},
	{ID: goIdentity.MetricSessionVersionBumped, Name: "goidentity_session_version_bumped_total", Help: "Session version increments."},
	{ID: goIdentity.MetricMFARequired, Name: "goidentity_mfa_required_total", Help: "Challenges created."},
	{ID: goIdentity.MetricMFASuccess, Name: "goidentity_mfa_success_total", Help: "Challenges passed."},
	{ID: goIdentity.MetricMFAFailure, Name: "goidentity_mfa_failure_total", Help: "Failed challenge verifications."},
	{ID: goIdentity.MetricMFAAttemptsExhausted, Name: "goidentity_mfa_attempts_exhausted_total", Help: "Challenges that ran out of attempts."},
	{ID: goIdentity.MetricMFAReplayRejected, Name: "goidentity_mfa_replay_rejected_total", Help: "TOTP codes rejected as replays."},
	{ID: goIdentity.MetricMFACodeSent, Name: "goidentity_mfa_code_sent_total", Help: "SMS and email codes queued."},
	{ID: goIdentity.MetricMFASetupConfirmed, Name: "goidentity_mfa_setup_confirmed_total", Help: "Second factors enabled."},
	{ID: goIdentity.MetricBackupCodeUsed, Name: "goidentity_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: goIdentity.MetricBackupCodesGenerated, Name: "goidentity_backup_codes_generated_total", Help: "Backup code sets generated."},
	{ID: goIdentity.MetricReauthIssued, Name: "goidentity_reauth_issued_total", Help: "Reauthorization tokens minted."},
	{ID: goIdentity.MetricReauthRejected, Name: "goidentity_reauth_rejected_total", Help: "Requests refused at the reauthorization gate."},
	{ID: goIdentity.MetricPasswordChanged, Name: "goidentity_password_changed_total", Help: "Password changes."},
	{ID: goIdentity.MetricEmailChangeRequested, Name: "goidentity_email_change_requested_total", Help: "Email changes requested."},
	{ID: goIdentity.MetricEmailChanged, Name: "goidentity_email_changed_total", Help: "Email changes confirmed."},
	{ID: goIdentity.MetricAccountDeleted, Name: "goidentity_account_deleted_total", Help: "Identities deleted."},
	{ID: goIdentity.MetricOAuthBegin, Name: "goidentity_oauth_begin_total", Help: "OAuth flows started."},
	{ID: goIdentity.MetricOAuthSuccess, Name: "goidentity_oauth_success_total", Help: "OAuth callbacks completed."},
	{ID: goIdentity.MetricOAuthFailure, Name: "goidentity_oauth_failure_total", Help: "OAuth callbacks rejected."},
	{ID: goIdentity.MetricOAuthStateRejected, Name: "goidentity_oauth_state_rejected_total", Help: "Callbacks with a missing, reused or expired state."},
	{ID: goIdentity.MetricRateLimitHit, Name: "goidentity_rate_limit_hit_total", Help: "Rate-limit checks that refused a request."},
	{ID: goIdentity.MetricNotificationDropped, Name: "goidentity_notification_dropped_total", Help: "Notifications dropped on a full queue."},
	{ID: goIdentity.MetricNotificationFailed, Name: "goidentity_notification_failed_total", Help: "Notifications the delivery channel rejected."},
}

var HistogramDefs = []HistogramDef{
	{ID: goIdentity.MetricVerifyLatency, Name: "goidentity_verify_latency_seconds", Help: "Access token verification latency."},
}

// AuditDroppedName is reported next to the engine counters.
const (
	AuditDroppedName = "goidentity_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped on a full dispatcher queue."
)

// HistogramBounds are the upper bounds, in seconds, of the first seven
// buckets. The eighth bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

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
