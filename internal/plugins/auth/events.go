package auth

import "context"

// Lifecycle actions recorded for every account. Names follow "resource.verb".
const (
	ActionChallengeIssued        = "login.challenge_issued"
	ActionOTPVerified            = "otp.verified"
	ActionOTPRejected            = "otp.rejected"
	ActionSessionRefreshed       = "session.refreshed"
	ActionLogout                 = "session.logout"
	ActionPasswordReset          = "password.reset"
	ActionPasswordChanged        = "password.changed"
	ActionPasswordResetRequested = "password.reset_requested"
	ActionSetPasswordResent      = "set_password.resent"
	ActionSubjectInvited         = "subject.invited"
)

// Event is one lifecycle transition. Details never carry secrets.
type Event struct {
	Kind      Kind
	AccountID string
	Action    string
	RemoteIP  string
	Details   map[string]any
}

// EventRecorder receives lifecycle events. Record must not return an error
// to the caller; implementations log their own failures.
type EventRecorder interface {
	Record(ctx context.Context, e Event)
}

type clientIPKey struct{}

// WithClientIP stores the caller's IP in ctx so recorded events carry it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the IP stored by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
