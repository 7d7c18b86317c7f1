package model

type SubscriptionState string

const (
	SubscriptionStateIdle           SubscriptionState = "idle"
	SubscriptionStateAuthenticating SubscriptionState = "authenticating"
	SubscriptionStateSubscribed     SubscriptionState = "subscribed"
	SubscriptionStateFailed         SubscriptionState = "failed"
	SubscriptionStateEnded          SubscriptionState = "ended"
)

// Terminal reports whether no further transitions are possible.
func (s SubscriptionState) Terminal() bool {
	return s == SubscriptionStateFailed || s == SubscriptionStateEnded
}

type EndReason string

const (
	EndReasonStreamClosed EndReason = "stream_closed"
	EndReasonStreamError  EndReason = "stream_error"
	EndReasonLogout       EndReason = "logout"
	EndReasonReplaced     EndReason = "replaced"
	EndReasonShutdown     EndReason = "shutdown"
)
