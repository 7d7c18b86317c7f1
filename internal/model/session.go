package model

import "time"

// Session is the per-browser state kept server side and addressed by the
// hash of the session cookie.
type Session struct {
	ID             string    `json:"id"`
	AuthToken      string    `json:"authToken,omitempty"`
	FlashMessage   string    `json:"flashMessage,omitempty"`
	SubscriptionID string    `json:"subscriptionId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (s *Session) Authenticated() bool {
	return s != nil && s.AuthToken != ""
}

// ConsumeFlash returns the pending flash message and clears it.
func (s *Session) ConsumeFlash() string {
	msg := s.FlashMessage
	s.FlashMessage = ""
	return msg
}
