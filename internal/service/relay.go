package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	apperrors "github.com/devicelocator/locator-relay/internal/errors"
	"github.com/devicelocator/locator-relay/internal/model"
	"github.com/devicelocator/locator-relay/internal/subscription"
)

const (
	RouteRoot   = "/"
	RouteLogin  = "/login"
	RouteLogout = "/logout"
	RouteMap    = "/map"
)

const (
	flashLoginFailed  = "Login failed, please try again. "
	flashStreamFailed = "Get stream failed, please try again."
)

type SubscriptionManager interface {
	Begin(sessionID string) *subscription.Subscription
	Authenticate(ctx context.Context, sub *subscription.Subscription, username, password string) (string, error)
	Subscribe(ctx context.Context, sub *subscription.Subscription, credential string) error
	Cancel(id string, reason model.EndReason) bool
}

type LoginResult struct {
	Redirect       string
	SubscriptionID string
	// Err is the authentication or stream failure surfaced through the flash
	// message, nil on success.
	Err error
}

type LogoutResult struct {
	Redirect  string
	Cancelled bool
	// Session and Token are set when a pending flash message was carried
	// into a fresh session.
	Session *model.Session
	Token   string
}

// RelayService runs the login pipeline: authenticate upstream, keep the
// credential in the session, subscribe to the device event stream.
type RelayService struct {
	manager        SubscriptionManager
	sessions       *SessionService
	cancelOnLogout bool
}

func NewRelayService(manager SubscriptionManager, sessions *SessionService, cancelOnLogout bool) *RelayService {
	return &RelayService{
		manager:        manager,
		sessions:       sessions,
		cancelOnLogout: cancelOnLogout,
	}
}

// Login returns an error only when the session cannot be persisted; upstream
// failures are reported through LoginResult.
func (s *RelayService) Login(ctx context.Context, session *model.Session, username, password string) (LoginResult, error) {
	sub := s.manager.Begin(session.ID)

	credential, err := s.manager.Authenticate(ctx, sub, username, password)
	if err != nil {
		session.FlashMessage = flashLoginFailed + failureReason(err)
		if saveErr := s.sessions.Save(ctx, session); saveErr != nil {
			return LoginResult{}, saveErr
		}
		return LoginResult{Redirect: RouteLogin, Err: err}, nil
	}

	session.AuthToken = credential
	if err := s.sessions.Save(ctx, session); err != nil {
		return LoginResult{}, err
	}

	if err := s.manager.Subscribe(ctx, sub, credential); err != nil {
		session.FlashMessage = flashStreamFailed + failureReason(err)
		if saveErr := s.sessions.Save(ctx, session); saveErr != nil {
			return LoginResult{}, saveErr
		}
		return LoginResult{Redirect: RouteLogout, Err: err}, nil
	}

	// A session drives at most one stream, whatever the policy between
	// sessions, so logout can always reach it.
	if previous := session.SubscriptionID; previous != "" && previous != sub.ID {
		if s.manager.Cancel(previous, model.EndReasonReplaced) {
			log.Info().
				Str("sessionId", session.ID).
				Str("subscriptionId", previous).
				Str("replacedBy", sub.ID).
				Msg("stopping previous subscription of session")
		}
	}

	session.SubscriptionID = sub.ID
	if err := s.sessions.Save(ctx, session); err != nil {
		return LoginResult{}, err
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("subscriptionId", sub.ID).
		Msg("login complete")

	return LoginResult{Redirect: RouteMap, SubscriptionID: sub.ID}, nil
}

func (s *RelayService) Logout(ctx context.Context, session *model.Session) (LogoutResult, error) {
	result := LogoutResult{Redirect: RouteRoot}

	if s.cancelOnLogout && session.SubscriptionID != "" {
		result.Cancelled = s.manager.Cancel(session.SubscriptionID, model.EndReasonLogout)
	}

	flash := session.FlashMessage
	if err := s.sessions.Destroy(ctx, session); err != nil {
		return result, err
	}

	if flash == "" {
		return result, nil
	}

	fresh, token, err := s.sessions.Start(ctx)
	if err != nil {
		return result, fmt.Errorf("carry flash message: %w", err)
	}
	fresh.FlashMessage = flash
	if err := s.sessions.Save(ctx, fresh); err != nil {
		return result, fmt.Errorf("carry flash message: %w", err)
	}

	result.Session = fresh
	result.Token = token
	return result, nil
}

func failureReason(err error) string {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}
