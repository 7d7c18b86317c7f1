package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devicelocator/locator-relay/internal/model"
	"github.com/devicelocator/locator-relay/internal/repository"
	"github.com/devicelocator/locator-relay/internal/util"
)

// SessionService maps browser cookie tokens to stored sessions. The cookie
// carries a random token; the store is keyed by its HMAC so a leaked store
// does not yield usable cookies.
type SessionService struct {
	repo   repository.SessionRepository
	secret string
}

func NewSessionService(repo repository.SessionRepository, secret string) *SessionService {
	return &SessionService{repo: repo, secret: secret}
}

func (s *SessionService) sessionID(token string) string {
	return util.HmacSHA256(s.secret, token)
}

// Load returns the session for a cookie token, or nil when none exists.
func (s *SessionService) Load(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}
	session, err := s.repo.Find(ctx, s.sessionID(token))
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return session, nil
}

// Start creates and stores a fresh session, returning it with the cookie
// token that addresses it.
func (s *SessionService) Start(ctx context.Context) (*model.Session, string, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}

	session := &model.Session{
		ID:        s.sessionID(token),
		CreatedAt: time.Now(),
	}
	if err := s.repo.Save(ctx, session); err != nil {
		return nil, "", fmt.Errorf("save session: %w", err)
	}

	log.Debug().Str("sessionId", session.ID).Msg("session created")
	return session, token, nil
}

func (s *SessionService) Save(ctx context.Context, session *model.Session) error {
	if err := s.repo.Save(ctx, session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SessionService) Destroy(ctx context.Context, session *model.Session) error {
	if err := s.repo.Delete(ctx, session.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
