package subscription

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devicelocator/locator-relay/internal/model"
)

// Subscription is one login attempt and, once subscribed, the upstream
// stream it drives into the push registry.
type Subscription struct {
	ID        string
	SessionID string
	StartedAt time.Time

	mu         sync.Mutex
	state      model.SubscriptionState
	err        error
	endReason  model.EndReason
	stopReason model.EndReason
	cancel     context.CancelFunc
	done       chan struct{}

	received  atomic.Int64
	forwarded atomic.Int64
}

func (s *Subscription) State() model.SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the failure that moved the subscription to failed, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) EndReason() model.EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// Done is closed when the subscription reaches a terminal state.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Received() int64 {
	return s.received.Load()
}

func (s *Subscription) Forwarded() int64 {
	return s.forwarded.Load()
}

func (s *Subscription) transition(from, to model.SubscriptionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("subscription %s: cannot move to %s from %s", s.ID, to, s.state)
	}
	s.state = to
	return nil
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = model.SubscriptionStateFailed
	s.err = err
	close(s.done)
}

func (s *Subscription) subscribed(cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.SubscriptionStateAuthenticating {
		return fmt.Errorf("subscription %s: cannot subscribe from %s", s.ID, s.state)
	}
	s.state = model.SubscriptionStateSubscribed
	s.cancel = cancel
	return nil
}

// stop asks the delivery loop to end. The first reason wins.
func (s *Subscription) stop(reason model.EndReason) {
	s.mu.Lock()
	if s.stopReason == "" {
		s.stopReason = reason
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Subscription) end(reason model.EndReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	if s.stopReason != "" {
		reason = s.stopReason
	}
	s.state = model.SubscriptionStateEnded
	s.endReason = reason
	close(s.done)
}
