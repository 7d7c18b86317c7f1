package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/devicelocator/locator-relay/internal/config"
	apperrors "github.com/devicelocator/locator-relay/internal/errors"
	"github.com/devicelocator/locator-relay/internal/metrics"
	"github.com/devicelocator/locator-relay/internal/model"
	"github.com/devicelocator/locator-relay/internal/particle"
	"github.com/devicelocator/locator-relay/internal/relay"
)

const ledgerTimeout = 5 * time.Second

type Upstream interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
	OpenEventStream(ctx context.Context, deviceSelector, credential string) (particle.EventStream, error)
}

// Sink receives transformed messages. The push registry is the production
// sink.
type Sink interface {
	Send(message any) bool
}

// Ledger records subscription lifecycles. Optional.
type Ledger interface {
	Create(ctx context.Context, params model.CreateSubscriptionRecordParams) error
	MarkEnded(ctx context.Context, params model.EndSubscriptionRecordParams) error
}

type Options struct {
	DeviceSelector    string
	AuthTimeout       time.Duration
	StreamOpenTimeout time.Duration
	Policy            string
}

type Manager struct {
	upstream    Upstream
	transformer *relay.Transformer
	sink        Sink
	ledger      Ledger
	opts        Options

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]*Subscription
	wg     sync.WaitGroup
}

func NewManager(upstream Upstream, transformer *relay.Transformer, sink Sink, ledger Ledger, opts Options) *Manager {
	if opts.DeviceSelector == "" {
		opts.DeviceSelector = config.DeviceSelectorMine
	}
	if opts.Policy == "" {
		opts.Policy = config.PolicyReplace
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		upstream:    upstream,
		transformer: transformer,
		sink:        sink,
		ledger:      ledger,
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
		active:      make(map[string]*Subscription),
	}
}

// Begin starts a login attempt in the idle state.
func (m *Manager) Begin(sessionID string) *Subscription {
	return &Subscription{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StartedAt: time.Now(),
		state:     model.SubscriptionStateIdle,
		done:      make(chan struct{}),
	}
}

// Authenticate exchanges credentials upstream, bounded by AuthTimeout.
func (m *Manager) Authenticate(ctx context.Context, sub *Subscription, username, password string) (string, error) {
	if err := sub.transition(model.SubscriptionStateIdle, model.SubscriptionStateAuthenticating); err != nil {
		return "", apperrors.Internal("login attempt already used").WithCause(err)
	}

	authCtx, cancel := context.WithTimeout(ctx, m.opts.AuthTimeout)
	defer cancel()

	credential, err := m.upstream.Authenticate(authCtx, username, password)
	if err == nil && credential == "" {
		err = apperrors.AuthFailed("empty credential")
	}
	if err != nil {
		err = classifyAuthError(authCtx, err)
		sub.fail(err)
		log.Warn().Err(err).Str("subscriptionId", sub.ID).Msg("authentication failed")
		return "", err
	}

	log.Info().Str("subscriptionId", sub.ID).Msg("authenticated, opening event stream")
	return credential, nil
}

// Subscribe opens the event stream and starts delivery in the background.
// It returns once the stream is open or has failed to open; events are then
// forwarded independently of the calling request.
func (m *Manager) Subscribe(ctx context.Context, sub *Subscription, credential string) error {
	if sub.State() != model.SubscriptionStateAuthenticating {
		return apperrors.Internal("subscription is not authenticating")
	}

	if m.opts.Policy == config.PolicyReject && m.ActiveCount() > 0 {
		err := apperrors.SubscriptionActive()
		sub.fail(err)
		return err
	}

	streamCtx, streamCancel := context.WithCancel(m.ctx)
	timer := time.AfterFunc(m.opts.StreamOpenTimeout, streamCancel)
	stopOnRequestEnd := context.AfterFunc(ctx, streamCancel)

	stream, err := m.upstream.OpenEventStream(streamCtx, m.opts.DeviceSelector, credential)
	timedOut := !timer.Stop()
	stopOnRequestEnd()

	if err == nil && streamCtx.Err() != nil {
		stream.Close()
		err = streamCtx.Err()
	}
	if err != nil {
		streamCancel()
		err = classifyStreamError(timedOut, err)
		sub.fail(err)
		log.Warn().Err(err).Str("subscriptionId", sub.ID).Msg("event stream open failed")
		return err
	}

	replaced, err := m.register(sub, streamCancel)
	if err != nil {
		stream.Close()
		streamCancel()
		sub.fail(err)
		return err
	}

	for _, old := range replaced {
		log.Info().
			Str("subscriptionId", old.ID).
			Str("replacedBy", sub.ID).
			Msg("stopping superseded subscription")
		old.stop(model.EndReasonReplaced)
	}

	m.recordStart(sub)

	log.Info().
		Str("subscriptionId", sub.ID).
		Str("deviceSelector", m.opts.DeviceSelector).
		Str("eventPrefix", m.transformer.Prefix()).
		Msg("event stream subscribed")

	go m.deliver(streamCtx, sub, stream)
	return nil
}

func (m *Manager) register(sub *Subscription, cancel context.CancelFunc) ([]*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return nil, apperrors.StreamOpenFailed("relay is shutting down")
	}

	var replaced []*Subscription
	switch m.opts.Policy {
	case config.PolicyReject:
		if len(m.active) > 0 {
			return nil, apperrors.SubscriptionActive()
		}
	case config.PolicyReplace:
		for _, other := range m.active {
			replaced = append(replaced, other)
		}
	}

	if err := sub.subscribed(cancel); err != nil {
		return nil, apperrors.Internal("subscription state changed during open").WithCause(err)
	}
	m.active[sub.ID] = sub
	m.wg.Add(1)
	metrics.ActiveSubscriptions.Set(float64(len(m.active)))
	return replaced, nil
}

func (m *Manager) deliver(ctx context.Context, sub *Subscription, stream particle.EventStream) {
	defer m.wg.Done()
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			m.finish(sub, model.EndReasonShutdown, nil)
			return

		case event, ok := <-stream.Events():
			if !ok {
				streamErr := stream.Err()
				reason := model.EndReasonStreamClosed
				if !particle.Ended(streamErr) {
					reason = model.EndReasonStreamError
				}
				m.finish(sub, reason, streamErr)
				return
			}
			m.handle(sub, event)
		}
	}
}

func (m *Manager) handle(sub *Subscription, event model.TelemetryEvent) {
	sub.received.Add(1)
	metrics.EventsReceived.Inc()

	msg, err := m.transformer.Transform(event)
	if err != nil {
		metrics.EventsDropped.WithLabelValues(metrics.DropMalformed).Inc()
		log.Warn().
			Err(err).
			Str("subscriptionId", sub.ID).
			Str("event", event.Name).
			Str("data", event.Data).
			Msg("dropping malformed telemetry")
		return
	}
	if msg == nil {
		metrics.EventsDropped.WithLabelValues(metrics.DropFiltered).Inc()
		log.Debug().Str("subscriptionId", sub.ID).Str("event", event.Name).Msg("event filtered")
		return
	}

	if m.sink.Send(*msg) {
		sub.forwarded.Add(1)
	}
}

func (m *Manager) finish(sub *Subscription, reason model.EndReason, streamErr error) {
	m.mu.Lock()
	delete(m.active, sub.ID)
	metrics.ActiveSubscriptions.Set(float64(len(m.active)))
	m.mu.Unlock()

	sub.end(reason)

	logEvent := log.Info()
	if streamErr != nil && !particle.Ended(streamErr) && !errors.Is(streamErr, context.Canceled) {
		logEvent = log.Warn().Err(streamErr)
	}
	logEvent.
		Str("subscriptionId", sub.ID).
		Str("reason", string(sub.EndReason())).
		Int64("received", sub.Received()).
		Int64("forwarded", sub.Forwarded()).
		Msg("event stream ended")

	m.recordEnd(sub)
}

func (m *Manager) recordStart(sub *Subscription) {
	if m.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	err := m.ledger.Create(ctx, model.CreateSubscriptionRecordParams{
		ID:             sub.ID,
		SessionID:      sub.SessionID,
		DeviceSelector: m.opts.DeviceSelector,
		EventPrefix:    m.transformer.Prefix(),
	})
	if err != nil {
		log.Error().Err(err).Str("subscriptionId", sub.ID).Msg("failed to record subscription start")
	}
}

func (m *Manager) recordEnd(sub *Subscription) {
	if m.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	err := m.ledger.MarkEnded(ctx, model.EndSubscriptionRecordParams{
		ID:              sub.ID,
		Reason:          sub.EndReason(),
		EventsReceived:  sub.Received(),
		EventsForwarded: sub.Forwarded(),
	})
	if err != nil {
		log.Error().Err(err).Str("subscriptionId", sub.ID).Msg("failed to record subscription end")
	}
}

// Cancel stops an active subscription. It returns false when id is not
// delivering.
func (m *Manager) Cancel(id string, reason model.EndReason) bool {
	m.mu.Lock()
	sub, ok := m.active[id]
	m.mu.Unlock()

	if !ok {
		return false
	}
	sub.stop(reason)
	return true
}

func (m *Manager) Get(id string) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[id]
}

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) Policy() string {
	return m.opts.Policy
}

// Close stops every subscription and waits for delivery loops to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.active))
	for _, sub := range m.active {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.stop(model.EndReasonShutdown)
	}
	m.cancel()
	m.wg.Wait()
}

func classifyAuthError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.AuthTimeout().WithCause(err)
	}
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.AuthFailed("device cloud unreachable").WithCause(err)
}

func classifyStreamError(timedOut bool, err error) error {
	if timedOut {
		return apperrors.StreamOpenTimeout().WithCause(err)
	}
	if apperrors.IsAppError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return apperrors.StreamOpenFailed("login request cancelled").WithCause(err)
	}
	return apperrors.StreamOpenFailed("device cloud unreachable").WithCause(err)
}
