package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domainNotification "github.com/execution-hub/ledger-sync/internal/domain/notification"
)

const defaultPublishTimeout = 5 * time.Second

// Service delivers engine notifications to local SSE subscribers and, when a
// publisher is configured, to other processes.
type Service struct {
	hub            domainNotification.SSEHub
	publisher      domainNotification.Publisher
	publishTimeout time.Duration
	logger         zerolog.Logger
	wg             sync.WaitGroup
}

// NewService creates a notification service. publisher may be nil.
func NewService(hub domainNotification.SSEHub, publisher domainNotification.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		hub:            hub,
		publisher:      publisher,
		publishTimeout: defaultPublishTimeout,
		logger:         logger.With().Str("service", "notification").Logger(),
	}
}

// NotifyUser sends an event to one user's subscribers.
func (s *Service) NotifyUser(ctx context.Context, userID uuid.UUID, event string, payload any) {
	msg, ok := s.message(event, &userID, payload)
	if !ok {
		return
	}
	s.hub.BroadcastToUser(userID.String(), msg)
	s.publish(ctx, msg)
}

// NotifyGlobal sends an event to every subscriber.
func (s *Service) NotifyGlobal(ctx context.Context, event string, payload any) {
	msg, ok := s.message(event, nil, payload)
	if !ok {
		return
	}
	s.hub.BroadcastToAll(msg)
	s.publish(ctx, msg)
}

// Close waits for in-flight publishes.
func (s *Service) Close() {
	s.wg.Wait()
}

func (s *Service) message(event string, userID *uuid.UUID, payload any) (*domainNotification.Message, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("failed to encode notification payload")
		return nil, false
	}
	return domainNotification.NewMessage(event, userID, data), true
}

func (s *Service) publish(ctx context.Context, msg *domainNotification.Message) {
	if s.publisher == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
		defer cancel()
		if err := s.publisher.Publish(pubCtx, msg); err != nil {
			s.logger.Warn().
				Err(err).
				Str("event", msg.Event).
				Str("message_id", msg.ID).
				Msg("failed to publish notification")
		}
	}()
}
