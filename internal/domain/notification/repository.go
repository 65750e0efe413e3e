package notification

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_sink.go -package=mocks . Sink,SSEHub,Publisher

import (
	"context"

	"github.com/google/uuid"
)

// Sink is the fire-and-forget notification capability. Implementations log
// delivery failures and never return them to the caller.
type Sink interface {
	NotifyUser(ctx context.Context, userID uuid.UUID, event string, payload any)
	NotifyGlobal(ctx context.Context, event string, payload any)
}

// SSEHub defines the interface for managing SSE connections
type SSEHub interface {
	Register(client *SSEClient)
	Unregister(clientID string)
	GetClientCount() int
	BroadcastToAll(message *Message)
	BroadcastToUser(userID string, message *Message)
	Stop()
}

// Publisher pushes messages to other processes.
type Publisher interface {
	Publish(ctx context.Context, message *Message) error
}
