package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/execution-hub/ledger-sync/internal/domain/notification"
)

const (
	channelPrefix = "ledger-sync"
	GlobalChannel = channelPrefix + ":global"
)

// Publisher fans notifications out to other processes over pub/sub.
type Publisher struct {
	client goredis.UniversalClient
}

func NewPublisher(client goredis.UniversalClient) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, message *notification.Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(message), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Channel is the pub/sub channel a message is published on.
func Channel(message *notification.Message) string {
	if message.UserID != nil {
		return fmt.Sprintf("%s:user:%s", channelPrefix, message.UserID.String())
	}
	return GlobalChannel
}
