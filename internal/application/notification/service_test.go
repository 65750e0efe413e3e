package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainNotification "github.com/execution-hub/ledger-sync/internal/domain/notification"
	notificationMocks "github.com/execution-hub/ledger-sync/internal/domain/notification/mocks"
)

func TestNotifyUserFansOut(t *testing.T) {
	ctrl := gomock.NewController(t)
	hub := notificationMocks.NewMockSSEHub(ctrl)
	publisher := notificationMocks.NewMockPublisher(ctrl)
	svc := NewService(hub, publisher, zerolog.Nop())
	userID := uuid.New()

	hub.EXPECT().
		BroadcastToUser(userID.String(), gomock.Any()).
		Do(func(_ string, msg *domainNotification.Message) {
			assert.Equal(t, domainNotification.EventRewardAvailable, msg.Event)
			require.NotNil(t, msg.UserID)
			assert.Equal(t, userID, *msg.UserID)
			var body map[string]string
			require.NoError(t, json.Unmarshal(msg.Data, &body))
			assert.Equal(t, "12.50", body["amount"])
		})
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	svc.NotifyUser(context.Background(), userID, domainNotification.EventRewardAvailable, map[string]string{"amount": "12.50"})
	svc.Close()
}

func TestNotifyGlobalSwallowsPublishErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	hub := notificationMocks.NewMockSSEHub(ctrl)
	publisher := notificationMocks.NewMockPublisher(ctrl)
	svc := NewService(hub, publisher, zerolog.Nop())

	hub.EXPECT().BroadcastToAll(gomock.Any())
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("redis down"))

	ctx, cancel := context.WithCancel(context.Background())
	svc.NotifyGlobal(ctx, domainNotification.EventAlert, map[string]int{"failedEvents": 7})
	cancel()
	svc.Close()
}

func TestNotifyWithoutPublisher(t *testing.T) {
	ctrl := gomock.NewController(t)
	hub := notificationMocks.NewMockSSEHub(ctrl)
	svc := NewService(hub, nil, zerolog.Nop())

	hub.EXPECT().BroadcastToAll(gomock.Any())

	svc.NotifyGlobal(context.Background(), domainNotification.EventStatisticsReport, struct{}{})
	svc.Close()
}

func TestNotifyDropsUnencodablePayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	hub := notificationMocks.NewMockSSEHub(ctrl)
	svc := NewService(hub, nil, zerolog.Nop())

	svc.NotifyGlobal(context.Background(), domainNotification.EventAlert, make(chan int))
	svc.Close()
}
