package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRouterSubscribesBeforeReturning(t *testing.T) {
	logger := watermill.NopLogger{}
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, logger)
	t.Cleanup(func() { _ = pubSub.Close() })

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	require.NoError(t, err)
	received := make(chan string, 1)
	router.AddNoPublisherHandler("notifications", "notifications", pubSub, func(msg *message.Message) error {
		received <- string(msg.Payload)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	routerErr, err := startRouter(ctx, router)
	require.NoError(t, err)
	assert.True(t, router.IsRunning())

	// gochannel drops messages published before a subscription exists.
	require.NoError(t, pubSub.Publish("notifications", message.NewMessage(watermill.NewUUID(), []byte("first"))))
	select {
	case payload := <-received:
		assert.Equal(t, "first", payload)
	case <-time.After(5 * time.Second):
		t.Fatal("message published right after start was not delivered")
	}

	require.NoError(t, router.Close())
	assert.NoError(t, <-routerErr)
}

func TestStartRouterReportsStartupFailure(t *testing.T) {
	router, err := message.NewRouter(message.RouterConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	router.AddPlugin(func(*message.Router) error { return errors.New("plugin failed") })

	_, err = startRouter(context.Background(), router)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin failed")
}
