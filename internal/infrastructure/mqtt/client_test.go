package mqtt

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// disconnectedClient returns a client that was never connected. Validation
// paths must fail fast without touching the network.
func disconnectedClient() *Client {
	return &Client{subscriptions: make(map[string]subscription)}
}

func TestPublish_Validation(t *testing.T) {
	c := disconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 0, ErrInvalidTopic},
		{"invalid qos", "devices/ctrl-001/telemetry", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "devices/ctrl-001/telemetry", []byte(strings.Repeat("x", maxPayloadSize+1)), 0, ErrPublishFailed},
		{"not connected", "devices/ctrl-001/telemetry", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := disconnectedClient()
	handler := func(_ string, _ []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 0, handler, ErrInvalidTopic},
		{"invalid qos", "devices/+/telemetry", 5, handler, ErrInvalidQoS},
		{"nil handler", "devices/+/telemetry", 1, nil, ErrSubscribeFailed},
		{"not connected", "devices/+/telemetry", 1, handler, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	c := disconnectedClient()

	tests := []struct {
		name    string
		topic   string
		wantErr error
	}{
		{"empty topic", "", ErrInvalidTopic},
		{"not connected", "devices/+/telemetry", ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Unsubscribe(tt.topic)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Unsubscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscriptionTracking(t *testing.T) {
	c := disconnectedClient()

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
	if c.HasSubscription("devices/+/telemetry") {
		t.Error("HasSubscription() should be false before subscribing")
	}
}

func TestHealthCheck(t *testing.T) {
	c := disconnectedClient()

	t.Run("disconnected", func(t *testing.T) {
		if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
			t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
		}
	})
}
