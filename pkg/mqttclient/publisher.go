package mqttclient

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher sends payloads on arbitrary topics of one client.
type Publisher struct {
	client mqtt.Client
	qos    byte
}

func NewPublisher(client mqtt.Client, qos byte) *Publisher {
	return &Publisher{client: client, qos: qos}
}

// PublishTo waits for the broker until ctx is done; without a deadline it
// waits at most 10s.
func (p *Publisher) PublishTo(ctx context.Context, topic string, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("publish %s: not connected", topic)
	}
	token := p.client.Publish(topic, p.qos, false, payload)

	wait := 10 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		wait = time.Until(dl)
	}
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	case <-time.After(wait):
		return fmt.Errorf("publish %s: timed out after %s", topic, wait)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
