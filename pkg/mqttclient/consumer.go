package mqttclient

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Handler processes one message. A returned error is logged; the message
// is not redelivered.
type Handler func(topic string, msg mqtt.Message) error

// Consumer subscribes one topic filter.
type Consumer struct {
	client  mqtt.Client
	topic   string
	qos     byte
	handler Handler
	log     zerolog.Logger
}

func NewConsumer(client mqtt.Client, topic string, qos byte, log zerolog.Logger) *Consumer {
	return &Consumer{client: client, topic: topic, qos: qos, log: log}
}

func (c *Consumer) SetHandler(h Handler) { c.handler = h }

// ConsumeMessage subscribes and blocks until ctx is done, then
// unsubscribes.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consume %s: no handler set", c.topic)
	}
	token := c.client.Subscribe(c.topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := c.handler(msg.Topic(), msg); err != nil {
			c.log.Error().Err(err).Str("topic", msg.Topic()).Msg("error handling message")
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, token.Error())
	}
	c.log.Info().Str("topic", c.topic).Msg("subscribed")

	<-ctx.Done()

	c.client.Unsubscribe(c.topic).Wait()
	return nil
}
