package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/plantpi/internal/model"
	"github.com/LeonardoBeccarini/plantpi/internal/model/messages"
)

// Publisher is satisfied by mqttclient.Publisher.
type Publisher interface {
	PublishTo(ctx context.Context, topic string, payload []byte) error
}

// MQTTSink publishes a ReadingEnvelope to <prefix>/<stream>.
type MQTTSink struct {
	pub    Publisher
	prefix string
}

func NewMQTTSink(pub Publisher, topicPrefix string) *MQTTSink {
	return &MQTTSink{pub: pub, prefix: strings.TrimSuffix(topicPrefix, "/")}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Topic(stream string) string { return s.prefix + "/" + stream }

func (s *MQTTSink) Write(ctx context.Context, r model.Reading) error {
	env := messages.ReadingEnvelope{
		ID:     uuid.NewString(),
		Stream: r.Stream,
		RowKey: r.RowKey(),
		Fields: r.Fields,
		Time:   r.Time.UTC(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("mqtt encode %s: %w", r.Stream, err)
	}
	if err := s.pub.PublishTo(ctx, s.Topic(r.Stream), payload); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", r.Stream, err)
	}
	return nil
}
