package station

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/plantpi/internal/model"
	"github.com/LeonardoBeccarini/plantpi/internal/model/messages"
	"github.com/LeonardoBeccarini/plantpi/pkg/dedup"
)

// Capturer is satisfied by *Station.
type Capturer interface {
	Capture(ctx context.Context, subject int) (model.CaptureResult, error)
}

// CommandHandler turns command/capture/{id} messages into captures.
// Redeliveries of the same message are dropped.
type CommandHandler struct {
	ctx   context.Context
	cap   Capturer
	dedup *dedup.Deduper
	log   zerolog.Logger

	wg sync.WaitGroup
}

func NewCommandHandler(ctx context.Context, c Capturer, d *dedup.Deduper, log zerolog.Logger) *CommandHandler {
	return &CommandHandler{ctx: ctx, cap: c, dedup: d, log: log}
}

// Handle has the mqttclient.Handler signature.
func (h *CommandHandler) Handle(topic string, msg mqtt.Message) error {
	if !h.dedup.ShouldProcess(dedup.KeyOf(append([]byte(msg.Topic()+"\n"), msg.Payload()...))) {
		h.log.Debug().Str("topic", msg.Topic()).Msg("duplicate command dropped")
		return nil
	}

	subject, err := commandSubject(msg.Topic(), msg.Payload())
	if err != nil {
		return err
	}

	// paho delivers on its own goroutine; do not block it for a capture
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		res, err := h.cap.Capture(h.ctx, subject)
		if err != nil {
			h.log.Warn().Err(err).Int("subject", subject).Str("topic", topic).Msg("capture command failed")
			return
		}
		h.log.Info().Int("subject", subject).Str("url", res.ImageURL).Msg("capture command done")
	}()
	return nil
}

// Wait blocks until every capture started by Handle has returned.
func (h *CommandHandler) Wait() { h.wg.Wait() }

// commandSubject prefers the subject in the payload and falls back to the
// last topic segment.
func commandSubject(topic string, payload []byte) (int, error) {
	var cmd messages.CaptureCommand
	if len(strings.TrimSpace(string(payload))) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return 0, fmt.Errorf("capture command on %s: %w", topic, err)
		}
	}
	if cmd.Subject > 0 {
		return cmd.Subject, nil
	}
	last := topic[strings.LastIndex(topic, "/")+1:]
	id, err := strconv.Atoi(last)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("capture command on %s: no plant id", topic)
	}
	return id, nil
}
