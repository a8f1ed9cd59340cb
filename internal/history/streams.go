package history

import (
	"fmt"

	"github.com/LeonardoBeccarini/plantpi/internal/model"
)

// Streams is the registry of configured streams.
type Streams struct {
	byKey map[string]model.StreamConfig
	order []string
}

func NewStreams(cfgs []model.StreamConfig) *Streams {
	s := &Streams{byKey: make(map[string]model.StreamConfig, len(cfgs))}
	for _, c := range cfgs {
		if _, dup := s.byKey[c.Key]; !dup {
			s.order = append(s.order, c.Key)
		}
		s.byKey[c.Key] = c
	}
	return s
}

func (s *Streams) Get(key string) (model.StreamConfig, bool) {
	c, ok := s.byKey[key]
	return c, ok
}

// Resolve accepts a stream key ("Plant2-Moisture") or a kind name
// ("temperature", "light", "moisture" with a subject). Kind names match
// the first configured stream of that kind.
func (s *Streams) Resolve(name string, subject int) (model.StreamConfig, error) {
	if c, ok := s.byKey[name]; ok {
		return c, nil
	}
	kind := model.StreamKind(name)
	for _, key := range s.order {
		c := s.byKey[key]
		if c.Kind != kind {
			continue
		}
		if kind == model.KindMoisture && c.Subject != subject {
			continue
		}
		return c, nil
	}
	if kind == model.KindMoisture {
		return model.StreamConfig{}, fmt.Errorf("%w: moisture for plant %d", ErrUnknownStream, subject)
	}
	return model.StreamConfig{}, fmt.Errorf("%w: %s", ErrUnknownStream, name)
}

// All returns the streams in configuration order.
func (s *Streams) All() []model.StreamConfig {
	out := make([]model.StreamConfig, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k])
	}
	return out
}
