package hardware

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	simFullScale   = 1023.0 // 10-bit ADC on the Arduino
	simDecayPerMin = 0.002  // soil dries by 0.2% of full scale per minute
	simWaterBelow  = 0.25   // someone waters the plant below this level
	simWateredTo   = 0.70
)

// SimMoisture models a probe in soil that slowly dries out and is watered
// now and then.
type SimMoisture struct {
	mu       sync.Mutex
	now      func() time.Time
	last     time.Time
	moisture float64 // [0..1]
	seeded   bool
}

func NewSimMoisture(now func() time.Time) *SimMoisture {
	if now == nil {
		now = time.Now
	}
	return &SimMoisture{now: now}
}

func (g *SimMoisture) Read(context.Context) (map[string]float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.seeded {
		g.moisture = simWateredTo
		g.last = now
		g.seeded = true
	}
	dtMin := math.Max(0, now.Sub(g.last).Minutes())
	g.moisture = clamp01(g.moisture - simDecayPerMin*dtMin)
	if g.moisture < simWaterBelow {
		g.moisture = simWateredTo
	}
	g.last = now
	return map[string]float64{"moisture": math.Round(g.moisture * simFullScale)}, nil
}

// SimEnvironment follows a daily cycle: warmest and brightest at 14:00.
type SimEnvironment struct {
	now func() time.Time
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimEnvironment(now func() time.Time, seed int64) *SimEnvironment {
	if now == nil {
		now = time.Now
	}
	return &SimEnvironment{now: now, rnd: rand.New(rand.NewSource(seed))}
}

func (s *SimEnvironment) phase() float64 {
	t := s.now()
	h := float64(t.Hour()) + float64(t.Minute())/60
	return math.Cos((h - 14) / 24 * 2 * math.Pi)
}

func (s *SimEnvironment) noise(scale float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (s.rnd.Float64()*2 - 1) * scale
}

// Climate returns a temperature/humidity sensor.
func (s *SimEnvironment) Climate() Sensor {
	return SensorFunc(func(context.Context) (map[string]float64, error) {
		p := s.phase()
		return map[string]float64{
			"temperature": round1(21 + 4*p + s.noise(0.3)),
			"humidity":    round1(55 - 10*p + s.noise(1)),
		}, nil
	})
}

// Light returns an LDR-like sensor in ADC counts.
func (s *SimEnvironment) Light() Sensor {
	return SensorFunc(func(context.Context) (map[string]float64, error) {
		v := math.Max(0, 900*s.phase()) + 40 + s.noise(10)
		return map[string]float64{"light": math.Round(math.Max(0, v))}, nil
	})
}

// SensorFunc adapts a function to Sensor.
type SensorFunc func(ctx context.Context) (map[string]float64, error)

func (f SensorFunc) Read(ctx context.Context) (map[string]float64, error) { return f(ctx) }

// SimCamera encodes a small solid-colour JPEG per capture.
type SimCamera struct {
	Width, Height int
}

func (c SimCamera) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h := c.Width, c.Height
	if w <= 0 || h <= 0 {
		w, h = 64, 48
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	green := color.RGBA{R: 40, G: 140, B: 60, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, green)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
