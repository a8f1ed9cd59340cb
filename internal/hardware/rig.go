package hardware

import (
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/plantpi/internal/config"
)

// Rig is the set of devices attached to one station. Moisture is keyed by
// plant id; Light may be nil when no LDR is wired.
type Rig struct {
	Camera   Camera
	Climate  Sensor
	Light    Sensor
	Moisture map[int]Sensor
}

// Build creates the drivers for cfg.Driver ("pi" or "sim"). subjects lists
// the plants that get a simulated probe.
func Build(cfg config.HardwareConfig, subjects []int) (*Rig, error) {
	switch cfg.Driver {
	case "sim":
		env := NewSimEnvironment(time.Now, time.Now().UnixNano())
		rig := &Rig{
			Camera:   SimCamera{},
			Climate:  env.Climate(),
			Light:    env.Light(),
			Moisture: make(map[int]Sensor, len(subjects)),
		}
		for _, id := range subjects {
			rig.Moisture[id] = NewSimMoisture(time.Now)
		}
		return rig, nil

	case "pi":
		rig := &Rig{
			Camera:   NewCommandCamera(cfg.Camera.Command, cfg.Camera.LockFile, cfg.Camera.Timeout),
			Climate:  NewDHT(cfg.DHT.Device),
			Moisture: make(map[int]Sensor, len(cfg.Moisture)),
		}
		if cfg.Light != nil {
			rig.Light = NewSerialSensor(*cfg.Light, "light")
		}
		for _, probe := range cfg.Moisture {
			rig.Moisture[probe.Subject] = NewSerialSensor(probe.Serial, "moisture")
		}
		return rig, nil

	default:
		return nil, fmt.Errorf("unsupported hardware driver: %s", cfg.Driver)
	}
}

// Close releases serial ports.
func (r *Rig) Close() error {
	var first error
	closeIt := func(s Sensor) {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	closeIt(r.Light)
	for _, s := range r.Moisture {
		closeIt(s)
	}
	return first
}
