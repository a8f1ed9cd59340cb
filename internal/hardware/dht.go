package hardware

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DHT reads a DHT22 through the kernel dht11 IIO driver
// (dtoverlay=dht11). Values are exposed in milli-units.
type DHT struct {
	dir  string
	lock *deviceLock
}

func NewDHT(device string) *DHT {
	return &DHT{dir: device, lock: newDeviceLock("")}
}

func (d *DHT) Read(ctx context.Context) (map[string]float64, error) {
	release, err := d.lock.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	temp, err := readMilli(filepath.Join(d.dir, "in_temp_input"))
	if err != nil {
		return nil, err
	}
	hum, err := readMilli(filepath.Join(d.dir, "in_humidityrelative_input"))
	if err != nil {
		return nil, err
	}
	return map[string]float64{
		"temperature": round1(temp),
		"humidity":    round1(hum),
	}, nil
}

// readMilli maps the driver's transient EIO/ETIMEDOUT (a missed bus
// handshake) to ErrNoData.
func readMilli(path string) (float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("dht: %w", err)
		}
		return 0, fmt.Errorf("dht: %s: %w: %v", filepath.Base(path), ErrNoData, err)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dht: %s: %w: %q", filepath.Base(path), ErrNoData, raw)
	}
	return float64(n) / 1000, nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
