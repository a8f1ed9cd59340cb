package hardware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/LeonardoBeccarini/plantpi/internal/config"
)

// port is the subset of serial.Port the sensor uses.
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

type opener func(name string, baud int) (port, error)

func openSerial(name string, baud int) (port, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}

const maxLine = 64

// SerialSensor reads integer lines from an Arduino. The port stays open
// between reads; an I/O error closes it and the next read reopens it.
type SerialSensor struct {
	cfg   config.SerialConfig
	field string
	open  opener
	sleep func(time.Duration)
	lock  *deviceLock

	mu sync.Mutex
	p  port
}

// NewSerialSensor returns a sensor that reports its value under field.
func NewSerialSensor(cfg config.SerialConfig, field string) *SerialSensor {
	return &SerialSensor{
		cfg:   cfg,
		field: field,
		open:  openSerial,
		sleep: time.Sleep,
		lock:  newDeviceLock(cfg.LockFile),
	}
}

func (s *SerialSensor) Read(ctx context.Context) (map[string]float64, error) {
	release, err := s.lock.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	line, err := s.exchange()
	if errors.Is(err, ErrNoData) {
		return nil, fmt.Errorf("serial %s: %w", s.cfg.Port, err)
	}
	if err != nil {
		_ = s.p.Close()
		s.p = nil
		return nil, fmt.Errorf("serial %s: %w", s.cfg.Port, err)
	}
	v, ok := parseCount(line)
	if !ok {
		return nil, fmt.Errorf("serial %s: %w: unexpected line %q", s.cfg.Port, ErrNoData, line)
	}
	return map[string]float64{s.field: v}, nil
}

func (s *SerialSensor) ensureOpen() error {
	if s.p != nil {
		return nil
	}
	p, err := s.open(s.cfg.Port, s.cfg.Baud)
	if err != nil {
		return fmt.Errorf("serial %s: open: %w", s.cfg.Port, err)
	}
	if err := p.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		_ = p.Close()
		return fmt.Errorf("serial %s: read timeout: %w", s.cfg.Port, err)
	}
	// boards reset when the port opens
	if s.cfg.Settle > 0 {
		s.sleep(s.cfg.Settle)
	}
	s.p = p
	return nil
}

// exchange sends the request (if any) and reads one line. A read that
// times out with nothing buffered yields ErrNoData.
func (s *SerialSensor) exchange() ([]byte, error) {
	if s.cfg.Request != "" {
		if err := s.p.ResetInputBuffer(); err != nil {
			return nil, err
		}
		if _, err := s.p.Write([]byte(s.cfg.Request)); err != nil {
			return nil, err
		}
	}

	var line []byte
	buf := make([]byte, maxLine)
	for len(line) < maxLine {
		n, err := s.p.Read(buf[:maxLine-len(line)])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		line = append(line, buf[:n]...)
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			return bytes.TrimSpace(line[:i]), nil
		}
	}
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, ErrNoData
	}
	return bytes.TrimSpace(line), nil
}

// parseCount accepts unsigned decimal integers only.
func parseCount(line []byte) (float64, bool) {
	s := string(bytes.TrimSpace(line))
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return float64(n), true
}

func (s *SerialSensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p == nil {
		return nil
	}
	err := s.p.Close()
	s.p = nil
	return err
}
