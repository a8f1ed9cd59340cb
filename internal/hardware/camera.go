package hardware

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandCamera runs a still-capture command that writes one JPEG to
// stdout, e.g. libcamera-jpeg -n -t 500 -o -.
type CommandCamera struct {
	argv    []string
	timeout time.Duration
	lock    *deviceLock
}

func NewCommandCamera(argv []string, lockFile string, timeout time.Duration) *CommandCamera {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CommandCamera{argv: argv, timeout: timeout, lock: newDeviceLock(lockFile)}
}

func (c *CommandCamera) Capture(ctx context.Context) ([]byte, error) {
	if len(c.argv) == 0 {
		return nil, fmt.Errorf("camera: no command configured")
	}
	release, err := c.lock.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("camera: %s: %w: %s", c.argv[0], err, strings.TrimSpace(stderr.String()))
	}

	frame := stdout.Bytes()
	if !isJPEG(frame) {
		return nil, fmt.Errorf("camera: %s returned %d bytes that are not a JPEG", c.argv[0], len(frame))
	}
	return frame, nil
}

func isJPEG(b []byte) bool {
	return len(b) > 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF
}
