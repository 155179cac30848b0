// Package transports provides the physical links a hand session runs
// over: the CDC-ACM serial port the hand enumerates as, USB discovery,
// and an in-memory mock for tests.
package transports

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// handPortMode is the line coding requested at open. The hand's CDC-ACM
// endpoint ignores it, but USB-serial adapters in the path may not.
var handPortMode = &serial.Mode{
	BaudRate: 1000000,
	DataBits: 8,
	Parity:   serial.NoParity,
	StopBits: serial.OneStopBit,
}

const (
	defaultReadTimeout = time.Second

	// Flush limits. A device left in proactive-report mode streams
	// continuously, so the drain must be bounded to terminate.
	flushPollTimeout = 10 * time.Millisecond
	flushByteLimit   = 64 * 1024
)

// SerialConfig selects the hand's serial endpoint. An empty Port asks
// for USB discovery by vendor identity instead of an explicit path.
type SerialConfig struct {
	Port string

	// VID, PID and SerialNumber filter USB discovery when Port is
	// empty. VID is required for discovery; zero PID and empty
	// SerialNumber match any unit.
	VID          uint16
	PID          uint16
	SerialNumber string

	// Timeout is the initial read timeout. Default is 1 second.
	Timeout time.Duration
}

// SerialTransport is a session transport over the hand's serial port.
type SerialTransport struct {
	port     serial.Port
	portName string
	timeout  time.Duration
}

// OpenSerial opens the configured port, discovering it over USB first
// when no explicit path is given.
func OpenSerial(cfg SerialConfig) (*SerialTransport, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultReadTimeout
	}

	portName := cfg.Port
	if portName == "" {
		devices, err := Scan(ScanConfig{
			VID:          cfg.VID,
			PID:          cfg.PID,
			SerialNumber: cfg.SerialNumber,
		})
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			return nil, fmt.Errorf("no device found (vid=0x%04X)", cfg.VID)
		}
		portName = devices[0].Port
	}

	port, err := serial.Open(portName, handPortMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &SerialTransport{
		port:     port,
		portName: portName,
		timeout:  cfg.Timeout,
	}, nil
}

func (t *SerialTransport) Read(p []byte) (int, error) {
	return t.port.Read(p)
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *SerialTransport) Close() error {
	return t.port.Close()
}

func (t *SerialTransport) SetReadTimeout(timeout time.Duration) error {
	t.timeout = timeout
	return t.port.SetReadTimeout(timeout)
}

// Flush drains whatever the device pushed while nobody was reading,
// then restores the configured read timeout. The drain stops at the
// byte limit so a streaming device cannot pin it forever.
func (t *SerialTransport) Flush() error {
	if err := t.port.SetReadTimeout(flushPollTimeout); err != nil {
		return err
	}
	defer t.port.SetReadTimeout(t.timeout)

	buf := make([]byte, 4096)
	for drained := 0; drained < flushByteLimit; {
		n, err := t.port.Read(buf)
		if n == 0 || err != nil {
			break
		}
		drained += n
	}
	return nil
}

// PortName returns the serial port name.
func (t *SerialTransport) PortName() string {
	return t.portName
}
