// Package sensor opens byte streams from a knock sensor. The ESP32
// firmware prints one line per touch transition, either over USB serial
// or through a serial-to-TCP bridge such as ser2net.
package sensor

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bainblan/Whos-There/internal/config"
)

// DefaultBaudRate matches the sensor firmware's Serial.begin.
const DefaultBaudRate = 921600

// Dialer opens a fresh sensor stream. Closing the stream must unblock a
// pending Read.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// SerialDialer opens a local tty in raw 8N1 mode.
type SerialDialer struct {
	Device   string
	BaudRate int
}

// Dial opens and configures the device.
func (d SerialDialer) Dial(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	baud := d.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	return openSerial(d.Device, baud)
}

func (d SerialDialer) String() string {
	return fmt.Sprintf("serial:%s@%d", d.Device, d.BaudRate)
}

// TCPDialer connects to a serial-over-TCP bridge.
type TCPDialer struct {
	Address string
	Timeout time.Duration
}

// Dial connects to the bridge.
func (d TCPDialer) Dial(ctx context.Context) (io.ReadCloser, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d TCPDialer) String() string {
	return "tcp:" + d.Address
}

// NewDialer builds the dialer selected by cfg.Type.
func NewDialer(cfg config.SensorConfig) (Dialer, error) {
	switch cfg.Type {
	case "serial":
		return SerialDialer{Device: cfg.Device, BaudRate: cfg.BaudRate}, nil
	case "tcp":
		return TCPDialer{Address: cfg.Address, Timeout: config.Duration(cfg.DialTimeout)}, nil
	default:
		return nil, fmt.Errorf("unknown sensor type: %s", cfg.Type)
	}
}
