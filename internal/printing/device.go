package printing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var ErrPrinterUnavailable = errors.New("printer unavailable")

const (
	DefaultDeviceTimeout = 5 * time.Second
	probeTimeout         = 2 * time.Second
)

// DLE EOT 1 asks for the printer status byte.
var cmdStatusRequest = []byte{0x10, 0x04, 0x01}

const (
	statusFixedMask = 0x93
	statusFixedBits = 0x12
	statusOffline   = 0x08
)

// Device is a directly attached printer.
type Device interface {
	Probe(ctx context.Context) error
	Print(ctx context.Context, data []byte) error
}

// TCPDevice talks to a network printer on its raw port, usually 9100.
type TCPDevice struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

func NewTCPDevice(addr string, timeout time.Duration) *TCPDevice {
	if timeout <= 0 {
		timeout = DefaultDeviceTimeout
	}
	return &TCPDevice{addr: addr, timeout: timeout}
}

func (d *TCPDevice) Addr() string {
	return d.addr
}

// Probe reports ErrPrinterUnavailable unless the printer answers the
// status request and says it is online.
func (d *TCPDevice) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, err := d.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write(cmdStatusRequest); err != nil {
		return fmt.Errorf("%w: status request: %v", ErrPrinterUnavailable, err)
	}
	status := make([]byte, 1)
	if _, err := conn.Read(status); err != nil {
		return fmt.Errorf("%w: status response: %v", ErrPrinterUnavailable, err)
	}
	if status[0]&statusFixedMask != statusFixedBits {
		return fmt.Errorf("%w: unexpected status byte 0x%02x", ErrPrinterUnavailable, status[0])
	}
	if status[0]&statusOffline != 0 {
		return fmt.Errorf("%w: printer offline", ErrPrinterUnavailable)
	}
	return nil
}

func (d *TCPDevice) Print(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, err := d.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			return fmt.Errorf("write to printer: %w", err)
		}
		data = data[n:]
	}
	return nil
}

func (d *TCPDevice) dial(ctx context.Context) (net.Conn, error) {
	if d.addr == "" {
		return nil, fmt.Errorf("%w: no address configured", ErrPrinterUnavailable)
	}
	conn, err := d.dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrinterUnavailable, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return conn, nil
}
