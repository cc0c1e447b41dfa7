package connection

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"v5deploy/internal/logging"
	"v5deploy/internal/protocol"
)

const serialBaudRate = 115200

// readSlice bounds a single port read so the receive deadline is honored
// even when the device streams continuously.
const readSlice = 50 * time.Millisecond

// SerialTransport is a tethered USB link to a Brain or controller.
type SerialTransport struct {
	port    serial.Port
	scanner frameScanner
	log     *zap.SugaredLogger
}

// OpenSerial opens the named port and wraps it in a transport. Device
// discovery is the caller's problem; this only speaks to a port it is
// given.
func OpenSerial(portName string, log *zap.SugaredLogger) (*SerialTransport, error) {
	if log == nil {
		log = logging.Nop()
	}
	mode := &serial.Mode{BaudRate: serialBaudRate}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", portName, err)
	}
	return &SerialTransport{
		port:    port,
		scanner: frameScanner{log: log},
		log:     log,
	}, nil
}

func (t *SerialTransport) Send(req protocol.Request) error {
	frame, err := protocol.EncodeFrame(req)
	if err != nil {
		return err
	}
	t.log.Debugf("serial -> % X", frame)
	if _, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("serial write failed: %w", err)
	}
	return nil
}

func (t *SerialTransport) Receive(id protocol.CommandID, timeout time.Duration) (*protocol.Reply, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 512)
	for {
		for reply := t.scanner.next(); reply != nil; reply = t.scanner.next() {
			if reply.ID == id {
				return reply, nil
			}
			// Stale reply from a resent request; discard and keep scanning.
			t.log.Debugf("discarding stale reply for 0x%02X/0x%02X", reply.ID.Command, reply.ID.Extended)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, protocol.ErrNoReply
		}
		slice := readSlice
		if remaining < slice {
			slice = remaining
		}
		if err := t.port.SetReadTimeout(slice); err != nil {
			return nil, fmt.Errorf("serial read setup failed: %w", err)
		}
		n, err := t.port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("serial read failed: %w", err)
		}
		if n > 0 {
			t.log.Debugf("serial <- % X", buf[:n])
			t.scanner.append(buf[:n])
		}
	}
}

// Wireless is false for serial: the host side of this link is always a
// cable, even when a controller bridges to the Brain by radio. Radio
// management decides wirelessness from device queries instead.
func (t *SerialTransport) Wireless() bool { return false }

func (t *SerialTransport) Close() error { return t.port.Close() }
