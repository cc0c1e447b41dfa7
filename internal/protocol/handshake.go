package protocol

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoReply is returned by Transport.Receive when no matching frame
// arrived within the deadline. The handshake loop treats it as silence
// and resends; every other receive error is fatal.
var ErrNoReply = errors.New("no reply from device")

// Transport is the open duplex link to a Brain or controller. All higher
// layers go through Handshake; none of them performs raw I/O.
type Transport interface {
	// Send writes one framed request.
	Send(req Request) error
	// Receive waits up to timeout for a frame answering id.
	Receive(id CommandID, timeout time.Duration) (*Reply, error)
	// Wireless reports whether this link runs over the controller radio.
	Wireless() bool
	Close() error
}

// HandshakeConfig bounds one request/reply exchange. Attempts is the total
// send budget, so Attempts=1 means a single try with no resend.
type HandshakeConfig struct {
	Timeout  time.Duration
	Attempts int
}

// TimeoutError means every send attempt went unanswered.
type TimeoutError struct {
	Command  CommandID
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command 0x%02X/0x%02X timed out after %d attempts", e.Command.Command, e.Command.Extended, e.Attempts)
}

// Handshake performs one request/reply exchange. Silence consumes one
// attempt and resends; once the budget is spent it fails with a
// TimeoutError. A reply carrying a nack is returned to the caller as-is,
// never retried, so call sites can tell an expected rejection (such as
// NackProgramFile when probing for a file) from a hard failure.
func Handshake(t Transport, req Request, cfg HandshakeConfig) (*Reply, error) {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := t.Send(req); err != nil {
			return nil, fmt.Errorf("send failed: %w", err)
		}
		reply, err := t.Receive(req.ID(), cfg.Timeout)
		if err == nil {
			return reply, nil
		}
		if !errors.Is(err, ErrNoReply) {
			return nil, err
		}
	}
	return nil, &TimeoutError{Command: req.ID(), Attempts: attempts}
}
