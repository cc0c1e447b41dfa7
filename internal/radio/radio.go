// Package radio manages the controller's logical radio channel. Bulk
// file transfer is only reliable on the dedicated download channel, and
// switching tears the controller/Brain link down and rebuilds it, so the
// switch is a small state machine with a two-phase reconnect wait.
package radio

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"v5deploy/internal/logging"
	"v5deploy/internal/protocol"
)

// Channel is the controller-reported channel class. The raw identifiers
// have shifted across firmware revisions, so everything unrecognized is
// lumped into Pit rather than trusted.
type Channel byte

const (
	ChannelPit Channel = iota
	ChannelDownload
	ChannelBluetooth
	ChannelStuck
	ChannelUnknown
)

// Raw channel identifiers as of the current firmware.
const (
	rawDownload  byte = 5
	rawStuck     byte = 9
	rawBluetooth byte = 245
)

func classify(raw byte) Channel {
	switch raw {
	case rawDownload:
		return ChannelDownload
	case rawStuck:
		return ChannelStuck
	case rawBluetooth:
		return ChannelBluetooth
	default:
		return ChannelPit
	}
}

func (c Channel) String() string {
	switch c {
	case ChannelPit:
		return "pit"
	case ChannelDownload:
		return "download"
	case ChannelBluetooth:
		return "bluetooth"
	case ChannelStuck:
		return "stuck"
	default:
		return "unknown"
	}
}

// Switch errors. None of these can be healed from software; the hints are
// surfaced to the user by the CLI.
var (
	ErrStuck             = errors.New("controller is stuck in the repairing radio channel")
	ErrDisconnectTimeout = errors.New("controller never began switching radio channels")
	ErrReconnectTimeout  = errors.New("controller never reconnected after switching radio channels")
)

// Hint returns the remediation text for a radio error, or "".
func Hint(err error) string {
	switch {
	case errors.Is(err, ErrStuck):
		return "This is a controller firmware bug. Power cycle the controller and try again."
	case errors.Is(err, ErrDisconnectTimeout), errors.Is(err, ErrReconnectTimeout):
		return "Run the upload again. If the problem persists, power cycle the controller and Brain."
	}
	return ""
}

// Config bounds every wait in a channel switch. Tests run with near-zero
// values; production callers use Defaults.
type Config struct {
	// Status query budget.
	StatusTimeout  time.Duration
	StatusAttempts int
	// Switch command budget.
	SwitchTimeout  time.Duration
	SwitchAttempts int
	// Zero-retry probe used during the reconnect dance.
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration
	// Outer bounds for the two reconnect phases.
	DisconnectTimeout time.Duration
	ReconnectTimeout  time.Duration
}

// Defaults returns the timing used against real hardware.
func Defaults() Config {
	return Config{
		StatusTimeout:     2 * time.Second,
		StatusAttempts:    3,
		SwitchTimeout:     2 * time.Second,
		SwitchAttempts:    3,
		ProbeTimeout:      250 * time.Millisecond,
		ProbeInterval:     250 * time.Millisecond,
		DisconnectTimeout: 8 * time.Second,
		ReconnectTimeout:  8 * time.Second,
	}
}

// Controller drives channel switches over one transport.
type Controller struct {
	Config Config
	Log    *zap.SugaredLogger
}

func NewController(cfg Config, log *zap.SugaredLogger) *Controller {
	if log == nil {
		log = logging.Nop()
	}
	return &Controller{Config: cfg, Log: log}
}

// Status queries and classifies the current channel.
func (c *Controller) Status(t protocol.Transport) (Channel, byte, error) {
	reply, err := protocol.Handshake(t, protocol.RadioStatusRequest{}, protocol.HandshakeConfig{
		Timeout:  c.Config.StatusTimeout,
		Attempts: c.Config.StatusAttempts,
	})
	if err != nil {
		return ChannelUnknown, 0, err
	}
	if err := reply.AckError(); err != nil {
		return ChannelUnknown, 0, err
	}
	status, err := protocol.DecodeRadioStatus(reply)
	if err != nil {
		return ChannelUnknown, 0, err
	}
	return classify(status.Channel), status.Channel, nil
}

// SwitchTo moves the radio onto target. Already being there, or being on
// a link with nothing to switch (bluetooth), succeeds without sending a
// switch command. A stuck radio fails immediately and is never retried.
func (c *Controller) SwitchTo(t protocol.Transport, target Channel) error {
	current, raw, err := c.Status(t)
	if err != nil {
		return err
	}
	c.Log.Debugf("radio channel: %s (raw %d)", current, raw)

	switch current {
	case ChannelStuck:
		return ErrStuck
	case target, ChannelBluetooth:
		return nil
	}

	wireless, err := c.isWireless(t)
	if err != nil {
		return err
	}
	if !wireless {
		return nil
	}

	c.Log.Infof("switching radio to %s channel...", target)
	reply, err := protocol.Handshake(t, protocol.SelectChannelRequest{Channel: rawFor(target)}, protocol.HandshakeConfig{
		Timeout:  c.Config.SwitchTimeout,
		Attempts: c.Config.SwitchAttempts,
	})
	if err != nil {
		return err
	}
	if err := reply.AckError(); err != nil {
		return err
	}

	// Phase one: the switch has only begun once probes stop getting
	// through. Waiting for that first avoids a race where an early probe
	// succeeds on the old channel.
	if err := c.waitForSilence(t); err != nil {
		return err
	}
	// Phase two: the link is back once a probe reports the target channel.
	return c.waitForChannel(t, target)
}

func rawFor(target Channel) byte {
	if target == ChannelDownload {
		return rawDownload
	}
	return 0
}

// isWireless reports whether this link actually crosses the radio: the
// attached product must be a controller and must not be tethered to the
// Brain by cable.
func (c *Controller) isWireless(t protocol.Transport) (bool, error) {
	cfg := protocol.HandshakeConfig{Timeout: c.Config.StatusTimeout, Attempts: c.Config.StatusAttempts}

	reply, err := protocol.Handshake(t, protocol.SystemVersionRequest{}, cfg)
	if err != nil {
		return false, err
	}
	version, err := protocol.DecodeSystemVersion(reply)
	if err != nil {
		return false, err
	}
	if version.Product != protocol.ProductController {
		return false, nil
	}

	reply, err = protocol.Handshake(t, protocol.SystemFlagsRequest{}, cfg)
	if err != nil {
		return false, err
	}
	if err := reply.AckError(); err != nil {
		return false, err
	}
	flags, err := protocol.DecodeSystemFlags(reply)
	if err != nil {
		return false, err
	}
	return !flags.Tethered(), nil
}

func (c *Controller) waitForSilence(t protocol.Transport) error {
	deadline := time.Now().Add(c.Config.DisconnectTimeout)
	for {
		if time.Now().After(deadline) {
			return ErrDisconnectTimeout
		}
		_, err := c.probe(t)
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return err
		}
		time.Sleep(c.Config.ProbeInterval)
	}
}

func (c *Controller) waitForChannel(t protocol.Transport, target Channel) error {
	deadline := time.Now().Add(c.Config.ReconnectTimeout)
	for {
		if time.Now().After(deadline) {
			return ErrReconnectTimeout
		}
		status, err := c.probe(t)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return err
		}
		if classify(status.Channel) == target {
			return nil
		}
		time.Sleep(c.Config.ProbeInterval)
	}
}

// probe is a single zero-retry status exchange.
func (c *Controller) probe(t protocol.Transport) (*protocol.RadioStatus, error) {
	reply, err := protocol.Handshake(t, protocol.RadioStatusRequest{}, protocol.HandshakeConfig{
		Timeout:  c.Config.ProbeTimeout,
		Attempts: 1,
	})
	if err != nil {
		return nil, err
	}
	if err := reply.AckError(); err != nil {
		return nil, err
	}
	return protocol.DecodeRadioStatus(reply)
}

func isTimeout(err error) bool {
	var te *protocol.TimeoutError
	return errors.As(err, &te)
}
