// Package cli defines the command tree and maps engine errors onto exit
// codes and remediation hints.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"v5deploy/internal/config"
	"v5deploy/internal/connection"
	"v5deploy/internal/logging"
	"v5deploy/internal/patch"
	"v5deploy/internal/protocol"
	"v5deploy/internal/radio"
	"v5deploy/internal/transfer"
	"v5deploy/internal/tui"
	"v5deploy/internal/upload"
)

// CLI is the root command structure for v5deploy.
type CLI struct {
	Verbose bool `short:"v" help:"Enable verbose debug output."`

	Upload UploadCmd `cmd:"" help:"Upload a program binary to the Brain."`
	Rm     RmCmd     `cmd:"" help:"Remove a program slot from the Brain's catalog."`
	Radio  RadioCmd  `cmd:"" help:"Report or switch the controller's radio channel."`
}

// Exit codes surfaced to scripts.
const (
	ExitFailure = 1
	ExitUsage   = 2
	ExitDevice  = 3
)

// linkFlags select how to reach the device. Shared by every command that
// talks to hardware.
type linkFlags struct {
	Port    string `help:"Serial port of the Brain or controller (e.g. /dev/ttyACM1)." placeholder:"PORT"`
	Ble     bool   `help:"Connect over bluetooth instead of serial."`
	BleName string `help:"Bluetooth device name to match while scanning." placeholder:"NAME"`
}

func (f linkFlags) open(log *zap.SugaredLogger) (protocol.Transport, error) {
	if f.Ble {
		return connection.OpenBluetooth(f.BleName, log)
	}
	if f.Port == "" {
		return nil, &usageError{msg: "no connection given; pass --port or --ble"}
	}
	return connection.OpenSerial(f.Port, log)
}

// usageError marks problems with invocation rather than the device.
type usageError struct {
	msg  string
	hint string
}

func (e *usageError) Error() string { return e.msg }
func (e *usageError) Hint() string  { return e.hint }

// --- upload ---

type UploadCmd struct {
	linkFlags
	File         string `arg:"" type:"existingfile" help:"Program binary to upload."`
	Slot         int    `short:"s" help:"Program slot (1-8)."`
	Name         string `help:"Program name shown on the Brain."`
	Description  string `short:"d" help:"Program description."`
	Icon         string `short:"i" help:"Program icon identifier."`
	Uncompressed bool   `help:"Skip gzip compression of monolith uploads."`
	Strategy     string `help:"Upload strategy." enum:"monolith,differential," default:""`
	Cold         bool   `help:"Force a full cold upload even when a patch would do."`
	After        string `help:"What the Brain does after the upload." enum:"none,run,screen" default:"none"`
}

func (c *UploadCmd) Run(globals *CLI) error {
	log := logging.New(globals.Verbose)
	defer log.Sync()

	project, err := config.Load(filepath.Dir(c.File))
	if err != nil {
		return err
	}
	opts, err := c.resolveOptions(project)
	if err != nil {
		return err
	}

	image, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.File, err)
	}

	t, err := c.open(log)
	if err != nil {
		return err
	}
	defer t.Close()

	bar := tui.NewProgressBar()
	opts.CachePath = patch.CachePath(c.File)
	opts.Progress = bar.Set

	engine := upload.NewEngine(
		transfer.NewClient(transfer.Defaults(), log),
		radio.NewController(radio.Defaults(), log),
		log,
	)
	err = engine.Upload(t, image, opts)
	bar.Done()
	return err
}

// resolveOptions layers CLI flags over the project config table and
// falls back to the interactive prompt for the slot.
func (c *UploadCmd) resolveOptions(project *config.Project) (upload.Options, error) {
	var opts upload.Options

	slot := c.Slot
	if slot == 0 && project.Slot != nil {
		slot = *project.Slot
	}
	if slot == 0 {
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			return opts, &usageError{
				msg:  "no upload slot was provided",
				hint: "Pass --slot, or set `slot` in " + config.FileName + ".",
			}
		}
		chosen, err := tui.PromptSlot()
		if err != nil {
			return opts, err
		}
		slot = chosen
	}
	opts.Slot = slot

	opts.Name = c.Name
	if opts.Name == "" {
		opts.Name = filepath.Base(c.File)
	}
	opts.Description = c.Description
	if opts.Description == "" {
		opts.Description = "Uploaded with v5deploy."
	}

	iconName := c.Icon
	if iconName == "" && project.Icon != nil {
		iconName = *project.Icon
	}
	opts.Icon = upload.IconQuestionMark
	if iconName != "" {
		icon, err := upload.ParseIcon(iconName)
		if err != nil {
			return opts, &usageError{msg: err.Error(), hint: "See `v5deploy upload --help` for the icon list."}
		}
		opts.Icon = icon
	}

	opts.Compress = true
	if project.Compress != nil {
		opts.Compress = *project.Compress
	}
	if c.Uncompressed {
		opts.Compress = false
	}

	strategy := c.Strategy
	if strategy == "" && project.Strategy != nil {
		strategy = *project.Strategy
	}
	opts.Strategy = upload.Differential
	if strategy != "" {
		parsed, err := upload.ParseStrategy(strategy)
		if err != nil {
			return opts, &usageError{msg: err.Error(), hint: `Valid strategies are "monolith" and "differential".`}
		}
		opts.Strategy = parsed
	}

	opts.ForceCold = c.Cold

	switch c.After {
	case "run":
		opts.After = transfer.ActionRun
	case "screen":
		opts.After = transfer.ActionShowRunScreen
	default:
		opts.After = transfer.ActionNone
	}
	return opts, nil
}

// --- rm ---

type RmCmd struct {
	linkFlags
	Slot int `arg:"" help:"Program slot to remove (1-8)."`
}

func (c *RmCmd) Run(globals *CLI) error {
	log := logging.New(globals.Verbose)
	defer log.Sync()

	t, err := c.open(log)
	if err != nil {
		return err
	}
	defer t.Close()

	engine := upload.NewEngine(
		transfer.NewClient(transfer.Defaults(), log),
		radio.NewController(radio.Defaults(), log),
		log,
	)
	if err := engine.Erase(t, c.Slot); err != nil {
		return err
	}
	fmt.Printf("Removed slot %d\n", c.Slot)
	return nil
}

// --- radio ---

type RadioCmd struct {
	linkFlags
	Download bool `help:"Switch the radio to the download channel."`
}

func (c *RadioCmd) Run(globals *CLI) error {
	log := logging.New(globals.Verbose)
	defer log.Sync()

	t, err := c.open(log)
	if err != nil {
		return err
	}
	defer t.Close()

	controller := radio.NewController(radio.Defaults(), log)
	if c.Download {
		if err := controller.SwitchTo(t, radio.ChannelDownload); err != nil {
			return err
		}
	}
	channel, raw, err := controller.Status(t)
	if err != nil {
		return err
	}
	fmt.Printf("Radio channel: %s (raw %d)\n", channel, raw)
	return nil
}

// --- error surfacing ---

// Hint extracts the remediation hint from an error, if it carries one.
func Hint(err error) string {
	if hint := radio.Hint(err); hint != "" {
		return hint
	}
	var h interface{ Hint() string }
	if errors.As(err, &h) {
		return h.Hint()
	}
	return ""
}

// ExitCode classifies an error for the process exit status.
func ExitCode(err error) int {
	var usage *usageError
	var slot *upload.SlotRangeError
	if errors.As(err, &usage) || errors.As(err, &slot) {
		return ExitUsage
	}
	var nack *protocol.NackError
	var timeout *protocol.TimeoutError
	if errors.As(err, &nack) || errors.As(err, &timeout) ||
		errors.Is(err, radio.ErrStuck) ||
		errors.Is(err, radio.ErrDisconnectTimeout) ||
		errors.Is(err, radio.ErrReconnectTimeout) {
		return ExitDevice
	}
	return ExitFailure
}
