// Package upload sequences a whole program upload: radio channel,
// launcher metadata, strategy selection, and the file transfers
// themselves. It is the single entry point callers use.
package upload

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"go.uber.org/zap"

	"v5deploy/internal/logging"
	"v5deploy/internal/patch"
	"v5deploy/internal/protocol"
	"v5deploy/internal/radio"
	"v5deploy/internal/transfer"
)

// Fixed load addresses. Base images live at the user program address;
// patch and catalog-link entries live in a separate region so both can
// coexist on the device.
const (
	AddrProgram uint32 = 0x03800000
	AddrPatch   uint32 = 0x07A00000
)

// patchSentinel is the 4-byte payload meaning "base is already current,
// do not patch". Uploaded in place of a patch after a cold upload.
const patchSentinel uint32 = 0xB2DF

// Strategy selects how program bytes reach the device.
type Strategy int

const (
	// Monolith always transfers the full image.
	Monolith Strategy = iota
	// Differential transfers a patch against a cached base when possible.
	Differential
)

// ParseStrategy resolves the CLI/config spelling of a strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "monolith":
		return Monolith, nil
	case "differential":
		return Differential, nil
	}
	return 0, fmt.Errorf("%q is not a valid upload strategy", s)
}

// SlotRangeError rejects a slot outside the Brain's eight.
type SlotRangeError struct {
	Slot int
}

func (e *SlotRangeError) Error() string {
	return fmt.Sprintf("slot %d is out of range", e.Slot)
}

func (e *SlotRangeError) Hint() string {
	return "The Brain has eight program slots. Pick a slot from 1 to 8."
}

// Options configures one upload.
type Options struct {
	Slot        int
	Name        string
	Description string
	Icon        Icon
	Compress    bool
	Strategy    Strategy
	ForceCold   bool
	After       transfer.AfterAction
	// CachePath locates the local base cache (image path + ".base").
	CachePath string
	// Progress receives per-transfer completion fractions in [0,1].
	// Called synchronously from the chunk loop; keep it fast.
	Progress func(stage string, fraction float64)
}

// Engine wires the orchestrator to its collaborators.
type Engine struct {
	Transfer *transfer.Client
	Radio    *radio.Controller
	Log      *zap.SugaredLogger
}

func NewEngine(tc *transfer.Client, rc *radio.Controller, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{Transfer: tc, Radio: rc, Log: log}
}

// Upload places image into the catalog slot described by opts. Any step
// failing aborts the sequence with no compensation; a partial upload
// leaves the catalog stale and is recovered by re-running.
func (e *Engine) Upload(t protocol.Transport, image []byte, opts Options) error {
	if opts.Slot < 1 || opts.Slot > 8 {
		return &SlotRangeError{Slot: opts.Slot}
	}

	binName := fmt.Sprintf("slot_%d.bin", opts.Slot)
	iniName := fmt.Sprintf("slot_%d.ini", opts.Slot)
	baseName := fmt.Sprintf("slot_%d.base.bin", opts.Slot)

	if err := e.Radio.SwitchTo(t, radio.ChannelDownload); err != nil {
		return err
	}

	if err := e.uploadINI(t, iniName, opts); err != nil {
		return err
	}

	switch opts.Strategy {
	case Monolith:
		if err := e.uploadMonolith(t, binName, image, opts); err != nil {
			return err
		}
	case Differential:
		if err := e.uploadDifferential(t, binName, baseName, image, opts); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown upload strategy %d", opts.Strategy)
	}

	if opts.After == transfer.ActionRun {
		e.Log.Infof("Running %s", binName)
	}
	return nil
}

// uploadINI sends the launcher metadata file, skipping the transfer when
// the device already holds an identical copy.
func (e *Engine) uploadINI(t protocol.Transport, iniName string, opts Options) error {
	data, err := programINI(opts.Name, opts.Description, opts.Slot, opts.Icon)
	if err != nil {
		return fmt.Errorf("failed to render program ini: %w", err)
	}
	crc := crc32.ChecksumIEEE(data)

	remote, err := e.Transfer.Metadata(t, iniName, protocol.VendorUser)
	if err != nil {
		return err
	}
	if remote != nil && remote.CRC == crc {
		e.Log.Debugf("%s already current on device, skipping", iniName)
		return nil
	}

	return e.Transfer.Upload(t, transfer.UploadParams{
		Name:        iniName,
		Vendor:      protocol.VendorUser,
		Metadata:    transfer.NewFileMetadata("ini"),
		Data:        data,
		Target:      protocol.TargetQSPI,
		LoadAddress: AddrProgram,
		After:       transfer.ActionNone,
		Progress:    e.progress("metadata", opts),
	})
}

func (e *Engine) uploadMonolith(t protocol.Transport, binName string, image []byte, opts Options) error {
	data := image
	if opts.Compress {
		compressed, err := gzipBytes(image)
		if err != nil {
			return err
		}
		e.Log.Debugf("compressed program %d -> %d bytes", len(image), len(compressed))
		data = compressed
	}
	return e.Transfer.Upload(t, transfer.UploadParams{
		Name:        binName,
		Vendor:      protocol.VendorUser,
		Metadata:    transfer.NewFileMetadata("bin"),
		Data:        data,
		Target:      protocol.TargetQSPI,
		LoadAddress: AddrProgram,
		After:       opts.After,
		Progress:    e.progress("program", opts),
	})
}

func (e *Engine) uploadDifferential(t protocol.Transport, binName, baseName string, image []byte, opts Options) error {
	remote := func() (uint32, bool, error) {
		meta, err := e.Transfer.Metadata(t, baseName, protocol.VendorUser)
		if err != nil {
			return 0, false, err
		}
		if meta == nil {
			return 0, false, nil
		}
		return meta.CRC, true, nil
	}

	plan, err := patch.Decide(opts.CachePath, image, opts.ForceCold, remote, e.Log)
	if err != nil {
		return err
	}

	link := &transfer.LinkedFile{Name: baseName, Vendor: protocol.VendorUser}

	switch plan.Kind {
	case patch.Cold:
		e.Log.Infof("performing cold upload (%d bytes)", len(image))
		err := e.Transfer.Upload(t, transfer.UploadParams{
			Name:        baseName,
			Vendor:      protocol.VendorUser,
			Metadata:    transfer.NewFileMetadata("bin"),
			Data:        image,
			Target:      protocol.TargetQSPI,
			LoadAddress: AddrProgram,
			After:       transfer.ActionNone,
			Progress:    e.progress("base", opts),
		})
		if err != nil {
			return err
		}
		if err := patch.WriteCache(opts.CachePath, image); err != nil {
			return err
		}
		// The catalog entry is just the "already applied" sentinel,
		// linked to the base so the loader resolves the real bytes.
		return e.Transfer.Upload(t, transfer.UploadParams{
			Name:        binName,
			Vendor:      protocol.VendorUser,
			Metadata:    transfer.NewFileMetadata("bin"),
			Data:        sentinelPayload(),
			Target:      protocol.TargetQSPI,
			LoadAddress: AddrPatch,
			Linked:      link,
			After:       opts.After,
			Progress:    e.progress("link", opts),
		})

	case patch.Differential:
		e.Log.Infof("performing differential upload (%d byte patch)", len(plan.Payload))
		return e.Transfer.Upload(t, transfer.UploadParams{
			Name:        binName,
			Vendor:      protocol.VendorUser,
			Metadata:    transfer.NewFileMetadata("bin"),
			Data:        plan.Payload,
			Target:      protocol.TargetQSPI,
			LoadAddress: AddrPatch,
			Linked:      link,
			After:       opts.After,
			Progress:    e.progress("patch", opts),
		})
	}
	return fmt.Errorf("unknown plan kind %d", plan.Kind)
}

// Erase removes a slot's catalog files: program, metadata, and base.
func (e *Engine) Erase(t protocol.Transport, slot int) error {
	if slot < 1 || slot > 8 {
		return &SlotRangeError{Slot: slot}
	}
	for _, name := range []string{
		fmt.Sprintf("slot_%d.bin", slot),
		fmt.Sprintf("slot_%d.ini", slot),
		fmt.Sprintf("slot_%d.base.bin", slot),
	} {
		if err := e.Transfer.Erase(t, name, protocol.VendorUser); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) progress(stage string, opts Options) func(float64) {
	if opts.Progress == nil {
		return nil
	}
	return func(fraction float64) {
		opts.Progress(stage, fraction)
	}
}

func sentinelPayload() []byte {
	return binary.LittleEndian.AppendUint32(nil, patchSentinel)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
