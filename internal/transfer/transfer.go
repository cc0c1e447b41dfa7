// Package transfer implements chunked file upload to the Brain's flash
// catalog. One Upload call owns its transport for the duration; chunk
// writes are strictly sequential and progress is reported synchronously
// from the chunk loop.
package transfer

import (
	"fmt"
	"hash/crc32"
	"time"

	"go.uber.org/zap"

	"v5deploy/internal/logging"
	"v5deploy/internal/protocol"
)

// AfterAction tells the Brain what to do once a transfer completes. Only
// the final transfer of a multi-file sequence carries a real action.
type AfterAction byte

const (
	ActionNone          AfterAction = 0
	ActionRun           AfterAction = 1
	ActionShowRunScreen AfterAction = 3
)

// LinkedFile marks the uploaded file as a patch against an existing base
// file. The base must already be on the device when the link is made, or
// reconstruction fails at load time.
type LinkedFile struct {
	Name   string
	Vendor protocol.Vendor
}

// Config bounds each handshake in a transfer. Chunk writes get a larger
// budget than control exchanges since flash programming stalls the
// device.
type Config struct {
	InitTimeout    time.Duration
	InitAttempts   int
	WriteTimeout   time.Duration
	WriteAttempts  int
	LinkTimeout    time.Duration
	LinkAttempts   int
	ExitTimeout    time.Duration
	ExitAttempts   int
	StatusTimeout  time.Duration
	StatusAttempts int
	// MaxChunk caps the device-granted window. Zero means no cap.
	MaxChunk int
}

// Defaults returns the timing used against real hardware.
func Defaults() Config {
	return Config{
		InitTimeout:    5 * time.Second,
		InitAttempts:   3,
		WriteTimeout:   5 * time.Second,
		WriteAttempts:  3,
		LinkTimeout:    2 * time.Second,
		LinkAttempts:   3,
		ExitTimeout:    10 * time.Second,
		ExitAttempts:   3,
		StatusTimeout:  2 * time.Second,
		StatusAttempts: 3,
	}
}

// UploadParams names a file transfer: what to send, where it lands, and
// what happens when it finishes.
type UploadParams struct {
	Name        string
	Vendor      protocol.Vendor
	Metadata    FileMetadata
	Data        []byte
	Target      protocol.TransferTarget
	LoadAddress uint32
	Linked      *LinkedFile
	After       AfterAction
	Progress    func(fraction float64)
}

// Client performs catalog file operations over a transport.
type Client struct {
	Config Config
	Log    *zap.SugaredLogger
}

func NewClient(cfg Config, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = logging.Nop()
	}
	return &Client{Config: cfg, Log: log}
}

// Upload sends one file. Any nack aborts the transfer; bytes already
// written to flash stay there, and recovery is re-running the upload.
func (c *Client) Upload(t protocol.Transport, p UploadParams) error {
	extension, err := p.Metadata.extensionField()
	if err != nil {
		return err
	}
	crc := crc32.ChecksumIEEE(p.Data)

	reply, err := protocol.Handshake(t, protocol.InitFileTransferRequest{
		Operation:     protocol.TransferWrite,
		Target:        p.Target,
		Vendor:        p.Vendor,
		Overwrite:     true,
		Size:          uint32(len(p.Data)),
		LoadAddress:   p.LoadAddress,
		CRC:           crc,
		Extension:     extension,
		ExtensionType: p.Metadata.ExtensionType,
		Timestamp:     p.Metadata.deviceTimestamp(),
		Version:       p.Metadata.Version.encode(),
		Name:          p.Name,
	}, protocol.HandshakeConfig{Timeout: c.Config.InitTimeout, Attempts: c.Config.InitAttempts})
	if err != nil {
		return fmt.Errorf("file transfer init failed: %w", err)
	}
	if err := reply.AckError(); err != nil {
		return err
	}
	granted, err := protocol.DecodeInitFileTransfer(reply)
	if err != nil {
		return err
	}

	if p.Linked != nil {
		if err := c.link(t, *p.Linked); err != nil {
			return err
		}
	}

	chunk := c.chunkSize(granted.WindowSize)
	c.Log.Debugf("uploading %s: %d bytes in %d-byte chunks", p.Name, len(p.Data), chunk)

	for offset := 0; offset < len(p.Data); offset += chunk {
		end := offset + chunk
		if end > len(p.Data) {
			end = len(p.Data)
		}
		data := p.Data[offset:end]
		// The device requires even-length writes; pad the tail chunk.
		if len(data)%2 != 0 {
			data = append(append([]byte{}, data...), 0)
		}

		reply, err := protocol.Handshake(t, protocol.WriteFileRequest{
			Address: p.LoadAddress + uint32(offset),
			Data:    data,
		}, protocol.HandshakeConfig{Timeout: c.Config.WriteTimeout, Attempts: c.Config.WriteAttempts})
		if err != nil {
			return fmt.Errorf("write at offset %d failed: %w", offset, err)
		}
		if err := reply.AckError(); err != nil {
			return err
		}

		if p.Progress != nil {
			p.Progress(float64(end) / float64(len(p.Data)))
		}
	}
	if len(p.Data) == 0 && p.Progress != nil {
		p.Progress(1)
	}

	reply, err = protocol.Handshake(t, protocol.ExitFileTransferRequest{Action: byte(p.After)},
		protocol.HandshakeConfig{Timeout: c.Config.ExitTimeout, Attempts: c.Config.ExitAttempts})
	if err != nil {
		return fmt.Errorf("file transfer exit failed: %w", err)
	}
	return reply.AckError()
}

func (c *Client) link(t protocol.Transport, linked LinkedFile) error {
	reply, err := protocol.Handshake(t, protocol.LinkFileRequest{
		Vendor: linked.Vendor,
		Name:   linked.Name,
	}, protocol.HandshakeConfig{Timeout: c.Config.LinkTimeout, Attempts: c.Config.LinkAttempts})
	if err != nil {
		return fmt.Errorf("file link failed: %w", err)
	}
	return reply.AckError()
}

// Metadata fetches a catalog entry. A missing file is (nil, nil), not an
// error; any nack besides NackProgramFile is.
func (c *Client) Metadata(t protocol.Transport, name string, vendor protocol.Vendor) (*protocol.FileMetadataReply, error) {
	reply, err := protocol.Handshake(t, protocol.GetFileMetadataRequest{Vendor: vendor, Name: name},
		protocol.HandshakeConfig{Timeout: c.Config.StatusTimeout, Attempts: c.Config.StatusAttempts})
	if err != nil {
		return nil, fmt.Errorf("metadata query failed: %w", err)
	}
	if reply.Ack == protocol.NackProgramFile {
		return nil, nil
	}
	if err := reply.AckError(); err != nil {
		return nil, err
	}
	return protocol.DecodeFileMetadata(reply)
}

// Erase removes a catalog entry. A missing file is not an error.
func (c *Client) Erase(t protocol.Transport, name string, vendor protocol.Vendor) error {
	reply, err := protocol.Handshake(t, protocol.EraseFileRequest{Vendor: vendor, Name: name},
		protocol.HandshakeConfig{Timeout: c.Config.StatusTimeout, Attempts: c.Config.StatusAttempts})
	if err != nil {
		return fmt.Errorf("erase failed: %w", err)
	}
	if reply.Ack == protocol.NackProgramFile {
		return nil
	}
	return reply.AckError()
}

func (c *Client) chunkSize(window uint16) int {
	chunk := int(window)
	if chunk <= 0 {
		chunk = 4096
	}
	if c.Config.MaxChunk > 0 && chunk > c.Config.MaxChunk {
		chunk = c.Config.MaxChunk
	}
	// Keep chunk boundaries even so only the tail ever needs padding. A
	// degenerate window still has to move at least one even chunk per
	// write or the transfer loop cannot advance.
	if chunk%2 != 0 {
		chunk--
	}
	if chunk < 2 {
		chunk = 2
	}
	return chunk
}
