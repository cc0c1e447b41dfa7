// Package devicetest provides an in-memory Brain for exercising the
// upload engine without hardware. It implements protocol.Transport and
// keeps a real file catalog, so transfers, links, and metadata queries
// behave like the device's flash catalog does.
package devicetest

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"v5deploy/internal/protocol"
)

// Key addresses one catalog entry.
type Key struct {
	Vendor protocol.Vendor
	Name   string
}

// File is one catalog entry.
type File struct {
	Data        []byte
	CRC         uint32
	LoadAddress uint32
	Timestamp   uint32
	Version     uint32
	Linked      string
	After       byte
}

type inflight struct {
	key         Key
	size        uint32
	loadAddress uint32
	timestamp   uint32
	version     uint32
	linked      string
	buf         []byte
}

// Device is a scripted Brain (or controller). Zero value is a tethered
// Brain with an empty catalog; adjust fields before use.
type Device struct {
	Product protocol.ProductType
	Flags   uint32
	Channel byte
	Radio   bool

	// WindowSize is the transfer window granted on init (default 1024).
	WindowSize uint16

	// SwitchSilence makes the device ignore that many radio status
	// probes after a channel switch command, emulating the reconnect
	// gap, before reporting the new channel.
	SwitchSilence int

	// StayOnChannel makes the device ack a switch command but never
	// actually leave its current channel.
	StayOnChannel bool

	// MuteFor swallows the next N requests entirely (handshake silence).
	MuteFor int

	// NackWrites rejects every chunk write with this code when nonzero.
	NackWrites protocol.AckCode

	Files map[Key]*File

	// Counters for assertions.
	SwitchCommands int
	WriteCount     int

	pending     *protocol.Reply
	silenceLeft int
	target      byte
	current     *inflight
}

func New() *Device {
	return &Device{
		Product:    protocol.ProductBrain,
		WindowSize: 1024,
		Files:      map[Key]*File{},
	}
}

// NewController returns a wireless controller in the pit channel.
func NewController(channel byte) *Device {
	d := New()
	d.Product = protocol.ProductController
	d.Channel = channel
	d.Radio = true
	return d
}

func (d *Device) Wireless() bool { return d.Radio }
func (d *Device) Close() error   { return nil }

func (d *Device) Send(req protocol.Request) error {
	if d.MuteFor > 0 {
		d.MuteFor--
		d.pending = nil
		return nil
	}
	d.pending = d.handle(req)
	return nil
}

func (d *Device) Receive(id protocol.CommandID, timeout time.Duration) (*protocol.Reply, error) {
	reply := d.pending
	d.pending = nil
	if reply == nil || reply.ID != id {
		return nil, protocol.ErrNoReply
	}
	return reply, nil
}

func (d *Device) handle(req protocol.Request) *protocol.Reply {
	id := req.ID()
	ack := func(payload []byte) *protocol.Reply {
		return &protocol.Reply{ID: id, Ack: protocol.Ack, Payload: payload}
	}
	nack := func(code protocol.AckCode) *protocol.Reply {
		return &protocol.Reply{ID: id, Ack: code}
	}

	switch p := req.(type) {
	case protocol.SystemVersionRequest:
		return ack([]byte{1, 0, 0, 0, byte(d.Product)})

	case protocol.SystemFlagsRequest:
		return ack(binary.LittleEndian.AppendUint32(nil, d.Flags))

	case protocol.RadioStatusRequest:
		if d.silenceLeft > 0 {
			d.silenceLeft--
			if d.silenceLeft == 0 {
				d.Channel = d.target
			}
			return nil
		}
		return ack([]byte{d.Channel, 100})

	case protocol.SelectChannelRequest:
		d.SwitchCommands++
		if d.StayOnChannel {
			return ack(nil)
		}
		d.target = p.Channel
		d.silenceLeft = d.SwitchSilence
		if d.SwitchSilence == 0 {
			d.Channel = p.Channel
		}
		return ack(nil)

	case protocol.InitFileTransferRequest:
		d.current = &inflight{
			key:         Key{Vendor: p.Vendor, Name: p.Name},
			size:        p.Size,
			loadAddress: p.LoadAddress,
			timestamp:   p.Timestamp,
			version:     p.Version,
		}
		payload := binary.LittleEndian.AppendUint16(nil, d.WindowSize)
		payload = binary.LittleEndian.AppendUint32(payload, p.Size)
		payload = binary.LittleEndian.AppendUint32(payload, p.CRC)
		return ack(payload)

	case protocol.LinkFileRequest:
		if d.current == nil {
			return nack(protocol.NackUninitialized)
		}
		// The base must already exist for the link to resolve.
		if _, ok := d.Files[Key{Vendor: p.Vendor, Name: p.Name}]; !ok {
			return nack(protocol.NackProgramFile)
		}
		d.current.linked = p.Name
		return ack(nil)

	case protocol.WriteFileRequest:
		if d.current == nil {
			return nack(protocol.NackUninitialized)
		}
		if d.NackWrites != 0 {
			return nack(d.NackWrites)
		}
		d.WriteCount++
		offset := int(p.Address - d.current.loadAddress)
		need := offset + len(p.Data)
		for len(d.current.buf) < need {
			d.current.buf = append(d.current.buf, 0)
		}
		copy(d.current.buf[offset:], p.Data)
		return ack(nil)

	case protocol.ExitFileTransferRequest:
		if d.current == nil {
			return nack(protocol.NackUninitialized)
		}
		data := d.current.buf
		if int(d.current.size) <= len(data) {
			data = data[:d.current.size]
		}
		d.Files[d.current.key] = &File{
			Data:        data,
			CRC:         crc32.ChecksumIEEE(data),
			LoadAddress: d.current.loadAddress,
			Timestamp:   d.current.timestamp,
			Version:     d.current.version,
			Linked:      d.current.linked,
			After:       p.Action,
		}
		d.current = nil
		return ack(nil)

	case protocol.GetFileMetadataRequest:
		file, ok := d.Files[Key{Vendor: p.Vendor, Name: p.Name}]
		if !ok {
			return nack(protocol.NackProgramFile)
		}
		payload := binary.LittleEndian.AppendUint32(nil, uint32(len(file.Data)))
		payload = binary.LittleEndian.AppendUint32(payload, file.LoadAddress)
		payload = binary.LittleEndian.AppendUint32(payload, file.CRC)
		payload = binary.LittleEndian.AppendUint32(payload, file.Timestamp)
		payload = binary.LittleEndian.AppendUint32(payload, file.Version)
		return ack(payload)

	case protocol.EraseFileRequest:
		key := Key{Vendor: p.Vendor, Name: p.Name}
		if _, ok := d.Files[key]; !ok {
			return nack(protocol.NackProgramFile)
		}
		delete(d.Files, key)
		return ack(nil)
	}

	return nack(protocol.NackInvalidRequest)
}

// UserFile looks up a catalog entry in the user vendor namespace.
func (d *Device) UserFile(name string) *File {
	return d.Files[Key{Vendor: protocol.VendorUser, Name: name}]
}
