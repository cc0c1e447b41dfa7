// Package protocol implements the framed command protocol spoken by the
// Brain over both the tethered serial link and the controller radio.
//
// Two frame shapes exist. Simple commands carry no acknowledgement and no
// checksum; they predate the extended set and are only used for the system
// version query. Extended commands are wrapped in a CRC-16 checked frame
// and always carry an acknowledgement byte in the reply.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"
)

// Frame headers. The host header is deliberately long so the device can
// resynchronize on a noisy radio link.
var (
	HostHeader   = []byte{0xC9, 0x36, 0xB8, 0x47}
	DeviceHeader = []byte{0xAA, 0x55}
)

// Top-level command bytes.
const (
	CmdSystemVersion byte = 0xA4
	CmdExtended      byte = 0x56
)

// Extended subcommands.
const (
	ExtSelectChannel    byte = 0x10
	ExtInitFileTransfer byte = 0x11
	ExtExitFileTransfer byte = 0x12
	ExtWriteFile        byte = 0x13
	ExtLinkFile         byte = 0x15
	ExtGetFileMetadata  byte = 0x17
	ExtSetFileMetadata  byte = 0x1A
	ExtEraseFile        byte = 0x19
	ExtGetSystemFlags   byte = 0x20
	ExtGetRadioStatus   byte = 0x26
)

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// CommandID identifies a command for reply matching. Extended is zero for
// simple commands.
type CommandID struct {
	Command  byte
	Extended byte
}

// Request is one framed command bound for the device.
type Request interface {
	ID() CommandID
	Payload() ([]byte, error)
}

// Reply is one decoded frame from the device. Simple replies carry Ack
// unconditionally since they have no acknowledgement byte on the wire.
type Reply struct {
	ID      CommandID
	Ack     AckCode
	Payload []byte
}

// EncodeFrame serializes a request into its wire frame.
func EncodeFrame(req Request) ([]byte, error) {
	payload, err := req.Payload()
	if err != nil {
		return nil, err
	}
	id := req.ID()

	if id.Command != CmdExtended {
		// Simple frame: header, command, payload. No length or CRC.
		frame := append([]byte{}, HostHeader...)
		frame = append(frame, id.Command)
		return append(frame, payload...), nil
	}

	frame := append([]byte{}, HostHeader...)
	frame = append(frame, id.Command, id.Extended)
	frame = appendLength(frame, len(payload))
	frame = append(frame, payload...)
	crc := crc16.Checksum(frame, crcTable)
	return binary.BigEndian.AppendUint16(frame, crc), nil
}

// DecodeFrame parses one complete device frame (starting at the device
// header) into a Reply, verifying the CRC on extended frames.
func DecodeFrame(frame []byte) (*Reply, error) {
	if len(frame) < len(DeviceHeader)+2 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	if frame[0] != DeviceHeader[0] || frame[1] != DeviceHeader[1] {
		return nil, fmt.Errorf("bad frame header % X", frame[:2])
	}

	cmd := frame[2]
	length, n, err := decodeLength(frame[3:])
	if err != nil {
		return nil, err
	}
	body := frame[3+n:]

	if cmd != CmdExtended {
		if len(body) < length {
			return nil, fmt.Errorf("truncated simple frame: want %d payload bytes, have %d", length, len(body))
		}
		return &Reply{
			ID:      CommandID{Command: cmd},
			Ack:     Ack,
			Payload: body[:length],
		}, nil
	}

	// Extended frame body: subcommand, ack, payload, CRC-16.
	if len(body) < length || length < 2 {
		return nil, fmt.Errorf("truncated extended frame: want %d body bytes, have %d", length, len(body))
	}
	end := 3 + n + length
	if len(frame) < end+2 {
		return nil, fmt.Errorf("extended frame missing CRC")
	}
	want := binary.BigEndian.Uint16(frame[end : end+2])
	if got := crc16.Checksum(frame[:end], crcTable); got != want {
		return nil, fmt.Errorf("frame CRC mismatch: got 0x%04X, want 0x%04X", got, want)
	}

	return &Reply{
		ID:      CommandID{Command: cmd, Extended: body[0]},
		Ack:     AckCode(body[1]),
		Payload: body[2:length],
	}, nil
}

// FrameLength reports the total length of the frame beginning at buf, or 0
// if more bytes are needed. buf must start at the device header. Transports
// use this to reassemble frames from a byte stream.
func FrameLength(buf []byte) int {
	if len(buf) < 4 {
		return 0
	}
	length, n, err := decodeLength(buf[3:])
	if err != nil {
		return 0
	}
	total := 3 + n + length
	if buf[2] == CmdExtended {
		total += 2 // trailing CRC
	}
	return total
}

// appendLength writes the variable-width length field: one byte up to
// 0x7F, otherwise two bytes with the high bit of the first set.
func appendLength(frame []byte, length int) []byte {
	if length > 0x7F {
		return append(frame, byte(length>>8)|0x80, byte(length))
	}
	return append(frame, byte(length))
}

func decodeLength(buf []byte) (length, n int, err error) {
	if len(buf) < 1 {
		return 0, 0, fmt.Errorf("missing length field")
	}
	if buf[0]&0x80 == 0 {
		return int(buf[0]), 1, nil
	}
	if len(buf) < 2 {
		return 0, 0, fmt.Errorf("truncated two-byte length field")
	}
	return int(buf[0]&0x7F)<<8 | int(buf[1]), 2, nil
}
