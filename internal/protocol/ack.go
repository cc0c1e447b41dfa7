package protocol

import "fmt"

// AckCode is the acknowledgement byte carried in every extended-command
// reply. Anything other than Ack is a rejection, but NackProgramFile is
// benign at most call sites ("no such file" when probing the catalog).
type AckCode byte

const (
	Ack                AckCode = 0x76
	NackGeneral        AckCode = 0xFF
	NackPacketCRC      AckCode = 0xCE
	NackPayloadLength  AckCode = 0xD0
	NackTransferSize   AckCode = 0xD1
	NackTransferCRC    AckCode = 0xD2
	NackProgramFile    AckCode = 0xD4
	NackUninitialized  AckCode = 0xD5
	NackInvalidRequest AckCode = 0xD6
	NackWriteEnabled   AckCode = 0xDB
)

func (a AckCode) String() string {
	switch a {
	case Ack:
		return "ack"
	case NackGeneral:
		return "general nack"
	case NackPacketCRC:
		return "packet CRC mismatch"
	case NackPayloadLength:
		return "bad payload length"
	case NackTransferSize:
		return "transfer size rejected"
	case NackTransferCRC:
		return "transfer CRC mismatch"
	case NackProgramFile:
		return "program file not found"
	case NackUninitialized:
		return "transfer not initialized"
	case NackInvalidRequest:
		return "invalid request"
	case NackWriteEnabled:
		return "write not enabled"
	default:
		return fmt.Sprintf("nack 0x%02X", byte(a))
	}
}

// NackError surfaces a device rejection verbatim.
type NackError struct {
	Command CommandID
	Code    AckCode
}

func (e *NackError) Error() string {
	return fmt.Sprintf("device rejected command 0x%02X/0x%02X: %s", e.Command.Command, e.Command.Extended, e.Code)
}

// AckError returns nil when the reply is an Ack, and a NackError otherwise.
// Callers that expect NackProgramFile check the code before treating the
// reply as a failure.
func (r *Reply) AckError() error {
	if r.Ack == Ack {
		return nil
	}
	return &NackError{Command: r.ID, Code: r.Ack}
}
